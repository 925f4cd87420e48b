package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/market/internal/domain"
)

type cartRepository struct {
	store *Store
}

// NewCartRepository создаёт корзину с optimistic locking по колонке version.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{store: store}
}

func (r *cartRepository) Find(ctx context.Context, itemID int64) (domain.CartLine, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	line := domain.CartLine{ItemID: itemID}
	err := conn(ctx, r.store.db).QueryRowContext(ctx,
		`SELECT qty, version FROM cart_lines WHERE item_id = $1`, itemID,
	).Scan(&line.Qty, &line.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CartLine{}, domain.ErrCartItemNotFound
		}
		return domain.CartLine{}, fmt.Errorf("select cart line: %w", err)
	}
	return line, nil
}

func (r *cartRepository) FindAll(ctx context.Context) ([]domain.CartLine, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := conn(ctx, r.store.db).QueryContext(ctx,
		`SELECT item_id, qty, version FROM cart_lines ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.CartLine, 0)
	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.ItemID, &line.Qty, &line.Version); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart lines: %w", err)
	}
	return lines, nil
}

// Save вставляет строку при Version == 0 и обновляет её при совпадении версии.
// Уникальный ключ на item_id превращает гонку двух вставок в конфликт версий.
func (r *cartRepository) Save(ctx context.Context, line domain.CartLine) (domain.CartLine, error) {
	if line.Qty <= 0 {
		return domain.CartLine{}, domain.ErrLineQtyInvalid
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()
	q := conn(ctx, r.store.db)

	if line.Version == 0 {
		_, err := q.ExecContext(ctx,
			`INSERT INTO cart_lines (item_id, qty, version) VALUES ($1, $2, 1)`,
			line.ItemID, line.Qty)
		switch {
		case isUniqueViolation(err):
			return domain.CartLine{}, domain.ErrCartVersionConflict
		case isForeignKeyViolation(err):
			return domain.CartLine{}, domain.ErrItemNotFound
		case err != nil:
			return domain.CartLine{}, fmt.Errorf("insert cart line: %w", err)
		}
		line.Version = 1
		return line, nil
	}

	res, err := q.ExecContext(ctx, `
		UPDATE cart_lines
		SET qty = $1, version = version + 1
		WHERE item_id = $2 AND version = $3
	`, line.Qty, line.ItemID, line.Version)
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("update cart line: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.CartLine{}, domain.ErrCartVersionConflict
	}
	line.Version++
	return line, nil
}

func (r *cartRepository) Delete(ctx context.Context, itemID int64, version int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	q := conn(ctx, r.store.db)

	res, err := q.ExecContext(ctx,
		`DELETE FROM cart_lines WHERE item_id = $1 AND version = $2`, itemID, version)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM cart_lines WHERE item_id = $1)`, itemID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check cart line: %w", err)
	}
	if !exists {
		return domain.ErrCartItemNotFound
	}
	return domain.ErrCartVersionConflict
}

func (r *cartRepository) Count(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var count int
	if err := conn(ctx, r.store.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM cart_lines`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count cart lines: %w", err)
	}
	return count, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

var _ domain.CartRepository = (*cartRepository)(nil)
