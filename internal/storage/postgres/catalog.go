package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/market/internal/domain"
)

// Catalog читает товары из таблицы items.
type Catalog struct {
	store *Store
}

func NewCatalog(store *Store) *Catalog {
	return &Catalog{store: store}
}

func (c *Catalog) FindByID(ctx context.Context, id int64) (domain.Item, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	item := domain.Item{ID: id}
	err := conn(ctx, c.store.db).QueryRowContext(ctx,
		`SELECT title, description, price_minor FROM items WHERE id = $1`, id,
	).Scan(&item.Title, &item.Description, &item.PriceMinor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Item{}, domain.ErrItemNotFound
		}
		return domain.Item{}, fmt.Errorf("select item: %w", err)
	}
	return item, nil
}

// FindByIDs загружает товары одним запросом; отсутствующие id пропускаются.
func (c *Catalog) FindByIDs(ctx context.Context, ids []int64) ([]domain.Item, error) {
	if len(ids) == 0 {
		return []domain.Item{}, nil
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return c.query(ctx, `
		SELECT id, title, description, price_minor
		FROM items
		WHERE id = ANY($1)
		ORDER BY id
	`, ids)
}

func (c *Catalog) FindAll(ctx context.Context) ([]domain.Item, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return c.query(ctx, `SELECT id, title, description, price_minor FROM items ORDER BY id`)
}

// Put добавляет или обновляет товар. Используется при заведении каталога и в тестах.
func (c *Catalog) Put(ctx context.Context, item domain.Item) (domain.Item, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	q := conn(ctx, c.store.db)
	if item.ID == 0 {
		err := q.QueryRowContext(ctx, `
			INSERT INTO items (title, description, price_minor)
			VALUES ($1, $2, $3)
			RETURNING id
		`, item.Title, item.Description, item.PriceMinor).Scan(&item.ID)
		if err != nil {
			return domain.Item{}, fmt.Errorf("insert item: %w", err)
		}
		return item, nil
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO items (id, title, description, price_minor)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, description = EXCLUDED.description, price_minor = EXCLUDED.price_minor
	`, item.ID, item.Title, item.Description, item.PriceMinor); err != nil {
		return domain.Item{}, fmt.Errorf("upsert item: %w", err)
	}
	// Явный id не двигает BIGSERIAL, иначе следующая вставка без id наткнётся на занятый ключ.
	if _, err := q.ExecContext(ctx,
		`SELECT setval(pg_get_serial_sequence('items', 'id'), GREATEST((SELECT MAX(id) FROM items), 1))`,
	); err != nil {
		return domain.Item{}, fmt.Errorf("sync items sequence: %w", err)
	}
	return item, nil
}

func (c *Catalog) query(ctx context.Context, query string, args ...any) ([]domain.Item, error) {
	rows, err := conn(ctx, c.store.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Item, 0)
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.PriceMinor); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

var _ domain.Catalog = (*Catalog)(nil)
