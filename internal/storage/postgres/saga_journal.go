package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/market/internal/domain"
)

type sagaJournal struct {
	store *Store
}

// NewSagaJournal создаёт журнал саги. Запись идёт мимо транзакции из ctx:
// откат заказа не должен стирать историю прогона.
func NewSagaJournal(store *Store) domain.SagaJournal {
	return &sagaJournal{store: store}
}

func (j *sagaJournal) Append(ctx context.Context, record domain.SagaRecord) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if record.Occurred.IsZero() {
		record.Occurred = time.Now().UTC()
	}
	if _, err := j.store.db.ExecContext(ctx, `
		INSERT INTO saga_journal (run_id, state, hold_id, order_id, amount_minor, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, record.RunID, string(record.State), record.HoldID, record.OrderID, record.AmountMinor, record.Reason, record.Occurred); err != nil {
		return fmt.Errorf("insert saga record: %w", err)
	}
	return nil
}

func (j *sagaJournal) List(ctx context.Context, runID string) ([]domain.SagaRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return j.query(ctx, `
		SELECT run_id, state, hold_id, order_id, amount_minor, reason, occurred_at
		FROM saga_journal
		WHERE run_id = $1
		ORDER BY occurred_at, seq
	`, runID)
}

// Stale берёт последнюю запись каждого прогона и оставляет нетерминальные и аномальные, старше порога.
func (j *sagaJournal) Stale(ctx context.Context, olderThan time.Time, limit int) ([]domain.SagaRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT run_id, state, hold_id, order_id, amount_minor, reason, occurred_at
		FROM (
			SELECT DISTINCT ON (run_id) run_id, state, hold_id, order_id, amount_minor, reason, occurred_at
			FROM saga_journal
			ORDER BY run_id, occurred_at DESC, seq DESC
		) last
		WHERE state NOT IN ($1, $2, $3, $4)
		  AND occurred_at < $5
		ORDER BY occurred_at
	`
	args := []any{
		string(domain.SagaStateStart),
		string(domain.SagaStateHoldFailed),
		string(domain.SagaStateConfirmed),
		string(domain.SagaStateCancelled),
		olderThan,
	}
	if limit > 0 {
		query += " LIMIT $6"
		args = append(args, limit)
	}
	return j.query(ctx, query, args...)
}

func (j *sagaJournal) query(ctx context.Context, query string, args ...any) ([]domain.SagaRecord, error) {
	rows, err := j.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query saga journal: %w", err)
	}
	defer rows.Close()

	records := make([]domain.SagaRecord, 0)
	for rows.Next() {
		var (
			record domain.SagaRecord
			state  string
		)
		if err := rows.Scan(&record.RunID, &state, &record.HoldID, &record.OrderID, &record.AmountMinor, &record.Reason, &record.Occurred); err != nil {
			return nil, fmt.Errorf("scan saga record: %w", err)
		}
		record.State = domain.SagaState(state)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate saga journal: %w", err)
	}
	return records, nil
}

var _ domain.SagaJournal = (*sagaJournal)(nil)
