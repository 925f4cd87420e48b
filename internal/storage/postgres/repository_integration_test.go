package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/market/internal/domain"
)

func seedItems(t *testing.T, store *Store, prices ...int64) []domain.Item {
	t.Helper()

	catalog := NewCatalog(store)
	items := make([]domain.Item, 0, len(prices))
	for i, price := range prices {
		item, err := catalog.Put(context.Background(), domain.Item{
			Title:      "item",
			PriceMinor: price,
		})
		require.NoError(t, err, "seed item %d", i)
		items = append(items, item)
	}
	return items
}

func makeOrder(items []domain.Item) domain.Order {
	orderID := uuid.NewString()
	order := domain.Order{
		ID:        orderID,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	for _, item := range items {
		order.Lines = append(order.Lines, domain.OrderLine{
			ID:         uuid.NewString(),
			OrderID:    orderID,
			ItemID:     item.ID,
			Qty:        2,
			PriceMinor: item.PriceMinor,
		})
		order.AmountMinor += 2 * item.PriceMinor
	}
	return order
}

func TestCatalog_Postgres(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	items := seedItems(t, store, 100, 250)
	catalog := NewCatalog(store)

	got, err := catalog.FindByID(ctx, items[1].ID)
	require.NoError(t, err)
	require.Equal(t, int64(250), got.PriceMinor)

	_, err = catalog.FindByID(ctx, items[1].ID+100)
	require.ErrorIs(t, err, domain.ErrItemNotFound)

	found, err := catalog.FindByIDs(ctx, []int64{items[0].ID, items[1].ID + 100})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, items[0].ID, found[0].ID)

	all, err := catalog.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestCartRepository_PostgresVersioning(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	items := seedItems(t, store, 100)
	repo := NewCartRepository(store)

	saved, err := repo.Save(ctx, domain.CartLine{ItemID: items[0].ID, Qty: 1})
	require.NoError(t, err)
	require.Equal(t, int64(1), saved.Version)

	_, err = repo.Save(ctx, domain.CartLine{ItemID: items[0].ID, Qty: 1})
	require.ErrorIs(t, err, domain.ErrCartVersionConflict)

	saved.Qty = 5
	updated, err := repo.Save(ctx, saved)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)

	_, err = repo.Save(ctx, saved)
	require.ErrorIs(t, err, domain.ErrCartVersionConflict)

	require.ErrorIs(t, repo.Delete(ctx, items[0].ID, 1), domain.ErrCartVersionConflict)
	require.NoError(t, repo.Delete(ctx, items[0].ID, updated.Version))
	require.ErrorIs(t, repo.Delete(ctx, items[0].ID, updated.Version), domain.ErrCartItemNotFound)

	_, err = repo.Save(ctx, domain.CartLine{ItemID: items[0].ID + 100, Qty: 1})
	require.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestOrderRepository_PostgresCreateGetList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	items := seedItems(t, store, 100, 300)
	repo := NewOrderRepository(store)

	first := makeOrder(items[:1])
	second := makeOrder(items)
	second.CreatedAt = first.CreatedAt.Add(time.Second)

	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))
	require.ErrorIs(t, repo.Create(ctx, first), domain.ErrOrderAlreadyExists)

	got, err := repo.Get(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, int64(800), got.AmountMinor)
	require.Len(t, got.Lines, 2)

	_, err = repo.Get(ctx, uuid.NewString())
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	latest, err := repo.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.Equal(t, second.ID, latest[0].ID)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestStore_PostgresWithinTxRollsBack(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	items := seedItems(t, store, 100)
	orders := NewOrderRepository(store)
	cart := NewCartRepository(store)

	line, err := cart.Save(ctx, domain.CartLine{ItemID: items[0].ID, Qty: 2})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.WithinTx(ctx, func(ctx context.Context) error {
		if err := orders.Create(ctx, makeOrder(items)); err != nil {
			return err
		}
		if err := cart.Delete(ctx, line.ItemID, line.Version); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	count, err := orders.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	lines, err := cart.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, lines)
}

func TestSagaJournal_PostgresStale(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	journal := NewSagaJournal(store)
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)

	appendRun := func(runID string, states ...domain.SagaState) {
		for i, state := range states {
			require.NoError(t, journal.Append(ctx, domain.SagaRecord{
				RunID:       runID,
				State:       state,
				HoldID:      "hold-" + runID,
				AmountMinor: 500,
				Occurred:    base.Add(time.Duration(i) * time.Second),
			}))
		}
	}

	appendRun("done", domain.SagaStateStart, domain.SagaStateHeld, domain.SagaStatePersisted, domain.SagaStateConfirmed)
	appendRun("stuck", domain.SagaStateStart, domain.SagaStateHeld)
	appendRun("anomaly", domain.SagaStateStart, domain.SagaStateHeld, domain.SagaStatePersisted, domain.SagaStateConfirmFailed)

	records, err := journal.List(ctx, "done")
	require.NoError(t, err)
	require.Len(t, records, 4)
	require.Equal(t, domain.SagaStateConfirmed, records[3].State)

	stale, err := journal.Stale(ctx, time.Now().UTC(), 0)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	require.Equal(t, "stuck", stale[0].RunID)
	require.Equal(t, "anomaly", stale[1].RunID)

	limited, err := journal.Stale(ctx, time.Now().UTC(), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	none, err := journal.Stale(ctx, base, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}
