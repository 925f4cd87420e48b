package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/market/internal/domain"
	"github.com/vladislavdragonenkov/market/internal/storage/memory"
	"github.com/vladislavdragonenkov/market/internal/storage/postgres"
)

// demoCatalog: товары, которыми заполняется пустой каталог при SeedCatalog.
var demoCatalog = []domain.Item{
	{ID: 1, Title: "Чайник", Description: "Электрический, 1.7 л", PriceMinor: 249000},
	{ID: 2, Title: "Кружка", Description: "Керамика, 350 мл", PriceMinor: 45000},
	{ID: 3, Title: "Чай улун", Description: "100 г", PriceMinor: 69000},
	{ID: 4, Title: "Френч-пресс", Description: "600 мл", PriceMinor: 159000},
}

// runtimeDependencies: хранилища витрины и их обслуживание.
type runtimeDependencies struct {
	catalog domain.Catalog
	cart    domain.CartRepository
	orders  domain.OrderRepository
	journal domain.SagaJournal
	tx      domain.Transactor

	// ping проверяет доступность хранилища для readiness.
	ping    func(ctx context.Context) error
	closeFn func() error
}

// initRuntimeDependencies поднимает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg MarketConfig, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		catalog := memory.NewCatalog()
		if cfg.SeedCatalog {
			for _, item := range demoCatalog {
				catalog.Put(item)
			}
		}
		logger.WithField("seed_catalog", cfg.SeedCatalog).Info("in-memory storage initialized")
		return &runtimeDependencies{
			catalog: catalog,
			cart:    memory.NewCartRepository(),
			orders:  memory.NewOrderRepository(),
			journal: memory.NewSagaJournal(),
			tx:      memory.NewTransactor(),
			ping:    func(context.Context) error { return nil },
			closeFn: func() error { return nil },
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires a DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}

		catalog := postgres.NewCatalog(store)
		if cfg.SeedCatalog {
			if err := seedPostgresCatalog(ctx, catalog, logger); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("postgres storage initialized")
		return &runtimeDependencies{
			catalog: catalog,
			cart:    postgres.NewCartRepository(store),
			orders:  postgres.NewOrderRepository(store),
			journal: postgres.NewSagaJournal(store),
			tx:      store,
			ping:    store.Ping,
			closeFn: store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// seedPostgresCatalog заполняет каталог только если в нём нет ни одного товара.
func seedPostgresCatalog(ctx context.Context, catalog *postgres.Catalog, logger *log.Entry) error {
	existing, err := catalog.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, item := range demoCatalog {
		if _, err := catalog.Put(ctx, item); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
	}
	logger.WithField("items", len(demoCatalog)).Info("catalog seeded")
	return nil
}
