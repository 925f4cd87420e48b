package app

import (
	"context"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/market/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/market/internal/health"
	"github.com/vladislavdragonenkov/market/internal/metrics"
	"github.com/vladislavdragonenkov/market/internal/service/cart"
	"github.com/vladislavdragonenkov/market/internal/service/reconcile"
	"github.com/vladislavdragonenkov/market/internal/service/saga"
	transport "github.com/vladislavdragonenkov/market/internal/transport/http"
	"github.com/vladislavdragonenkov/market/internal/version"
)

// RunMarket запускает витрину: JSON API, служебный сервер и монитор зависших hold.
// Возвращает ctx.Err() после штатной остановки.
func RunMarket(ctx context.Context, cfg MarketConfig) error {
	logger := log.WithField("component", "market")
	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	payments, closeLedger, err := initLedger(cfg, logger, ledgerMetrics{
		ledger:  metrics.NewLedgerMetrics(),
		breaker: metrics.NewBreakerMetrics(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLedger(); err != nil {
			logger.WithError(err).Warn("failed to close ledger connection")
		}
	}()

	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger.WithField("layer", "kafka"))
	defer closeKafka(producer, logger)

	sagaOpts := []saga.Option{
		saga.WithJournal(deps.journal),
		saga.WithMetrics(metrics.NewSagaMetrics()),
	}
	if producer != nil {
		sagaOpts = append(sagaOpts, saga.WithEvents(producer))
	}
	orchestrator := saga.NewOrchestrator(deps.cart, deps.catalog, deps.orders, deps.tx, payments,
		logger.WithField("component", "saga"), sagaOpts...)

	retry := cart.DefaultRetryConfig()
	retry.MaxAttempts = cfg.CartMaxAttempts
	mutator := cart.NewMutator(deps.cart, deps.catalog, logger.WithField("component", "cart"),
		cart.WithRetryConfig(retry),
		cart.WithMetrics(metrics.NewCartMetrics()),
	)

	monitor := reconcile.NewOrphanMonitor(deps.journal,
		reconcile.WithLogger(logger.WithField("component", "orphan-monitor")),
		reconcile.WithMetrics(metrics.NewReconcileMetrics()),
		reconcile.WithInterval(cfg.OrphanScanInterval),
		reconcile.WithAge(cfg.OrphanAge),
	)

	health := newMarketHealth(deps, payments, monitor)

	apiLis, err := listen(cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen market http: %w", err)
	}
	opsLis, err := listen(cfg.MetricsAddr)
	if err != nil {
		_ = apiLis.Close()
		return fmt.Errorf("listen ops http: %w", err)
	}

	router := transport.NewMarketRouter(transport.MarketDeps{
		Catalog: deps.catalog,
		Cart:    mutator,
		Orders:  deps.orders,
		Saga:    orchestrator,
		Ledger:  payments,
	}, logger.WithField("layer", "http"), metrics.NewHTTPMetrics())

	g, gctx := errgroup.WithContext(ctx)
	serveHTTP(gctx, g, apiLis, router, "market", logger)
	serveHTTP(gctx, g, opsLis, newOpsMux(health, map[string]http.Handler{
		"GET /debug/orphaned-holds": monitor.Handler(),
	}), "ops", logger)
	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})

	logger.WithFields(version.Fields()).WithFields(log.Fields{
		"storage":          cfg.StorageDriver,
		"ledger_transport": cfg.LedgerTransport,
		"kafka":            producer != nil,
	}).Info("market started")

	return waitGroup(ctx, g)
}

// newMarketHealth регистрирует проверки витрины. Недоступный леджер только деградирует
// сервис: корзина и каталог продолжают работать без платежей.
func newMarketHealth(deps *runtimeDependencies, payments domain.PaymentLedger, monitor *reconcile.OrphanMonitor) *healthcheck.Handler {
	health := healthcheck.NewHandler(version.Version())
	health.RegisterChecker("storage", healthcheck.NewFuncChecker("storage", deps.ping))
	health.RegisterChecker("payments", healthcheck.NewSoftChecker("payments", func(ctx context.Context) error {
		_, err := payments.Balance(ctx)
		return err
	}))
	health.RegisterChecker("orphaned_holds", healthcheck.NewThresholdChecker("orphaned_holds", 0,
		func(context.Context) (int64, error) {
			return int64(len(monitor.Last())), nil
		}))
	return health
}
