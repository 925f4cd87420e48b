package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/market/internal/client/payments"
	"github.com/vladislavdragonenkov/market/internal/domain"
	"github.com/vladislavdragonenkov/market/internal/ledger"
	"github.com/vladislavdragonenkov/market/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/market/internal/service/grpc"
)

// ledgerMetrics: метрики, которые нужны разным транспортам леджера.
type ledgerMetrics struct {
	ledger  *metrics.LedgerMetrics
	breaker *metrics.BreakerMetrics
}

// initLedger выбирает реализацию PaymentLedger по cfg.LedgerTransport.
// Удалённые транспорты оборачиваются в circuit breaker; closeFn освобождает соединение.
func initLedger(cfg MarketConfig, logger *log.Entry, m ledgerMetrics) (domain.PaymentLedger, func() error, error) {
	noop := func() error { return nil }
	entry := logger.WithField("ledger_transport", cfg.LedgerTransport)

	switch cfg.LedgerTransport {
	case LedgerTransportInProcess:
		l := ledger.New(cfg.InitialBalanceMinor,
			ledger.WithLogger(logger.WithField("component", "ledger")),
			ledger.WithMetrics(m.ledger),
		)
		entry.WithField("initial_balance_minor", cfg.InitialBalanceMinor).Info("in-process ledger initialized")
		return l, noop, nil

	case LedgerTransportHTTP:
		client, err := payments.NewHTTPClient(cfg.LedgerHTTPURL, payments.Timeouts{
			Connect:  cfg.LedgerConnectTimeout,
			Response: cfg.LedgerResponseTimeout,
		}, logger.WithField("component", "payments-http-client"))
		if err != nil {
			return nil, nil, fmt.Errorf("create payments http client: %w", err)
		}
		entry.WithField("url", cfg.LedgerHTTPURL).Info("remote ledger over http")
		return withBreaker(client, cfg, logger, m), noop, nil

	case LedgerTransportGRPC:
		conn, err := grpcsvc.DialLedger(cfg.LedgerGRPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("dial payments grpc: %w", err)
		}
		client := grpcsvc.NewLedgerClient(conn, cfg.LedgerConnectTimeout+cfg.LedgerResponseTimeout,
			logger.WithField("component", "payments-grpc-client"))
		entry.WithField("addr", cfg.LedgerGRPCAddr).Info("remote ledger over grpc")
		return withBreaker(client, cfg, logger, m), conn.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported ledger transport %q", cfg.LedgerTransport)
	}
}

func withBreaker(next domain.PaymentLedger, cfg MarketConfig, logger *log.Entry, m ledgerMetrics) domain.PaymentLedger {
	breaker := payments.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout,
		logger.WithField("component", "ledger-breaker"), m.breaker)
	return payments.NewBreakerLedger(next, breaker)
}
