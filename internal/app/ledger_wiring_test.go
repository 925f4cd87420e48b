package app

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/market/internal/domain"
	"github.com/vladislavdragonenkov/market/internal/ledger"
	"github.com/vladislavdragonenkov/market/internal/metrics"
	transport "github.com/vladislavdragonenkov/market/internal/transport/http"
)

func testLedgerMetrics() ledgerMetrics {
	reg := prometheus.NewRegistry()
	return ledgerMetrics{
		ledger:  metrics.NewLedgerMetricsWithRegisterer(reg),
		breaker: metrics.NewBreakerMetricsWithRegisterer(reg),
	}
}

// exerciseLedger проводит один hold через полный цикл и проверяет баланс.
func exerciseLedger(t *testing.T, l domain.PaymentLedger, initial int64) {
	t.Helper()
	ctx := context.Background()

	balance, err := l.Balance(ctx)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != initial {
		t.Fatalf("expected balance %d, got %d", initial, balance)
	}

	holdID, err := l.Hold(ctx, 300)
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if err := l.Confirm(ctx, holdID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := l.Cancel(ctx, holdID); !errors.Is(err, domain.ErrHoldNotFound) {
		t.Fatalf("expected ErrHoldNotFound for settled hold, got %v", err)
	}
	if _, err := l.Hold(ctx, initial); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	balance, err = l.Balance(ctx)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != initial-300 {
		t.Fatalf("expected balance %d, got %d", initial-300, balance)
	}
}

func TestInitLedger_InProcess(t *testing.T) {
	cfg := DefaultMarketConfig()
	cfg.InitialBalanceMinor = 1000

	l, closeFn, err := initLedger(cfg, log.WithField("test", "ledger"), testLedgerMetrics())
	if err != nil {
		t.Fatalf("init ledger: %v", err)
	}
	defer func() { _ = closeFn() }()

	exerciseLedger(t, l, 1000)
}

func TestInitLedger_HTTP(t *testing.T) {
	remote := ledger.New(1000)
	srv := httptest.NewServer(transport.NewRouter(remote, log.WithField("test", "payments"),
		metrics.NewHTTPMetricsWithRegisterer(prometheus.NewRegistry())))
	defer srv.Close()

	cfg := DefaultMarketConfig()
	cfg.LedgerTransport = LedgerTransportHTTP
	cfg.LedgerHTTPURL = srv.URL

	l, closeFn, err := initLedger(cfg, log.WithField("test", "ledger"), testLedgerMetrics())
	if err != nil {
		t.Fatalf("init ledger: %v", err)
	}
	defer func() { _ = closeFn() }()

	exerciseLedger(t, l, 1000)
	if snap := remote.Snapshot(); snap.OpenHolds != 0 || snap.BalanceMinor != 700 {
		t.Fatalf("unexpected remote snapshot: %+v", snap)
	}
}

func TestInitLedger_GRPC(t *testing.T) {
	remote := ledger.New(1000)
	server, healthServer := newLedgerGRPCServer(remote, log.WithField("test", "payments"))
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = server.Serve(lis) }()
	defer func() {
		healthServer.Shutdown()
		server.Stop()
	}()

	cfg := DefaultMarketConfig()
	cfg.LedgerTransport = LedgerTransportGRPC
	cfg.LedgerGRPCAddr = lis.Addr().String()

	l, closeFn, err := initLedger(cfg, log.WithField("test", "ledger"), testLedgerMetrics())
	if err != nil {
		t.Fatalf("init ledger: %v", err)
	}
	defer func() { _ = closeFn() }()

	exerciseLedger(t, l, 1000)
}

func TestInitLedger_RemoteDownIsUnavailable(t *testing.T) {
	cfg := DefaultMarketConfig()
	cfg.LedgerTransport = LedgerTransportHTTP
	cfg.LedgerHTTPURL = "http://127.0.0.1:1"
	cfg.LedgerConnectTimeout = 100 * time.Millisecond
	cfg.LedgerResponseTimeout = 100 * time.Millisecond

	l, _, err := initLedger(cfg, log.WithField("test", "ledger"), testLedgerMetrics())
	if err != nil {
		t.Fatalf("init ledger: %v", err)
	}
	if _, err := l.Balance(context.Background()); !errors.Is(err, domain.ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
}

func TestInitLedger_UnsupportedTransport(t *testing.T) {
	cfg := DefaultMarketConfig()
	cfg.LedgerTransport = "amqp"

	if _, _, err := initLedger(cfg, log.WithField("test", "ledger"), testLedgerMetrics()); err == nil {
		t.Fatal("expected error for unsupported transport")
	}
}
