package app

import (
	"context"
	"errors"
	"fmt"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/market/internal/health"
	"github.com/vladislavdragonenkov/market/internal/ledger"
	"github.com/vladislavdragonenkov/market/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/market/internal/service/grpc"
	transport "github.com/vladislavdragonenkov/market/internal/transport/http"
	"github.com/vladislavdragonenkov/market/internal/version"
)

// RunPayments запускает платёжный сервис: один леджер за HTTP и gRPC API плюс служебный сервер.
func RunPayments(ctx context.Context, cfg PaymentsConfig) error {
	logger := log.WithField("component", "payments")
	if cfg.InitialBalanceMinor < 0 {
		return fmt.Errorf("initial balance must not be negative")
	}

	l := ledger.New(cfg.InitialBalanceMinor,
		ledger.WithLogger(logger.WithField("component", "ledger")),
		ledger.WithMetrics(metrics.NewLedgerMetrics()),
	)

	grpcServer, healthServer := newLedgerGRPCServer(l, logger)

	health := healthcheck.NewHandler(version.Version())
	health.RegisterChecker("ledger", healthcheck.NewFuncChecker("ledger", func(context.Context) error {
		if snap := l.Snapshot(); snap.BalanceMinor < 0 {
			return fmt.Errorf("negative balance %d", snap.BalanceMinor)
		}
		return nil
	}))

	httpLis, err := listen(cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen payments http: %w", err)
	}
	grpcLis, err := listen(cfg.GRPCAddr)
	if err != nil {
		_ = httpLis.Close()
		return fmt.Errorf("listen payments grpc: %w", err)
	}
	opsLis, err := listen(cfg.MetricsAddr)
	if err != nil {
		_ = httpLis.Close()
		_ = grpcLis.Close()
		return fmt.Errorf("listen ops http: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	serveHTTP(gctx, g, httpLis, transport.NewRouter(l, logger.WithField("layer", "http"), metrics.NewHTTPMetrics()), "payments", logger)
	serveHTTP(gctx, g, opsLis, newOpsMux(health, nil), "ops", logger)
	serveGRPC(gctx, g, grpcLis, grpcServer, logger)
	g.Go(func() error {
		<-gctx.Done()
		healthServer.Shutdown()
		return nil
	})

	logger.WithFields(version.Fields()).WithField("initial_balance_minor", cfg.InitialBalanceMinor).Info("payments started")

	return waitGroup(ctx, g)
}

// newLedgerGRPCServer собирает gRPC-сервер с метриками, reflection и стандартным health-сервисом.
func newLedgerGRPCServer(l *ledger.Ledger, logger *log.Entry) (*grpc.Server, *grpchealth.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.RegisterLedgerServiceServer(server, grpcsvc.NewLedgerService(l, logger.WithField("layer", "grpc")))
	grpcMetrics.InitializeMetrics(server)
	reflection.Register(server)

	healthServer := grpchealth.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.LedgerServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	return server, healthServer
}
