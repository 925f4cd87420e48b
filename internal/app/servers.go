package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	healthcheck "github.com/vladislavdragonenkov/market/internal/health"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// newOpsMux собирает служебные эндпоинты: метрики и пробы. extra добавляет процесс-специфичные маршруты.
func newOpsMux(health *healthcheck.Handler, extra map[string]http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /healthz", health)
	mux.HandleFunc("GET /livez", healthcheck.LivenessHandler)
	mux.HandleFunc("GET /readyz", health.ReadinessHandler)
	for pattern, handler := range extra {
		mux.Handle(pattern, handler)
	}
	return mux
}

// listen открывает сокет заранее: ошибка занятого порта видна до старта остальных серверов.
func listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// serveHTTP запускает сервер в группе и останавливает его по отмене ctx.
func serveHTTP(ctx context.Context, g *errgroup.Group, lis net.Listener, handler http.Handler, name string, logger *log.Entry) {
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: readHeaderTimeout}
	entry := logger.WithFields(log.Fields{"server": name, "addr": lis.Addr().String()})

	g.Go(func() error {
		entry.Info("http server listening")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownHTTP(srv, entry)
		return nil
	})
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

// serveGRPC запускает gRPC-сервер в группе; по отмене ctx ждёт GracefulStop не дольше shutdownTimeout.
func serveGRPC(ctx context.Context, g *errgroup.Group, lis net.Listener, srv *grpc.Server, logger *log.Entry) {
	entry := logger.WithFields(log.Fields{"server": "grpc", "addr": lis.Addr().String()})

	g.Go(func() error {
		entry.Info("grpc server listening")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		stopped := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(shutdownTimeout):
			entry.Warn("graceful stop timed out, forcing stop")
			srv.Stop()
		}
		return nil
	})
}

// waitGroup дожидается группы и отдаёт ctx.Err() при штатной остановке по сигналу.
func waitGroup(ctx context.Context, g *errgroup.Group) error {
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
