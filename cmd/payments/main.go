package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/market/internal/app"
	"github.com/vladislavdragonenkov/market/internal/version"
)

const (
	envHTTPAddr       = "PAYMENTS_HTTP_ADDR"
	envGRPCAddr       = "PAYMENTS_GRPC_ADDR"
	envMetricsAddr    = "PAYMENTS_METRICS_ADDR"
	envInitialBalance = "PAYMENTS_INITIAL_BALANCE"
)

type envLookup func(key string) (string, bool)

func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

// readConfigFromEnv позволяет переопределить адреса и стартовый баланс через переменные окружения.
func readConfigFromEnv(lookup envLookup) (app.PaymentsConfig, []string) {
	cfg := app.DefaultPaymentsConfig()
	var warnings []string

	for key, dst := range map[string]*string{
		envHTTPAddr:    &cfg.HTTPAddr,
		envGRPCAddr:    &cfg.GRPCAddr,
		envMetricsAddr: &cfg.MetricsAddr,
	} {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup(envInitialBalance); ok && strings.TrimSpace(v) != "" {
		balance, err := parseMinor(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", envInitialBalance, err))
		} else {
			cfg.InitialBalanceMinor = balance
		}
	}

	return cfg, warnings
}

// parseMinor читает неотрицательную сумму в минорных единицах.
func parseMinor(raw string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, errors.New("must be >= 0")
	}
	return value, nil
}

func main() {
	setupLogger()
	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range warnings {
		log.WithField("warning", w).Warn("некорректное значение конфигурации, используем значение по умолчанию")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Fields()).WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
	}).Info("запускаем платёжный сервис")

	if err := app.RunPayments(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("платёжный сервис завершился с ошибкой")
	}

	log.Info("платёжный сервис остановлен")
}
