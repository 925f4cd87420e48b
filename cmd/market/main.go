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
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/market/internal/app"
	"github.com/vladislavdragonenkov/market/internal/version"
)

const (
	envHTTPAddr              = "MARKET_HTTP_ADDR"
	envMetricsAddr           = "MARKET_METRICS_ADDR"
	envStorageDriver         = "MARKET_STORAGE_DRIVER"
	envPostgresDSN           = "MARKET_POSTGRES_DSN"
	envPostgresAutoMigrate   = "MARKET_POSTGRES_AUTO_MIGRATE"
	envSeedCatalog           = "MARKET_SEED_CATALOG"
	envLedgerTransport       = "MARKET_LEDGER_TRANSPORT"
	envLedgerHTTPURL         = "MARKET_LEDGER_HTTP_URL"
	envLedgerGRPCAddr        = "MARKET_LEDGER_GRPC_ADDR"
	envLedgerConnectTimeout  = "MARKET_LEDGER_CONNECT_TIMEOUT"
	envLedgerResponseTimeout = "MARKET_LEDGER_RESPONSE_TIMEOUT"
	envBreakerMaxFailures    = "MARKET_LEDGER_BREAKER_FAILURES"
	envBreakerResetTimeout   = "MARKET_LEDGER_BREAKER_RESET"
	envInitialBalance        = "MARKET_INITIAL_BALANCE"
	envCartMaxAttempts       = "MARKET_CART_MAX_ATTEMPTS"
	envOrphanScanInterval    = "MARKET_ORPHAN_SCAN_INTERVAL"
	envOrphanAge             = "MARKET_ORPHAN_AGE"
	envKafkaBrokers          = "KAFKA_BROKERS"
)

type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

// readConfigFromEnv собирает конфигурацию витрины. Некорректные значения не валят запуск:
// остаётся значение по умолчанию, а в warnings попадает описание проблемы.
func readConfigFromEnv(lookup envLookup) (app.MarketConfig, []string) {
	cfg := app.DefaultMarketConfig()
	var warnings []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envPostgresDSN, &cfg.PostgresDSN)
	str(envLedgerHTTPURL, &cfg.LedgerHTTPURL)
	str(envLedgerGRPCAddr, &cfg.LedgerGRPCAddr)

	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(envLedgerTransport); ok && strings.TrimSpace(v) != "" {
		cfg.LedgerTransport = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(envKafkaBrokers); ok {
		cfg.KafkaBrokers = app.ParseBrokers(v)
	}

	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	boolean(envSeedCatalog, &cfg.SeedCatalog)

	positive := func(v int) bool { return v > 0 }
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, positive, "must be > 0")
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	integer(envBreakerMaxFailures, &cfg.BreakerMaxFailures)
	integer(envCartMaxAttempts, &cfg.CartMaxAttempts)

	if v, ok := lookup(envInitialBalance); ok && strings.TrimSpace(v) != "" {
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("%s: %v", envInitialBalance, err))
		case parsed < 0:
			warnings = append(warnings, fmt.Sprintf("%s: must be >= 0", envInitialBalance))
		default:
			cfg.InitialBalanceMinor = parsed
		}
	}

	positiveDuration := func(v time.Duration) bool { return v > 0 }
	duration := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, positiveDuration, "must be > 0")
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}
	duration(envLedgerConnectTimeout, &cfg.LedgerConnectTimeout)
	duration(envLedgerResponseTimeout, &cfg.LedgerResponseTimeout)
	duration(envBreakerResetTimeout, &cfg.BreakerResetTimeout)
	duration(envOrphanScanInterval, &cfg.OrphanScanInterval)
	duration(envOrphanAge, &cfg.OrphanAge)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, msg string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, errors.New(msg)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, msg string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !valid(value) {
		return 0, errors.New(msg)
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
		"http_addr":        cfg.HTTPAddr,
		"metrics_addr":     cfg.MetricsAddr,
		"storage":          cfg.StorageDriver,
		"ledger_transport": cfg.LedgerTransport,
	}).Info("запускаем витрину")

	if err := app.RunMarket(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("витрина завершилась с ошибкой")
	}

	log.Info("витрина остановлена")
}
