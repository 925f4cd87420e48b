// Package app собирает процессы market и payments из пакетов internal и управляет их жизненным циклом.
package app

import (
	"fmt"
	"strings"
	"time"
)

// Драйверы хранилища витрины.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Транспорт до платёжного леджера.
const (
	LedgerTransportInProcess = "inprocess"
	LedgerTransportHTTP      = "http"
	LedgerTransportGRPC      = "grpc"
)

// DefaultInitialBalanceMinor: стартовый баланс леджера: 5000.00.
const DefaultInitialBalanceMinor int64 = 500000

// MarketConfig описывает настройки процесса витрины.
type MarketConfig struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// SeedCatalog заполняет пустой каталог демонстрационными товарами.
	SeedCatalog bool

	LedgerTransport       string
	LedgerHTTPURL         string
	LedgerGRPCAddr        string
	LedgerConnectTimeout  time.Duration
	LedgerResponseTimeout time.Duration
	BreakerMaxFailures    int
	BreakerResetTimeout   time.Duration
	// InitialBalanceMinor используется только встроенным леджером.
	InitialBalanceMinor int64

	CartMaxAttempts    int
	OrphanScanInterval time.Duration
	OrphanAge          time.Duration

	KafkaBrokers []string
}

// DefaultMarketConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		HTTPAddr:              ":8080",
		MetricsAddr:           ":9090",
		StorageDriver:         StorageDriverMemory,
		PostgresAutoMigrate:   true,
		SeedCatalog:           true,
		LedgerTransport:       LedgerTransportInProcess,
		LedgerHTTPURL:         "http://localhost:8081",
		LedgerGRPCAddr:        "localhost:50051",
		LedgerConnectTimeout:  2 * time.Second,
		LedgerResponseTimeout: 3 * time.Second,
		BreakerMaxFailures:    5,
		BreakerResetTimeout:   10 * time.Second,
		InitialBalanceMinor:   DefaultInitialBalanceMinor,
		CartMaxAttempts:       3,
		OrphanScanInterval:    time.Minute,
		OrphanAge:             5 * time.Minute,
	}
}

// Validate проверяет сочетания настроек, которые нельзя проверить по одной переменной.
func (c MarketConfig) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres storage requires a DSN")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}

	switch c.LedgerTransport {
	case LedgerTransportInProcess:
	case LedgerTransportHTTP:
		if c.LedgerHTTPURL == "" {
			return fmt.Errorf("http ledger transport requires a base url")
		}
	case LedgerTransportGRPC:
		if c.LedgerGRPCAddr == "" {
			return fmt.Errorf("grpc ledger transport requires an address")
		}
	default:
		return fmt.Errorf("unsupported ledger transport %q", c.LedgerTransport)
	}
	return nil
}

// PaymentsConfig описывает настройки процесса платёжного сервиса.
type PaymentsConfig struct {
	HTTPAddr            string
	GRPCAddr            string
	MetricsAddr         string
	InitialBalanceMinor int64
}

func DefaultPaymentsConfig() PaymentsConfig {
	return PaymentsConfig{
		HTTPAddr:            ":8081",
		GRPCAddr:            ":50051",
		MetricsAddr:         ":9091",
		InitialBalanceMinor: DefaultInitialBalanceMinor,
	}
}
