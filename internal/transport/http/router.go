// Package http отдаёт по HTTP платёжный леджер (баланс, пополнение, hold, confirm, cancel)
// и JSON API витрины (каталог, корзина, оформление заказа).
// Суммы на проводе десятичные в мажорных единицах, внутри конвертируются в минорные.
package http

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/market/internal/domain"
	"github.com/vladislavdragonenkov/market/internal/metrics"
)

// NewRouter собирает обработчики леджера с логированием, метриками и трассировкой.
// RequestLogger стоит внутри Tracing: ServeMux пишет шаблон маршрута в тот же *http.Request, что видит логгер.
func NewRouter(ledger domain.PaymentLedger, logger *log.Entry, m *metrics.HTTPMetrics) http.Handler {
	mux := http.NewServeMux()
	NewLedgerHandler(ledger, logger).Register(mux)
	return Tracing(RequestLogger(mux, logger, m))
}

// NewMarketRouter собирает API витрины с той же обвязкой.
func NewMarketRouter(deps MarketDeps, logger *log.Entry, m *metrics.HTTPMetrics) http.Handler {
	mux := http.NewServeMux()
	NewMarketHandler(deps, logger).Register(mux)
	return Tracing(RequestLogger(mux, logger, m))
}
