package http

import (
	"encoding/json"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/market/internal/domain"
	"github.com/vladislavdragonenkov/market/internal/money"
)

// Пути ledger API. Шаблоны в формате ServeMux, они же идут в метку route.
const (
	routeBalance   = "/api/payments/balance"
	routeHold      = "/api/payments/hold"
	routeConfirm   = "/api/payments/confirm/{paymentId}"
	routeCancel    = "/api/payments/cancel/{paymentId}"
	maxRequestBody = 1 << 10
)

type amountRequest struct {
	Amount *money.Amount `json:"amount"`
}

type balanceResponse struct {
	Balance money.Amount `json:"balance"`
}

type holdResponse struct {
	PaymentID string `json:"paymentId"`
}

// LedgerHandler отдаёт операции леджера по HTTP.
type LedgerHandler struct {
	ledger domain.PaymentLedger
	logger *log.Entry
	now    func() time.Time
}

// NewLedgerHandler создаёт обработчики поверх леджера.
func NewLedgerHandler(ledger domain.PaymentLedger, logger *log.Entry) *LedgerHandler {
	if logger == nil {
		logger = log.New().WithField("component", "ledger-http")
	}
	return &LedgerHandler{ledger: ledger, logger: logger, now: time.Now}
}

// Register вешает маршруты на mux.
func (h *LedgerHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+routeBalance, h.balance)
	mux.HandleFunc("POST "+routeBalance, h.replenish)
	mux.HandleFunc("POST "+routeHold, h.hold)
	mux.HandleFunc("POST "+routeConfirm, h.confirm)
	mux.HandleFunc("POST "+routeCancel, h.cancel)
}

func (h *LedgerHandler) balance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.ledger.Balance(r.Context())
	if err != nil {
		h.fail(w, err, "balance")
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: money.FromMinor(balance)})
}

func (h *LedgerHandler) replenish(w http.ResponseWriter, r *http.Request) {
	amount, ok := h.decodeAmount(w, r)
	if !ok {
		return
	}
	if err := h.ledger.Replenish(r.Context(), amount); err != nil {
		h.fail(w, err, "replenish")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *LedgerHandler) hold(w http.ResponseWriter, r *http.Request) {
	amount, ok := h.decodeAmount(w, r)
	if !ok {
		return
	}
	holdID, err := h.ledger.Hold(r.Context(), amount)
	if err != nil {
		h.fail(w, err, "hold")
		return
	}
	writeJSON(w, http.StatusOK, holdResponse{PaymentID: holdID})
}

func (h *LedgerHandler) confirm(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Confirm(r.Context(), r.PathValue("paymentId")); err != nil {
		h.fail(w, err, "confirm")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *LedgerHandler) cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Cancel(r.Context(), r.PathValue("paymentId")); err != nil {
		h.fail(w, err, "cancel")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *LedgerHandler) decodeAmount(w http.ResponseWriter, r *http.Request) (int64, bool) {
	var req amountRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidBody, "invalid request body", h.now())
		return 0, false
	}
	if req.Amount == nil {
		writeError(w, http.StatusBadRequest, codeInvalidAmount, "amount is required", h.now())
		return 0, false
	}
	minor, err := req.Amount.Minor()
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidAmount, err.Error(), h.now())
		return 0, false
	}
	return minor, true
}

func (h *LedgerHandler) fail(w http.ResponseWriter, err error, operation string) {
	status, body := errorBody(err, h.now())
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("operation", operation).Error("ledger operation failed")
	}
	writeJSON(w, status, body)
}
