package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/vladislavdragonenkov/market/internal/domain"
	"github.com/vladislavdragonenkov/market/internal/money"
)

const (
	codeInsufficientFunds   = "INSUFFICIENT_FUNDS"
	codeHoldNotFound        = "HOLD_NOT_FOUND"
	codeInvalidAmount       = "INVALID_AMOUNT"
	codeAmountOverflow      = "AMOUNT_OVERFLOW"
	codeInvalidBody         = "INVALID_REQUEST_BODY"
	codeInvalidRequest      = "INVALID_REQUEST"
	codeInvalidAction       = "INVALID_CART_ACTION"
	codeCartEmpty           = "CART_EMPTY"
	codeItemNotFound        = "ITEM_NOT_FOUND"
	codeCartItemNotFound    = "CART_ITEM_NOT_FOUND"
	codeCartConflict        = "CART_CONFLICT"
	codeOrderNotFound       = "ORDER_NOT_FOUND"
	codePaymentsUnavailable = "PAYMENTS_UNAVAILABLE"
	codeInternal            = "INTERNAL_ERROR"
)

type errorResponse struct {
	Code      string        `json:"code"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
	Balance   *money.Amount `json:"balance,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, now time.Time) {
	writeJSON(w, status, errorResponse{Code: code, Message: msg, Timestamp: now.UTC()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	payload, err := json.Marshal(body)
	if err != nil {
		_, _ = w.Write([]byte(`{"code":"INTERNAL_ERROR","message":"internal error"}`))
		return
	}
	_, _ = w.Write(payload)
}

// statusFor возвращает HTTP-статус и код ошибки для доменной ошибки.
// ErrPersistenceFailure склеена с исходной ошибкой хранилища, поэтому конфликт версий
// корзины проверяется раньше неё, а остальные ошибки позже.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrCartVersionConflict):
		return http.StatusConflict, codeCartConflict
	case errors.Is(err, domain.ErrPersistenceFailure):
		return http.StatusInternalServerError, codeInternal
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusConflict, codeInsufficientFunds
	case errors.Is(err, domain.ErrHoldNotFound):
		return http.StatusNotFound, codeHoldNotFound
	case errors.Is(err, domain.ErrAmountNegative):
		return http.StatusBadRequest, codeInvalidAmount
	case errors.Is(err, domain.ErrAmountOverflow):
		return http.StatusUnprocessableEntity, codeAmountOverflow
	case errors.Is(err, domain.ErrOrderEmpty):
		return http.StatusConflict, codeCartEmpty
	case errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound, codeItemNotFound
	case errors.Is(err, domain.ErrCartItemNotFound):
		return http.StatusNotFound, codeCartItemNotFound
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, codeOrderNotFound
	case errors.Is(err, domain.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable, codePaymentsUnavailable
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// errorBody строит тело ошибки. Детали 500 не раскрываются, при нехватке средств
// в ответ добавляется текущий баланс.
func errorBody(err error, now time.Time) (int, errorResponse) {
	status, code := statusFor(err)
	body := errorResponse{Code: code, Message: err.Error(), Timestamp: now.UTC()}
	if status == http.StatusInternalServerError {
		body.Message = "internal error"
	}

	var insufficient *domain.InsufficientFundsError
	if errors.As(err, &insufficient) {
		balance := money.FromMinor(insufficient.BalanceMinor)
		body.Balance = &balance
	}
	return status, body
}
