// Package payments: клиенты внешнего платёжного леджера для процесса market.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/vladislavdragonenkov/market/internal/domain"
	"github.com/vladislavdragonenkov/market/internal/money"
)

const (
	DefaultConnectTimeout  = 2 * time.Second
	DefaultResponseTimeout = 3 * time.Second

	maxErrorBody = 4 << 10
)

// Timeouts ограничивают установку соединения и ожидание ответа.
type Timeouts struct {
	Connect  time.Duration
	Response time.Duration
}

func (t Timeouts) normalized() Timeouts {
	if t.Connect <= 0 {
		t.Connect = DefaultConnectTimeout
	}
	if t.Response <= 0 {
		t.Response = DefaultResponseTimeout
	}
	return t
}

// HTTPClient реализует domain.PaymentLedger поверх HTTP API payments.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *log.Entry
}

// NewHTTPClient создаёт клиента с таймаутами подключения и ответа.
func NewHTTPClient(baseURL string, timeouts Timeouts, logger *log.Entry) (*HTTPClient, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid payments base url %q", baseURL)
	}
	if logger == nil {
		logger = log.New().WithField("component", "ledger-http-client")
	}

	timeouts = timeouts.normalized()
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: timeouts.Connect, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   timeouts.Connect,
		ResponseHeaderTimeout: timeouts.Response,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: transport,
			Timeout:   timeouts.Connect + timeouts.Response,
		},
		logger: logger,
	}, nil
}

type amountBody struct {
	Amount money.Amount `json:"amount"`
}

type balanceBody struct {
	Balance money.Amount `json:"balance"`
}

type holdBody struct {
	PaymentID string `json:"paymentId"`
}

// codeInvalidAmount: код ответа леджера для отрицательной или нечитаемой суммы.
const codeInvalidAmount = "INVALID_AMOUNT"

type errorBody struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Balance *money.Amount `json:"balance"`
}

func (c *HTTPClient) Balance(ctx context.Context) (int64, error) {
	var out balanceBody
	if err := c.do(ctx, http.MethodGet, "/api/payments/balance", nil, &out); err != nil {
		return 0, err
	}
	minor, err := out.Balance.Minor()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	return minor, nil
}

func (c *HTTPClient) Replenish(ctx context.Context, amountMinor int64) error {
	return c.do(ctx, http.MethodPost, "/api/payments/balance", amountBody{Amount: money.FromMinor(amountMinor)}, nil)
}

func (c *HTTPClient) Hold(ctx context.Context, amountMinor int64) (string, error) {
	var out holdBody
	err := c.do(ctx, http.MethodPost, "/api/payments/hold", amountBody{Amount: money.FromMinor(amountMinor)}, &out)
	if err != nil {
		var insufficient *domain.InsufficientFundsError
		if errors.As(err, &insufficient) {
			insufficient.AmountMinor = amountMinor
		}
		return "", err
	}
	if out.PaymentID == "" {
		return "", fmt.Errorf("%w: empty payment id", domain.ErrLedgerUnavailable)
	}
	return out.PaymentID, nil
}

func (c *HTTPClient) Confirm(ctx context.Context, holdID string) error {
	return c.do(ctx, http.MethodPost, "/api/payments/confirm/"+url.PathEscape(holdID), nil, nil)
}

func (c *HTTPClient) Cancel(ctx context.Context, holdID string) error {
	return c.do(ctx, http.MethodPost, "/api/payments/cancel/"+url.PathEscape(holdID), nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{"method": method, "path": path}).Debug("ledger request failed")
		return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusOK {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", domain.ErrLedgerUnavailable, err)
		}
		return nil
	}
	return decodeError(resp)
}

// decodeError переводит HTTP-статус в доменную ошибку. 5xx и неожиданные ответы: недоступность леджера.
func decodeError(resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body)

	switch resp.StatusCode {
	case http.StatusConflict:
		insufficient := &domain.InsufficientFundsError{}
		if body.Balance != nil {
			if minor, err := body.Balance.Minor(); err == nil {
				insufficient.BalanceMinor = minor
			}
		}
		return insufficient
	case http.StatusNotFound:
		return domain.ErrHoldNotFound
	case http.StatusBadRequest:
		if body.Code == codeInvalidAmount {
			return fmt.Errorf("%w: %s", domain.ErrAmountNegative, body.Message)
		}
		return fmt.Errorf("%w: %s: %s", domain.ErrInvalidRequest, body.Code, body.Message)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", domain.ErrAmountOverflow, body.Message)
	default:
		return fmt.Errorf("%w: status %d", domain.ErrLedgerUnavailable, resp.StatusCode)
	}
}

var _ domain.PaymentLedger = (*HTTPClient)(nil)
