package payments

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/market/internal/domain"
	"github.com/vladislavdragonenkov/market/internal/ledger"
	paymentshttp "github.com/vladislavdragonenkov/market/internal/transport/http"
)

func newLedgerServer(t *testing.T, initial int64) (*HTTPClient, *ledger.Ledger) {
	t.Helper()

	l := ledger.New(initial)
	srv := httptest.NewServer(paymentshttp.NewRouter(l, nil, nil))
	t.Cleanup(srv.Close)

	client, err := NewHTTPClient(srv.URL, Timeouts{}, nil)
	require.NoError(t, err)
	return client, l
}

func TestHTTPClient_HoldConfirm(t *testing.T) {
	ctx := context.Background()
	client, l := newLedgerServer(t, 5000)

	holdID, err := client.Hold(ctx, 1200)
	require.NoError(t, err)

	balance, err := client.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3800), balance)

	require.NoError(t, client.Confirm(ctx, holdID))
	require.ErrorIs(t, client.Confirm(ctx, holdID), domain.ErrHoldNotFound)
	require.Zero(t, l.Snapshot().OpenHolds)
}

func TestHTTPClient_HoldCancel(t *testing.T) {
	ctx := context.Background()
	client, l := newLedgerServer(t, 5000)

	holdID, err := client.Hold(ctx, 1000)
	require.NoError(t, err)
	require.NoError(t, client.Cancel(ctx, holdID))
	require.ErrorIs(t, client.Cancel(ctx, holdID), domain.ErrHoldNotFound)
	require.Equal(t, int64(5000), l.Snapshot().BalanceMinor)
}

func TestHTTPClient_InsufficientFunds(t *testing.T) {
	client, _ := newLedgerServer(t, 700)

	_, err := client.Hold(context.Background(), 701)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	var insufficient *domain.InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	require.Equal(t, int64(700), insufficient.BalanceMinor)
	require.Equal(t, int64(701), insufficient.AmountMinor)
}

func TestHTTPClient_ReplenishAndNegative(t *testing.T) {
	ctx := context.Background()
	client, _ := newLedgerServer(t, 0)

	require.NoError(t, client.Replenish(ctx, 1025))
	require.ErrorIs(t, client.Replenish(ctx, -1), domain.ErrAmountNegative)

	balance, err := client.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1025), balance)
}

func TestHTTPClient_ReplenishOverflow(t *testing.T) {
	ctx := context.Background()
	client, l := newLedgerServer(t, math.MaxInt64)

	err := client.Replenish(ctx, 1)
	require.ErrorIs(t, err, domain.ErrAmountOverflow)
	require.False(t, errors.Is(err, domain.ErrLedgerUnavailable))
	require.Equal(t, int64(math.MaxInt64), l.Snapshot().BalanceMinor)
}

func TestHTTPClient_BadRequestCodes(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		want    error
		notWant error
	}{
		{
			name:    "invalid amount",
			body:    `{"code":"INVALID_AMOUNT","message":"amount must be non-negative"}`,
			want:    domain.ErrAmountNegative,
			notWant: domain.ErrInvalidRequest,
		},
		{
			name:    "invalid body",
			body:    `{"code":"INVALID_REQUEST_BODY","message":"invalid request body"}`,
			want:    domain.ErrInvalidRequest,
			notWant: domain.ErrAmountNegative,
		},
		{
			name:    "no body",
			body:    ``,
			want:    domain.ErrInvalidRequest,
			notWant: domain.ErrAmountNegative,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client, err := NewHTTPClient(srv.URL, Timeouts{}, nil)
			require.NoError(t, err)

			err = client.Replenish(context.Background(), 10)
			require.ErrorIs(t, err, tc.want)
			require.False(t, errors.Is(err, tc.notWant), "unexpected %v in %v", tc.notWant, err)
		})
	}
}

func TestHTTPClient_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, Timeouts{}, nil)
	require.NoError(t, err)

	_, err = client.Hold(context.Background(), 10)
	require.ErrorIs(t, err, domain.ErrLedgerUnavailable)
}

func TestHTTPClient_ResponseTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, err := NewHTTPClient(srv.URL, Timeouts{Connect: 100 * time.Millisecond, Response: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = client.Hold(context.Background(), 10)
	require.ErrorIs(t, err, domain.ErrLedgerUnavailable)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewHTTPClient(url, Timeouts{Connect: 200 * time.Millisecond}, nil)
	require.NoError(t, err)

	_, err = client.Balance(context.Background())
	require.ErrorIs(t, err, domain.ErrLedgerUnavailable)
}

func TestHTTPClient_DecodesStringBalance(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"balance":"1.50"}`))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(srv.URL, Timeouts{}, nil)
	require.NoError(t, err)

	balance, err := client.Balance(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(150), balance)
	require.Equal(t, int32(1), calls.Load())
}

func TestNewHTTPClient_InvalidURL(t *testing.T) {
	_, err := NewHTTPClient("not a url", Timeouts{}, nil)
	require.Error(t, err)
}
