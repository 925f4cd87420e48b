package grpcsvc_test

import (
	"context"
	"errors"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vladislavdragonenkov/market/internal/domain"
	"github.com/vladislavdragonenkov/market/internal/ledger"
	grpcsvc "github.com/vladislavdragonenkov/market/internal/service/grpc"
)

const bufSize = 1024 * 1024

func newTestServer(t *testing.T, l domain.PaymentLedger) *grpc.ClientConn {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	logger := loggerForTests()

	server := grpc.NewServer()
	grpcsvc.RegisterLedgerServiceServer(server, grpcsvc.NewLedgerService(l, logger))

	go func() {
		if err := server.Serve(listener); err != nil {
			logger.WithError(err).Error("grpc serve failed")
		}
	}()

	dialer := func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}

	//nolint:staticcheck // grpc.Dial is required for bufconn testing
	conn, err := grpc.Dial("bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})
	return conn
}

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: false, DisableTimestamp: true})
	logger.SetLevel(logrus.DebugLevel)
	return logger.WithField("component", "test")
}

func TestLedgerClient_HoldConfirmRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(5000)
	client := grpcsvc.NewLedgerClient(newTestServer(t, l), time.Second, loggerForTests())

	holdID, err := client.Hold(ctx, 1200)
	require.NoError(t, err)
	require.NotEmpty(t, holdID)

	balance, err := client.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3800), balance)

	require.NoError(t, client.Confirm(ctx, holdID))
	require.ErrorIs(t, client.Confirm(ctx, holdID), domain.ErrHoldNotFound)
	require.Equal(t, int64(3800), l.Snapshot().BalanceMinor)
}

func TestLedgerClient_CancelRestoresBalance(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(5000)
	client := grpcsvc.NewLedgerClient(newTestServer(t, l), 0, nil)

	holdID, err := client.Hold(ctx, 1000)
	require.NoError(t, err)
	require.NoError(t, client.Cancel(ctx, holdID))
	require.ErrorIs(t, client.Cancel(ctx, holdID), domain.ErrHoldNotFound)

	balance, err := client.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5000), balance)
}

func TestLedgerClient_InsufficientFundsCarriesBalance(t *testing.T) {
	ctx := context.Background()
	client := grpcsvc.NewLedgerClient(newTestServer(t, ledger.New(500)), time.Second, nil)

	_, err := client.Hold(ctx, 501)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	var insufficient *domain.InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	require.Equal(t, int64(500), insufficient.BalanceMinor)
	require.Equal(t, int64(501), insufficient.AmountMinor)
}

func TestLedgerClient_NegativeAmounts(t *testing.T) {
	ctx := context.Background()
	client := grpcsvc.NewLedgerClient(newTestServer(t, ledger.New(100)), time.Second, nil)

	_, err := client.Hold(ctx, -1)
	require.ErrorIs(t, err, domain.ErrAmountNegative)
	require.ErrorIs(t, client.Replenish(ctx, -5), domain.ErrAmountNegative)

	require.NoError(t, client.Replenish(ctx, 50))
	balance, err := client.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(150), balance)
}

func TestLedgerClient_ReplenishOverflow(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(math.MaxInt64)
	client := grpcsvc.NewLedgerClient(newTestServer(t, l), time.Second, nil)

	require.ErrorIs(t, client.Replenish(ctx, 1), domain.ErrAmountOverflow)
	require.Equal(t, int64(math.MaxInt64), l.Snapshot().BalanceMinor)
}

func TestLedgerClient_InvalidRequestIsNotNegativeAmount(t *testing.T) {
	client := grpcsvc.NewLedgerClient(newTestServer(t, ledger.New(100)), time.Second, nil)

	err := client.Confirm(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	require.False(t, errors.Is(err, domain.ErrAmountNegative))
}

func TestLedgerService_EmptyHoldIDRejected(t *testing.T) {
	conn := newTestServer(t, ledger.New(100))

	err := conn.Invoke(context.Background(), "/"+grpcsvc.LedgerServiceName+"/Confirm", wrapperspb.String(""), new(wrapperspb.StringValue))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

type brokenLedger struct {
	domain.PaymentLedger
}

func (brokenLedger) Balance(context.Context) (int64, error) {
	return 0, errors.New("disk on fire")
}

func TestLedgerService_InternalErrorsBecomeUnavailable(t *testing.T) {
	client := grpcsvc.NewLedgerClient(newTestServer(t, brokenLedger{}), time.Second, nil)

	_, err := client.Balance(context.Background())
	require.ErrorIs(t, err, domain.ErrLedgerUnavailable)
}

func TestLedgerClient_ServerDownIsUnavailable(t *testing.T) {
	listener := bufconn.Listen(bufSize)
	_ = listener.Close()

	//nolint:staticcheck // grpc.Dial is required for bufconn testing
	conn, err := grpc.Dial("bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	client := grpcsvc.NewLedgerClient(conn, 200*time.Millisecond, nil)
	_, err = client.Hold(context.Background(), 10)
	require.ErrorIs(t, err, domain.ErrLedgerUnavailable)
}

func TestLedgerClient_ConcurrentHoldsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(1000)
	client := grpcsvc.NewLedgerClient(newTestServer(t, l), 2*time.Second, nil)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		placed int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Hold(ctx, 100); err == nil {
				mu.Lock()
				placed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 10, placed)
	require.Zero(t, l.Snapshot().BalanceMinor)
}
