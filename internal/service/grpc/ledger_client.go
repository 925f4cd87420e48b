package grpcsvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vladislavdragonenkov/market/internal/domain"
)

// DefaultCallTimeout: таймаут ответа на один вызов леджера.
const DefaultCallTimeout = 3 * time.Second

// DialLedger открывает соединение с payments по gRPC. Метрики клиента пишутся в глобальный реестр promgrpc.
func DialLedger(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(promgrpc.UnaryClientInterceptor),
	}
	return grpc.NewClient(addr, append(base, opts...)...)
}

// LedgerClient реализует domain.PaymentLedger поверх payments.v1.LedgerService.
type LedgerClient struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	logger  *log.Entry
}

// NewLedgerClient создаёт клиента; timeout <= 0 заменяется на DefaultCallTimeout.
func NewLedgerClient(conn grpc.ClientConnInterface, timeout time.Duration, logger *log.Entry) *LedgerClient {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = log.New().WithField("component", "ledger-grpc-client")
	}
	return &LedgerClient{conn: conn, timeout: timeout, logger: logger}
}

func (c *LedgerClient) Balance(ctx context.Context) (int64, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.invoke(ctx, methodGetBalance, &emptypb.Empty{}, out); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

func (c *LedgerClient) Replenish(ctx context.Context, amountMinor int64) error {
	return c.invoke(ctx, methodReplenish, wrapperspb.Int64(amountMinor), new(emptypb.Empty))
}

func (c *LedgerClient) Hold(ctx context.Context, amountMinor int64) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.invoke(ctx, methodHold, wrapperspb.Int64(amountMinor), out); err != nil {
		var insufficient *domain.InsufficientFundsError
		if errors.As(err, &insufficient) {
			insufficient.AmountMinor = amountMinor
		}
		return "", err
	}
	return out.GetValue(), nil
}

func (c *LedgerClient) Confirm(ctx context.Context, holdID string) error {
	return c.invoke(ctx, methodConfirm, wrapperspb.String(holdID), new(emptypb.Empty))
}

func (c *LedgerClient) Cancel(ctx context.Context, holdID string) error {
	return c.invoke(ctx, methodCancel, wrapperspb.String(holdID), new(emptypb.Empty))
}

func (c *LedgerClient) invoke(ctx context.Context, method string, in, out proto.Message) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		mapped := fromStatus(err)
		c.logger.WithError(err).WithField("method", method).Debug("ledger call failed")
		return mapped
	}
	return nil
}

// fromStatus переводит статус gRPC в доменные ошибки.
// Всё, что не является бизнес-отказом, считается недоступностью леджера.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	switch st.Code() {
	case codes.FailedPrecondition:
		insufficient := &domain.InsufficientFundsError{}
		for _, detail := range st.Details() {
			if balance, ok := detail.(*wrapperspb.Int64Value); ok {
				insufficient.BalanceMinor = balance.GetValue()
			}
		}
		return insufficient
	case codes.NotFound:
		return domain.ErrHoldNotFound
	case codes.InvalidArgument:
		if st.Message() == domain.ErrAmountNegative.Error() {
			return domain.ErrAmountNegative
		}
		return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, st.Message())
	case codes.OutOfRange:
		return domain.ErrAmountOverflow
	default:
		return fmt.Errorf("%w: %s: %s", domain.ErrLedgerUnavailable, st.Code(), st.Message())
	}
}

var _ domain.PaymentLedger = (*LedgerClient)(nil)
