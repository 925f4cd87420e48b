package grpcsvc

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/vladislavdragonenkov/market/internal/domain"
)

// Контракт леджера описан на well-known типах protobuf, поэтому сгенерированный код не нужен:
// суммы передаются как Int64Value в минорных единицах, идентификатор hold: как StringValue.
const (
	LedgerServiceName = "payments.v1.LedgerService"

	methodGetBalance = "/" + LedgerServiceName + "/GetBalance"
	methodReplenish  = "/" + LedgerServiceName + "/Replenish"
	methodHold       = "/" + LedgerServiceName + "/Hold"
	methodConfirm    = "/" + LedgerServiceName + "/Confirm"
	methodCancel     = "/" + LedgerServiceName + "/Cancel"
)

// LedgerServiceServer: серверная сторона payments.v1.LedgerService.
type LedgerServiceServer interface {
	GetBalance(context.Context, *emptypb.Empty) (*wrapperspb.Int64Value, error)
	Replenish(context.Context, *wrapperspb.Int64Value) (*emptypb.Empty, error)
	Hold(context.Context, *wrapperspb.Int64Value) (*wrapperspb.StringValue, error)
	Confirm(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Cancel(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

// LedgerServiceDesc описывает сервис для grpc.Server.RegisterService.
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: LedgerServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetBalance", Handler: unaryHandler(methodGetBalance, LedgerServiceServer.GetBalance)},
		{MethodName: "Replenish", Handler: unaryHandler(methodReplenish, LedgerServiceServer.Replenish)},
		{MethodName: "Hold", Handler: unaryHandler(methodHold, LedgerServiceServer.Hold)},
		{MethodName: "Confirm", Handler: unaryHandler(methodConfirm, LedgerServiceServer.Confirm)},
		{MethodName: "Cancel", Handler: unaryHandler(methodCancel, LedgerServiceServer.Cancel)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "payments/v1/ledger.proto",
}

// RegisterLedgerServiceServer регистрирует реализацию на сервере.
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

func unaryHandler[Req, Resp any](fullMethod string, call func(LedgerServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// LedgerService реализует gRPC API поверх доменного леджера.
type LedgerService struct {
	ledger domain.PaymentLedger
	logger *log.Entry
}

// NewLedgerService конструирует сервис с зависимостями.
func NewLedgerService(ledger domain.PaymentLedger, logger *log.Entry) *LedgerService {
	if logger == nil {
		logger = log.New().WithField("component", "ledger-grpc")
	}
	return &LedgerService{ledger: ledger, logger: logger}
}

func (s *LedgerService) GetBalance(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	balance, err := s.ledger.Balance(ctx)
	if err != nil {
		return nil, s.toStatus(err, "get balance")
	}
	return wrapperspb.Int64(balance), nil
}

func (s *LedgerService) Replenish(ctx context.Context, req *wrapperspb.Int64Value) (*emptypb.Empty, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "amount is required")
	}
	if err := s.ledger.Replenish(ctx, req.GetValue()); err != nil {
		return nil, s.toStatus(err, "replenish")
	}
	return &emptypb.Empty{}, nil
}

func (s *LedgerService) Hold(ctx context.Context, req *wrapperspb.Int64Value) (*wrapperspb.StringValue, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "amount is required")
	}
	holdID, err := s.ledger.Hold(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus(err, "hold")
	}
	return wrapperspb.String(holdID), nil
}

func (s *LedgerService) Confirm(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "hold id is required")
	}
	if err := s.ledger.Confirm(ctx, req.GetValue()); err != nil {
		return nil, s.toStatus(err, "confirm")
	}
	return &emptypb.Empty{}, nil
}

func (s *LedgerService) Cancel(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "hold id is required")
	}
	if err := s.ledger.Cancel(ctx, req.GetValue()); err != nil {
		return nil, s.toStatus(err, "cancel")
	}
	return &emptypb.Empty{}, nil
}

// toStatus переводит доменные ошибки в коды gRPC. Баланс при отказе передаётся в details.
func (s *LedgerService) toStatus(err error, operation string) error {
	var insufficient *domain.InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		st := status.New(codes.FailedPrecondition, domain.ErrInsufficientFunds.Error())
		if detailed, detailErr := st.WithDetails(wrapperspb.Int64(insufficient.BalanceMinor)); detailErr == nil {
			st = detailed
		}
		return st.Err()
	case errors.Is(err, domain.ErrInsufficientFunds):
		return status.Error(codes.FailedPrecondition, domain.ErrInsufficientFunds.Error())
	case errors.Is(err, domain.ErrHoldNotFound):
		return status.Error(codes.NotFound, domain.ErrHoldNotFound.Error())
	case errors.Is(err, domain.ErrAmountNegative):
		return status.Error(codes.InvalidArgument, domain.ErrAmountNegative.Error())
	case errors.Is(err, domain.ErrAmountOverflow):
		return status.Error(codes.OutOfRange, domain.ErrAmountOverflow.Error())
	case errors.Is(err, domain.ErrLedgerUnavailable):
		return status.Error(codes.Unavailable, domain.ErrLedgerUnavailable.Error())
	default:
		s.logger.WithError(err).WithField("operation", operation).Error("ledger operation failed")
		return status.Error(codes.Internal, "ledger operation failed")
	}
}

var _ LedgerServiceServer = (*LedgerService)(nil)
