package integration

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vladislavdragonenkov/market/internal/client/payments"
	"github.com/vladislavdragonenkov/market/internal/domain"
	"github.com/vladislavdragonenkov/market/internal/ledger"
	grpcsvc "github.com/vladislavdragonenkov/market/internal/service/grpc"
	"github.com/vladislavdragonenkov/market/internal/service/cart"
	"github.com/vladislavdragonenkov/market/internal/service/reconcile"
	"github.com/vladislavdragonenkov/market/internal/service/saga"
	"github.com/vladislavdragonenkov/market/internal/storage/memory"
)

// CheckoutLifecycleTestSuite гоняет корзину и сагу против леджера за gRPC.
type CheckoutLifecycleTestSuite struct {
	suite.Suite

	payments *ledger.Ledger
	server   *grpc.Server
	conn     *grpc.ClientConn

	cartRepo domain.CartRepository
	orders   domain.OrderRepository
	journal  domain.SagaJournal
	mutator  *cart.Mutator
	saga     saga.Orchestrator
}

func (s *CheckoutLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	s.payments = ledger.New(10000)
	listener := bufconn.Listen(1 << 20)
	s.server = grpc.NewServer()
	grpcsvc.RegisterLedgerServiceServer(s.server, grpcsvc.NewLedgerService(s.payments, logger))
	go func() { _ = s.server.Serve(listener) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	s.Require().NoError(err)
	s.conn = conn

	remote := payments.NewBreakerLedger(
		grpcsvc.NewLedgerClient(conn, time.Second, logger),
		payments.NewCircuitBreaker(3, time.Minute, logger, nil),
	)

	catalog := memory.NewCatalog(
		domain.Item{ID: 1, Title: "Чайник", PriceMinor: 2500},
		domain.Item{ID: 2, Title: "Кружка", PriceMinor: 400},
	)
	s.cartRepo = memory.NewCartRepository()
	s.orders = memory.NewOrderRepository()
	s.journal = memory.NewSagaJournal()

	retry := cart.DefaultRetryConfig()
	retry.MaxAttempts = 100
	retry.InitialDelay = time.Millisecond
	retry.MaxDelay = 5 * time.Millisecond
	s.mutator = cart.NewMutator(s.cartRepo, catalog, logger, cart.WithRetryConfig(retry))
	s.saga = saga.NewOrchestrator(s.cartRepo, catalog, s.orders, memory.NewTransactor(), remote, logger,
		saga.WithJournal(s.journal))
}

func (s *CheckoutLifecycleTestSuite) TearDownTest() {
	_ = s.conn.Close()
	s.server.Stop()
}

func (s *CheckoutLifecycleTestSuite) fillCart(itemID int64, qty int) {
	for i := 0; i < qty; i++ {
		_, err := s.mutator.Increment(context.Background(), itemID)
		s.Require().NoError(err)
	}
}

func (s *CheckoutLifecycleTestSuite) TestSuccessfulCheckout() {
	ctx := context.Background()
	s.fillCart(1, 2)
	s.fillCart(2, 3)

	orderID, err := s.saga.CreateOrder(ctx)
	s.Require().NoError(err)

	order, err := s.orders.Get(ctx, orderID)
	s.Require().NoError(err)
	s.Require().Equal(int64(2*2500+3*400), order.AmountMinor)
	s.Require().Len(order.Lines, 2)

	count, err := s.cartRepo.Count(ctx)
	s.Require().NoError(err)
	s.Require().Zero(count)

	snap := s.payments.Snapshot()
	s.Require().Equal(int64(10000-6200), snap.BalanceMinor)
	s.Require().Zero(snap.OpenHolds)

	// Завершённая сага не считается зависшей.
	stale, err := s.journal.Stale(ctx, time.Now().Add(time.Hour), 0)
	s.Require().NoError(err)
	s.Require().Empty(stale)
}

func (s *CheckoutLifecycleTestSuite) TestInsufficientFundsKeepsCart() {
	ctx := context.Background()
	s.fillCart(1, 5)

	_, err := s.saga.CreateOrder(ctx)
	s.Require().ErrorIs(err, domain.ErrInsufficientFunds)

	lines, err := s.mutator.Lines(ctx)
	s.Require().NoError(err)
	s.Require().Len(lines, 1)
	s.Require().Equal(int32(5), lines[0].Qty)

	total, err := s.orders.Count(ctx)
	s.Require().NoError(err)
	s.Require().Zero(total)

	snap := s.payments.Snapshot()
	s.Require().Equal(int64(10000), snap.BalanceMinor)
	s.Require().Zero(snap.OpenHolds)
}

func (s *CheckoutLifecycleTestSuite) TestPaymentsDownFailsWithoutSideEffects() {
	ctx := context.Background()
	s.fillCart(2, 1)
	s.server.Stop()

	_, err := s.saga.CreateOrder(ctx)
	s.Require().ErrorIs(err, domain.ErrLedgerUnavailable)

	count, err := s.cartRepo.Count(ctx)
	s.Require().NoError(err)
	s.Require().Equal(1, count)

	total, err := s.orders.Count(ctx)
	s.Require().NoError(err)
	s.Require().Zero(total)
}

func (s *CheckoutLifecycleTestSuite) TestConcurrentIncrementsConverge() {
	ctx := context.Background()
	const workers, perWorker = 8, 10

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := s.mutator.Increment(ctx, 2)
				require.NoError(s.T(), err)
			}
		}()
	}
	wg.Wait()

	lines, err := s.mutator.Lines(ctx)
	s.Require().NoError(err)
	s.Require().Len(lines, 1)
	s.Require().Equal(int32(workers*perWorker), lines[0].Qty)
}

func (s *CheckoutLifecycleTestSuite) TestOrphanMonitorSeesNothingAfterCleanRuns() {
	ctx := context.Background()
	s.fillCart(2, 1)
	_, err := s.saga.CreateOrder(ctx)
	s.Require().NoError(err)

	monitor := reconcile.NewOrphanMonitor(s.journal,
		reconcile.WithAge(time.Nanosecond),
		reconcile.WithClock(func() time.Time { return time.Now().Add(time.Hour) }),
	)
	orphans, err := monitor.Scan(ctx)
	s.Require().NoError(err)
	s.Require().Empty(orphans)
}

func TestCheckoutLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(CheckoutLifecycleTestSuite))
}
