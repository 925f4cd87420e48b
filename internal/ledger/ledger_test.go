package ledger_test

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/market/internal/domain"
	"github.com/vladislavdragonenkov/market/internal/ledger"
	"github.com/vladislavdragonenkov/market/internal/metrics"
)

func TestHoldConfirm(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(5000)

	holdID, err := l.Hold(ctx, 1200)
	require.NoError(t, err)
	require.NotEmpty(t, holdID)

	balance, err := l.Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3800), balance)

	amount, ok := l.HoldAmount(holdID)
	require.True(t, ok)
	require.Equal(t, int64(1200), amount)

	require.NoError(t, l.Confirm(ctx, holdID))

	balance, _ = l.Balance(ctx)
	require.Equal(t, int64(3800), balance, "confirm must not debit again")
	require.Equal(t, ledger.Snapshot{BalanceMinor: 3800}, l.Snapshot())
}

func TestHoldCancel(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(5000)

	holdID, err := l.Hold(ctx, 1000)
	require.NoError(t, err)
	require.NoError(t, l.Cancel(ctx, holdID))

	balance, _ := l.Balance(ctx)
	require.Equal(t, int64(5000), balance)
	require.Zero(t, l.Snapshot().OpenHolds)
}

func TestHoldInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(500)

	_, err := l.Hold(ctx, 501)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	var insufficient *domain.InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	require.Equal(t, int64(500), insufficient.BalanceMinor)
	require.Equal(t, int64(501), insufficient.AmountMinor)

	balance, _ := l.Balance(ctx)
	require.Equal(t, int64(500), balance, "rejected hold must not change the balance")
	require.Zero(t, l.Snapshot().OpenHolds)
}

func TestHoldExactBalanceAndZero(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(700)

	_, err := l.Hold(ctx, 700)
	require.NoError(t, err)

	zeroID, err := l.Hold(ctx, 0)
	require.NoError(t, err, "zero hold is allowed on an empty balance")
	require.NoError(t, l.Confirm(ctx, zeroID))

	balance, _ := l.Balance(ctx)
	require.Zero(t, balance)
}

func TestDoubleConfirmAndCancel(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(5000)

	confirmed, err := l.Hold(ctx, 1000)
	require.NoError(t, err)
	require.NoError(t, l.Confirm(ctx, confirmed))
	require.ErrorIs(t, l.Confirm(ctx, confirmed), domain.ErrHoldNotFound)
	require.ErrorIs(t, l.Cancel(ctx, confirmed), domain.ErrHoldNotFound)

	cancelled, err := l.Hold(ctx, 300)
	require.NoError(t, err)
	require.NoError(t, l.Cancel(ctx, cancelled))
	require.ErrorIs(t, l.Cancel(ctx, cancelled), domain.ErrHoldNotFound)
	require.ErrorIs(t, l.Confirm(ctx, cancelled), domain.ErrHoldNotFound)

	balance, _ := l.Balance(ctx)
	require.Equal(t, int64(4000), balance, "only the first close of each hold counts")

	require.ErrorIs(t, l.Cancel(ctx, "missing"), domain.ErrHoldNotFound)
}

func TestNegativeAmounts(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(100)

	require.ErrorIs(t, l.Replenish(ctx, -1), domain.ErrAmountNegative)
	_, err := l.Hold(ctx, -1)
	require.ErrorIs(t, err, domain.ErrAmountNegative)

	require.NoError(t, l.Replenish(ctx, 0))
	require.NoError(t, l.Replenish(ctx, 50))
	balance, _ := l.Balance(ctx)
	require.Equal(t, int64(150), balance)
}

func TestReplenishOverflowRejected(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(math.MaxInt64 - 10)

	require.ErrorIs(t, l.Replenish(ctx, 11), domain.ErrAmountOverflow)
	balance, _ := l.Balance(ctx)
	require.Equal(t, int64(math.MaxInt64-10), balance, "rejected replenish must not touch balance")

	require.NoError(t, l.Replenish(ctx, 10))
	balance, _ = l.Balance(ctx)
	require.Equal(t, int64(math.MaxInt64), balance)
}

func TestReplenishCannotOverflowOpenHolds(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(math.MaxInt64)

	holdID, err := l.Hold(ctx, 1000)
	require.NoError(t, err)

	// Баланс просел на 1000, но деньги hold ещё принадлежат леджеру.
	require.ErrorIs(t, l.Replenish(ctx, 1000), domain.ErrAmountOverflow)
	require.NoError(t, l.Cancel(ctx, holdID))
	balance, _ := l.Balance(ctx)
	require.Equal(t, int64(math.MaxInt64), balance)

	holdID, err = l.Hold(ctx, 1000)
	require.NoError(t, err)
	require.NoError(t, l.Confirm(ctx, holdID))
	require.NoError(t, l.Replenish(ctx, 1000), "confirmed money leaves the ledger and frees room")
	balance, _ = l.Balance(ctx)
	require.Equal(t, int64(math.MaxInt64), balance)
}

func TestHoldIDCollisionKeepsMoney(t *testing.T) {
	ctx := context.Background()
	ids := []string{"dup", "dup", "fresh"}
	var n atomic.Int32
	l := ledger.New(1000, ledger.WithIDGenerator(func() string {
		return ids[n.Add(1)-1]
	}))

	first, err := l.Hold(ctx, 100)
	require.NoError(t, err)
	require.Equal(t, "dup", first)

	second, err := l.Hold(ctx, 200)
	require.NoError(t, err)
	require.Equal(t, "fresh", second)

	s := l.Snapshot()
	require.Equal(t, int64(700), s.BalanceMinor)
	require.Equal(t, int64(300), s.HeldMinor)
	require.Equal(t, 2, s.OpenHolds)
}

// Инвариант: balance + Σ(open holds) == injected − Σ(confirmed) после любой конкурентной истории.
func TestInvariantUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	const initial = int64(100_000)
	l := ledger.New(initial, ledger.WithMetrics(metrics.NewLedgerMetricsWithRegisterer(prometheus.NewRegistry())))

	var injected, confirmed atomic.Int64
	injected.Store(initial)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < 16; w++ {
		seed := int64(w)
		g.Go(func() error {
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < 500; i++ {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				switch rnd.Intn(4) {
				case 0:
					amount := int64(rnd.Intn(50))
					if err := l.Replenish(ctx, amount); err != nil {
						return err
					}
					injected.Add(amount)
				default:
					amount := int64(rnd.Intn(400))
					holdID, err := l.Hold(ctx, amount)
					if errors.Is(err, domain.ErrInsufficientFunds) {
						continue
					}
					if err != nil {
						return err
					}
					switch rnd.Intn(3) {
					case 0:
						if err := l.Confirm(ctx, holdID); err != nil {
							return err
						}
						confirmed.Add(amount)
					case 1:
						if err := l.Cancel(ctx, holdID); err != nil {
							return err
						}
					default:
						// оставляем hold открытым
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	s := l.Snapshot()
	require.GreaterOrEqual(t, s.BalanceMinor, int64(0))
	require.Equal(t, injected.Load()-confirmed.Load(), s.BalanceMinor+s.HeldMinor)
}

// Гонка одного hold: закрыть его может только один из конкурентов.
func TestConcurrentCloseExactlyOnce(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(1000)

	holdID, err := l.Hold(ctx, 400)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				err = l.Cancel(ctx, holdID)
			} else {
				err = l.Confirm(ctx, holdID)
			}
			if err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	balance, _ := l.Balance(ctx)
	require.Contains(t, []int64{600, 1000}, balance)
}

// Конкурентные hold не уводят баланс в минус и не продают больше, чем было.
func TestConcurrentHoldsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(1000)

	var wg sync.WaitGroup
	var placed atomic.Int32
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Hold(ctx, 100); err == nil {
				placed.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(10), placed.Load())
	s := l.Snapshot()
	require.Zero(t, s.BalanceMinor)
	require.Equal(t, int64(1000), s.HeldMinor)
}
