package cart

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/market/internal/domain"
)

// RetryConfig конфигурация повторов при конфликте версий.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию: три попытки, 10ms, удвоение.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      200 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = def.BackoffFactor
	}
	return c
}

// withRetry повторяет fn только на ErrCartVersionConflict; остальные ошибки возвращаются сразу.
// После последней попытки наружу уходит сам конфликт.
func (m *Mutator) withRetry(ctx context.Context, op string, itemID int64, fn func(ctx context.Context) error) error {
	delay := m.retry.InitialDelay

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if m.metrics != nil {
				m.metrics.RecordMutation(op)
			}
			if attempt > 1 {
				m.logger.WithFields(log.Fields{
					"operation": op,
					"item_id":   itemID,
					"attempt":   attempt,
				}).Debug("cart mutation succeeded after retry")
			}
			return nil
		}
		if !domain.IsVersionConflict(err) {
			return err
		}

		if m.metrics != nil {
			m.metrics.RecordConflict(op)
		}
		if attempt >= m.retry.MaxAttempts {
			if m.metrics != nil {
				m.metrics.RecordRetriesExhausted(op)
			}
			m.logger.WithFields(log.Fields{
				"operation":    op,
				"item_id":      itemID,
				"max_attempts": m.retry.MaxAttempts,
			}).Error("cart mutation failed after all retry attempts")
			return err
		}

		m.logger.WithFields(log.Fields{
			"operation": op,
			"item_id":   itemID,
			"attempt":   attempt,
			"delay":     delay,
		}).Warn("version conflict detected, retrying")

		if err := sleep(ctx, delay); err != nil {
			return err
		}

		// Экспоненциальная задержка с ограничением
		delay = time.Duration(float64(delay) * m.retry.BackoffFactor)
		if delay > m.retry.MaxDelay {
			delay = m.retry.MaxDelay
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
