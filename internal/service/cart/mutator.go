// Package cart изменяет строки корзины с optimistic locking и ограниченным числом повторов.
package cart

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/market/internal/domain"
	"github.com/vladislavdragonenkov/market/internal/metrics"
)

const (
	opIncrement = "increment"
	opDecrement = "decrement"
	opDelete    = "delete"
)

// Mutator выполняет increment/decrement/delete над корзиной.
// Каждая операция: read-modify-write с проверкой версии; при конфликте строка перечитывается.
type Mutator struct {
	cart    domain.CartRepository
	catalog domain.Catalog
	retry   RetryConfig
	logger  *log.Entry
	metrics *metrics.CartMetrics
}

// Option настраивает Mutator.
type Option func(*Mutator)

func WithRetryConfig(cfg RetryConfig) Option {
	return func(m *Mutator) { m.retry = cfg.normalized() }
}

func WithMetrics(cm *metrics.CartMetrics) Option {
	return func(m *Mutator) { m.metrics = cm }
}

// NewMutator создаёт мутатор корзины.
func NewMutator(cart domain.CartRepository, catalog domain.Catalog, logger *log.Entry, opts ...Option) *Mutator {
	if logger == nil {
		logger = log.New().WithField("component", "cart")
	}
	m := &Mutator{
		cart:    cart,
		catalog: catalog,
		retry:   DefaultRetryConfig(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Increment увеличивает количество на 1; отсутствующая строка создаётся, если товар есть в каталоге.
func (m *Mutator) Increment(ctx context.Context, itemID int64) (domain.CartLine, error) {
	var result domain.CartLine
	err := m.withRetry(ctx, opIncrement, itemID, func(ctx context.Context) error {
		line, err := m.cart.Find(ctx, itemID)
		switch {
		case errors.Is(err, domain.ErrCartItemNotFound):
			if _, err := m.catalog.FindByID(ctx, itemID); err != nil {
				return err
			}
			line = domain.CartLine{ItemID: itemID}
		case err != nil:
			return fmt.Errorf("load cart line: %w", err)
		}

		line.Qty++
		saved, err := m.cart.Save(ctx, line)
		if err != nil {
			return err
		}
		result = saved
		return nil
	})
	return result, err
}

// Decrement уменьшает количество на 1; строка с количеством 1 удаляется.
func (m *Mutator) Decrement(ctx context.Context, itemID int64) error {
	return m.withRetry(ctx, opDecrement, itemID, func(ctx context.Context) error {
		line, err := m.cart.Find(ctx, itemID)
		if err != nil {
			return err
		}
		if line.Qty <= 1 {
			return m.cart.Delete(ctx, itemID, line.Version)
		}
		line.Qty--
		_, err = m.cart.Save(ctx, line)
		return err
	})
}

// Delete удаляет строку товара из корзины.
func (m *Mutator) Delete(ctx context.Context, itemID int64) error {
	return m.withRetry(ctx, opDelete, itemID, func(ctx context.Context) error {
		line, err := m.cart.Find(ctx, itemID)
		if err != nil {
			return err
		}
		return m.cart.Delete(ctx, itemID, line.Version)
	})
}

// Lines возвращает снимок корзины только для чтения.
func (m *Mutator) Lines(ctx context.Context) ([]domain.CartLine, error) {
	return m.cart.FindAll(ctx)
}
