package memory

import (
	"context"
	"sync"
)

type undoKey struct{}

// undoLog копит обратные операции репозиториев внутри одной единицы работы.
type undoLog struct {
	mu    sync.Mutex
	steps []func()
}

func (u *undoLog) push(step func()) {
	u.mu.Lock()
	u.steps = append(u.steps, step)
	u.mu.Unlock()
}

// rollback выполняет обратные операции в обратном порядке.
func (u *undoLog) rollback() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i := len(u.steps) - 1; i >= 0; i-- {
		u.steps[i]()
	}
	u.steps = nil
}

// recordUndo регистрирует откат, если ctx принадлежит транзакции; иначе ничего не делает.
func recordUndo(ctx context.Context, step func()) {
	if undo, ok := ctx.Value(undoKey{}).(*undoLog); ok {
		undo.push(step)
	}
}

// Transactor реализует domain.Transactor поверх in-memory репозиториев.
// Единицы работы сериализуются; при ошибке fn изменения откатываются по undo-журналу.
type Transactor struct {
	mu sync.Mutex
}

// NewTransactor создаёт in-memory транзактор.
func NewTransactor() *Transactor {
	return &Transactor{}
}

// WithinTx выполняет fn как одну единицу работы.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, nested := ctx.Value(undoKey{}).(*undoLog); nested {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	undo := &undoLog{}
	defer func() {
		if p := recover(); p != nil {
			undo.rollback()
			panic(p)
		}
		if err != nil {
			undo.rollback()
		}
	}()

	return fn(context.WithValue(ctx, undoKey{}, undo))
}
