package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/market/internal/domain"
)

// cartRepositoryInMemory хранит строки корзины с версиями для optimistic locking.
type cartRepositoryInMemory struct {
	mu    sync.RWMutex
	lines map[int64]domain.CartLine
}

// NewCartRepository возвращает in-memory корзину.
func NewCartRepository() domain.CartRepository {
	return &cartRepositoryInMemory{lines: make(map[int64]domain.CartLine)}
}

func (r *cartRepositoryInMemory) Find(_ context.Context, itemID int64) (domain.CartLine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	line, ok := r.lines[itemID]
	if !ok {
		return domain.CartLine{}, domain.ErrCartItemNotFound
	}
	return line, nil
}

// FindAll возвращает строки, упорядоченные по ItemID.
func (r *cartRepositoryInMemory) FindAll(context.Context) ([]domain.CartLine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.CartLine, 0, len(r.lines))
	for _, line := range r.lines {
		result = append(result, line)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ItemID < result[j].ItemID })
	return result, nil
}

// Save вставляет новую строку (Version == 0) или обновляет существующую при совпадении версии.
func (r *cartRepositoryInMemory) Save(ctx context.Context, line domain.CartLine) (domain.CartLine, error) {
	if line.Qty <= 0 {
		return domain.CartLine{}, domain.ErrLineQtyInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.lines[line.ItemID]
	switch {
	case line.Version == 0 && exists:
		return domain.CartLine{}, domain.ErrCartVersionConflict
	case line.Version != 0 && (!exists || current.Version != line.Version):
		return domain.CartLine{}, domain.ErrCartVersionConflict
	}

	line.Version++
	r.lines[line.ItemID] = line

	recordUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if exists {
			r.lines[current.ItemID] = current
		} else {
			delete(r.lines, line.ItemID)
		}
	})
	return line, nil
}

func (r *cartRepositoryInMemory) Delete(ctx context.Context, itemID int64, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.lines[itemID]
	if !ok {
		return domain.ErrCartItemNotFound
	}
	if current.Version != version {
		return domain.ErrCartVersionConflict
	}
	delete(r.lines, itemID)

	recordUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.lines[current.ItemID] = current
	})
	return nil
}

func (r *cartRepositoryInMemory) Count(context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lines), nil
}

var _ domain.CartRepository = (*cartRepositoryInMemory)(nil)
