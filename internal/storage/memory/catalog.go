package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/market/internal/domain"
)

// Catalog: in-memory каталог товаров. Наполняется через Put (сидинг, тесты).
type Catalog struct {
	mu    sync.RWMutex
	items map[int64]domain.Item
}

// NewCatalog создаёт каталог с начальным набором товаров.
func NewCatalog(items ...domain.Item) *Catalog {
	c := &Catalog{items: make(map[int64]domain.Item, len(items))}
	for _, item := range items {
		c.items[item.ID] = item
	}
	return c
}

// Put добавляет или заменяет товар.
func (c *Catalog) Put(item domain.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.ID] = item
}

func (c *Catalog) FindByID(_ context.Context, id int64) (domain.Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[id]
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}
	return item, nil
}

func (c *Catalog) FindByIDs(_ context.Context, ids []int64) ([]domain.Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]domain.Item, 0, len(ids))
	for _, id := range ids {
		if item, ok := c.items[id]; ok {
			result = append(result, item)
		}
	}
	return result, nil
}

func (c *Catalog) FindAll(context.Context) ([]domain.Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]domain.Item, 0, len(c.items))
	for _, item := range c.items {
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

var _ domain.Catalog = (*Catalog)(nil)
