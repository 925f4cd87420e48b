package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/market/internal/domain"
)

// sagaJournalInMemory хранит переходы саги в памяти (для разработки/тестов).
type sagaJournalInMemory struct {
	mu      sync.RWMutex
	records map[string][]domain.SagaRecord
}

// NewSagaJournal создаёт in-memory реализацию SagaJournal.
func NewSagaJournal() domain.SagaJournal {
	return &sagaJournalInMemory{records: make(map[string][]domain.SagaRecord)}
}

// Append добавляет запись. Журнал не участвует в транзакциях: отказ заказа не стирает историю.
func (r *sagaJournalInMemory) Append(_ context.Context, record domain.SagaRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.Occurred.IsZero() {
		record.Occurred = time.Now().UTC()
	}
	run := append(r.records[record.RunID], record)
	sort.SliceStable(run, func(i, j int) bool {
		return run[i].Occurred.Before(run[j].Occurred)
	})
	r.records[record.RunID] = run
	return nil
}

// List возвращает записи прогона в хронологическом порядке.
func (r *sagaJournalInMemory) List(_ context.Context, runID string) ([]domain.SagaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := r.records[runID]
	result := make([]domain.SagaRecord, len(records))
	copy(result, records)
	return result, nil
}

// Stale возвращает последнее состояние застрявших прогонов, от старых к новым.
func (r *sagaJournalInMemory) Stale(_ context.Context, olderThan time.Time, limit int) ([]domain.SagaRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.SagaRecord
	for _, records := range r.records {
		if len(records) == 0 {
			continue
		}
		last := records[len(records)-1]
		if last.State.IsTerminal() || last.State == domain.SagaStateStart {
			continue
		}
		if !last.Occurred.Before(olderThan) {
			continue
		}
		result = append(result, last)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Occurred.Before(result[j].Occurred)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ domain.SagaJournal = (*sagaJournalInMemory)(nil)
