package reconcile

import (
	"encoding/json"
	"net/http"
	"time"
)

type orphanView struct {
	RunID       string    `json:"runId"`
	State       string    `json:"state"`
	HoldID      string    `json:"holdId,omitempty"`
	OrderID     string    `json:"orderId,omitempty"`
	AmountMinor int64     `json:"amountMinor"`
	Reason      string    `json:"reason,omitempty"`
	Since       time.Time `json:"since"`
	Anomaly     bool      `json:"anomaly"`
}

// Handler отдаёт результат последнего прохода монитора в JSON.
// Журнал при запросе не читается, поэтому эндпоинт не нагружает хранилище.
func (m *OrphanMonitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		records := m.Last()
		views := make([]orphanView, 0, len(records))
		for _, record := range records {
			views = append(views, orphanView{
				RunID:       record.RunID,
				State:       string(record.State),
				HoldID:      record.HoldID,
				OrderID:     record.OrderID,
				AmountMinor: record.AmountMinor,
				Reason:      record.Reason,
				Since:       record.Occurred.UTC(),
				Anomaly:     record.State.IsAnomaly(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(views)
	})
}
