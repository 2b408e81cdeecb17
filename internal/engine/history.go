package engine

import "github.com/mpataki/flowwatch/internal/models"

// history keeps the most recent execution records, newest first, evicting
// the oldest once limit is reached.
type history struct {
	limit   int
	records []*models.ExecutionRecord
}

func newHistory(limit int) *history {
	return &history{limit: limit}
}

func (h *history) push(rec *models.ExecutionRecord) {
	h.records = append(h.records, nil)
	copy(h.records[1:], h.records)
	h.records[0] = rec
	if len(h.records) > h.limit {
		h.records[h.limit] = nil
		h.records = h.records[:h.limit]
	}
}

func (h *history) find(id string) *models.ExecutionRecord {
	for _, r := range h.records {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (h *history) update(id string, patch models.ExecutionPatch) bool {
	r := h.find(id)
	if r == nil {
		return false
	}
	patch.Apply(r)
	return true
}

func (h *history) list() []models.ExecutionRecord {
	out := make([]models.ExecutionRecord, len(h.records))
	for i, r := range h.records {
		out[i] = r.Clone()
	}
	return out
}

func (h *history) reset() {
	h.records = nil
}
