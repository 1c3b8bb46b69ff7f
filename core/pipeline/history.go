package pipeline

import (
	"sync"

	schemamod "github.com/katbot/modgate/core/schema/v1/modification"
)

// HistoryStore keeps finished reports per modification. Implementations
// bound retention themselves; the gate's contract is "most recent N, oldest
// evicted first".
type HistoryStore interface {
	Append(report schemamod.ValidationReport) error
	ListByModification(modificationID string) ([]schemamod.ValidationReport, error)
}

// MemoryHistory is the default bounded in-process store.
type MemoryHistory struct {
	mu      sync.RWMutex
	limit   int
	reports map[string][]schemamod.ValidationReport
}

func NewMemoryHistory(limit int) *MemoryHistory {
	if limit <= 0 {
		limit = 100
	}
	return &MemoryHistory{
		limit:   limit,
		reports: map[string][]schemamod.ValidationReport{},
	}
}

func (h *MemoryHistory) Append(report schemamod.ValidationReport) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append(h.reports[report.ModificationID], report)
	if len(list) > h.limit {
		list = list[len(list)-h.limit:]
	}
	h.reports[report.ModificationID] = list
	return nil
}

func (h *MemoryHistory) ListByModification(modificationID string) ([]schemamod.ValidationReport, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := h.reports[modificationID]
	out := make([]schemamod.ValidationReport, len(list))
	copy(out, list)
	return out, nil
}
