package jobs

import (
	"sync"

	"github.com/marketplace/delivery-service/internal/domain/model"
)

// History keeps the most recent job reports, newest last.
type History struct {
	mu      sync.RWMutex
	size    int
	reports []model.JobReport
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = 20
	}
	return &History{size: size}
}

func (h *History) Record(r model.JobReport) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.reports = append(h.reports, r)
	if over := len(h.reports) - h.size; over > 0 {
		h.reports = append(h.reports[:0:0], h.reports[over:]...)
	}
}

// Recent returns a copy of the stored reports.
func (h *History) Recent() []model.JobReport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]model.JobReport(nil), h.reports...)
}

// Last returns the newest report, if any.
func (h *History) Last() (model.JobReport, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.reports) == 0 {
		return model.JobReport{}, false
	}
	return h.reports[len(h.reports)-1], true
}
