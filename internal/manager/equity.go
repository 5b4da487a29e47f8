package manager

import (
	"sync"
	"time"
)

const defaultEquityMaxSamples = 4000

// EquitySample is one balance observation.
type EquitySample struct {
	At      time.Time `json:"at"`
	Balance float64   `json:"balance"`
}

// EquityHistory keeps a bounded in-memory balance series, one sample per
// tick. Oldest samples roll off once the cap is hit.
type EquityHistory struct {
	mu      sync.Mutex
	samples []EquitySample
	max     int
}

func NewEquityHistory(max int) *EquityHistory {
	if max <= 0 {
		max = defaultEquityMaxSamples
	}
	return &EquityHistory{max: max}
}

func (h *EquityHistory) Record(at time.Time, balance float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, EquitySample{At: at, Balance: balance})
	if overflow := len(h.samples) - h.max; overflow > 0 {
		h.samples = append(h.samples[:0:0], h.samples[overflow:]...)
	}
}

// Samples returns a copy of the series, oldest first.
func (h *EquityHistory) Samples() []EquitySample {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]EquitySample(nil), h.samples...)
}

func (h *EquityHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.samples)
}
