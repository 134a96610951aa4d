package recon

import (
	"fmt"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// HealthTracker keeps per-panel consecutive failure counters. Process-local
// and rebuildable: losing it on restart only delays a circuit trip by a few
// cycles, the durable panel status stays authoritative.
type HealthTracker struct {
	counters  *cache.Cache
	threshold int
}

func NewHealthTracker(threshold int) *HealthTracker {
	if threshold <= 0 {
		threshold = 5
	}
	return &HealthTracker{
		counters:  cache.New(24*time.Hour, time.Hour),
		threshold: threshold,
	}
}

func panelKey(panelID uint) string {
	return fmt.Sprintf("panel:%d", panelID)
}

// Failure increments the panel's consecutive failure counter and returns
// the new count.
func (h *HealthTracker) Failure(panelID uint) int {
	key := panelKey(panelID)
	_ = h.counters.Add(key, 0, cache.DefaultExpiration)
	n, err := h.counters.IncrementInt(key, 1)
	if err != nil {
		h.counters.Set(key, 1, cache.DefaultExpiration)
		return 1
	}
	return n
}

// Success resets the panel's counter. One success closes the circuit.
func (h *HealthTracker) Success(panelID uint) {
	h.counters.Delete(panelKey(panelID))
}

// Tripped reports whether the panel has accumulated failures beyond the
// threshold.
func (h *HealthTracker) Tripped(panelID uint) bool {
	v, ok := h.counters.Get(panelKey(panelID))
	if !ok {
		return false
	}
	n, ok := v.(int)
	return ok && n >= h.threshold
}

// Threshold returns the configured trip threshold.
func (h *HealthTracker) Threshold() int {
	return h.threshold
}
