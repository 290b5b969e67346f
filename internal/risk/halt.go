package risk

import (
	"log/slog"
	"sync/atomic"

	"statarb/internal/infra"
)

// HaltStore persists the kill switch across restarts.
type HaltStore interface {
	SaveHalted(halted bool) error
}

// Halt is the global kill switch. It trips automatically and is cleared
// only by an operator.
type Halt struct {
	halted  atomic.Bool
	store   HaltStore
	metrics *infra.Metrics
	logger  *slog.Logger
}

// NewHalt creates a switch starting in the given state. store may be nil.
func NewHalt(initial bool, store HaltStore, metrics *infra.Metrics) *Halt {
	h := &Halt{store: store, metrics: metrics, logger: slog.Default().With("module", "halt")}
	h.halted.Store(initial)
	metrics.SetHalted(initial)
	return h
}

// Halted reports whether new entries are blocked.
func (h *Halt) Halted() bool {
	return h.halted.Load()
}

// Trip sets the switch. Only the caller that flips it gets true.
func (h *Halt) Trip(reason string) bool {
	if !h.halted.CompareAndSwap(false, true) {
		return false
	}
	h.metrics.SetHalted(true)
	h.logger.Error("GLOBAL_HALT", slog.String("reason", reason))
	h.persist(true)
	return true
}

// Clear resumes trading.
func (h *Halt) Clear() {
	if !h.halted.CompareAndSwap(true, false) {
		return
	}
	h.metrics.SetHalted(false)
	h.logger.Warn("Global halt cleared by operator")
	h.persist(false)
}

func (h *Halt) persist(halted bool) {
	if h.store == nil {
		return
	}
	if err := h.store.SaveHalted(halted); err != nil {
		h.logger.Error("Failed to persist halt flag", slog.Bool("halted", halted), slog.Any("error", err))
	}
}
