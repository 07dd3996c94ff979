// Package policy keeps the recent signal history and turns it into
// buy/hold/stop decisions with position sizing.
package policy

import (
	"sync"
	"time"

	"github.com/wherexml/alpha-trade/internal/signal"
)

const (
	// DefaultMaxRecords caps the retained signal history.
	DefaultMaxRecords = 20
	// DefaultFallingWaitCount is how many signals must accumulate after a
	// falling one before buying is re-armed.
	DefaultFallingWaitCount = 10

	patternLen = 3
)

// Action is the policy verdict for the current history.
type Action string

const (
	ActionNone Action = "none"
	ActionBuy  Action = "buy"
	ActionStop Action = "stop"
)

// Decision pairs the verdict with the buy sizing ratio (1.0 or 0.5; zero for
// non-buy verdicts).
type Decision struct {
	Action    Action
	SizeRatio float64
}

// History is the append-only ring of recent signals plus the falling-signal
// cooldown state. The trading loop controller is its only writer.
type History struct {
	mu        sync.Mutex
	cap       int
	waitCount int

	records []signal.Record
	// total counts every recorded signal, surviving ring eviction so the
	// cooldown arithmetic is stable.
	total        int
	fallingSeen  bool
	fallingTotal int // value of total when the last falling signal landed
}

// NewHistory builds an empty history; non-positive arguments fall back to
// the defaults.
func NewHistory(capacity, waitCount int) *History {
	if capacity <= 0 {
		capacity = DefaultMaxRecords
	}
	if waitCount <= 0 {
		waitCount = DefaultFallingWaitCount
	}
	return &History{cap: capacity, waitCount: waitCount}
}

// Record appends one signal, evicting the oldest when over capacity, and
// updates the cooldown bookkeeping.
func (h *History) Record(label signal.Label, price float64, ts time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, signal.Record{Ts: ts, Label: label, Price: price})
	if len(h.records) > h.cap {
		h.records = h.records[len(h.records)-h.cap:]
	}
	h.total++
	if label == signal.LabelFalling {
		h.fallingSeen = true
		h.fallingTotal = h.total
	}
}

// RecentLabels returns up to n labels, oldest first.
func (h *History) RecentLabels(n int) []signal.Label {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > len(h.records) {
		n = len(h.records)
	}
	out := make([]signal.Label, 0, n)
	for _, r := range h.records[len(h.records)-n:] {
		out = append(out, r.Label)
	}
	return out
}

// Len reports the retained record count.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

// CanStartBuying reports whether the falling-signal cooldown has elapsed.
// It re-arms exactly when waitCount signals have accumulated after the most
// recent falling one.
func (h *History) CanStartBuying() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.canStartBuyingLocked()
}

func (h *History) canStartBuyingLocked() bool {
	if !h.fallingSeen {
		return true
	}
	return h.total-h.fallingTotal >= h.waitCount
}

// PctChange returns the relative price change between the oldest and newest
// retained records; zero with fewer than two records.
func (h *History) PctChange() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.records) < 2 {
		return 0
	}
	first := h.records[0].Price
	last := h.records[len(h.records)-1].Price
	if first == 0 {
		return 0
	}
	return (last - first) / first
}

// Evaluate applies the pattern rules to the three most recent labels.
// A falling label anywhere in the pattern wins and reads stop; buy verdicts
// are suppressed to none while the cooldown holds.
func (h *History) Evaluate() Decision {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.records) < patternLen {
		return Decision{Action: ActionNone}
	}
	recent := h.records[len(h.records)-patternLen:]
	a, b, c := recent[0].Label, recent[1].Label, recent[2].Label

	if a == signal.LabelFalling || b == signal.LabelFalling || c == signal.LabelFalling {
		return Decision{Action: ActionStop}
	}

	var buy Decision
	switch {
	case (a == signal.LabelFlat || a == signal.LabelRising) && b == signal.LabelRising && c == signal.LabelRising:
		buy = Decision{Action: ActionBuy, SizeRatio: 1.0}
	case a == signal.LabelFlat && b == signal.LabelFlat && (c == signal.LabelFlat || c == signal.LabelRising):
		buy = Decision{Action: ActionBuy, SizeRatio: 0.5}
	default:
		return Decision{Action: ActionNone}
	}

	if !h.canStartBuyingLocked() {
		return Decision{Action: ActionNone}
	}
	return buy
}
