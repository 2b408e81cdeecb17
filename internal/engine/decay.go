package engine

import (
	"time"

	"github.com/mpataki/flowwatch/internal/clock"
)

// mark identifies the latest transition applied to a node. A decay only
// fires if the node's mark is still the one that scheduled it, so a timer
// left over from an earlier execution can never idle a newer one.
type mark struct {
	executionID string
	seq         uint64
}

// decayScheduler holds at most one pending decay per node. Callers
// serialize access; timers call back without holding any lock.
type decayScheduler struct {
	clock   clock.Clock
	pending map[string]clock.Timer
}

func newDecayScheduler(c clock.Clock) *decayScheduler {
	return &decayScheduler{
		clock:   c,
		pending: make(map[string]clock.Timer),
	}
}

func (d *decayScheduler) schedule(nodeID string, after time.Duration, fire func()) {
	if prev, ok := d.pending[nodeID]; ok {
		prev.Stop()
	}
	d.pending[nodeID] = d.clock.AfterFunc(after, fire)
}

func (d *decayScheduler) cancelAll() {
	for id, t := range d.pending {
		t.Stop()
		delete(d.pending, id)
	}
}
