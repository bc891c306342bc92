package checkout

import (
	"sync"
	"time"
)

// Poller schedules a single pending tick at a time. Scheduling replaces any
// previous pending tick, so two poll cycles can never overlap for the same
// process; Stop cancels the pending tick atomically.
type Poller struct {
	mu       sync.Mutex
	interval time.Duration
	timer    *time.Timer
	seq      int
}

// NewPoller constructs a poller with the given tick interval.
func NewPoller(interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{interval: interval}
}

// Schedule arranges fn to run once after the interval, cancelling any
// previously pending tick. A tick that fires after a later Schedule or Stop
// call is discarded.
func (p *Poller) Schedule(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.seq++
	seq := p.seq
	p.timer = time.AfterFunc(p.interval, func() {
		p.mu.Lock()
		stale := seq != p.seq
		p.mu.Unlock()
		if stale {
			return
		}
		fn()
	})
}

// Stop cancels the pending tick, if any.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.seq++
}
