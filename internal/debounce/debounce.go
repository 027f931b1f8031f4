// Package debounce coalesces repeated triggers for the same key into a single delayed call.
package debounce

import (
	"sync"
	"time"

	"github.com/psds-microservice/chat-ticket-service/internal/clock"
	"github.com/sirupsen/logrus"
)

// Scheduler is the capability consumers depend on; *Debouncer implements it.
type Scheduler interface {
	Schedule(key string, delay time.Duration, fn func())
}

// Debouncer keeps one cancellable timer per key. Scheduling a key that already has a pending call
// cancels it, so only the last call scheduled within the window runs.
type Debouncer struct {
	clock   clock.Clock
	mu      sync.Mutex
	seq     uint64
	pending map[string]*entry
}

type entry struct {
	seq   uint64
	timer clock.Timer
}

func New(clk clock.Clock) *Debouncer {
	if clk == nil {
		clk = clock.Real()
	}
	return &Debouncer{clock: clk, pending: make(map[string]*entry)}
}

func (d *Debouncer) Schedule(key string, delay time.Duration, fn func()) {
	d.mu.Lock()
	if prev, ok := d.pending[key]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	d.seq++
	e := &entry{seq: d.seq}
	d.pending[key] = e
	d.mu.Unlock()

	// the fake clock fires zero-delay timers synchronously, so the timer is created without holding mu
	timer := d.clock.AfterFunc(delay, func() { d.fire(key, e.seq, fn) })

	d.mu.Lock()
	if cur, ok := d.pending[key]; ok && cur.seq == e.seq {
		cur.timer = timer
	}
	d.mu.Unlock()
}

func (d *Debouncer) fire(key string, seq uint64, fn func()) {
	d.mu.Lock()
	cur, ok := d.pending[key]
	if !ok || cur.seq != seq {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("key", key).Errorf("debounce: callback panic: %v", r)
		}
	}()
	fn()
}

// Pending reports whether key has a scheduled call that has not run yet.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Stop cancels every pending call.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, e := range d.pending {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(d.pending, key)
	}
}
