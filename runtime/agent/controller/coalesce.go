package controller

import (
	"sync"
	"time"
)

// debounced is a single-timer coalescing state machine: idle until
// scheduled, pending while a flush is outstanding, and back to idle after
// the flush fires or the owner cancels it. At most one timer is in flight
// at any moment.
//
// All methods must be called with the owner's mutex held; the fire
// callback re-acquires that mutex before touching owner state. A
// generation counter invalidates callbacks that were already queued when
// the owner cancelled, so a terminal run transition can never be followed
// by a stale flush.
type debounced struct {
	interval time.Duration
	timer    *time.Timer
	gen      uint64
}

// schedule arms the timer unless a flush is already pending.
func (d *debounced) schedule(mu *sync.Mutex, fire func()) {
	if d.timer != nil {
		return
	}
	gen := d.gen
	d.timer = time.AfterFunc(d.interval, func() {
		mu.Lock()
		defer mu.Unlock()
		if d.gen != gen {
			return
		}
		d.timer = nil
		fire()
	})
}

// cancel disarms any pending flush and invalidates callbacks that may
// already be waiting on the owner's mutex.
func (d *debounced) cancel() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

// pending reports whether a flush is armed.
func (d *debounced) pending() bool { return d.timer != nil }
