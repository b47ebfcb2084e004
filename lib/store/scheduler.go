package store

import (
	"sync"
	"time"
)

// debouncer runs fn once delay has passed since the last Trigger.
// Every Trigger restarts the delay, so a burst of triggers results in one run.
// Runs never overlap.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu      sync.Mutex // guards timer and stopped
	timer   *time.Timer
	stopped bool

	run sync.Mutex // held while fn runs
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

// Trigger (re)starts the delay.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, func() { d.fire(false) })
		return
	}
	d.timer.Reset(d.delay)
}

// Flush cancels a pending delay and runs fn right away.
func (d *debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()

	d.fire(true)
}

// Stop cancels a pending delay and waits for a running fn to return.
// Later triggers are ignored.
func (d *debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()

	d.run.Lock()
	defer d.run.Unlock()
}

func (d *debouncer) fire(force bool) {
	d.run.Lock()
	defer d.run.Unlock()

	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped && !force {
		return
	}
	d.fn()
}
