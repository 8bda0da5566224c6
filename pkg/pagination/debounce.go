package pagination

import (
	"sync"
	"time"
)

// debouncer keeps the latest trigger of a burst and hands it to fire once
// no new trigger arrived for the window.
type debouncer struct {
	window time.Duration
	fire   func(ActionType)

	mu      sync.Mutex
	timer   *time.Timer
	pending ActionType
	gen     uint64
	stopped bool
}

func newDebouncer(window time.Duration, fire func(ActionType)) *debouncer {
	return &debouncer{
		window: window,
		fire:   fire,
	}
}

// push replaces the pending trigger and restarts the window.
// It returns false once the debouncer is stopped.
func (d *debouncer) push(action ActionType) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}

	if d.timer != nil {
		d.timer.Stop()
	}

	d.gen++
	gen := d.gen
	d.pending = action
	d.timer = time.AfterFunc(d.window, func() {
		d.flush(gen)
	})

	return true
}

// flush dispatches the pending trigger if no newer push superseded it.
func (d *debouncer) flush(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.gen {
		d.mu.Unlock()
		return
	}
	action := d.pending
	d.timer = nil
	d.mu.Unlock()

	d.fire(action)
}

// stop drops the pending trigger and rejects further pushes.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
