// Package debounce collapses bursts of triggers into a single action per
// subject after a quiet interval. Rapid schedule edits for one room become
// one refresh; unrelated subjects never delay each other.
package debounce

import (
	"sync"
	"time"
)

// Action runs once per settled window with the last payload seen.
type Action[P any] func(subject string, payload P)

// window is the per-subject coalescing state. At most one exists per
// subject at a time.
type window[P any] struct {
	payload  P
	timer    *time.Timer
	inflight bool
	queued   bool
}

// Debouncer coalesces triggers per subject. Safe for concurrent use.
type Debouncer[P any] struct {
	quiet  time.Duration
	action Action[P]

	mu      sync.Mutex
	windows map[string]*window[P]
	closed  bool
	wg      sync.WaitGroup
}

// New creates a debouncer that invokes action once a subject has been
// quiet for the given interval.
func New[P any](quiet time.Duration, action Action[P]) *Debouncer[P] {
	return &Debouncer[P]{
		quiet:   quiet,
		action:  action,
		windows: make(map[string]*window[P]),
	}
}

// Trigger registers intent to run the action for subject. Repeated calls
// within the quiet interval reset the deadline and replace the payload;
// only the most recent payload survives. A trigger arriving while the
// subject's action is executing opens a fresh window once it returns
// instead of running concurrently.
func (d *Debouncer[P]) Trigger(subject string, payload P) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	w := d.windows[subject]
	if w == nil {
		w = &window[P]{}
		d.windows[subject] = w
	}
	w.payload = payload

	if w.inflight {
		w.queued = true
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(d.quiet, func() { d.fire(subject) })
}

// Pending returns the number of subjects with an open window.
func (d *Debouncer[P]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.windows)
}

// Stop cancels every pending window and waits for in-flight actions to
// return. Queued follow-up windows are dropped; later Triggers are ignored.
func (d *Debouncer[P]) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, w := range d.windows {
		if w.timer != nil {
			w.timer.Stop()
		}
	}
	d.windows = make(map[string]*window[P])
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Debouncer[P]) fire(subject string) {
	d.mu.Lock()
	w := d.windows[subject]
	if w == nil {
		// Stopped (or already fired) between the timer firing and now.
		d.mu.Unlock()
		return
	}
	payload := w.payload
	w.inflight = true
	w.timer = nil
	d.wg.Add(1)
	d.mu.Unlock()

	d.action(subject, payload)

	d.mu.Lock()
	w.inflight = false
	if w.queued && !d.closed {
		// A trigger landed mid-action: open a fresh window with the
		// payload it carried.
		w.queued = false
		w.timer = time.AfterFunc(d.quiet, func() { d.fire(subject) })
	} else {
		delete(d.windows, subject)
	}
	d.mu.Unlock()
	d.wg.Done()
}
