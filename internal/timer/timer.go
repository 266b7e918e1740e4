// Package timer paces polling loops with a randomized, cancellable delay.
package timer

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

type Options struct {
	// Simple draws the delay from [0, 1.5*base) instead of [base, 1.5*base).
	Simple bool
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// Timer hands out one outstanding wait at a time. Arming a new wait resolves
// the previous one with false.
type Timer struct {
	base   time.Duration
	simple bool
	rand   func() float64

	mu        sync.Mutex
	timer     *time.Timer
	pending   chan bool
	destroyed bool
}

func New(base time.Duration, opts Options) *Timer {
	r := opts.Rand
	if r == nil {
		r = rand.Float64
	}
	return &Timer{
		base:   base,
		simple: opts.Simple,
		rand:   r,
	}
}

// Delay draws the next delay.
func (t *Timer) Delay() time.Duration {
	u := t.rand()
	if t.simple {
		return time.Duration(float64(t.base) * 1.5 * u)
	}
	return t.base + time.Duration(float64(t.base)*0.5*u)
}

// Wait arms the timer. The returned channel yields true when the delay
// elapsed and false when the wait was superseded or the timer destroyed.
func (t *Timer) Wait() <-chan bool {
	ch := make(chan bool, 1)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	if t.destroyed {
		ch <- false
		return ch
	}

	t.pending = ch
	t.timer = time.AfterFunc(t.Delay(), func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.pending == ch {
			t.pending = nil
			t.timer = nil
			ch <- true
		}
	})
	return ch
}

// Sleep waits for the next tick or ctx, whichever is first.
func (t *Timer) Sleep(ctx context.Context) bool {
	ch := t.Wait()
	select {
	case ok := <-ch:
		return ok
	case <-ctx.Done():
		t.mu.Lock()
		if t.pending == ch {
			t.cancelLocked()
		}
		t.mu.Unlock()
		return false
	}
}

// Destroy resolves any outstanding wait and every future one with false.
func (t *Timer) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.destroyed = true
	t.cancelLocked()
}

func (t *Timer) cancelLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.pending != nil {
		t.pending <- false
		t.pending = nil
	}
}
