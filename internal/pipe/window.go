// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pipe implements the channel engine's pipe subsystem (spec.md
// §4.7): windowed, backpressured, one-directional byte pipes between
// peers, with EOF and error (dead) propagation.
package pipe

import (
	"context"
	"sync"
)

// DefaultWindowMax is the recommended initial/maximum credit window size
// per spec.md §3 ("initial credit window... max ~128 KiB recommended").
const DefaultWindowMax = 128 * 1024

// Window is per-outbound-pipe flow-control state: a credit counter and a
// dead-with-cause flag (spec.md §3). The writer may send at most credit
// bytes before it must block; Acks refill credit.
type Window struct {
	mu    sync.Mutex
	cond  *sync.Cond
	credit int64
	max    int64
	dead   bool
	cause  error
}

// NewWindow returns a Window with max bytes of initial credit.
func NewWindow(max int64) *Window {
	if max <= 0 {
		max = DefaultWindowMax
	}
	w := &Window{credit: max, max: max}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Max returns the window's configured maximum.
func (w *Window) Max() int64 { return w.max }

// Acquire blocks until at least n bytes of credit are available (or the
// window is dead, or ctx is done), then deducts n from the credit counter.
func (w *Window) Acquire(ctx context.Context, n int64) error {
	if n <= 0 {
		return nil
	}
	done := make(chan struct{})
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				w.cond.Broadcast()
			case <-done:
			}
		}()
		defer close(done)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.credit < n && !w.dead {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		w.cond.Wait()
	}
	if w.dead {
		return w.cause
	}
	w.credit -= n
	return nil
}

// Refill adds n bytes of credit, as when a Pipe.Ack arrives, and wakes any
// blocked writer.
func (w *Window) Refill(n int64) {
	w.mu.Lock()
	w.credit += n
	w.mu.Unlock()
	w.cond.Broadcast()
}

// MarkDead marks the window dead with cause: subsequent and currently
// blocked Acquire calls fail with cause. Per spec.md §9 Open Question (b),
// a later MarkDead overwrites an earlier cause (last-write-wins with a
// causal message) rather than being a no-op, since the newer cause is
// presumed to be the more specific/accurate one.
func (w *Window) MarkDead(cause error) {
	w.mu.Lock()
	w.dead = true
	w.cause = cause
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Dead reports whether the window has been marked dead, and its cause.
func (w *Window) Dead() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dead, w.cause
}

// Credit reports the currently available credit, for diagnostics/metrics.
func (w *Window) Credit() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.credit
}
