// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pipewriter implements the channel engine's "I/O coordinator"
// (spec.md §4.9): a per-channel ordered executor that stamps each I/O with
// a monotonically increasing id used to order commands against I/O, and
// lets other components await a particular I/O's completion.
//
// Per spec.md §9 Open Question (a), ids here are 64-bit: "when lastIoId
// rolls around the 32-bit space, ordering guarantees are undefined; choose
// 64-bit in the new implementation."
package pipewriter

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Task is a unit of I/O work submitted to the coordinator.
type Task func(ctx context.Context) error

// lane is the single-lane queue backing one sequence key (spec.md §5:
// "one single-lane queue per writer"). Tasks enqueued on the same lane run
// strictly in submission order; different lanes run concurrently, bounded
// by the Coordinator's shared semaphore.
type lane struct {
	mu      sync.Mutex
	pending chan func()
	started bool
}

// Coordinator is one per Channel. It retains a done-channel and result per
// issued id for the lifetime of the Coordinator; a channel's I/O volume is
// bounded by its call/pipe traffic, not by wall-clock time, so this is
// acceptable for the lifetime of one connection but is not meant to be
// reused across reconnects (spec.md §1 Non-goals: the core does not
// survive transport reconnects, so a fresh Coordinator per Channel is
// always the right lifetime).
type Coordinator struct {
	sem *semaphore.Weighted

	mu       sync.Mutex
	nextID   int64
	lastID   int64
	lanes    map[any]*lane
	done     map[int64]chan struct{}
	results  map[int64]error
}

// NewCoordinator returns a Coordinator. maxConcurrent bounds how many lanes
// may run their task concurrently; 0 means unbounded (a very large weight
// is used internally so the semaphore never actually blocks).
func NewCoordinator(maxConcurrent int) *Coordinator {
	if maxConcurrent <= 0 {
		maxConcurrent = 1 << 20
	}
	return &Coordinator{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		lanes:   make(map[any]*lane),
		done:    make(map[int64]chan struct{}),
		results: make(map[int64]error),
	}
}

// Submit assigns task a fresh, monotonically increasing I/O id, enqueues it
// on the lane identified by key (tasks sharing a key run strictly in
// submission order; tasks on different keys may run concurrently), and
// returns the id immediately without waiting for the task to run. Use
// Await to block for completion.
func (c *Coordinator) Submit(ctx context.Context, key any, task Task) int64 {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.lastID = id
	done := make(chan struct{})
	c.done[id] = done
	l, ok := c.lanes[key]
	if !ok {
		l = &lane{pending: make(chan func(), 64)}
		c.lanes[key] = l
	}
	c.mu.Unlock()

	l.mu.Lock()
	l.pending <- func() {
		_ = c.sem.Acquire(context.Background(), 1)
		defer c.sem.Release(1)
		err := task(ctx)
		c.mu.Lock()
		c.results[id] = err
		c.mu.Unlock()
		close(done)
	}
	if !l.started {
		l.started = true
		go l.run()
	}
	l.mu.Unlock()

	return id
}

func (l *lane) run() {
	for fn := range l.pending {
		fn()
	}
}

// LastIoID returns the most recently issued I/O id, observable as
// spec.md's channel.lastIoId.
func (c *Coordinator) LastIoID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastID
}

// Await blocks until the I/O identified by id has completed, returning its
// task's error. Id 0 denotes "no barrier needed" and returns immediately,
// per spec.md §4.9.
func (c *Coordinator) Await(ctx context.Context, id int64) error {
	if id == 0 {
		return nil
	}
	c.mu.Lock()
	done, ok := c.done[id]
	c.mu.Unlock()
	if !ok {
		// Unknown id: never issued by this coordinator. Treat as
		// already-complete rather than hanging forever.
		return nil
	}
	select {
	case <-done:
		c.mu.Lock()
		err := c.results[id]
		c.mu.Unlock()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
