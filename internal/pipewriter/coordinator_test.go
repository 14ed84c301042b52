// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipewriter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAwait_ZeroIDCompletesInstantly(t *testing.T) {
	c := NewCoordinator(0)
	if err := c.Await(context.Background(), 0); err != nil {
		t.Fatalf("Await(0): %v", err)
	}
}

func TestSubmitAwait_IDsMonotonicAndResultPropagates(t *testing.T) {
	c := NewCoordinator(0)
	id1 := c.Submit(context.Background(), "pipeA", func(ctx context.Context) error { return nil })
	id2 := c.Submit(context.Background(), "pipeA", func(ctx context.Context) error { return errBoom })
	if id2 <= id1 {
		t.Fatalf("ids not monotone: %d, %d", id1, id2)
	}
	if err := c.Await(context.Background(), id1); err != nil {
		t.Fatalf("Await(id1): %v", err)
	}
	if err := c.Await(context.Background(), id2); err != errBoom {
		t.Fatalf("Await(id2) = %v, want errBoom", err)
	}
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }

func TestSameLaneTasksRunInSubmissionOrder(t *testing.T) {
	c := NewCoordinator(0)
	var mu sync.Mutex
	var order []int

	var ids []int64
	for i := 0; i < 20; i++ {
		i := i
		id := c.Submit(context.Background(), "same-key", func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
		ids = append(ids, id)
	}
	for _, id := range ids {
		_ = c.Await(context.Background(), id)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("order violated at %d: got %v", i, order)
		}
	}
}

func TestDifferentLanesRunConcurrently(t *testing.T) {
	c := NewCoordinator(0)
	const n = 8
	var running int32
	var maxRunning int32
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		key := i // distinct lane per task
		c.Submit(context.Background(), key, func(ctx context.Context) error {
			defer wg.Done()
			cur := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxRunning)
				if cur <= m || atomic.CompareAndSwapInt32(&maxRunning, m, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})
	}
	wg.Wait()

	if atomic.LoadInt32(&maxRunning) < 2 {
		t.Fatalf("tasks on distinct lanes never overlapped")
	}
}

func TestLastIoID_TracksMostRecentSubmission(t *testing.T) {
	c := NewCoordinator(0)
	if c.LastIoID() != 0 {
		t.Fatalf("initial LastIoID = %d, want 0", c.LastIoID())
	}
	id := c.Submit(context.Background(), "k", func(ctx context.Context) error { return nil })
	if c.LastIoID() != id {
		t.Fatalf("LastIoID = %d, want %d", c.LastIoID(), id)
	}
}
