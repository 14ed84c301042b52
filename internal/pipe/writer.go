// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipe

import (
	"context"

	"golang.org/x/time/rate"
)

// SendFunc emits one Pipe.Chunk's worth of bytes to the peer. It is
// supplied by the caller (the root package binds it to an actual Pipe.Chunk
// command write through the channel's dispatcher/transport).
type SendFunc func(ctx context.Context, chunk []byte) error

// Writer is the sender side of a pipe: it chunks writes to respect the
// window's credit and, optionally, a token-bucket throttle.
type Writer struct {
	window  *Window
	send    SendFunc
	limiter *rate.Limiter // nil unless the pipeThrottling capability is negotiated
}

// NewWriter returns a Writer bound to window, emitting chunks via send. If
// limiter is non-nil, writes are additionally paced through it (spec.md's
// pipeThrottling capability bit): this never changes how many bytes may be
// in flight, only how they are shaped in time.
func NewWriter(window *Window, send SendFunc, limiter *rate.Limiter) *Writer {
	return &Writer{window: window, send: send, limiter: limiter}
}

// chunkSize picks the size of the next chunk to send out of remaining
// bytes, per spec.md §4.7: prefer chunks around window_max/2, and never
// send fewer than max(window_max/10, 1) bytes unless the remaining payload
// is smaller than that floor (in which case the whole remainder is sent in
// one chunk, to avoid pathological fragmentation at high latency).
func chunkSize(remaining int64, windowMax int64) int64 {
	floor := windowMax / 10
	if floor < 1 {
		floor = 1
	}
	if remaining <= floor {
		return remaining
	}
	preferred := windowMax / 2
	if preferred < 1 {
		preferred = 1
	}
	if remaining < preferred {
		return remaining
	}
	return preferred
}

// Write sends p as one or more Pipe.Chunk sends, blocking on window credit
// (and, if configured, the throttle) between chunks. It returns the number
// of bytes actually sent before the first error, if any.
func (w *Writer) Write(ctx context.Context, p []byte) (int, error) {
	var sent int
	for len(p) > 0 {
		n := chunkSize(int64(len(p)), w.window.Max())
		if n > int64(len(p)) {
			n = int64(len(p))
		}
		if err := w.window.Acquire(ctx, n); err != nil {
			return sent, err
		}
		if w.limiter != nil {
			if err := w.limiter.WaitN(ctx, int(n)); err != nil {
				return sent, err
			}
		}
		if err := w.send(ctx, p[:n]); err != nil {
			return sent, err
		}
		sent += int(n)
		p = p[n:]
	}
	return sent, nil
}
