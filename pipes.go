// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rchannel

import (
	"context"
	"io"
	"sync"

	"golang.org/x/time/rate"

	"code.hybscloud.com/rchannel/internal/pipe"
)

// pipeRegistry tracks the two independent roles a channel plays for pipes
// named by oid: sender (we hold the *pipe.Window/Writer and push Pipe.Chunk
// to the peer) and receiver (we hold a *pipe.Sink applying chunks to a
// local io.WriteCloser and acking/reporting dead back to the peer).
type pipeRegistry struct {
	mu       sync.Mutex
	senders  map[int64]*pipe.Window
	sinks    map[int64]*pipe.Sink
}

func (r *pipeRegistry) init() {
	r.senders = make(map[int64]*pipe.Window)
	r.sinks = make(map[int64]*pipe.Sink)
}

// NewOutboundPipe registers oid as a sender-side pipe with the given
// initial credit window and returns a pipe.Writer that chunks writes
// through the channel's Pipe.Chunk command, respecting the negotiated
// pipeThrottling capability.
func (ch *Channel) NewOutboundPipe(oid int64, windowMax int64) *pipe.Writer {
	w := pipe.NewWindow(windowMax)
	ch.pipes.mu.Lock()
	ch.pipes.senders[oid] = w
	ch.pipes.mu.Unlock()

	var limiter *rate.Limiter
	if ch.localCaps&capPipeThrottling != 0 && ch.remoteCaps&capPipeThrottling != 0 {
		limiter = rate.NewLimiter(rate.Limit(w.Max()), int(w.Max()))
	}

	send := func(ctx context.Context, chunk []byte) error {
		data := make([]byte, len(chunk))
		copy(data, chunk)
		id := ch.coordinator.Submit(ctx, oid, func(ctx context.Context) error {
			return ch.writeCommand(ctx, &Command{Kind: KindPipeChunk, OID: oid, Data: data})
		})
		err := ch.coordinator.Await(ctx, id)
		if err == nil {
			ch.metrics().addPipeBytesSent(float64(len(chunk)))
		}
		return err
	}
	return pipe.NewWriter(w, send, limiter)
}

// NewInboundPipe registers oid as a receiver-side pipe writing to local,
// returning the *pipe.Sink applying incoming chunks. Closing local (via
// HandleEOF or the sink's own dead-reporting) is the caller's
// responsibility to observe, e.g. via a CapabilitySet method return.
func (ch *Channel) NewInboundPipe(oid int64, local io.WriteCloser) *pipe.Sink {
	emitAck := func(n int64) error {
		return ch.writeCommand(context.Background(), &Command{Kind: KindPipeAck, OID: oid, N: n})
	}
	emitDead := func(cause error) error {
		msg := ""
		if cause != nil {
			msg = cause.Error()
		}
		return ch.writeCommand(context.Background(), &Command{Kind: KindPipeDead, OID: oid, DeadCause: msg})
	}
	s := pipe.NewSink(local, emitAck, emitDead)
	ch.pipes.mu.Lock()
	ch.pipes.sinks[oid] = s
	ch.pipes.mu.Unlock()
	return s
}

func (r *pipeRegistry) handleChunk(oid int64, data []byte) {
	r.mu.Lock()
	s := r.sinks[oid]
	r.mu.Unlock()
	if s != nil {
		_ = s.HandleChunk(data)
	}
}

func (r *pipeRegistry) handleEOF(oid int64) {
	r.mu.Lock()
	s := r.sinks[oid]
	r.mu.Unlock()
	if s != nil {
		_ = s.HandleEOF()
	}
}

func (r *pipeRegistry) handleAck(oid int64, n int64) {
	r.mu.Lock()
	w := r.senders[oid]
	r.mu.Unlock()
	if w != nil {
		w.Refill(n)
	}
}

func (r *pipeRegistry) handleDead(oid int64, cause error) {
	r.mu.Lock()
	w := r.senders[oid]
	r.mu.Unlock()
	if w != nil {
		w.MarkDead(cause)
	}
}

// abortAll marks every outbound pipe dead with cause, invoked directly from
// Channel.Close alongside export.Table.Abort (pipes are tracked in this
// registry rather than the export table, since a pipe's oid namespace and
// lifetime are independent of any exported CapabilitySet).
func (r *pipeRegistry) abortAll(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.senders {
		w.MarkDead(cause)
	}
}

