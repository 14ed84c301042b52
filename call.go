// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rchannel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// defensivePollInterval is the 30 s safety net spec.md §9 requires behind
// the primary condition-variable wakeup for blocking waits, guarding
// against a lost notification rather than being the primary wake path.
const defensivePollInterval = 30 * time.Second

// pendingCall tracks one in-flight Request awaiting its Response.
type pendingCall struct {
	mu        sync.Mutex
	cond      *sync.Cond
	done      bool
	response  *Command
	abortedBy error
}

func newPendingCall() *pendingCall {
	pc := &pendingCall{}
	pc.cond = sync.NewCond(&pc.mu)
	return pc
}

func (pc *pendingCall) resolve(resp *Command) {
	pc.mu.Lock()
	if !pc.done {
		pc.done = true
		pc.response = resp
	}
	pc.mu.Unlock()
	pc.cond.Broadcast()
}

func (pc *pendingCall) abort(cause error) {
	pc.mu.Lock()
	if !pc.done {
		pc.done = true
		pc.abortedBy = cause
	}
	pc.mu.Unlock()
	pc.cond.Broadcast()
}

// wait blocks until the call is resolved or aborted, with an independent
// ticker broadcasting on the same condition variable every
// defensivePollInterval as a safety net against a lost wakeup — the
// primary wake path is still the resolve()/abort() broadcast. ctx
// cancellation returns ctx.Err() without marking the call done, so the
// caller can still emit a Cancel and, if a late response arrives, it is
// simply ignored (the waiter goroutine below outlives this call until the
// pending call is eventually resolved or the channel is closed).
func (pc *pendingCall) wait(ctx context.Context) (*Command, error) {
	notify := make(chan struct{})
	stopPoll := make(chan struct{})
	defer close(stopPoll)

	go func() {
		t := time.NewTicker(defensivePollInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				pc.cond.Broadcast()
			case <-stopPoll:
				return
			}
		}
	}()

	go func() {
		pc.mu.Lock()
		for !pc.done {
			pc.cond.Wait()
		}
		pc.mu.Unlock()
		close(notify)
	}()

	select {
	case <-notify:
		pc.mu.Lock()
		defer pc.mu.Unlock()
		if pc.abortedBy != nil {
			return nil, pc.abortedBy
		}
		return pc.response, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Future is returned by InvokeAsync/callAsync; Cancel emits a Cancel
// command to the peer. If the peer's callable observes the cancellation,
// Wait returns the peer's *RemoteError with TypeName "Cancelled".
type Future struct {
	ch        *Channel
	id        int64
	pc        *pendingCall
	cancelled int32
}

// Cancel requests cooperative cancellation of the in-flight call.
func (f *Future) Cancel() error {
	if !atomic.CompareAndSwapInt32(&f.cancelled, 0, 1) {
		return nil
	}
	return f.ch.sendCancel(f.id)
}

// Wait blocks for the result, as Invoke would, honoring the same 30 s
// defensive poll.
func (f *Future) Wait(ctx context.Context) (any, error) {
	resp, err := f.pc.wait(ctx)
	if err != nil {
		return nil, err
	}
	return f.ch.finishCall(ctx, resp)
}

// call implements spec.md §4.8's seven call() steps for a synchronous
// invocation. On interrupt (ctx cancelled while waiting) it emits a Cancel
// to the peer, per step 7, before re-raising ctx's error.
func (ch *Channel) call(ctx context.Context, oid int64, method string, args []any) (any, error) {
	start := time.Now()
	f, err := ch.callAsync(ctx, oid, method, args)
	if err != nil {
		return nil, err
	}
	result, err := f.Wait(ctx)
	ch.metrics().observeCallDuration(time.Since(start).Seconds())
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ch.State() < stateClosing {
			_ = ch.sendCancel(f.id)
		}
	}
	return result, err
}

// callOneWay implements a fire-and-forget Request: cmd.Async tells the
// responder to skip sending a Response entirely, so the caller never
// registers a pendingCall and returns as soon as the Request is written.
func (ch *Channel) callOneWay(ctx context.Context, oid int64, method string, args []any) error {
	if ch.State() >= stateClosing {
		return ErrChannelClosed
	}

	id := atomic.AddInt64(&ch.nextCallID, 1)
	lastIoID := ch.coordinator.LastIoID()

	argTypes := make([]string, len(args))
	encoded := make([][]byte, len(args))
	for i, a := range args {
		argTypes[i] = typeName(a)
		enc, err := ch.codec.Encode(&a)
		if err != nil {
			return errors.Wrapf(err, "rchannel: encoding arg %d for %s", i, method)
		}
		encoded[i] = enc
	}

	cmd := &Command{
		Kind:     KindRequest,
		ID:       id,
		OID:      oid,
		Method:   method,
		ArgTypes: argTypes,
		Args:     encoded,
		LastIoID: lastIoID,
		Async:    true,
	}

	if err := ch.writeCommand(ctx, cmd); err != nil {
		return err
	}
	ch.metrics().incCalls()
	return nil
}

func (ch *Channel) callAsync(ctx context.Context, oid int64, method string, args []any) (*Future, error) {
	if ch.State() >= stateClosing {
		return nil, ErrChannelClosed
	}

	id := atomic.AddInt64(&ch.nextCallID, 1)
	lastIoID := ch.coordinator.LastIoID()

	argTypes := make([]string, len(args))
	encoded := make([][]byte, len(args))
	for i, a := range args {
		argTypes[i] = typeName(a)
		enc, err := ch.codec.Encode(&a)
		if err != nil {
			return nil, errors.Wrapf(err, "rchannel: encoding arg %d for %s", i, method)
		}
		encoded[i] = enc
	}

	cmd := &Command{
		Kind:     KindRequest,
		ID:       id,
		OID:      oid,
		Method:   method,
		ArgTypes: argTypes,
		Args:     encoded,
		LastIoID: lastIoID,
	}

	pc := newPendingCall()
	ch.mu.Lock()
	if ch.State() >= stateClosing {
		ch.mu.Unlock()
		return nil, ErrChannelClosed
	}
	ch.pendingCalls[id] = pc
	ch.mu.Unlock()

	if err := ch.writeCommand(ctx, cmd); err != nil {
		ch.mu.Lock()
		delete(ch.pendingCalls, id)
		ch.mu.Unlock()
		return nil, err
	}

	ch.metrics().incCalls()
	return &Future{ch: ch, id: id, pc: pc}, nil
}

// finishCall implements call()'s post-arrival steps 5-6: wait for the
// requester's own local I/O coordinator to drain up to the id it had
// issued as of the matching request, then unwrap the response.
//
// resp.LastIoID is the responder's own coordinator id, minted in the
// responder's id space; it names nothing in ch.coordinator, which only
// ever hands out ids for I/O this side of the channel performs. Awaiting
// it here is therefore always a same-process no-op (id 0, or an id this
// coordinator never issued — both return immediately, see
// internal/pipewriter.Coordinator.Await), not a real cross-peer barrier.
// The ordering the barrier is meant to provide — every Pipe.* command
// that logically precedes a Response is applied before that Response is
// dispatched to its waiter — already holds unconditionally: each
// transport delivers commands FIFO to one synchronous reader goroutine
// that applies inbound Pipe.* commands before handing a Response to
// finishCall, so there is nothing left for a second, id-based barrier to
// enforce on this side. The call is kept (rather than deleted) because
// resp.LastIoID is still meaningful as a diagnostic of how much responder
// I/O preceded this Response, and a future transport that loses FIFO
// ordering would need a real shared id space to fix this properly.
func (ch *Channel) finishCall(ctx context.Context, resp *Command) (any, error) {
	if resp == nil {
		return nil, ErrChannelClosed
	}
	if err := ch.coordinator.Await(ctx, resp.LastIoID); err != nil {
		return nil, err
	}
	if resp.ExcType != "" {
		ch.metrics().incCallErrors()
		return nil, &RemoteError{TypeName: resp.ExcType, Msg: resp.ExcMsg, Stack: resp.ExcStack}
	}
	if resp.Result == nil {
		return nil, nil
	}
	var out any
	if err := ch.codec.Decode(resp.Result, &out); err != nil {
		return nil, errors.Wrap(err, "rchannel: decoding call result")
	}
	return out, nil
}

func (ch *Channel) sendCancel(id int64) error {
	return ch.writeCommand(context.Background(), &Command{Kind: KindCancel, ID: id})
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	type named interface{ TypeName() string }
	if n, ok := v.(named); ok {
		return n.TypeName()
	}
	return goTypeName(v)
}
