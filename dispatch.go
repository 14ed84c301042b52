// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rchannel

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"code.hybscloud.com/rchannel/internal/codec"
)

// channelReceiver adapts Channel to transport.Receiver.
type channelReceiver struct{ ch *Channel }

func (r channelReceiver) Handle(raw []byte) {
	var cmd Command
	if err := r.ch.codec.Decode(raw, &cmd); err != nil {
		r.ch.log.WithField("channel", r.ch.ID).WithError(err).Warn("rchannel: dropping undecodable command")
		r.ch.Close(&SerializationError{Cause: err})
		return
	}
	r.ch.dispatch(&cmd)
}

func (r channelReceiver) Terminate(cause error) {
	r.ch.Close(&TransportError{Cause: cause})
}

// dispatch routes one decoded command, per spec.md §4.5.
func (ch *Channel) dispatch(cmd *Command) {
	switch cmd.Kind {
	case KindRequest:
		ch.handleRequest(cmd)
	case KindResponse:
		ch.handleResponse(cmd)
	case KindCancel:
		ch.handleCancel(cmd)
	case KindPipeChunk:
		ch.pipes.handleChunk(cmd.OID, cmd.Data)
	case KindPipeFlush:
		// Flush is a no-op at this layer: chunking already respects the
		// credit window's ordering; nothing is buffered beyond one chunk.
	case KindPipeAck:
		ch.pipes.handleAck(cmd.OID, cmd.N)
		ch.metrics().addPipeBytesAcked(float64(cmd.N))
	case KindPipeEOF:
		ch.pipes.handleEOF(cmd.OID)
	case KindPipeDead:
		ch.pipes.handleDead(cmd.OID, errors.New(cmd.DeadCause))
	case KindUnexport:
		ch.Unexport(cmd.OID, "peer Unexport command")
	case KindClose:
		ch.Close(ErrChannelClosed)
	default:
		ch.log.WithField("channel", ch.ID).Warnf("rchannel: unknown command kind %d", cmd.Kind)
	}
}

// handleRequest executes an incoming Request on the user executor: records
// it in executingCalls, applies the role checker, dispatches through the
// exported object's CapabilitySet, and always sends back a Response (an
// exception is turned into one carrying a serialized exception rather than
// propagating a panic or silent drop).
func (ch *Channel) handleRequest(cmd *Command) {
	// respond is a no-op for a one-way call (cmd.Async): the caller already
	// returned control to the user without registering a pendingCall, so a
	// Response would only be a wasted write.
	respond := func(fn func()) {
		if !cmd.Async {
			fn()
		}
	}

	// Ping is an internal callable and bypasses the role checker, per
	// spec.md §5.
	if cmd.OID != pingOID && ch.opts.RoleChecker != nil {
		if err := ch.opts.RoleChecker.CheckRole(cmd.Method); err != nil {
			respond(func() { ch.respondError(cmd.ID, err) })
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch.mu.Lock()
	ch.executingCalls[cmd.ID] = cancel
	ch.mu.Unlock()

	run := func() {
		defer func() {
			ch.mu.Lock()
			delete(ch.executingCalls, cmd.ID)
			ch.mu.Unlock()
			cancel()
		}()
		defer func() {
			if p := recover(); p != nil {
				respond(func() { ch.respondError(cmd.ID, errors.Errorf("rchannel: panic in %s: %v", cmd.Method, p)) })
			}
		}()

		startIoID := ch.coordinator.LastIoID()

		obj, err := ch.exports.Get(cmd.OID)
		if err != nil {
			respond(func() { ch.respondError(cmd.ID, err) })
			return
		}
		target, ok := obj.(CapabilitySet)
		if !ok {
			respond(func() {
				ch.respondError(cmd.ID, errors.Errorf("rchannel: exported object %d is not a capability set", cmd.OID))
			})
			return
		}

		args := make([]any, len(cmd.Args))
		for i, enc := range cmd.Args {
			var a any
			if err := ch.codec.Decode(enc, &a); err != nil {
				respond(func() { ch.respondError(cmd.ID, err) })
				return
			}
			args[i] = a
		}

		result, callErr := target.Invoke(ctx, cmd.Method, args...)

		endIoID := ch.coordinator.LastIoID()
		if endIoID == startIoID {
			endIoID = 0
		}

		if ctx.Err() != nil {
			respond(func() { ch.respondCancelled(cmd.ID, endIoID) })
			return
		}
		if callErr != nil {
			respond(func() { ch.respondErrorWithIoID(cmd.ID, callErr, endIoID) })
			return
		}
		respond(func() { ch.respondResult(cmd.ID, result, endIoID) })
	}

	if ch.sem != nil {
		go func() {
			if err := ch.sem.Acquire(ctx, 1); err != nil {
				ch.mu.Lock()
				delete(ch.executingCalls, cmd.ID)
				ch.mu.Unlock()
				respond(func() { ch.respondCancelled(cmd.ID, 0) })
				return
			}
			defer ch.sem.Release(1)
			run()
		}()
		return
	}
	go run()
}

func (ch *Channel) respondResult(id int64, result any, lastIoID int64) {
	var enc []byte
	if result != nil {
		e, err := ch.codec.Encode(&result)
		if err != nil {
			ch.respondErrorWithIoID(id, err, lastIoID)
			return
		}
		enc = e
	}
	_ = ch.writeCommand(context.Background(), &Command{
		Kind: KindResponse, ID: id, Result: enc, LastIoID: lastIoID,
	})
}

func (ch *Channel) respondError(id int64, err error) {
	ch.respondErrorWithIoID(id, err, 0)
}

// respondErrorWithIoID turns a local error from the user's CapabilitySet
// into a Response's three flat exception fields. A *RemoteError (itself
// already received from a peer, e.g. re-thrown by a proxying callable)
// travels with its original fields preserved; any other error's concrete
// Go type is by definition unknown on the peer, so it is wrapped into a
// codec.ProxyError first (spec.md §4.4's "wraps incompatible exception
// chains into a diagnostic proxy-exception", capProxyExceptionFallback).
func (ch *Channel) respondErrorWithIoID(id int64, err error, lastIoID int64) {
	var re *RemoteError
	var typeName, msg, stack string
	if errors.As(err, &re) {
		typeName, msg, stack = re.TypeName, re.Msg, re.Stack
	} else {
		pe := codec.NewProxyError(fmt.Sprintf("%T", err), err.Error(), "")
		typeName, msg, stack = pe.TypeName, pe.Msg, pe.Stack
	}
	_ = ch.writeCommand(context.Background(), &Command{
		Kind: KindResponse, ID: id, ExcType: typeName, ExcMsg: msg, ExcStack: stack, LastIoID: lastIoID,
	})
}

func (ch *Channel) respondCancelled(id int64, lastIoID int64) {
	_ = ch.writeCommand(context.Background(), &Command{
		Kind: KindResponse, ID: id, ExcType: "Cancelled", ExcMsg: ErrCancelled.Error(), LastIoID: lastIoID,
	})
}

func (ch *Channel) handleResponse(cmd *Command) {
	ch.mu.Lock()
	pc, ok := ch.pendingCalls[cmd.ID]
	if ok {
		delete(ch.pendingCalls, cmd.ID)
	}
	ch.mu.Unlock()
	if !ok {
		return
	}
	pc.resolve(cmd)
}

func (ch *Channel) handleCancel(cmd *Command) {
	ch.mu.Lock()
	cancel, ok := ch.executingCalls[cmd.ID]
	ch.mu.Unlock()
	if ok {
		cancel()
	}
}
