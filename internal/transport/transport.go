// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport implements the channel engine's point-to-point,
// packet-oriented, reliable, in-order command transport, behind one
// contract with three interchangeable implementations: a synchronous
// blocking-reader transport, a push-based buffer transport suitable for
// event-driven I/O, and an in-process LocalTransport pair.
package transport

import "context"

// Receiver is notified of decoded commands and of fatal transport errors.
// Implementations must not block the calling goroutine for long, since
// SyncTransport calls handle synchronously from its single reader loop.
type Receiver interface {
	Handle(cmd []byte)
	Terminate(cause error)
}

// Transport is the contract shared by every transport implementation.
// Nothing downstream (the dispatcher, the call matcher, the pipe
// subsystem) depends on which implementation is bound to a channel.
type Transport interface {
	// Write serializes and hands cmd to the lower stream, flushing on
	// command boundaries. last=false tells the transport this is not the
	// final command of the channel's lifetime, so any object-sharing
	// serializer state may be told to forget already-written objects once
	// it is safe to (the transport never does this on the final write).
	Write(ctx context.Context, cmd []byte, last bool) error

	// CloseWrite and CloseRead shut down each half independently and are
	// idempotent.
	CloseWrite() error
	CloseRead() error

	// RemoteCapability returns the capability bitmask obtained during
	// negotiation (0 before negotiation completes).
	RemoteCapability() uint32

	// Setup binds the transport to a receiver and starts pumping decoded
	// commands to it. Calling Setup twice is an error.
	Setup(receiver Receiver) error
}

// ErrAlreadySetup is returned by Setup if called more than once on the
// same transport instance.
type errAlreadySetup struct{}

func (errAlreadySetup) Error() string { return "transport: already set up" }

// ErrAlreadySetup is the sentinel returned by Setup on a second call.
var ErrAlreadySetup error = errAlreadySetup{}
