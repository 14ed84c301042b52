// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rchannel

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Error taxonomy, per the channel's error handling design: transport-fatal
// and serialization-fatal conditions close the channel; remote invocation
// failures, pipe-dead, and ping-timeout surface as typed errors to callers.

// TransportError wraps a fatal transport condition (EOF, negotiation
// failure, stream corruption). Observing one always means the channel is
// being or has been closed.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string { return fmt.Sprintf("rchannel: transport fatal: %v", e.Cause) }
func (e *TransportError) Unwrap() error { return e.Cause }

// SerializationError wraps a fatal decode condition: a type rejected by the
// class filter, or an unknown type with no resolver able to supply it.
type SerializationError struct {
	TypeName string
	Cause    error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("rchannel: serialization fatal for %q: %v", e.TypeName, e.Cause)
}
func (e *SerializationError) Unwrap() error { return e.Cause }

// RemoteError surfaces an exception thrown by the peer's callable, with a
// stack merged from both sides when available.
type RemoteError struct {
	TypeName string
	Msg      string
	Stack    string
}

func (e *RemoteError) Error() string { return fmt.Sprintf("rchannel: remote error: %s: %s", e.TypeName, e.Msg) }

// ErrChannelClosed is returned to a caller whose call or pipe write raced a
// local or peer-initiated channel close.
var ErrChannelClosed = errors.New("rchannel: channel closed")

// ErrCancelled's message is the Msg of the RemoteError (TypeName
// "Cancelled") a responder sends back for a call whose callable observed a
// Cancel. ErrCancelled itself is not returned to callers, so errors.Is
// against it does not match that RemoteError.
var ErrCancelled = errors.New("rchannel: call cancelled")

// PipeDeadError is returned to a pipe writer once the peer has reported its
// local reader gone.
type PipeDeadError struct {
	OID   int64
	Cause error
}

func (e *PipeDeadError) Error() string {
	return fmt.Sprintf("rchannel: pipe %d dead: %v", e.OID, e.Cause)
}
func (e *PipeDeadError) Unwrap() error { return e.Cause }

// PingTimeoutError is passed to the user-supplied ping-failure handler
// after maxPingTimeouts consecutive timeouts.
type PingTimeoutError struct {
	Attempts int
}

func (e *PingTimeoutError) Error() string {
	return fmt.Sprintf("rchannel: ping timed out after %d attempts", e.Attempts)
}

// withStack attaches a call-site stack to err when chainCause is enabled,
// matching the options-gated behavior spec.md §6 describes for command
// creation traces.
func withStack(chainCause bool, err error) error {
	if !chainCause || err == nil {
		return nil
	}
	return errors.WithStack(err)
}

// captureCreationStack renders a Command's creation-site stack trace when
// chainCause is enabled, using the same github.com/pkg/errors machinery
// withStack uses, per spec.md §3's "every command records
// an optional creation stack trace for diagnostics (toggleable)."
func captureCreationStack(chainCause bool) string {
	if !chainCause {
		return ""
	}
	return fmt.Sprintf("%+v", errors.New("rchannel: command created"))
}

// aggregateTeardown combines independent teardown failures (transport
// close, export-table abort, pending-call cancellation) into one error,
// rather than discarding all but the first, per SPEC_FULL.md §7.
func aggregateTeardown(errs ...error) error {
	var result *multierror.Error
	for _, e := range errs {
		if e != nil {
			result = multierror.Append(result, e)
		}
	}
	return result.ErrorOrNil()
}
