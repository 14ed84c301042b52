// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"io"
	"sync"

	"code.hybscloud.com/iox"
	"github.com/pkg/errors"

	"code.hybscloud.com/rchannel/internal/wire"
)

// BufferTransport accepts arbitrary Receive(buffer) calls of any slicing,
// buffers partial frames, and emits whole commands to the bound receiver as
// they complete. Suitable for event-driven I/O (a caller pumping bytes off
// an epoll-style readiness notification rather than blocking in Read).
//
// Commands fed in before Setup has bound a receiver are queued and
// delivered in order as soon as Setup runs, so callers do not need to
// sequence their first Receive call after Setup.
type BufferTransport struct {
	dec *wire.FeedDecoder
	enc *wire.Encoder

	write func(p []byte) (int, error)

	mu        sync.Mutex
	receiver  Receiver
	remoteCap uint32
	queued    [][]byte
	closedW   bool
	closedR   bool
}

// NewBufferTransport returns a BufferTransport. write is the non-blocking
// sink bytes are pushed to (e.g. a socket send buffer); it may return
// iox.ErrWouldBlock, in which case the caller is expected to retry the
// write later via the same mechanism docker's event loop would use for any
// other non-blocking descriptor.
func NewBufferTransport(write func(p []byte) (int, error), frameSize, maxCommandLen int) (*BufferTransport, error) {
	enc, err := wire.NewEncoder(frameSize)
	if err != nil {
		return nil, err
	}
	if maxCommandLen <= 0 {
		maxCommandLen = 16 * 1024 * 1024
	}
	return &BufferTransport{
		dec:   wire.NewFeedDecoder(maxCommandLen),
		enc:   enc,
		write: write,
	}, nil
}

// Receive feeds p (any slicing of the incoming byte stream) to the
// decoder, dispatching every whole command completed as a result to the
// bound receiver, or queuing it if Setup has not yet been called.
func (t *BufferTransport) Receive(p []byte) error {
	cmds, err := t.dec.Feed(p)
	if err != nil {
		t.mu.Lock()
		r := t.receiver
		t.mu.Unlock()
		if r != nil {
			r.Terminate(err)
		}
		return err
	}

	t.mu.Lock()
	r := t.receiver
	if r == nil {
		t.queued = append(t.queued, cmds...)
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	for _, c := range cmds {
		r.Handle(c)
	}
	return nil
}

func (t *BufferTransport) Write(ctx context.Context, cmd []byte, last bool) error {
	// WriteCommand chunks via the configured frame size and calls t.write
	// for each chunk; a non-blocking sink may return iox.ErrWouldBlock or
	// iox.ErrMore mid-command, which the encoder does not retry internally
	// since retry policy (spin, park on writable-again, buffer) belongs to
	// the caller's event loop, not to the wire format.
	w := writerFunc(t.write)
	if err := t.enc.WriteCommand(w, cmd); err != nil {
		if errors.Is(err, iox.ErrWouldBlock) || errors.Is(err, iox.ErrMore) {
			return err
		}
		return errors.Wrap(err, "buffer transport write")
	}
	return nil
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func (t *BufferTransport) CloseWrite() error {
	t.mu.Lock()
	if t.closedW {
		t.mu.Unlock()
		return nil
	}
	t.closedW = true
	t.mu.Unlock()
	return nil
}

func (t *BufferTransport) CloseRead() error {
	t.mu.Lock()
	if t.closedR {
		t.mu.Unlock()
		return nil
	}
	t.closedR = true
	r := t.receiver
	t.mu.Unlock()
	if r != nil {
		r.Terminate(io.EOF)
	}
	return nil
}

func (t *BufferTransport) RemoteCapability() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remoteCap
}

func (t *BufferTransport) SetRemoteCapability(bits uint32) {
	t.mu.Lock()
	t.remoteCap = bits
	t.mu.Unlock()
}

func (t *BufferTransport) Setup(receiver Receiver) error {
	t.mu.Lock()
	if t.receiver != nil {
		t.mu.Unlock()
		return ErrAlreadySetup
	}
	t.receiver = receiver
	queued := t.queued
	t.queued = nil
	t.mu.Unlock()

	for _, c := range queued {
		receiver.Handle(c)
	}
	return nil
}
