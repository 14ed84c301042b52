// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"code.hybscloud.com/rchannel/internal/wire"
)

// SyncTransport spawns one reader goroutine that blocks on Read and calls
// the bound receiver synchronously, preserving in-order delivery. It wraps
// a plain io.ReadWriteCloser: no non-blocking I/O is involved, since a
// blocking transport has nothing to push back on.
type SyncTransport struct {
	rw   io.ReadWriteCloser
	enc  *wire.Encoder
	dec  *wire.Decoder
	maxFrame int

	readTimeoutFatal bool

	writeMu sync.Mutex

	mu           sync.Mutex
	receiver     Receiver
	remoteCap    uint32
	closedWrite  bool
	closedRead   bool
	readerDone   chan struct{}
}

// NewSyncTransport returns a SyncTransport over rw. frameSize configures
// the encoder's chunk size (0 selects wire.DefaultFrameSize); maxCommandLen
// bounds the decoder's reassembled command size (0 selects a generous
// default). readTimeoutFatal controls whether a transient read-side
// timeout error terminates the channel or is treated as a retryable no-op;
// callers must supply an rw whose Read returns a recognizable timeout
// error (net.Error.Timeout()) for the non-fatal path to apply.
func NewSyncTransport(rw io.ReadWriteCloser, frameSize, maxCommandLen int, readTimeoutFatal bool) (*SyncTransport, error) {
	enc, err := wire.NewEncoder(frameSize)
	if err != nil {
		return nil, err
	}
	if maxCommandLen <= 0 {
		maxCommandLen = 16 * 1024 * 1024
	}
	return &SyncTransport{
		rw:               rw,
		enc:              enc,
		dec:              wire.NewDecoder(maxCommandLen),
		maxFrame:         frameSize,
		readTimeoutFatal: readTimeoutFatal,
		readerDone:       make(chan struct{}),
	}, nil
}

func (t *SyncTransport) Write(ctx context.Context, cmd []byte, last bool) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.enc.WriteCommand(t.rw, cmd); err != nil {
		return errors.Wrap(err, "sync transport write")
	}
	return nil
}

func (t *SyncTransport) CloseWrite() error {
	t.mu.Lock()
	if t.closedWrite {
		t.mu.Unlock()
		return nil
	}
	t.closedWrite = true
	t.mu.Unlock()
	if c, ok := t.rw.(interface{ CloseWrite() error }); ok {
		return c.CloseWrite()
	}
	return nil
}

func (t *SyncTransport) CloseRead() error {
	t.mu.Lock()
	if t.closedRead {
		t.mu.Unlock()
		return nil
	}
	t.closedRead = true
	t.mu.Unlock()
	if c, ok := t.rw.(interface{ CloseRead() error }); ok {
		return c.CloseRead()
	}
	return t.rw.Close()
}

func (t *SyncTransport) RemoteCapability() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remoteCap
}

// SetRemoteCapability records the bitmask obtained during negotiation.
func (t *SyncTransport) SetRemoteCapability(bits uint32) {
	t.mu.Lock()
	t.remoteCap = bits
	t.mu.Unlock()
}

func (t *SyncTransport) Setup(receiver Receiver) error {
	t.mu.Lock()
	if t.receiver != nil {
		t.mu.Unlock()
		return ErrAlreadySetup
	}
	t.receiver = receiver
	t.mu.Unlock()

	go t.readLoop(receiver)
	return nil
}

func (t *SyncTransport) readLoop(receiver Receiver) {
	defer close(t.readerDone)
	for {
		cmd, err := t.dec.ReadFrom(t.rw)
		if cmd != nil {
			receiver.Handle(cmd)
		}
		if err == nil {
			continue
		}
		if isTimeout(err) && !t.readTimeoutFatal {
			continue
		}
		receiver.Terminate(err)
		return
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := errors.Cause(err).(timeouter)
	return ok && te.Timeout()
}
