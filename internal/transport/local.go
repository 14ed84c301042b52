// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"io"
	"sync"
)

// LocalTransport connects two in-process channel endpoints without a real
// socket. Unlike SyncTransport and BufferTransport, it never touches a
// byte-stream at all: both ends share one address space, so a write hands
// its already-whole command slice straight to the peer's receiver, with no
// length-prefix framing to add and immediately strip back off.
type LocalTransport struct {
	mu       sync.Mutex
	peer     *LocalTransport
	receiver Receiver
	queued   [][]byte
	closedW  bool
	closedR  bool

	remoteCap uint32
}

// NewLocalPair returns two LocalTransports wired to each other: writes on
// one are delivered to the other's receiver.
func NewLocalPair() (a, b *LocalTransport) {
	a = &LocalTransport{}
	b = &LocalTransport{}
	a.peer = b
	b.peer = a
	return a, b
}

func (t *LocalTransport) Write(ctx context.Context, cmd []byte, last bool) error {
	t.mu.Lock()
	if t.closedW {
		t.mu.Unlock()
		return io.ErrClosedPipe
	}
	peer := t.peer
	t.mu.Unlock()

	peer.mu.Lock()
	r := peer.receiver
	if r == nil {
		peer.queued = append(peer.queued, cmd)
		peer.mu.Unlock()
		return nil
	}
	peer.mu.Unlock()

	r.Handle(cmd)
	return nil
}

func (t *LocalTransport) CloseWrite() error {
	t.mu.Lock()
	if t.closedW {
		t.mu.Unlock()
		return nil
	}
	t.closedW = true
	t.mu.Unlock()
	return nil
}

func (t *LocalTransport) CloseRead() error {
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

func (t *LocalTransport) RemoteCapability() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remoteCap
}

func (t *LocalTransport) SetRemoteCapability(bits uint32) {
	t.mu.Lock()
	t.remoteCap = bits
	t.mu.Unlock()
}

func (t *LocalTransport) Setup(receiver Receiver) error {
	t.mu.Lock()
	if t.receiver != nil {
		t.mu.Unlock()
		return ErrAlreadySetup
	}
	t.receiver = receiver
	queued := t.queued
	t.queued = nil
	t.mu.Unlock()

	for _, cmd := range queued {
		receiver.Handle(cmd)
	}
	return nil
}
