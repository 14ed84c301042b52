// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package transport

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu        sync.Mutex
	cmds      [][]byte
	terminate error
	done      chan struct{}
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{}, 8)} }

func (r *recorder) Handle(cmd []byte) {
	r.mu.Lock()
	cp := append([]byte(nil), cmd...)
	r.cmds = append(r.cmds, cp)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recorder) Terminate(cause error) {
	r.mu.Lock()
	r.terminate = cause
	r.mu.Unlock()
}

func (r *recorder) waitN(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for command %d/%d", i+1, n)
		}
	}
}

func TestSyncTransport_RoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ta, err := NewSyncTransport(a, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	tb, err := NewSyncTransport(b, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}

	rb := newRecorder()
	if err := tb.Setup(rb); err != nil {
		t.Fatal(err)
	}
	ra := newRecorder()
	if err := ta.Setup(ra); err != nil {
		t.Fatal(err)
	}

	msgs := [][]byte{[]byte("hello"), []byte(""), bytes.Repeat([]byte("x"), 20000)}
	for _, m := range msgs {
		if err := ta.Write(context.Background(), m, true); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	rb.waitN(t, len(msgs))

	rb.mu.Lock()
	defer rb.mu.Unlock()
	if len(rb.cmds) != len(msgs) {
		t.Fatalf("got %d commands, want %d", len(rb.cmds), len(msgs))
	}
	for i, m := range msgs {
		if !bytes.Equal(rb.cmds[i], m) {
			t.Fatalf("command %d mismatch", i)
		}
	}
}

func TestSyncTransport_SetupTwiceErrors(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	ta, _ := NewSyncTransport(a, 0, 0, false)
	_ = ta.Setup(newRecorder())
	if err := ta.Setup(newRecorder()); err != ErrAlreadySetup {
		t.Fatalf("second Setup = %v, want ErrAlreadySetup", err)
	}
}

func TestBufferTransport_ArbitrarySlicing(t *testing.T) {
	var wire bytes.Buffer
	bt, err := NewBufferTransport(wire.Write, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := bt.Write(context.Background(), []byte("payload-one"), true); err != nil {
		t.Fatal(err)
	}
	if err := bt.Write(context.Background(), []byte("payload-two"), true); err != nil {
		t.Fatal(err)
	}

	rcv := newRecorder()
	if err := bt.Setup(rcv); err != nil {
		t.Fatal(err)
	}

	all := wire.Bytes()
	for i := 0; i < len(all); i++ {
		if err := bt.Receive(all[i : i+1]); err != nil {
			t.Fatalf("receive byte %d: %v", i, err)
		}
	}

	rcv.waitN(t, 2)
	rcv.mu.Lock()
	defer rcv.mu.Unlock()
	if string(rcv.cmds[0]) != "payload-one" || string(rcv.cmds[1]) != "payload-two" {
		t.Fatalf("got %q, %q", rcv.cmds[0], rcv.cmds[1])
	}
}

func TestBufferTransport_CommandsArriveBeforeSetup(t *testing.T) {
	var wire bytes.Buffer
	bt, err := NewBufferTransport(wire.Write, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := bt.Write(context.Background(), []byte("early"), true); err != nil {
		t.Fatal(err)
	}
	if err := bt.Receive(wire.Bytes()); err != nil {
		t.Fatal(err)
	}

	rcv := newRecorder()
	if err := bt.Setup(rcv); err != nil {
		t.Fatal(err)
	}
	rcv.waitN(t, 1)
	if string(rcv.cmds[0]) != "early" {
		t.Fatalf("got %q", rcv.cmds[0])
	}
}

func TestLocalTransport_RoundTripBothDirections(t *testing.T) {
	a, b := NewLocalPair()
	ra, rb := newRecorder(), newRecorder()
	if err := a.Setup(ra); err != nil {
		t.Fatal(err)
	}
	if err := b.Setup(rb); err != nil {
		t.Fatal(err)
	}

	if err := a.Write(context.Background(), []byte("a-to-b"), true); err != nil {
		t.Fatal(err)
	}
	if err := b.Write(context.Background(), []byte("b-to-a"), true); err != nil {
		t.Fatal(err)
	}

	ra.waitN(t, 1)
	rb.waitN(t, 1)
	if string(ra.cmds[0]) != "b-to-a" {
		t.Fatalf("a received %q", ra.cmds[0])
	}
	if string(rb.cmds[0]) != "a-to-b" {
		t.Fatalf("b received %q", rb.cmds[0])
	}
}

func TestLocalTransport_QueuesBeforeSetup(t *testing.T) {
	a, b := NewLocalPair()
	if err := a.Write(context.Background(), []byte("queued"), true); err != nil {
		t.Fatal(err)
	}
	rb := newRecorder()
	if err := b.Setup(rb); err != nil {
		t.Fatal(err)
	}
	rb.waitN(t, 1)
	if string(rb.cmds[0]) != "queued" {
		t.Fatalf("got %q", rb.cmds[0])
	}
}

func TestLocalTransport_CloseReadTerminatesWithEOF(t *testing.T) {
	a, b := NewLocalPair()
	rb := newRecorder()
	_ = b.Setup(rb)
	if err := b.CloseRead(); err != nil {
		t.Fatal(err)
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.terminate == nil {
		t.Fatal("expected Terminate to have been called")
	}
	_ = a
}
