// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pipe

import (
	"io"
	"sync"
)

// Sink is the receiver side of a pipe: it applies incoming chunks to a
// local io.Writer, acks successful writes, and reports a dead cause to the
// peer exactly once when the local write fails.
type Sink struct {
	mu       sync.Mutex
	local    io.WriteCloser
	emitAck  func(n int64) error
	emitDead func(cause error) error

	deadSent bool
	eofDone  bool
}

// NewSink returns a Sink writing to local, emitting acks via emitAck and a
// Pipe.Dead (once) via emitDead on local write failure.
func NewSink(local io.WriteCloser, emitAck func(n int64) error, emitDead func(cause error) error) *Sink {
	return &Sink{local: local, emitAck: emitAck, emitDead: emitDead}
}

// HandleChunk applies one Pipe.Chunk's data to the local writer. On
// failure it reports Pipe.Dead to the peer exactly once (subsequent
// chunks after a dead sink are silently dropped rather than re-reporting),
// per spec.md §4.7/§7.
func (s *Sink) HandleChunk(data []byte) error {
	s.mu.Lock()
	if s.deadSent {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	_, err := s.local.Write(data)
	if err != nil {
		s.mu.Lock()
		already := s.deadSent
		s.deadSent = true
		s.mu.Unlock()
		if !already {
			return s.emitDead(err)
		}
		return err
	}
	return s.emitAck(int64(len(data)))
}

// HandleEOF closes the local writer. Applying EOF twice for the same pipe
// is a no-op, per spec.md §8.
func (s *Sink) HandleEOF() error {
	s.mu.Lock()
	if s.eofDone {
		s.mu.Unlock()
		return nil
	}
	s.eofDone = true
	s.mu.Unlock()
	return s.local.Close()
}
