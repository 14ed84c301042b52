// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"io"
)

// decodeState is the chunk decoder's state machine, per spec.md §4.1:
// NEED_HEADER → NEED_HEADER_2ND_BYTE? → FRAME_BODY(n) → COMMAND_READY (on
// the last chunk) or back to NEED_HEADER for the next chunk of the same
// command.
type decodeState uint8

const (
	stateNeedHeader decodeState = iota
	stateFrameBody
)

// Decoder reassembles chunks into whole command payloads. It is purely
// syntactic: it does not interpret the payload bytes it hands back.
//
// A zero-length chunk with the continuation bit set is an inter-command
// keepalive (spec.md §8) and is silently absorbed — it never contributes
// bytes to a command and never completes one on its own.
//
// Decoder is safe to drive from exactly one of ReadFrom (blocking) or
// FeedDecoder.Feed (push-based); it is not safe to mix the two on the same
// instance, nor to use a Decoder from more than one goroutine concurrently.
//
// A read that returns errNeedMore (only ever produced by the bufferReader
// used internally by FeedDecoder) pauses the state machine in place: no
// field is reset, so the next call resumes exactly where this one left off.
// Any other error is fatal and resets the decoder.
type Decoder struct {
	state decodeState

	hdrBuf [HeaderLen]byte
	hdrOff int

	body        []byte // accumulated payload for the in-progress command
	need        int    // remaining bytes of the current chunk body
	pendingMore bool   // continuation bit of the chunk currently being read
	maxLen      int    // ReadLimit; 0 means unlimited
}

// NewDecoder returns a Decoder. maxLen caps the total reassembled command
// size; 0 means unlimited.
func NewDecoder(maxLen int) *Decoder {
	return &Decoder{maxLen: maxLen}
}

// reset clears in-progress command state. Only called on command completion
// or a fatal (non-pause) error.
func (d *Decoder) reset() {
	d.state = stateNeedHeader
	d.hdrOff = 0
	d.body = d.body[:0]
	d.need = 0
}

// ReadFrom decodes exactly one whole command payload from r, blocking until
// it is available. The returned slice is owned by the caller and is not
// reused by the Decoder on the next call.
func (d *Decoder) ReadFrom(r io.Reader) ([]byte, error) {
	for {
		if d.state == stateNeedHeader {
			if err := d.readHeader(r); err != nil {
				if err == errNeedMore {
					return nil, err
				}
				d.reset()
				return nil, err
			}
			hd := decodeHeader(d.hdrBuf)
			d.hdrOff = 0
			if hd.length == 0 && hd.more {
				// Inter-command keepalive: absorb and keep waiting for the
				// real command, per spec.md §8 boundary behavior.
				continue
			}
			if d.maxLen > 0 && len(d.body)+hd.length > d.maxLen {
				d.reset()
				return nil, ErrTooLong
			}
			d.need = hd.length
			d.state = stateFrameBody
			d.pendingMore = hd.more
		}

		for d.need > 0 {
			n, err := d.readBody(r)
			d.need -= n
			if err != nil {
				if err == errNeedMore {
					return nil, err
				}
				d.reset()
				if err == io.EOF && n == 0 && len(d.body) == 0 {
					return nil, io.EOF
				}
				return nil, io.ErrUnexpectedEOF
			}
		}

		if !d.pendingMore {
			out := make([]byte, len(d.body))
			copy(out, d.body)
			d.reset()
			return out, nil
		}
		d.state = stateNeedHeader
	}
}

// readBody reads up to d.need bytes of the current chunk body into
// d.body, returning the number of bytes consumed this call.
func (d *Decoder) readBody(r io.Reader) (int, error) {
	buf := make([]byte, d.need)
	n, err := r.Read(buf)
	if n > 0 {
		d.body = append(d.body, buf[:n]...)
	}
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.ErrNoProgress
	}
	return n, nil
}

func (d *Decoder) readHeader(r io.Reader) error {
	for d.hdrOff < HeaderLen {
		n, err := r.Read(d.hdrBuf[d.hdrOff:])
		d.hdrOff += n
		if err != nil {
			if err == io.EOF {
				if d.hdrOff == 0 {
					return io.EOF
				}
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}
