// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import "io"

// Encoder splits a command payload into chunks of at most frameSize bytes
// and writes each as a 2-byte header followed by the chunk body. The final
// chunk's header has the continuation bit clear; every earlier chunk's has
// it set.
type Encoder struct {
	frameSize int
}

// NewEncoder returns an Encoder that writes chunks of at most frameSize
// bytes. frameSize must be in [MinFrameSize, MaxFrameSize]; 0 selects
// DefaultFrameSize.
func NewEncoder(frameSize int) (*Encoder, error) {
	if frameSize == 0 {
		frameSize = DefaultFrameSize
	}
	if !validFrameSize(frameSize) {
		return nil, ErrFrameTooLarge
	}
	return &Encoder{frameSize: frameSize}, nil
}

// WriteCommand writes payload to w as one or more chunks. A zero-length
// payload is written as a single chunk with an empty body and the
// continuation bit clear (this is a legitimate, if unusual, empty command —
// not to be confused with the keepalive chunk, which has the continuation
// bit *set* on a zero-length body).
func (e *Encoder) WriteCommand(w io.Writer, payload []byte) error {
	off := 0
	total := len(payload)
	for {
		end := off + e.frameSize
		last := false
		if end >= total {
			end = total
			last = true
		}
		hdr := encodeHeader(!last, end-off)
		if _, err := w.Write(hdr[:]); err != nil {
			return err
		}
		if end > off {
			if _, err := w.Write(payload[off:end]); err != nil {
				return err
			}
		}
		if last {
			return nil
		}
		off = end
	}
}

// WriteKeepalive writes a single zero-length chunk with the continuation
// bit set: an inter-command keepalive that the decoder absorbs without
// ever treating it as a (partial) command.
func (e *Encoder) WriteKeepalive(w io.Writer) error {
	hdr := encodeHeader(true, 0)
	_, err := w.Write(hdr[:])
	return err
}
