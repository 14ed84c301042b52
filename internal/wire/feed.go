// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

// FeedDecoder reassembles chunks into whole command payloads from
// arbitrarily-sliced buffers handed in by the caller — suitable for
// event-driven I/O (spec.md §4.2's "buffer-based transport") where a single
// Receive(buffer) call may carry less than one chunk, more than one chunk,
// or a chunk boundary straddling two calls.
//
// FeedDecoder must be driven from one goroutine at a time; Feed is not
// reentrant on the same instance.
type FeedDecoder struct {
	dec *Decoder
	br  *bufferReader
}

// NewFeedDecoder returns a FeedDecoder. maxLen caps the reassembled command
// size; 0 means unlimited.
func NewFeedDecoder(maxLen int) *FeedDecoder {
	br := &bufferReader{}
	return &FeedDecoder{dec: NewDecoder(maxLen), br: br}
}

// Feed appends p to the decoder's input and returns every whole command
// payload that could be reassembled from the input seen so far (including
// earlier Feed calls). It never blocks.
func (f *FeedDecoder) Feed(p []byte) ([][]byte, error) {
	f.br.fill(p)

	var out [][]byte
	for {
		cmd, err := f.dec.ReadFrom(f.br)
		if err != nil {
			if err == errNeedMore {
				return out, nil
			}
			return out, err
		}
		out = append(out, cmd)
	}
}

// bufferReader is a minimal io.Reader adapter that accumulates bytes handed
// to it across Feed calls and reports errNeedMore once its buffered bytes
// are exhausted, instead of blocking.
//
// Decoder.ReadFrom calls Read directly against this reader. To avoid
// Decoder observing a false io.EOF (which would permanently reset
// in-progress state), bufferReader returns errNeedMore, and FeedDecoder
// treats that as "pause here, resume on the next Feed call" by keeping the
// Decoder's state (hdrOff/need/body) untouched until more bytes arrive.
type bufferReader struct {
	buf []byte
	off int
}

func (b *bufferReader) fill(p []byte) {
	if b.off == len(b.buf) {
		b.buf = b.buf[:0]
		b.off = 0
	} else if b.off > 0 {
		b.buf = append(b.buf[:0], b.buf[b.off:]...)
		b.off = 0
	}
	b.buf = append(b.buf, p...)
}

func (b *bufferReader) Read(p []byte) (int, error) {
	if b.off >= len(b.buf) {
		return 0, errNeedMore
	}
	n := copy(p, b.buf[b.off:])
	b.off += n
	return n, nil
}

var errNeedMore = errNeedMoreErr{}

type errNeedMoreErr struct{}

func (errNeedMoreErr) Error() string { return "wire: need more input" }
