// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rchannel

import (
	"bufio"
	"encoding/base64"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// preambleCapability opens a channel's handshake on both sides. Renamed
// from the string the project this channel engine was modeled on used, to
// fit this project; the bits it precedes are unchanged in meaning.
const preambleCapability = "<===[RCHANNEL CAPABILITY]===>"

// Capability bits, Base64-encoded inside the handshake preamble.
const (
	capMultiDomainRPC uint32 = 1 << iota
	capPipeThrottling
	capChunkedFraming
	capPrefetch
	capGreedyRemoteInputStreams
	capImprovedProxyWriter
	capProxyExceptionFallback
)

// Mode preambles for non-negotiating transports.
const (
	modeBinary = "BINARY"
	modeText   = "TEXT"
)

// ErrCapabilityMismatch is returned when a peer configured in a
// non-negotiating mode disagrees with the local mode.
var ErrCapabilityMismatch = errors.New("rchannel: capability mode mismatch")

// negotiate writes the local capability bitmask and mode preamble to w,
// then scans r for the peer's capability preamble (discarding any leading
// noise bytes some shells or bootstrap banners emit) followed by its
// bitmask and mode preamble. Returns the peer's advertised bitmask.
func negotiate(w io.Writer, r *bufio.Reader, localCaps uint32, forcedMode string) (uint32, error) {
	if err := writePreamble(w, localCaps); err != nil {
		return 0, errors.Wrap(err, "rchannel: writing capability preamble")
	}
	mode := modeBinary
	if forcedMode != "" {
		mode = forcedMode
	}
	if _, err := io.WriteString(w, mode+"\n"); err != nil {
		return 0, errors.Wrap(err, "rchannel: writing mode preamble")
	}

	if err := scanToPreamble(r); err != nil {
		return 0, err
	}
	peerCaps, err := readCapsLine(r)
	if err != nil {
		return 0, err
	}
	peerMode, err := readLine(r)
	if err != nil {
		return 0, errors.Wrap(err, "rchannel: reading peer mode preamble")
	}
	if forcedMode != "" && peerMode != forcedMode {
		return 0, ErrCapabilityMismatch
	}
	return peerCaps, nil
}

func writePreamble(w io.Writer, caps uint32) error {
	if _, err := io.WriteString(w, preambleCapability); err != nil {
		return err
	}
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], caps)
	enc := base64.StdEncoding.EncodeToString(raw[:])
	if _, err := io.WriteString(w, enc+"\n"); err != nil {
		return err
	}
	return nil
}

// scanToPreamble discards bytes from r until the capability preamble
// literal has been consumed, so banner noise emitted ahead of it by some
// bootstrap shells does not derail the handshake.
func scanToPreamble(r *bufio.Reader) error {
	target := []byte(preambleCapability)
	matched := 0
	for {
		b, err := r.ReadByte()
		if err != nil {
			return errors.Wrap(err, "rchannel: scanning for capability preamble")
		}
		if b == target[matched] {
			matched++
			if matched == len(target) {
				return nil
			}
			continue
		}
		// Partial match broke: restart, but the broken byte might itself
		// begin a new match (rare in practice for this literal).
		if b == target[0] {
			matched = 1
		} else {
			matched = 0
		}
	}
}

func readCapsLine(r *bufio.Reader) (uint32, error) {
	line, err := readLine(r)
	if err != nil {
		return 0, errors.Wrap(err, "rchannel: reading capability bitmask")
	}
	raw, err := base64.StdEncoding.DecodeString(line)
	if err != nil || len(raw) != 4 {
		return 0, errors.Wrap(ErrCapabilityMismatch, "rchannel: malformed capability bitmask")
	}
	return binary.BigEndian.Uint32(raw), nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	if len(line) > 0 && line[len(line)-1] == '\n' {
		line = line[:len(line)-1]
	}
	return line, nil
}
