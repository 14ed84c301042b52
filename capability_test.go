// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rchannel

import (
	"bufio"
	"bytes"
	"testing"
)

func TestNegotiate_RoundTrip(t *testing.T) {
	var toPeer bytes.Buffer
	peerCaps := capMultiDomainRPC | capPipeThrottling

	// Write what a peer's negotiate() would have produced onto the read
	// side, and capture what ours writes onto toPeer.
	var peerWire bytes.Buffer
	if err := writePreamble(&peerWire, peerCaps); err != nil {
		t.Fatalf("writePreamble: %v", err)
	}
	peerWire.WriteString(modeBinary + "\n")

	got, err := negotiate(&toPeer, bufio.NewReader(&peerWire), capChunkedFraming, "")
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if got != peerCaps {
		t.Fatalf("negotiate returned %#x, want %#x", got, peerCaps)
	}
	if !bytes.Contains(toPeer.Bytes(), []byte(preambleCapability)) {
		t.Fatal("our own preamble was not written")
	}
}

func TestNegotiate_DiscardsLeadingNoise(t *testing.T) {
	var peerWire bytes.Buffer
	peerWire.WriteString("some bootstrap banner\r\nmore noise\n")
	if err := writePreamble(&peerWire, capMultiDomainRPC); err != nil {
		t.Fatalf("writePreamble: %v", err)
	}
	peerWire.WriteString(modeBinary + "\n")

	var toPeer bytes.Buffer
	got, err := negotiate(&toPeer, bufio.NewReader(&peerWire), 0, "")
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if got != capMultiDomainRPC {
		t.Fatalf("negotiate returned %#x, want %#x", got, capMultiDomainRPC)
	}
}

func TestNegotiate_ModeMismatch(t *testing.T) {
	var peerWire bytes.Buffer
	if err := writePreamble(&peerWire, 0); err != nil {
		t.Fatalf("writePreamble: %v", err)
	}
	peerWire.WriteString(modeText + "\n")

	var toPeer bytes.Buffer
	_, err := negotiate(&toPeer, bufio.NewReader(&peerWire), 0, modeBinary)
	if err != ErrCapabilityMismatch {
		t.Fatalf("negotiate: got %v, want ErrCapabilityMismatch", err)
	}
}

func TestScanToPreamble_PartialMatchRestarts(t *testing.T) {
	// A prefix of the preamble appears mid-noise before the real preamble;
	// scanToPreamble must not stop on the false partial match.
	noise := preambleCapability[:5] + "XYZ" + preambleCapability
	r := bufio.NewReader(bytes.NewReader([]byte(noise + "restofline\n")))
	if err := scanToPreamble(r); err != nil {
		t.Fatalf("scanToPreamble: %v", err)
	}
	rest, _ := r.ReadString('\n')
	if rest != "restofline\n" {
		t.Fatalf("scanToPreamble left %q, want %q", rest, "restofline\n")
	}
}
