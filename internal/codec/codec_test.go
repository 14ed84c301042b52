// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import (
	"bytes"
	"net/url"
	"testing"
)

type point struct{ X, Y int }

func TestGobCodec_RoundTrip(t *testing.T) {
	c := New(nil)
	in := point{X: 3, Y: 4}
	data, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var out point
	if err := c.Decode(data, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestGobCodec_ClassFilterRejects(t *testing.T) {
	c := New(func(name string) bool { return false })
	data, _ := New(nil).Encode(point{X: 1, Y: 2})
	var out point
	if err := c.Decode(data, &out); err == nil {
		t.Fatalf("expected class filter rejection")
	}
}

func TestSafeURL_RoundTripsLiteralText(t *testing.T) {
	in, err := url.Parse("https://example.com/a/b?x=1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	su := NewSafeURL(in)

	c := New(nil)
	data, err := c.Encode(su)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var out SafeURL
	if err := c.Decode(data, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, err := out.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.String() != in.String() {
		t.Fatalf("got %q, want %q", got.String(), in.String())
	}
}

func TestDomainWriterReader_RoundTripAndBackreference(t *testing.T) {
	w := NewDomainWriter()
	var buf bytes.Buffer

	if err := w.WriteTag(&buf, 42, TagExportedDomain); err != nil {
		t.Fatalf("WriteTag first use: %v", err)
	}
	if err := w.WriteTag(&buf, 42, TagExportedDomain); err != nil {
		t.Fatalf("WriteTag second use: %v", err)
	}
	if err := w.WriteTag(&buf, 0, TagSystemDomain); err != nil {
		t.Fatalf("WriteTag system: %v", err)
	}

	r := NewDomainReader()
	kind, id, err := r.ReadTag(&buf)
	if err != nil || kind != TagExportedDomain || id != 42 {
		t.Fatalf("first tag: kind=%v id=%v err=%v", kind, id, err)
	}
	kind, id, err = r.ReadTag(&buf)
	if err != nil || kind != TagExportedDomain || id != 42 {
		t.Fatalf("backreference tag: kind=%v id=%v err=%v", kind, id, err)
	}
	kind, _, err = r.ReadTag(&buf)
	if err != nil || kind != TagSystemDomain {
		t.Fatalf("system tag: kind=%v err=%v", kind, err)
	}
}

func TestDomainReader_UnknownBackreference(t *testing.T) {
	var buf bytes.Buffer
	w := NewDomainWriter()
	_ = w.WriteTag(&buf, 1, TagExportedDomain)
	// Manually forge a back-reference to an index never assigned.
	_ = writeVarint(&buf, 7)

	r := NewDomainReader()
	if _, _, err := r.ReadTag(&buf); err != nil {
		t.Fatalf("first tag should decode: %v", err)
	}
	if _, _, err := r.ReadTag(&buf); err != ErrUnknownDomain {
		t.Fatalf("got %v, want ErrUnknownDomain", err)
	}
}

func TestDomainWriter_ResetForgetsBackreferences(t *testing.T) {
	w := NewDomainWriter()
	var buf bytes.Buffer
	_ = w.WriteTag(&buf, 5, TagExportedDomain)
	w.Reset()
	buf.Reset()
	// After Reset, domain 5 must be re-announced (not referenced by index).
	if err := w.WriteTag(&buf, 5, TagExportedDomain); err != nil {
		t.Fatalf("WriteTag after reset: %v", err)
	}
	r := NewDomainReader()
	kind, id, err := r.ReadTag(&buf)
	if err != nil || kind != TagExportedDomain || id != 5 {
		t.Fatalf("kind=%v id=%v err=%v", kind, id, err)
	}
}
