// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// DomainTag identifies how the receiver should resolve the domain a value
// travelling on the wire belongs to, per spec.md §4.4/§6. Tag bytes are
// negative so they never collide with a non-negative back-reference index.
type DomainTag int8

const (
	// TagSystemDomain means the value belongs to the well-known system
	// domain available on both peers without negotiation.
	TagSystemDomain DomainTag = -3
	// TagLocalDomain(oid) means: this is the receiver's own domain,
	// previously exported by the receiver to this peer; use the local
	// domain identified by oid.
	TagLocalDomain DomainTag = -2
	// TagExportedDomain(oid) means: the sender exports its domain via the
	// export table (oid) so the receiver can resolve types from it on
	// demand.
	TagExportedDomain DomainTag = -1
)

// ErrUnknownDomain reports a back-reference index with no matching entry in
// the per-stream domain table.
var ErrUnknownDomain = errors.New("codec: unknown domain back-reference")

// Resolver resolves a type name within a specific source domain. A domain
// is addressed by an integer id; Resolver is the pluggable hook spec.md §9
// calls for in place of exporting classloader primitives.
type Resolver interface {
	ResolveType(domainID int64, typeName string) (any, error)
}

// DomainWriter assigns back-reference indices to domains as they are first
// used on an outgoing stream, exactly mirroring spec.md §4.4's "back-
// reference index for a classloader already seen earlier in the same
// stream".
type DomainWriter struct {
	seen map[int64]int32
	next int32
}

// NewDomainWriter returns an empty DomainWriter. Callers create one per
// outgoing command stream and call Reset when already-written objects are
// to be forgotten; none of the transports in this module hold a
// DomainWriter or call Reset.
func NewDomainWriter() *DomainWriter {
	return &DomainWriter{seen: make(map[int64]int32)}
}

// Reset forgets every previously-assigned back-reference, mirroring the
// transport's "forget already-written objects" directive on non-final
// writes.
func (w *DomainWriter) Reset() {
	w.seen = make(map[int64]int32)
	w.next = 0
}

// WriteTag writes the domain tag for domainID, choosing TagExportedDomain
// on first use and a back-reference index thereafter. kind selects between
// TagSystemDomain, TagLocalDomain, and TagExportedDomain for a first use;
// pass TagExportedDomain for ordinary exported-domain tagging.
func (w *DomainWriter) WriteTag(out io.Writer, domainID int64, kind DomainTag) error {
	if kind == TagSystemDomain {
		return writeVarint(out, int64(TagSystemDomain))
	}
	if idx, ok := w.seen[domainID]; ok {
		return writeVarint(out, int64(idx))
	}
	w.seen[domainID] = w.next
	w.next++
	if err := writeVarint(out, int64(kind)); err != nil {
		return err
	}
	return writeVarint(out, domainID)
}

// DomainReader mirrors DomainWriter on the decode side: back-reference
// index -> domain id, built up as tags are observed.
type DomainReader struct {
	byIndex []int64
}

// NewDomainReader returns an empty DomainReader.
func NewDomainReader() *DomainReader {
	return &DomainReader{}
}

// Reset forgets every previously-observed domain, mirroring DomainWriter's
// Reset on the decode side of a non-final write.
func (r *DomainReader) Reset() {
	r.byIndex = r.byIndex[:0]
}

// ReadTag reads one domain tag, returning its kind and the domain id (0 for
// TagSystemDomain, which carries no id).
func (r *DomainReader) ReadTag(in io.Reader) (kind DomainTag, domainID int64, err error) {
	sel, err := readVarint(in)
	if err != nil {
		return 0, 0, err
	}
	switch DomainTag(sel) {
	case TagSystemDomain:
		return TagSystemDomain, 0, nil
	case TagLocalDomain, TagExportedDomain:
		tag := DomainTag(sel)
		id, err := readVarint(in)
		if err != nil {
			return 0, 0, err
		}
		r.byIndex = append(r.byIndex, id)
		return tag, id, nil
	default:
		if sel < 0 || int(sel) >= len(r.byIndex) {
			return 0, 0, ErrUnknownDomain
		}
		return TagExportedDomain, r.byIndex[sel], nil
	}
}

func writeVarint(w io.Writer, v int64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

func readVarint(r io.Reader) (int64, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &oneByteReader{r: r}
	}
	return binary.ReadVarint(br)
}

// oneByteReader adapts an io.Reader without ReadByte to io.ByteReader.
type oneByteReader struct{ r io.Reader }

func (o *oneByteReader) ReadByte() (byte, error) {
	var b [1]byte
	_, err := io.ReadFull(o.r, b[:])
	return b[0], err
}
