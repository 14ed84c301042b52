// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package export implements the channel engine's export table (spec.md
// §4.6): a mapping from object-id to local object with reference counts,
// pinning, and diagnostic traces, plus a reverse mapping from object
// identity to oid for reuse.
package export

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// pinnedRefCount is added to an entry's refcount by Pin, well above any
// refcount reachable through ordinary export/unexport traffic, so an
// accidental extra unexport cannot reclaim a pinned object (spec.md §4.6).
const pinnedRefCount = 1 << 30

// PipeAborter is implemented by exported objects that need to observe
// channel-abort: spec.md §4.6's Abort "for every exported output-stream-
// like object, propagate cause to the peer reader (via EOF-with-error)".
type PipeAborter interface {
	AbortPipe(cause error)
}

// Entry is one row of the export table.
type Entry struct {
	OID          int64
	Object       any
	Interfaces   map[string]struct{}
	RefCount     int32
	CreatedStack error // captured via pkg/errors.Errorf at first export
	ReleasedAt   error // nil until refcount reaches zero
}

func (e *Entry) hasInterface(name string) bool {
	_, ok := e.Interfaces[name]
	return ok
}

// unexportLogEntry is a row of the ring log of recently-released oids, used
// to give a richer diagnostic when Get is asked for an oid that did exist
// but was since released (spec.md §4.6: "keeps a ring of the N most
// recently unexported entries and their release stacks").
type unexportLogEntry struct {
	oid          int64
	releasedAt   error
	callSiteNote string
}

// Table is the export table. The zero value is not usable; use New.
type Table struct {
	mu sync.Mutex

	byOID    map[int64]*Entry
	byObject map[any]int64

	nextOID int64

	unexportLog     []unexportLogEntry
	unexportLogSize int
	unexportLogHead int

	recordOriginTrace bool
}

// recorderKey is the context key under which an active *Recorder is stored,
// the explicit-context analogue of spec.md's "thread-local recording list"
// (Go has no implicit per-goroutine storage; recording scope is threaded
// through context.Context instead, per this module's ambient-stack
// conventions).
type recorderKey struct{}

// Recorder collects every entry exported while it is attached to a
// context; Entries returns them. Recorder has no release method of its
// own: it does not unexport the entries it has recorded.
type Recorder struct {
	mu      sync.Mutex
	entries []*Entry
}

// WithRecorder returns a context carrying rec as the active export
// recorder.
func WithRecorder(ctx context.Context, rec *Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, rec)
}

func recorderFrom(ctx context.Context) *Recorder {
	if ctx == nil {
		return nil
	}
	rec, _ := ctx.Value(recorderKey{}).(*Recorder)
	return rec
}

func (r *Recorder) record(e *Entry) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

// Entries returns a snapshot of the entries recorded so far.
func (r *Recorder) Entries() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Options configures a Table.
type Options struct {
	// UnexportLogSize bounds the ring of recently-released oids kept for
	// diagnostics. Default 1024, per spec.md §6.
	UnexportLogSize int
	// RecordOriginTrace toggles capturing a creation-stack on every
	// export; spec.md §6 notes disabling it is a large memory saving.
	// Default true.
	RecordOriginTrace bool
}

// New returns an empty Table. Object id 0 is reserved (spec.md §3: "id 0
// never appears in the table") and is never handed out by export.
func New(opts Options) *Table {
	size := opts.UnexportLogSize
	if size <= 0 {
		size = 1024
	}
	return &Table{
		byOID:             make(map[int64]*Entry),
		byObject:          make(map[any]int64),
		nextOID:           1,
		unexportLog:       make([]unexportLogEntry, 0, size),
		unexportLogSize:   size,
		recordOriginTrace: opts.RecordOriginTrace,
	}
}

// Export publishes obj under a new oid, or — if obj is already exported —
// merges interfaces into its advertised set and increments its refcount.
// obj must be comparable (spec.md models export identity as reference
// identity; in Go this means obj is typically a pointer or an interface
// wrapping one).
func (t *Table) Export(ctx context.Context, obj any, interfaces []string) (oid int64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byObject[obj]; ok {
		e := t.byOID[existing]
		for _, iface := range interfaces {
			e.Interfaces[iface] = struct{}{}
		}
		e.RefCount++
		recorderFrom(ctx).record(e)
		return existing, nil
	}

	oid = t.nextOID
	t.nextOID++

	ifaceSet := make(map[string]struct{}, len(interfaces))
	for _, iface := range interfaces {
		ifaceSet[iface] = struct{}{}
	}

	var created error
	if t.recordOriginTrace {
		created = errors.Errorf("export: %T exported as oid %d", obj, oid)
	}

	e := &Entry{
		OID:          oid,
		Object:       obj,
		Interfaces:   ifaceSet,
		RefCount:     1,
		CreatedStack: created,
	}
	t.byOID[oid] = e
	t.byObject[obj] = oid
	recorderFrom(ctx).record(e)
	return oid, nil
}

// ExportAt publishes obj at a caller-chosen, fixed oid (e.g. a reserved
// negative id for an internal well-known object such as a ping target),
// bypassing the auto-incrementing oid allocator. It is a no-op if oid is
// already occupied. The entry is pinned from creation since nothing in the
// normal export/unexport traffic should ever be able to reclaim a
// well-known internal oid.
func (t *Table) ExportAt(oid int64, obj any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byOID[oid]; ok {
		return
	}
	t.byOID[oid] = &Entry{
		OID:        oid,
		Object:     obj,
		Interfaces: map[string]struct{}{},
		RefCount:   pinnedRefCount,
	}
	t.byObject[obj] = oid
}

// ErrUnknownExport reports that an oid has no live entry. Err.Error()
// includes whatever diagnostic the unexport log can offer.
type ErrUnknownExport struct {
	OID  int64
	Note string
}

func (e *ErrUnknownExport) Error() string {
	if e.Note == "" {
		return fmt.Sprintf("export: oid %d is not exported", e.OID)
	}
	return fmt.Sprintf("export: oid %d is not exported (%s)", e.OID, e.Note)
}

// Get resolves oid to its exported object. If oid is unknown, the returned
// error names whether — and when — it was previously released, drawn from
// the unexport ring log.
func (t *Table) Get(oid int64) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.byOID[oid]; ok {
		return e.Object, nil
	}
	for _, le := range t.unexportLog {
		if le.oid == oid {
			return nil, &ErrUnknownExport{OID: oid, Note: "previously released: " + le.callSiteNote}
		}
	}
	return nil, &ErrUnknownExport{OID: oid}
}

// Unexport decrements oid's refcount, removing the entry and logging it
// when the count reaches zero. Unexporting an absent oid is a no-op
// (spec.md §4.6/§7: reordered teardown can legitimately produce double
// unexports; this must not be treated as fatal).
func (t *Table) Unexport(oid int64, callSite string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byOID[oid]
	if !ok {
		// Idempotent: may be a legitimate double-unexport, or an unexport
		// racing a never-completed export. Caller decides log severity.
		return
	}
	e.RefCount--
	if e.RefCount > 0 {
		return
	}
	e.ReleasedAt = errors.Errorf("export: oid %d released at %s", oid, callSite)
	delete(t.byOID, oid)
	delete(t.byObject, e.Object)
	t.appendUnexportLog(unexportLogEntry{oid: oid, releasedAt: e.ReleasedAt, callSiteNote: callSite})
}

func (t *Table) appendUnexportLog(le unexportLogEntry) {
	if len(t.unexportLog) < t.unexportLogSize {
		t.unexportLog = append(t.unexportLog, le)
		return
	}
	t.unexportLog[t.unexportLogHead] = le
	t.unexportLogHead = (t.unexportLogHead + 1) % t.unexportLogSize
}

// Pin forces obj's refcount well above any value reachable by ordinary
// export/unexport traffic, so an accidental over-release cannot reclaim
// it. Pin is a no-op if obj is not currently exported.
func (t *Table) Pin(obj any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	oid, ok := t.byObject[obj]
	if !ok {
		return
	}
	t.byOID[oid].RefCount += pinnedRefCount
}

// Abort propagates cause to every exported pipe-like object (anything
// implementing PipeAborter) and then clears the table, per spec.md §4.6.
func (t *Table) Abort(cause error) {
	t.mu.Lock()
	entries := make([]*Entry, 0, len(t.byOID))
	for _, e := range t.byOID {
		entries = append(entries, e)
	}
	t.byOID = make(map[int64]*Entry)
	t.byObject = make(map[any]int64)
	t.mu.Unlock()

	for _, e := range entries {
		if a, ok := e.Object.(PipeAborter); ok {
			a.AbortPipe(cause)
		}
	}
}

// Len reports the number of live entries, for metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byOID)
}
