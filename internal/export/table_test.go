// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package export

import (
	"context"
	"testing"
)

type dummy struct{ id int }

func TestExport_SameObjectReusesOIDAndMergesInterfaces(t *testing.T) {
	tbl := New(Options{})
	obj := &dummy{id: 1}

	oid1, err := tbl.Export(context.Background(), obj, []string{"A"})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	oid2, err := tbl.Export(context.Background(), obj, []string{"B"})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if oid1 != oid2 {
		t.Fatalf("expected same oid, got %d and %d", oid1, oid2)
	}

	tbl.mu.Lock()
	e := tbl.byOID[oid1]
	tbl.mu.Unlock()
	if e.RefCount != 2 {
		t.Fatalf("refcount = %d, want 2", e.RefCount)
	}
	if !e.hasInterface("A") || !e.hasInterface("B") {
		t.Fatalf("interfaces not merged: %v", e.Interfaces)
	}
}

func TestExport_OIDZeroNeverAssigned(t *testing.T) {
	tbl := New(Options{})
	oid, _ := tbl.Export(context.Background(), &dummy{}, nil)
	if oid == 0 {
		t.Fatalf("oid 0 was assigned")
	}
}

func TestUnexport_IdempotentDoubleUnexport(t *testing.T) {
	tbl := New(Options{})
	oid, _ := tbl.Export(context.Background(), &dummy{}, nil)
	tbl.Unexport(oid, "first")
	tbl.Unexport(oid, "second") // must not panic or error

	if _, err := tbl.Get(oid); err == nil {
		t.Fatalf("expected unknown-export error after unexport")
	}
}

func TestUnexport_OfAbsentOIDIsNotFatal(t *testing.T) {
	tbl := New(Options{})
	tbl.Unexport(999, "never existed") // must not panic
}

func TestExportThenUnexportThenReexport_OIDsMonotonicButEquivalent(t *testing.T) {
	tbl := New(Options{})
	obj := &dummy{id: 1}
	oid1, _ := tbl.Export(context.Background(), obj, []string{"A"})
	tbl.Unexport(oid1, "released")
	oid2, _ := tbl.Export(context.Background(), obj, []string{"A"})

	if oid2 == oid1 {
		t.Fatalf("oid not monotone: reused %d", oid1)
	}
	got, err := tbl.Get(oid2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != obj {
		t.Fatalf("got different object back")
	}
}

func TestGet_UnknownOIDReportsReleaseHistory(t *testing.T) {
	tbl := New(Options{})
	oid, _ := tbl.Export(context.Background(), &dummy{}, nil)
	tbl.Unexport(oid, "cleanup")

	_, err := tbl.Get(oid)
	if err == nil {
		t.Fatalf("expected error")
	}
	ue, ok := err.(*ErrUnknownExport)
	if !ok {
		t.Fatalf("got %T, want *ErrUnknownExport", err)
	}
	if ue.Note == "" {
		t.Fatalf("expected release diagnostic, got empty note")
	}
}

func TestPin_SurvivesAccidentalOverUnexport(t *testing.T) {
	tbl := New(Options{})
	obj := &dummy{}
	oid, _ := tbl.Export(context.Background(), obj, nil)
	tbl.Pin(obj)

	for i := 0; i < 5; i++ {
		tbl.Unexport(oid, "accidental")
	}
	if _, err := tbl.Get(oid); err != nil {
		t.Fatalf("pinned object was reclaimed: %v", err)
	}
}

type abortable struct {
	aborted bool
	cause   error
}

func (a *abortable) AbortPipe(cause error) {
	a.aborted = true
	a.cause = cause
}

func TestAbort_PropagatesCauseAndClearsTable(t *testing.T) {
	tbl := New(Options{})
	a := &abortable{}
	oid, _ := tbl.Export(context.Background(), a, nil)

	cause := context.Canceled
	tbl.Abort(cause)

	if !a.aborted || a.cause != cause {
		t.Fatalf("AbortPipe not invoked with cause")
	}
	if tbl.Len() != 0 {
		t.Fatalf("table not cleared after abort")
	}
	if _, err := tbl.Get(oid); err == nil {
		t.Fatalf("expected unknown-export after abort")
	}
}

func TestRecorder_CollectsExportsMadeWithinScope(t *testing.T) {
	tbl := New(Options{})
	rec := &Recorder{}
	ctx := WithRecorder(context.Background(), rec)

	_, _ = tbl.Export(ctx, &dummy{id: 1}, nil)
	_, _ = tbl.Export(ctx, &dummy{id: 2}, nil)
	_, _ = tbl.Export(context.Background(), &dummy{id: 3}, nil) // not recorded

	if len(rec.Entries()) != 2 {
		t.Fatalf("got %d recorded entries, want 2", len(rec.Entries()))
	}
}

func TestUnexportLog_RingBufferBounded(t *testing.T) {
	tbl := New(Options{UnexportLogSize: 2})
	var oids []int64
	for i := 0; i < 5; i++ {
		oid, _ := tbl.Export(context.Background(), &dummy{id: i}, nil)
		tbl.Unexport(oid, "cleanup")
		oids = append(oids, oid)
	}
	// Only the last 2 unexports should still be diagnosable with a release
	// note; earlier ones fall off the ring and report the plain message.
	_, err := tbl.Get(oids[len(oids)-1])
	ue, ok := err.(*ErrUnknownExport)
	if !ok || ue.Note == "" {
		t.Fatalf("most recent unexport should still be in the ring: %v", err)
	}
	_, err = tbl.Get(oids[0])
	if ue, ok := err.(*ErrUnknownExport); !ok || ue.Note != "" {
		t.Fatalf("oldest unexport should have fallen off the ring: %v", err)
	}
}
