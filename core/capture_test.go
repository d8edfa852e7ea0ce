package core

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestCaptureTwoSegmentWay(t *testing.T) {
	dir := setupTempDir(t)
	path := filepath.Join(dir, "store.rseg")

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}

	cp := NewCapture(w)

	if err := cp.Pre(SegmentPre{BaseWayID: 100, NodeIDs: []int64{1, 2, 3}, SegIndex: 0}); err != nil {
		t.Fatalf("Pre: %v", err)
	}
	if err := cp.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := cp.Pre(SegmentPre{BaseWayID: 100, NodeIDs: []int64{3, 4, 5, 6}, SegIndex: 1}); err != nil {
		t.Fatalf("Pre: %v", err)
	}
	if err := cp.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if cp.EdgeCount() != 2 {
		t.Errorf("EdgeCount = %d, want 2", cp.EdgeCount())
	}
	if err := cp.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	if r.RecordCount() != 2 {
		t.Fatalf("RecordCount = %d, want 2", r.RecordCount())
	}

	scanner, err := r.Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	var ids []uint32
	for scanner.Scan() {
		ids = append(ids, scanner.Record().EdgeID)
	}
	if len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Errorf("edge ids = %v, want [0 1] in order", ids)
	}
}

func TestCaptureCommitWithoutPreIsFatal(t *testing.T) {
	dir := setupTempDir(t)
	w, err := CreateWriter(filepath.Join(dir, "store.rseg"))
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	defer w.Close() // nolint:errcheck

	cp := NewCapture(w)
	if err := cp.Commit(); !errors.Is(err, ErrFIFOMismatch) {
		t.Errorf("Commit with nothing pending = %v, want ErrFIFOMismatch", err)
	}
}

func TestCaptureFinishWithPendingIsFatal(t *testing.T) {
	dir := setupTempDir(t)
	w, err := CreateWriter(filepath.Join(dir, "store.rseg"))
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}

	cp := NewCapture(w)
	if err := cp.Pre(SegmentPre{BaseWayID: 1, NodeIDs: []int64{1, 2}}); err != nil {
		t.Fatalf("Pre: %v", err)
	}

	if err := cp.Finish(); !errors.Is(err, ErrFIFOMismatch) {
		t.Errorf("Finish with pending segment = %v, want ErrFIFOMismatch", err)
	}
}
