package core

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestSegmentStoreEmpty(t *testing.T) {
	dir := setupTempDir(t)
	path := filepath.Join(dir, "empty.rseg")

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	if r.RecordCount() != 0 {
		t.Errorf("RecordCount = %d, want 0", r.RecordCount())
	}

	scanner, err := r.Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if scanner.Scan() {
		t.Errorf("Scan returned true on an empty store")
	}
	if err := scanner.Err(); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}

	ir, err := OpenIndexed(path)
	if err != nil {
		t.Fatalf("OpenIndexed: %v", err)
	}
	defer ir.Close() // nolint:errcheck
	if _, err := ir.ByEdgeID(0); !errors.Is(err, ErrNotFound) {
		t.Errorf("ByEdgeID(0) = %v, want ErrNotFound", err)
	}
}

func TestSegmentStoreRoundTrip(t *testing.T) {
	dir := setupTempDir(t)
	path := filepath.Join(dir, "rt.rseg")

	records := []SegmentRecord{
		{EdgeID: 0, BaseWayID: 100, SegIndex: 0, NodeRefs: []int64{1, 2, 3}},
		{EdgeID: 1, BaseWayID: 100, SegIndex: 1, Flags: FlagBarrier, NodeRefs: []int64{3, 4, 5, 6}},
		{EdgeID: 2, BaseWayID: 200, SegIndex: 0, NodeRefs: []int64{7, 8}},
	}

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if w.Count() != uint32(len(records)) {
		t.Errorf("Count = %d, want %d", w.Count(), len(records))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := w.Write(records[0]); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Write after Close = %v, want ErrStoreClosed", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	if r.RecordCount() != uint32(len(records)) {
		t.Errorf("RecordCount = %d, want %d", r.RecordCount(), len(records))
	}

	scanner, err := r.Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	var got []SegmentRecord
	for scanner.Scan() {
		got = append(got, scanner.Record())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
	for i, rec := range records {
		if got[i].EdgeID != rec.EdgeID || got[i].BaseWayID != rec.BaseWayID ||
			got[i].SegIndex != rec.SegIndex || got[i].Flags != rec.Flags {
			t.Errorf("record %d = %+v, want %+v", i, got[i], rec)
		}
		if len(got[i].NodeRefs) != len(rec.NodeRefs) {
			t.Errorf("record %d node_refs = %v, want %v", i, got[i].NodeRefs, rec.NodeRefs)
			continue
		}
		for j := range rec.NodeRefs {
			if got[i].NodeRefs[j] != rec.NodeRefs[j] {
				t.Errorf("record %d node_refs[%d] = %d, want %d", i, j, got[i].NodeRefs[j], rec.NodeRefs[j])
			}
		}
	}

	if !records[1].IsBarrier() {
		t.Errorf("record 1 should be flagged as barrier")
	}

	ir, err := OpenIndexed(path)
	if err != nil {
		t.Fatalf("OpenIndexed: %v", err)
	}
	defer ir.Close() // nolint:errcheck

	rec, err := ir.ByEdgeID(1)
	if err != nil {
		t.Fatalf("ByEdgeID(1): %v", err)
	}
	if rec.BaseWayID != 100 || rec.SegIndex != 1 {
		t.Errorf("ByEdgeID(1) = %+v, want base_way=100 seg_index=1", rec)
	}

	if _, err := ir.ByEdgeID(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("ByEdgeID(99) = %v, want ErrNotFound", err)
	}
}

func TestSegmentStoreBadMagic(t *testing.T) {
	dir := setupTempDir(t)
	path := filepath.Join(dir, "bad.rseg")

	if err := writeFile(path, []byte("XXXX\x01\x00\x00\x00\x00")); err != nil {
		t.Fatalf("writeFile: %v", err)
	}

	if _, err := OpenReader(path); !errors.Is(err, ErrBadMagic) {
		t.Errorf("OpenReader = %v, want ErrBadMagic", err)
	}
}

func TestSegmentStoreUnsupportedVersion(t *testing.T) {
	dir := setupTempDir(t)
	path := filepath.Join(dir, "ver.rseg")

	if err := writeFile(path, []byte("RSEG\x02\x00\x00\x00\x00")); err != nil {
		t.Fatalf("writeFile: %v", err)
	}

	if _, err := OpenReader(path); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("OpenReader = %v, want ErrUnsupportedVersion", err)
	}
}

func TestSegmentRecordRejectsSingleNode(t *testing.T) {
	dir := setupTempDir(t)
	path := filepath.Join(dir, "single.rseg")

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	defer w.Close() // nolint:errcheck

	if err := w.Write(SegmentRecord{BaseWayID: 1, NodeRefs: []int64{1}}); err == nil {
		t.Errorf("Write with a single node_ref should fail")
	}
}
