package core

import (
	"fmt"
	"path/filepath"
	"testing"
)

// fakeWriter captures emitted entities in call order, for asserting on
// the assembler's strict node-then-way-then-relation emission (§4.7).
type fakeWriter struct {
	nodeIDs []int64
	wayIDs  []int64
	rels    []OutputRelation
}

func (w *fakeWriter) WriteNode(n OutputNode) error {
	w.nodeIDs = append(w.nodeIDs, n.ID)
	return nil
}

func (w *fakeWriter) WriteWay(wy OutputWay) error {
	w.wayIDs = append(w.wayIDs, wy.ID)
	return nil
}

func (w *fakeWriter) WriteRelation(r OutputRelation) error {
	w.rels = append(w.rels, r)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestAssemblerEmissionOrder(t *testing.T) {
	dir := setupTempDir(t)

	ssPath := filepath.Join(dir, "store.rseg")
	w, err := CreateWriter(ssPath)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	records := []SegmentRecord{
		{EdgeID: 0, BaseWayID: 10, SegIndex: 0, NodeRefs: []int64{3, 1}},
		{EdgeID: 1, BaseWayID: 20, SegIndex: 0, NodeRefs: []int64{1, 2}},
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	nw, err := NewNodeCacheWriter(dir)
	if err != nil {
		t.Fatalf("NewNodeCacheWriter: %v", err)
	}
	for _, id := range []int64{3, 1, 2} {
		if err := nw.Put(id, float64(id), float64(id), 0); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := nw.Finish(filepath.Join(dir, "nodes.bin")); err != nil {
		t.Fatalf("Finish nodes: %v", err)
	}

	ww, err := NewWayTagCacheWriter(dir, nil)
	if err != nil {
		t.Fatalf("NewWayTagCacheWriter: %v", err)
	}
	for _, wayID := range []int64{10, 20} {
		if err := ww.Put(wayID, map[string]string{"highway": "path"}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := ww.Finish(filepath.Join(dir, "way_tags.bin")); err != nil {
		t.Fatalf("Finish way tags: %v", err)
	}

	rw, err := NewRelationCacheWriter(filepath.Join(dir, "relations.txt"))
	if err != nil {
		t.Fatalf("NewRelationCacheWriter: %v", err)
	}
	rel := SourceRelation{
		ID:   1,
		Tags: map[string]string{"type": "route"},
		Members: []Member{
			{Type: MemberWay, Ref: 10},
			{Type: MemberWay, Ref: 20},
		},
	}
	if err := rw.Put(rel); err != nil {
		t.Fatalf("Put relation: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close relation cache: %v", err)
	}

	asm, err := NewAssembler(ssPath, dir, true, 1700000000)
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	defer asm.Close() // nolint:errcheck

	fw := &fakeWriter{}
	stats, err := asm.Assemble(fw)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if fmt.Sprint(fw.nodeIDs) != fmt.Sprint([]int64{1, 2, 3}) {
		t.Errorf("node order = %v, want ascending [1 2 3]", fw.nodeIDs)
	}
	if fmt.Sprint(fw.wayIDs) != fmt.Sprint([]int64{0, 1}) {
		t.Errorf("way ids = %v, want SS order [0 1]", fw.wayIDs)
	}
	if len(fw.rels) != 1 || len(fw.rels[0].Members) != 2 {
		t.Fatalf("rels = %+v", fw.rels)
	}
	if fw.rels[0].Members[0].Ref != 0 || fw.rels[0].Members[1].Ref != 1 {
		t.Errorf("rewritten relation members = %+v, want edge ids 0 then 1", fw.rels[0].Members)
	}

	if stats.NodesEmitted != 3 || stats.WaysEmitted != 2 || stats.RelationsEmitted != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestOpenCachesDetectsTextVariant(t *testing.T) {
	dir := setupTempDir(t)

	nw, err := NewTextNodeCacheWriter(filepath.Join(dir, "nodes.txt"))
	if err != nil {
		t.Fatalf("NewTextNodeCacheWriter: %v", err)
	}
	if err := nw.Put(1, 1, 1, 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := nw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ww, err := NewTextWayTagCacheWriter(filepath.Join(dir, "way_tags.txt"))
	if err != nil {
		t.Fatalf("NewTextWayTagCacheWriter: %v", err)
	}
	if err := ww.Put(1, map[string]string{"highway": "path"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := ww.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	nc, wc, err := OpenCaches(dir)
	if err != nil {
		t.Fatalf("OpenCaches: %v", err)
	}
	defer nc.Close() // nolint:errcheck
	defer wc.Close() // nolint:errcheck

	if _, ok := nc.Lookup(1); !ok {
		t.Errorf("text node cache lookup failed")
	}
	if _, ok := wc.Lookup(1); !ok {
		t.Errorf("text way-tag cache lookup failed")
	}
}

func TestOpenCachesMissingFiles(t *testing.T) {
	dir := setupTempDir(t)
	if _, _, err := OpenCaches(dir); err == nil {
		t.Errorf("OpenCaches on an empty dir should fail")
	}
}
