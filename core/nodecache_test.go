package core

import (
	"math"
	"path/filepath"
	"testing"
)

func TestBinaryNodeCacheRoundTrip(t *testing.T) {
	dir := setupTempDir(t)
	path := filepath.Join(dir, "nodes.bin")

	w, err := NewNodeCacheWriter(dir)
	if err != nil {
		t.Fatalf("NewNodeCacheWriter: %v", err)
	}
	if err := w.Put(1, 10.5, 20.25, math.NaN()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Put(2, -5.0, 100.0, 12.5); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if w.Count() != 2 {
		t.Errorf("Count = %d, want 2", w.Count())
	}
	if err := w.Finish(path); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	rc, err := OpenNodeCache(path)
	if err != nil {
		t.Fatalf("OpenNodeCache: %v", err)
	}
	defer rc.Close() // nolint:errcheck

	p1, ok := rc.Lookup(1)
	if !ok {
		t.Fatalf("Lookup(1) not found")
	}
	if p1.Lat != 10.5 || p1.Lon != 20.25 || !math.IsNaN(p1.Ele) {
		t.Errorf("Lookup(1) = %+v, want lat=10.5 lon=20.25 ele=NaN", p1)
	}

	p2, ok := rc.Lookup(2)
	if !ok {
		t.Fatalf("Lookup(2) not found")
	}
	if p2.Lat != -5.0 || p2.Lon != 100.0 || p2.Ele != 12.5 {
		t.Errorf("Lookup(2) = %+v, want lat=-5 lon=100 ele=12.5", p2)
	}

	if _, ok := rc.Lookup(3); ok {
		t.Errorf("Lookup(3) found, want not found")
	}

	if stats := rc.Stats(); stats.Entries != 2 {
		t.Errorf("Stats().Entries = %d, want 2", stats.Entries)
	}
}

func TestTextNodeCacheRoundTrip(t *testing.T) {
	dir := setupTempDir(t)
	path := filepath.Join(dir, "nodes.txt")

	w, err := NewTextNodeCacheWriter(path)
	if err != nil {
		t.Fatalf("NewTextNodeCacheWriter: %v", err)
	}
	if err := w.Put(1, 1.5, 2.5, math.NaN()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Put(2, 3.5, 4.5, 9.0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rc, err := OpenTextNodeCache(path)
	if err != nil {
		t.Fatalf("OpenTextNodeCache: %v", err)
	}

	p1, ok := rc.Lookup(1)
	if !ok || p1.Lat != 1.5 || p1.Lon != 2.5 || !math.IsNaN(p1.Ele) {
		t.Errorf("Lookup(1) = %+v, ok=%v", p1, ok)
	}
	p2, ok := rc.Lookup(2)
	if !ok || p2.Lat != 3.5 || p2.Lon != 4.5 || p2.Ele != 9.0 {
		t.Errorf("Lookup(2) = %+v, ok=%v", p2, ok)
	}
}

func TestOpenNodeCacheBadMagic(t *testing.T) {
	dir := setupTempDir(t)
	path := filepath.Join(dir, "bad.bin")
	if err := writeFile(path, []byte("XXXX\x01\x00\x00\x00\x00")); err != nil {
		t.Fatalf("writeFile: %v", err)
	}

	if _, err := OpenNodeCache(path); err == nil {
		t.Errorf("OpenNodeCache should fail on bad magic")
	}
}
