package core

import (
	"path/filepath"
	"testing"
)

func TestBuildDictionaryFrequencyOrder(t *testing.T) {
	samples := []map[string]string{}
	addN := func(n int, tags map[string]string) {
		for i := 0; i < n; i++ {
			samples = append(samples, tags)
		}
	}
	addN(80, map[string]string{"highway": "residential"})
	addN(40, map[string]string{"surface": "asphalt"})
	addN(1, map[string]string{"name": "Main"})

	dict := BuildDictionary(func(yield func(tags map[string]string) bool) {
		for _, s := range samples {
			if !yield(s) {
				return
			}
		}
	})

	if len(dict) != 3 {
		t.Fatalf("len(dict) = %d, want 3", len(dict))
	}
	if dict[0] != "highway=residential" {
		t.Errorf("dict[0] = %q, want highway=residential", dict[0])
	}
	if dict[1] != "surface=asphalt" {
		t.Errorf("dict[1] = %q, want surface=asphalt", dict[1])
	}
	if dict[2] != "name=Main" {
		t.Errorf("dict[2] = %q, want name=Main", dict[2])
	}
}

func TestWayTagCacheRoundTripWithDictionary(t *testing.T) {
	dir := setupTempDir(t)
	path := filepath.Join(dir, "way_tags.bin")

	dict := []string{"highway=residential", "surface=asphalt"}

	w, err := NewWayTagCacheWriter(dir, dict)
	if err != nil {
		t.Fatalf("NewWayTagCacheWriter: %v", err)
	}
	tags := map[string]string{"highway": "residential", "surface": "asphalt", "name": "Main"}
	if err := w.Put(42, tags); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Finish(path); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	rc, err := OpenWayTagCache(path)
	if err != nil {
		t.Fatalf("OpenWayTagCache: %v", err)
	}
	defer rc.Close() // nolint:errcheck

	got, ok := rc.Lookup(42)
	if !ok {
		t.Fatalf("Lookup(42) not found")
	}
	if len(got) != 3 || got["highway"] != "residential" || got["surface"] != "asphalt" || got["name"] != "Main" {
		t.Errorf("Lookup(42) = %v, want %v", got, tags)
	}

	if _, ok := rc.Lookup(99); ok {
		t.Errorf("Lookup(99) found, want not found")
	}
}

func TestWayTagCacheRoundTripNoDictionary(t *testing.T) {
	dir := setupTempDir(t)
	path := filepath.Join(dir, "way_tags.bin")

	w, err := NewWayTagCacheWriter(dir, nil)
	if err != nil {
		t.Fatalf("NewWayTagCacheWriter: %v", err)
	}
	if err := w.Put(1, map[string]string{"highway": "path"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Finish(path); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	rc, err := OpenWayTagCache(path)
	if err != nil {
		t.Fatalf("OpenWayTagCache: %v", err)
	}
	defer rc.Close() // nolint:errcheck

	got, ok := rc.Lookup(1)
	if !ok || got["highway"] != "path" {
		t.Errorf("Lookup(1) = %v, ok=%v", got, ok)
	}
}

func TestFilterWhitelist(t *testing.T) {
	in := map[string]string{"highway": "residential", "name": "Main", "addr:city": "X"}
	out := FilterWhitelist(in)

	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2: %v", len(out), out)
	}
	if out["highway"] != "residential" || out["name"] != "Main" {
		t.Errorf("out = %v", out)
	}
	if _, ok := out["addr:city"]; ok {
		t.Errorf("addr:city should have been filtered out")
	}
}

func TestTextWayTagCacheEscapedSeparators(t *testing.T) {
	dir := setupTempDir(t)
	path := filepath.Join(dir, "way_tags.txt")

	w, err := NewTextWayTagCacheWriter(path)
	if err != nil {
		t.Fatalf("NewTextWayTagCacheWriter: %v", err)
	}
	tags := map[string]string{"name": "A=B, C"}
	if err := w.Put(7, tags); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rc, err := OpenTextWayTagCache(path)
	if err != nil {
		t.Fatalf("OpenTextWayTagCache: %v", err)
	}

	got, ok := rc.Lookup(7)
	if !ok {
		t.Fatalf("Lookup(7) not found")
	}
	if got["name"] != "A=B, C" {
		t.Errorf("got[name] = %q, want %q", got["name"], "A=B, C")
	}
}
