package core

import (
	"path/filepath"
	"testing"
)

func TestRelationCacheRoundTrip(t *testing.T) {
	dir := setupTempDir(t)
	path := filepath.Join(dir, "relations.txt")

	rels := []SourceRelation{
		{
			ID:   1,
			Tags: map[string]string{"type": "route", "route": "bicycle", "name": "A=B, C\nroute"},
			Members: []Member{
				{Type: MemberWay, Ref: 100, Role: "forward"},
				{Type: MemberNode, Ref: 5, Role: ""},
				{Type: MemberWay, Ref: 200, Role: "backward"},
			},
		},
		{
			ID:      2,
			Tags:    map[string]string{"type": "route_master"},
			Members: []Member{{Type: MemberRelation, Ref: 1, Role: ""}},
		},
	}

	w, err := NewRelationCacheWriter(path)
	if err != nil {
		t.Fatalf("NewRelationCacheWriter: %v", err)
	}
	for _, rel := range rels {
		if err := w.Put(rel); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadRelationCache(path)
	if err != nil {
		t.Fatalf("ReadRelationCache: %v", err)
	}
	if len(got) != len(rels) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(rels))
	}

	if got[0].ID != 1 || got[0].Tags["name"] != "A=B, C\nroute" {
		t.Errorf("relation 0 = %+v", got[0])
	}
	if len(got[0].Members) != 3 {
		t.Fatalf("relation 0 has %d members, want 3", len(got[0].Members))
	}
	if got[0].Members[0].Type != MemberWay || got[0].Members[0].Ref != 100 || got[0].Members[0].Role != "forward" {
		t.Errorf("member 0 = %+v", got[0].Members[0])
	}
	if got[0].Members[1].Type != MemberNode || got[0].Members[1].Ref != 5 {
		t.Errorf("member 1 = %+v", got[0].Members[1])
	}

	if got[1].ID != 2 || got[1].Members[0].Type != MemberRelation {
		t.Errorf("relation 1 = %+v", got[1])
	}
}

func TestCutEscaped(t *testing.T) {
	cases := []struct {
		in      string
		sep     byte
		before  string
		after   string
		found   bool
	}{
		{`a=b`, '=', "a", "b", true},
		{`a\=b=c`, '=', `a\=b`, "c", true},
		{`noseparator`, '=', "noseparator", "", false},
		{`\,a,b`, ',', `\,a`, "b", true},
	}

	for _, c := range cases {
		before, after, found := cutEscaped(c.in, c.sep)
		if before != c.before || after != c.after || found != c.found {
			t.Errorf("cutEscaped(%q, %q) = (%q, %q, %v), want (%q, %q, %v)",
				c.in, c.sep, before, after, found, c.before, c.after, c.found)
		}
	}
}

func TestEscapeUnescapeFieldRoundTrip(t *testing.T) {
	vals := []string{"plain", "a=b", "a,b", "a\nb", `a\b`, ""}
	for _, v := range vals {
		got := unescapeField(escapeField(v))
		if got != v {
			t.Errorf("round trip of %q = %q", v, got)
		}
	}
}
