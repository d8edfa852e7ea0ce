package core

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Relation cache text format, §4.6: one block per relation —
//
//	RELATION <id>
//	TAG <k>=<v>        (zero or more)
//	MEMBER <type>,<ref>,<role>   (zero or more)
//	<blank line>
//
// k, v and role are escaped by replacing '\n' -> "\n", ',' -> "\,",
// '=' -> "\=" (literal two-character escape sequences), unescaped on read in
// reverse order. This format is diff-friendly for debugging; it is the only
// cache format with no binary counterpart (§9).

// escapeField escapes a field value for the relation cache's text format.
func escapeField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\n':
			b.WriteString(`\n`)
		case ',':
			b.WriteString(`\,`)
		case '=':
			b.WriteString(`\=`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// unescapeField reverses escapeField.
func unescapeField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case ',':
				b.WriteByte(',')
				i++
				continue
			case '=':
				b.WriteByte('=')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// cutEscaped splits s at the first occurrence of sep that is not itself
// part of an escape sequence produced by escapeField (i.e. not preceded by
// an unescaped backslash). Used to parse "k=v" and "type,ref,role" lines
// where k/v/role may themselves contain escaped separators.
func cutEscaped(s string, sep byte) (before, after string, found bool) {
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// RelationCacheWriter appends RouteRelations to relations.txt.
type RelationCacheWriter struct {
	f *os.File
	w *bufio.Writer
}

func NewRelationCacheWriter(path string) (*RelationCacheWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create relation cache %q: %w", path, err)
	}
	return &RelationCacheWriter{f: f, w: bufio.NewWriter(f)}, nil
}

// Put writes one relation's block.
func (w *RelationCacheWriter) Put(rel SourceRelation) error {
	if _, err := fmt.Fprintf(w.w, "RELATION %d\n", rel.ID); err != nil {
		return err
	}

	keys := make([]string, 0, len(rel.Tags))
	for k := range rel.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, err := fmt.Fprintf(w.w, "TAG %s=%s\n", escapeField(k), escapeField(rel.Tags[k])); err != nil {
			return err
		}
	}

	for _, m := range rel.Members {
		if _, err := fmt.Fprintf(w.w, "MEMBER %s,%d,%s\n", m.Type.String(), m.Ref, escapeField(m.Role)); err != nil {
			return err
		}
	}

	_, err := w.w.WriteString("\n")
	return err
}

func (w *RelationCacheWriter) Close() error {
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

// ReadRelationCache loads every relation block from path, preserving source
// order.
func ReadRelationCache(path string) ([]SourceRelation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open relation cache %q: %w", path, err)
	}
	defer f.Close() // nolint:errcheck

	var rels []SourceRelation
	var cur *SourceRelation

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)

	flush := func() {
		if cur != nil {
			rels = append(rels, *cur)
			cur = nil
		}
	}

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()

		switch {
		case line == "":
			flush()

		case strings.HasPrefix(line, "RELATION "):
			flush()
			idStr := strings.TrimPrefix(line, "RELATION ")
			id, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("relation cache %q line %d: bad id %q: %w", path, lineNo, idStr, err)
			}
			cur = &SourceRelation{ID: id, Tags: make(map[string]string)}

		case strings.HasPrefix(line, "TAG "):
			if cur == nil {
				return nil, fmt.Errorf("relation cache %q line %d: TAG before RELATION", path, lineNo)
			}
			body := strings.TrimPrefix(line, "TAG ")
			k, v, ok := cutEscaped(body, '=')
			if !ok {
				return nil, fmt.Errorf("relation cache %q line %d: malformed TAG %q", path, lineNo, body)
			}
			cur.Tags[unescapeField(k)] = unescapeField(v)

		case strings.HasPrefix(line, "MEMBER "):
			if cur == nil {
				return nil, fmt.Errorf("relation cache %q line %d: MEMBER before RELATION", path, lineNo)
			}
			body := strings.TrimPrefix(line, "MEMBER ")
			typStr, rest, ok := cutEscaped(body, ',')
			if !ok {
				return nil, fmt.Errorf("relation cache %q line %d: malformed MEMBER %q", path, lineNo, body)
			}
			refStr, roleStr, ok := cutEscaped(rest, ',')
			if !ok {
				return nil, fmt.Errorf("relation cache %q line %d: malformed MEMBER %q", path, lineNo, body)
			}
			typ, err := ParseMemberType(typStr)
			if err != nil {
				return nil, fmt.Errorf("relation cache %q line %d: %w", path, lineNo, err)
			}
			ref, err := strconv.ParseInt(refStr, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("relation cache %q line %d: bad ref %q: %w", path, lineNo, refStr, err)
			}
			cur.Members = append(cur.Members, Member{Type: typ, Ref: ref, Role: unescapeField(roleStr)})

		default:
			return nil, fmt.Errorf("relation cache %q line %d: unexpected line %q", path, lineNo, line)
		}
	}
	flush()

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan relation cache %q: %w", path, err)
	}

	return rels, nil
}
