package core

import "sort"

// Rewriter expands WAY members of a route relation into the ordered
// segment-id list for their base way (§4.6). It is built once per run from
// the segment store and then applied to every relation read from the
// relation cache.
type Rewriter struct {
	byBaseWay map[int64][]SegmentRecord
}

// NewRewriter loads every record from ss, optionally filtering out
// barrier-flagged ones, groups them by BaseWayID, and sorts each group
// ascending by SegIndex.
func NewRewriter(ss *Reader, includeBarriers bool) (*Rewriter, error) {
	scanner, err := ss.Records()
	if err != nil {
		return nil, err
	}

	byBaseWay := make(map[int64][]SegmentRecord)
	for scanner.Scan() {
		rec := scanner.Record()
		if rec.IsBarrier() && !includeBarriers {
			continue
		}
		byBaseWay[rec.BaseWayID] = append(byBaseWay[rec.BaseWayID], rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for _, recs := range byBaseWay {
		sort.Slice(recs, func(i, j int) bool { return recs[i].SegIndex < recs[j].SegIndex })
	}

	return &Rewriter{byBaseWay: byBaseWay}, nil
}

// Rewrite returns a copy of rel with every WAY member whose ref is a known
// base way id replaced by one WAY member per segment (ref = edge id, in
// ascending seg_index order, role copied from the original member). WAY
// members with an unknown ref, and all NODE/RELATION members, pass through
// unchanged, preserving their relative order. rel.ID and rel.Tags are
// preserved as-is.
func (rw *Rewriter) Rewrite(rel SourceRelation) SourceRelation {
	out := SourceRelation{ID: rel.ID, Tags: rel.Tags}

	for _, m := range rel.Members {
		if m.Type != MemberWay {
			out.Members = append(out.Members, m)
			continue
		}

		segs, ok := rw.byBaseWay[m.Ref]
		if !ok {
			out.Members = append(out.Members, m)
			continue
		}

		for _, s := range segs {
			out.Members = append(out.Members, Member{Type: MemberWay, Ref: int64(s.EdgeID), Role: m.Role})
		}
	}

	return out
}
