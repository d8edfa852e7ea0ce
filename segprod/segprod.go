// Package segprod is the concrete segment producer wired into
// capture-segments. The core treats the producer as an out-of-scope
// collaborator, specified only by the paired pre/commit callback contract
// (core.SegmentSink); this package is the one implementation shipped with
// the CLI.
//
// It splits each way, whatever its tags, into segments at interior nodes tagged
// barrier=* (other than barrier=no), the routing convention a barrier flag
// on a segment is meant to capture. A way with no interior barrier node
// produces exactly one segment covering all of its nodes.
package segprod

import (
	"errors"
	"fmt"
	"io"

	"github.com/epokhe/osmseg/core"
)

// Run consumes reader to completion, driving sink with one pre/commit pair
// per derived segment, in strict FIFO order. It assumes reader yields nodes
// before the ways that reference them, which every standard PBF file
// satisfies.
func Run(reader core.PBFReader, sink core.SegmentSink) error {
	barrier := make(map[int64]bool)

	for {
		el, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("segprod: read element: %w", err)
		}

		switch el.Kind {
		case core.ElementNode:
			if isBarrier(el.Node.Tags) {
				barrier[el.Node.ID] = true
			}

		case core.ElementWay:
			if err := emitWay(sink, el.Way, barrier); err != nil {
				return fmt.Errorf("segprod: way %d: %w", el.Way.ID, err)
			}

		case core.ElementRelation:
			// relations never produce segments
		}
	}
}

func isBarrier(tags map[string]string) bool {
	v, ok := tags["barrier"]
	return ok && v != "" && v != "no"
}

// emitWay splits way.Nodes at interior barrier nodes (endpoints never split
// a way, since a barrier at either end doesn't interrupt travel along it)
// and emits one pre/commit pair per resulting segment, in ascending
// seg_index order. A segment is flagged as a barrier edge when it ends at a
// barrier node, i.e. the node that caused the split.
func emitWay(sink core.SegmentSink, way *core.SourceWay, barrier map[int64]bool) error {
	if len(way.Nodes) < 2 {
		return nil
	}

	var segIndex uint32
	start := 0
	for i := 1; i < len(way.Nodes)-1; i++ {
		if !barrier[way.Nodes[i]] {
			continue
		}
		if err := commitSegment(sink, way.ID, way.Nodes[start:i+1], segIndex, true); err != nil {
			return err
		}
		segIndex++
		start = i
	}

	return commitSegment(sink, way.ID, way.Nodes[start:], segIndex, false)
}

func commitSegment(sink core.SegmentSink, baseWayID int64, nodes []int64, segIndex uint32, isBarrier bool) error {
	if len(nodes) < 2 {
		return nil
	}

	if err := sink.Pre(core.SegmentPre{
		BaseWayID: baseWayID,
		NodeIDs:   append([]int64(nil), nodes...),
		SegIndex:  segIndex,
		IsBarrier: isBarrier,
	}); err != nil {
		return err
	}

	return sink.Commit()
}
