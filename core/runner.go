package core

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
)

// RunCapture drives an external segment producer, assigning edge ids and
// writing the segment store to segPath, per §4.2 and the capture-segments
// CLI surface (§6). produce is handed the opaque SegmentSink and must call
// Pre/Commit in strict 1:1 order for each segment it derives from its own
// input; RunCapture itself never inspects OSM elements.
func RunCapture(segPath string, produce func(SegmentSink) error) error {
	w, err := CreateWriter(segPath)
	if err != nil {
		return err
	}

	sink := NewCapture(w)
	if err := produce(sink); err != nil {
		_ = w.Close()
		return fmt.Errorf("capture: %w", err)
	}

	return sink.Finish()
}

// ExtractOptions controls the extract stage's behavior (§6's
// --optimized/--build-dictionary flags).
type ExtractOptions struct {
	Optimized      bool
	BuildDictionary bool
	WorkDir        string
	ChunkSize      int
}

// ExtractStats summarizes one extract run.
type ExtractStats struct {
	NodesWritten     int
	WaysWritten      int
	RelationsWritten int
}

// RunExtract scans segPath for needed node/way ids, then makes one pass over
// reader, writing the node cache, way-tag cache and relation cache into
// cacheDir (§4.3-4.6). With opts.BuildDictionary, a sampling pass over
// reader comes first and the main pass runs on the reader returned by its
// Reopen method. When opts.Optimized is false, the legacy text caches
// are written instead of the binary ones, matching the "implementations may
// drop the binary formats" allowance in §9 read in reverse: both variants
// are always supported, selected here by flag.
func RunExtract(segPath, cacheDir string, reader PBFReader, opts ExtractOptions) (ExtractStats, error) {
	var stats ExtractStats

	needed, err := ExtractNeededIDs(segPath, opts.WorkDir, opts.ChunkSize)
	if err != nil {
		return stats, fmt.Errorf("extract needed ids: %w", err)
	}

	var dict []string
	if opts.BuildDictionary {
		qualifying, err := collectQualifyingWayTags(reader, needed.WayIDs)
		if err != nil {
			return stats, fmt.Errorf("sample way tags for dictionary: %w", err)
		}
		dict = BuildDictionary(func(yield func(tags map[string]string) bool) {
			for _, t := range qualifying {
				if !yield(t) {
					return
				}
			}
		})

		reader, err = reopenForSecondPass(reader)
		if err != nil {
			return stats, fmt.Errorf("rewind reader after dictionary sampling: %w", err)
		}
	}

	nodeWriter, wayWriter, relWriter, closeWriters, err := openCacheWriters(cacheDir, opts.Optimized, dict)
	if err != nil {
		return stats, err
	}

	for {
		el, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			_ = closeWriters()
			return stats, fmt.Errorf("read source pbf: %w", err)
		}

		switch el.Kind {
		case ElementNode:
			if !ContainsID(needed.NodeIDs, el.Node.ID) {
				continue
			}
			if err := nodeWriter.Put(el.Node.ID, el.Node.Lat, el.Node.Lon, el.Node.Ele); err != nil {
				_ = closeWriters()
				return stats, err
			}
			stats.NodesWritten++

		case ElementWay:
			if !ContainsID(needed.WayIDs, el.Way.ID) {
				continue
			}
			tags := FilterWhitelist(el.Way.Tags)
			if err := wayWriter.Put(el.Way.ID, tags); err != nil {
				_ = closeWriters()
				return stats, err
			}
			stats.WaysWritten++

		case ElementRelation:
			if !isRouteRelation(el.Relation.Tags) {
				continue
			}
			if err := relWriter.Put(*el.Relation); err != nil {
				_ = closeWriters()
				return stats, err
			}
			stats.RelationsWritten++
		}
	}

	if err := closeWriters(); err != nil {
		return stats, err
	}

	return stats, nil
}

func isRouteRelation(tags map[string]string) bool {
	t := tags["type"]
	return t == "route" || t == "route_master"
}

// collectQualifyingWayTags makes a pass over reader collecting whitelisted
// tags for ways in wayIDs, for the dictionary-building pre-pass (§4.5).
func collectQualifyingWayTags(reader PBFReader, wayIDs []int64) ([]map[string]string, error) {
	var out []map[string]string
	for {
		el, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if el.Kind != ElementWay {
			continue
		}
		if !ContainsID(wayIDs, el.Way.ID) {
			continue
		}
		out = append(out, FilterWhitelist(el.Way.Tags))
	}
	return out, nil
}

// reopenForSecondPass rewinds reader for the main extract pass after
// dictionary sampling has consumed it once. PBFReader is forward-only
// (§1), so a rewindable reader must implement Reopen; any reader that
// doesn't is rejected with a clear error rather than silently resuming
// mid-stream.
func reopenForSecondPass(reader PBFReader) (PBFReader, error) {
	r, ok := reader.(interface{ Reopen() (PBFReader, error) })
	if !ok {
		return nil, fmt.Errorf("%w: reader does not support a second pass required by --build-dictionary", ErrUnsupportedOperation)
	}
	return r.Reopen()
}

func openCacheWriters(cacheDir string, optimized bool, dict []string) (
	nodeWriter interface {
		Put(id int64, lat, lon, ele float64) error
	},
	wayWriter interface {
		Put(wayID int64, tags map[string]string) error
	},
	relWriter *RelationCacheWriter,
	closeAll func() error,
	rerr error,
) {
	if optimized {
		nw, err := NewNodeCacheWriter(cacheDir)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		ww, err := NewWayTagCacheWriter(cacheDir, dict)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		rw, err := NewRelationCacheWriter(cacheDirFile(cacheDir, "relations.txt"))
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return nw, ww, rw, func() error {
			if err := nw.Finish(cacheDirFile(cacheDir, "nodes.bin")); err != nil {
				return err
			}
			if err := ww.Finish(cacheDirFile(cacheDir, "way_tags.bin")); err != nil {
				return err
			}
			return rw.Close()
		}, nil
	}

	nw, err := NewTextNodeCacheWriter(cacheDirFile(cacheDir, "nodes.txt"))
	if err != nil {
		return nil, nil, nil, nil, err
	}
	ww, err := NewTextWayTagCacheWriter(cacheDirFile(cacheDir, "way_tags.txt"))
	if err != nil {
		return nil, nil, nil, nil, err
	}
	rw, err := NewRelationCacheWriter(cacheDirFile(cacheDir, "relations.txt"))
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return nw, ww, rw, func() error {
		if err := nw.Close(); err != nil {
			return err
		}
		if err := ww.Close(); err != nil {
			return err
		}
		return rw.Close()
	}, nil
}

func cacheDirFile(dir, name string) string {
	return dir + string(os.PathSeparator) + name
}

// RunAssemble is the stage driver behind build-derived-pbf (§6): it opens
// the caches and segment store, runs the assembler, and logs a one-line
// summary.
func RunAssemble(segPath, cacheDir string, includeBarriers bool, now int64, w PBFWriter) (AssembleStats, error) {
	asm, err := NewAssembler(segPath, cacheDir, includeBarriers, now)
	if err != nil {
		return AssembleStats{}, err
	}
	defer asm.Close() // nolint:errcheck

	stats, err := asm.Assemble(w)
	if err != nil {
		return stats, err
	}

	log.Printf("assemble: nodes=%d (skipped %d) ways=%d (skipped %d) relations=%d",
		stats.NodesEmitted, stats.NodesSkipped, stats.WaysEmitted, stats.WaysSkipped, stats.RelationsEmitted)

	return stats, nil
}
