package core

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// AssembleStats summarizes one assemble run, generalizing the teacher's
// DiskSize-style introspection (§SPEC_FULL "Supplemented features").
type AssembleStats struct {
	NodesEmitted     int
	NodesSkipped     int
	WaysEmitted      int
	WaysSkipped      int
	RelationsEmitted int
}

// OpenCaches auto-detects, per §6, whether dir holds the binary or the text
// variant of each cache (nodes.bin/nodes.txt, way_tags.bin/way_tags.txt) and
// opens whichever is present. This mirrors the teacher's
// checkOrphanedSegments: computing the expected-vs-actual set of cache
// files present in dir.
func OpenCaches(dir string) (NodeCache, WayTagCache, error) {
	expected := mapset.NewSet("nodes.bin", "nodes.txt", "way_tags.bin", "way_tags.txt")
	actual := mapset.NewSet[string]()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read cache dir %q: %w", dir, err)
	}
	for _, e := range entries {
		if expected.Contains(e.Name()) {
			actual.Add(e.Name())
		}
	}

	var nodeCache NodeCache
	switch {
	case actual.Contains("nodes.bin"):
		nodeCache, err = OpenNodeCache(filepath.Join(dir, "nodes.bin"))
	case actual.Contains("nodes.txt"):
		nodeCache, err = OpenTextNodeCache(filepath.Join(dir, "nodes.txt"))
	default:
		return nil, nil, fmt.Errorf("%w: neither nodes.bin nor nodes.txt in %q", ErrNoCacheFiles, dir)
	}
	if err != nil {
		return nil, nil, err
	}

	var wayTagCache WayTagCache
	switch {
	case actual.Contains("way_tags.bin"):
		wayTagCache, err = OpenWayTagCache(filepath.Join(dir, "way_tags.bin"))
	case actual.Contains("way_tags.txt"):
		wayTagCache, err = OpenTextWayTagCache(filepath.Join(dir, "way_tags.txt"))
	default:
		_ = nodeCache.Close()
		return nil, nil, fmt.Errorf("%w: neither way_tags.bin nor way_tags.txt in %q", ErrNoCacheFiles, dir)
	}
	if err != nil {
		_ = nodeCache.Close()
		return nil, nil, err
	}

	return nodeCache, wayTagCache, nil
}

// Assembler produces the derived PBF described in §4.7: nodes, then ways,
// then relations, in that strict order.
type Assembler struct {
	ssPath          string
	nodeCache       NodeCache
	wayTagCache     WayTagCache
	relations       []SourceRelation
	includeBarriers bool
	now             int64 // unix seconds, stamped once per run for synthetic attrs
}

// NewAssembler wires together the segment store, the caches opened from
// cacheDir, and the relation cache. now is the unix timestamp stamped onto
// every emitted entity's synthetic "timestamp" attribute (§4.7).
func NewAssembler(ssPath, cacheDir string, includeBarriers bool, now int64) (*Assembler, error) {
	nodeCache, wayTagCache, err := OpenCaches(cacheDir)
	if err != nil {
		return nil, err
	}

	relations, err := ReadRelationCache(filepath.Join(cacheDir, "relations.txt"))
	if err != nil {
		_ = nodeCache.Close()
		_ = wayTagCache.Close()
		return nil, err
	}

	return &Assembler{
		ssPath:          ssPath,
		nodeCache:       nodeCache,
		wayTagCache:     wayTagCache,
		relations:       relations,
		includeBarriers: includeBarriers,
		now:             now,
	}, nil
}

// Close releases the caches.
func (a *Assembler) Close() error {
	err1 := a.nodeCache.Close()
	err2 := a.wayTagCache.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (a *Assembler) synthetic() (version int32, changeset int64, user string) {
	return 1, 1, "anonymous"
}

func hasHighway(tags map[string]string) bool {
	v, ok := tags["highway"]
	return ok && v != ""
}

// Assemble writes the derived PBF to w and returns emission counters.
func (a *Assembler) Assemble(w PBFWriter) (AssembleStats, error) {
	var stats AssembleStats
	version, changeset, user := a.synthetic()

	// --- nodes: scan SS once, collect node ids reachable from
	// highway-tagged ways, emit in ascending id order.
	ssr, err := OpenReader(a.ssPath)
	if err != nil {
		return stats, err
	}

	neededNodes := make(map[int64]struct{})
	scanner, err := ssr.Records()
	if err != nil {
		return stats, err
	}
	for scanner.Scan() {
		rec := scanner.Record()
		if rec.IsBarrier() && !a.includeBarriers {
			continue
		}
		tags, ok := a.wayTagCache.Lookup(rec.BaseWayID)
		if !ok {
			log.Printf("way %d referenced by segment store has no way-tag cache entry, skipping its nodes", rec.BaseWayID)
			continue
		}
		if !hasHighway(tags) {
			continue
		}
		for _, nid := range rec.NodeRefs {
			neededNodes[nid] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scan segment store for nodes: %w", err)
	}

	sortedNodeIDs := make([]int64, 0, len(neededNodes))
	for id := range neededNodes {
		sortedNodeIDs = append(sortedNodeIDs, id)
	}
	sort.Slice(sortedNodeIDs, func(i, j int) bool { return sortedNodeIDs[i] < sortedNodeIDs[j] })

	for _, id := range sortedNodeIDs {
		pt, ok := a.nodeCache.Lookup(id)
		if !ok {
			log.Printf("node %d has no node-cache entry, skipping", id)
			stats.NodesSkipped++
			continue
		}
		if err := w.WriteNode(OutputNode{
			ID: id, Point: pt,
			Version: version, Changeset: changeset, User: user, Timestamp: a.now,
		}); err != nil {
			return stats, fmt.Errorf("write node %d: %w", id, err)
		}
		stats.NodesEmitted++
	}

	// --- ways: scan SS again, emit one way per highway-tagged segment
	// (barrier segments only when includeBarriers), in SS (production) order.
	scanner, err = ssr.Records()
	if err != nil {
		return stats, err
	}
	for scanner.Scan() {
		rec := scanner.Record()
		if rec.IsBarrier() && !a.includeBarriers {
			continue
		}
		tags, ok := a.wayTagCache.Lookup(rec.BaseWayID)
		if !ok {
			log.Printf("way %d referenced by segment store has no way-tag cache entry, skipping", rec.BaseWayID)
			stats.WaysSkipped++
			continue
		}
		if !hasHighway(tags) {
			stats.WaysSkipped++
			continue
		}

		outTags := map[string]string{"base_id": fmt.Sprintf("%d", rec.BaseWayID)}
		for _, k := range OutputTagWhitelist {
			if v, ok := tags[k]; ok {
				outTags[k] = v
			}
		}

		if err := w.WriteWay(OutputWay{
			ID: int64(rec.EdgeID), Nodes: rec.NodeRefs, Tags: outTags,
			Version: version, Changeset: changeset, User: user, Timestamp: a.now,
		}); err != nil {
			return stats, fmt.Errorf("write way (edge %d): %w", rec.EdgeID, err)
		}
		stats.WaysEmitted++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scan segment store for ways: %w", err)
	}

	// --- relations: rewrite and emit in source order.
	rewriter, err := NewRewriter(ssr, a.includeBarriers)
	if err != nil {
		return stats, fmt.Errorf("build rewriter: %w", err)
	}

	for _, rel := range a.relations {
		rewritten := rewriter.Rewrite(rel)
		if err := w.WriteRelation(OutputRelation{
			ID: rewritten.ID, Tags: rewritten.Tags, Members: rewritten.Members,
			Version: version, Changeset: changeset, User: user, Timestamp: a.now,
		}); err != nil {
			return stats, fmt.Errorf("write relation %d: %w", rewritten.ID, err)
		}
		stats.RelationsEmitted++
	}

	return stats, nil
}
