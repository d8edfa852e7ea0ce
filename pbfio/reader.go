// Package pbfio adapts the third-party qedus/osmpbf decoder to
// core.PBFReader and implements core.PBFWriter as an OSM XML writer built on
// the standard library's encoding/xml. The core package never reads or
// writes PBF bytes itself; this is the only package in the module that
// imports an OSM wire-format library.
package pbfio

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/qedus/osmpbf"

	"github.com/epokhe/osmseg/core"
)

// Reader adapts an *osmpbf.Decoder to core.PBFReader, flattening its
// interface{}-typed Decode results into core.Element values.
type Reader struct {
	path string
	f    *os.File
	d    *osmpbf.Decoder
}

// Open starts decoding the PBF file at path using GOMAXPROCS(-1) parallel
// decode workers, mirroring the decode loop in the graph-builder reference
// this package is grounded on.
func Open(path string) (rc *Reader, rerr error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr != nil {
			_ = f.Close()
		}
	}()

	d := osmpbf.NewDecoder(f)
	d.SetBufferSize(osmpbf.MaxBlobSize)
	if err := d.Start(runtime.GOMAXPROCS(-1)); err != nil {
		return nil, fmt.Errorf("start pbf decoder for %q: %w", path, err)
	}

	return &Reader{path: path, f: f, d: d}, nil
}

// Close releases the underlying file. Not part of core.PBFReader; callers
// that own a *Reader concretely should defer this.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Reopen starts a fresh decode pass over the same file, satisfying the
// optional second-pass contract RunExtract uses for --build-dictionary. The
// previous file handle is closed.
func (r *Reader) Reopen() (core.PBFReader, error) {
	if err := r.f.Close(); err != nil {
		return nil, err
	}
	return Open(r.path)
}

// Next decodes the next element. It returns io.EOF once the file is
// exhausted, matching core.PBFReader's contract.
func (r *Reader) Next() (core.Element, error) {
	obj, err := r.d.Decode()
	if err != nil {
		if err == io.EOF {
			return core.Element{}, io.EOF
		}
		return core.Element{}, fmt.Errorf("decode pbf element: %w", err)
	}

	switch v := obj.(type) {
	case *osmpbf.Node:
		return core.Element{
			Kind: core.ElementNode,
			Node: &core.SourceNode{
				ID:    v.ID,
				Tags:  v.Tags,
				Point: core.Point{Lat: v.Lat, Lon: v.Lon, Ele: elevationFromTags(v.Tags)},
			},
		}, nil

	case *osmpbf.Way:
		return core.Element{
			Kind: core.ElementWay,
			Way: &core.SourceWay{
				ID:    v.ID,
				Nodes: v.NodeIDs,
				Tags:  v.Tags,
			},
		}, nil

	case *osmpbf.Relation:
		members := make([]core.Member, 0, len(v.Members))
		for _, m := range v.Members {
			typ, err := memberTypeFromPBF(m.Type)
			if err != nil {
				return core.Element{}, fmt.Errorf("relation %d: %w", v.ID, err)
			}
			members = append(members, core.Member{Type: typ, Ref: m.ID, Role: m.Role})
		}
		return core.Element{
			Kind: core.ElementRelation,
			Relation: &core.SourceRelation{
				ID:      v.ID,
				Tags:    v.Tags,
				Members: members,
			},
		}, nil

	default:
		return core.Element{}, fmt.Errorf("decode pbf element: unexpected type %T", obj)
	}
}

func memberTypeFromPBF(t osmpbf.MemberType) (core.MemberType, error) {
	switch t {
	case osmpbf.NodeType:
		return core.MemberNode, nil
	case osmpbf.WayType:
		return core.MemberWay, nil
	case osmpbf.RelationType:
		return core.MemberRelation, nil
	default:
		return 0, fmt.Errorf("%w: osmpbf member type %d", core.ErrBadMemberType, t)
	}
}

// elevationFromTags reads the "ele" tag if present, returning NaN otherwise;
// node elevation has no dedicated PBF field.
func elevationFromTags(tags map[string]string) float64 {
	return parseEleOrNaN(tags["ele"])
}
