package core

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/edsrzf/mmap-go"
)

// Binary node cache format, §4.4.
//
//	header: "RNOD"(4) | version=1(1) | node_count(4, big-endian u32)
//	index:  node_count x 12B (id int64 | data offset uint32), both big-endian
//	data:   node_count x 24B (lat float64 | lon float64 | ele float64), big-endian bits
const (
	ncMagic      = "RNOD"
	ncVersion    = 1
	ncHeaderLen  = 9
	ncIndexEntry = 12
	ncDataEntry  = 24
)

// NodeCache is satisfied by both the binary and the legacy text node cache
// readers; the assembler is agnostic to which backs it (§6).
type NodeCache interface {
	Lookup(id int64) (Point, bool)
	Stats() CacheStats
	Close() error
}

// CacheStats is the introspection summary every cache exposes, generalizing
// the teacher's DB.DiskSize (core/db.go) into entry count plus byte size.
type CacheStats struct {
	Entries   int
	SizeBytes int64
	// IndexSlots is the number of slots allocated in the in-memory lookup
	// index backing this cache, 0 for caches with no such index (e.g. the
	// text variants, which look up via a plain Go map).
	IndexSlots int
}

// NodeCacheWriter writes qualifying nodes, in the order it sees them, to a
// pair of temp files (index, data), then Finish concatenates
// header+index+data into the final binary cache file.
type NodeCacheWriter struct {
	dir       string
	indexPath string
	dataPath  string
	indexF    *os.File
	dataF     *os.File
	indexW    *bufio.Writer
	dataW     *bufio.Writer
	count     uint32
	nextOff   uint32
}

// NewNodeCacheWriter creates the writer's temp files under dir.
func NewNodeCacheWriter(dir string) (nw *NodeCacheWriter, rerr error) {
	indexPath := filepath.Join(dir, "nodes.idx.tmp")
	dataPath := filepath.Join(dir, "nodes.dat.tmp")

	indexF, err := os.Create(indexPath)
	if err != nil {
		return nil, fmt.Errorf("create node index temp %q: %w", indexPath, err)
	}
	defer func() {
		if rerr != nil {
			_ = indexF.Close()
		}
	}()

	dataF, err := os.Create(dataPath)
	if err != nil {
		return nil, fmt.Errorf("create node data temp %q: %w", dataPath, err)
	}

	return &NodeCacheWriter{
		dir:       dir,
		indexPath: indexPath,
		dataPath:  dataPath,
		indexF:    indexF,
		dataF:     dataF,
		indexW:    bufio.NewWriterSize(indexF, 1<<20),
		dataW:     bufio.NewWriterSize(dataF, 1<<20),
	}, nil
}

// Put appends one node. ele may be math.NaN() when unknown.
func (w *NodeCacheWriter) Put(id int64, lat, lon, ele float64) error {
	var idxBuf [ncIndexEntry]byte
	binary.BigEndian.PutUint64(idxBuf[0:8], uint64(id))
	binary.BigEndian.PutUint32(idxBuf[8:12], w.nextOff)
	if _, err := w.indexW.Write(idxBuf[:]); err != nil {
		return fmt.Errorf("write node index entry for %d: %w", id, err)
	}

	var dataBuf [ncDataEntry]byte
	binary.BigEndian.PutUint64(dataBuf[0:8], math.Float64bits(lat))
	binary.BigEndian.PutUint64(dataBuf[8:16], math.Float64bits(lon))
	binary.BigEndian.PutUint64(dataBuf[16:24], math.Float64bits(ele))
	if _, err := w.dataW.Write(dataBuf[:]); err != nil {
		return fmt.Errorf("write node data entry for %d: %w", id, err)
	}

	w.count++
	w.nextOff += ncDataEntry
	return nil
}

// Finish assembles the final cache file at path and removes the temp files.
func (w *NodeCacheWriter) Finish(path string) error {
	if err := w.indexW.Flush(); err != nil {
		return err
	}
	if err := w.dataW.Flush(); err != nil {
		return err
	}
	if err := w.indexF.Close(); err != nil {
		return err
	}
	if err := w.dataF.Close(); err != nil {
		return err
	}
	defer removeAll(w.indexPath, w.dataPath)

	hdrPath := filepath.Join(w.dir, "nodes.hdr.tmp")
	hdr := make([]byte, ncHeaderLen)
	copy(hdr, ncMagic)
	hdr[4] = ncVersion
	binary.BigEndian.PutUint32(hdr[5:9], w.count)
	if err := os.WriteFile(hdrPath, hdr, 0o644); err != nil {
		return fmt.Errorf("write node cache header temp: %w", err)
	}
	defer removeAll(hdrPath)

	return assembleFile(path, hdrPath, w.indexPath, w.dataPath)
}

// Count returns the number of nodes written so far.
func (w *NodeCacheWriter) Count() uint32 { return w.count }

// binNodeCache is the mmap-backed NodeCache reader.
type binNodeCache struct {
	f     *os.File
	m     mmap.MMap
	index *idIndex
	count int
}

// OpenNodeCache maps path read-only and builds an in-memory id -> data
// offset index by scanning the mapped index section once (§4.4 read path).
func OpenNodeCache(path string) (rc *binNodeCache, rerr error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open node cache %q: %w", path, err)
	}
	defer func() {
		if rerr != nil {
			_ = f.Close()
		}
	}()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap node cache %q: %w", path, err)
	}

	if len(m) < ncHeaderLen {
		return nil, fmt.Errorf("node cache %q: %w: file too short", path, ErrTruncatedRecord)
	}
	if string(m[0:4]) != ncMagic {
		return nil, fmt.Errorf("node cache %q: %w: got %q", path, ErrBadMagic, m[0:4])
	}
	if m[4] != ncVersion {
		return nil, fmt.Errorf("node cache %q: %w: got %d", path, ErrUnsupportedVersion, m[4])
	}

	count := int(binary.BigEndian.Uint32(m[5:9]))

	idx := newIDIndex(count)
	indexBase := ncHeaderLen
	for i := 0; i < count; i++ {
		entry := m[indexBase+i*ncIndexEntry : indexBase+(i+1)*ncIndexEntry]
		id := int64(binary.BigEndian.Uint64(entry[0:8]))
		off := binary.BigEndian.Uint32(entry[8:12])
		idx.put(id, off)
	}

	return &binNodeCache{f: f, m: m, index: idx, count: count}, nil
}

func (rc *binNodeCache) dataBase() int {
	return ncHeaderLen + rc.count*ncIndexEntry
}

// Lookup decodes three doubles at data_base + offset.
func (rc *binNodeCache) Lookup(id int64) (Point, bool) {
	off, ok := rc.index.get(id)
	if !ok {
		return Point{}, false
	}

	base := rc.dataBase() + int(off)
	entry := rc.m[base : base+ncDataEntry]

	return Point{
		Lat: math.Float64frombits(binary.BigEndian.Uint64(entry[0:8])),
		Lon: math.Float64frombits(binary.BigEndian.Uint64(entry[8:16])),
		Ele: math.Float64frombits(binary.BigEndian.Uint64(entry[16:24])),
	}, true
}

func (rc *binNodeCache) Stats() CacheStats {
	return CacheStats{Entries: rc.count, SizeBytes: int64(len(rc.m)), IndexSlots: rc.index.len()}
}

func (rc *binNodeCache) Close() error {
	if err := rc.m.Unmap(); err != nil {
		_ = rc.f.Close()
		return err
	}
	return rc.f.Close()
}

// textNodeCache is the legacy "nodes.txt" CSV variant used for diff-friendly
// debugging fixtures (§9): one "id,lat,lon,ele?" line per node, empty ele
// meaning NaN.
type textNodeCache struct {
	byID map[int64]Point
	size int64
}

// NewTextNodeCacheWriter opens (creating or truncating) path for line-at-a-
// time CSV writes.
type TextNodeCacheWriter struct {
	f *os.File
	w *bufio.Writer
}

func NewTextNodeCacheWriter(path string) (*TextNodeCacheWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create text node cache %q: %w", path, err)
	}
	return &TextNodeCacheWriter{f: f, w: bufio.NewWriter(f)}, nil
}

func (w *TextNodeCacheWriter) Put(id int64, lat, lon, ele float64) error {
	eleStr := ""
	if !math.IsNaN(ele) {
		eleStr = strconv.FormatFloat(ele, 'g', -1, 64)
	}
	_, err := fmt.Fprintf(w.w, "%d,%s,%s,%s\n",
		id,
		strconv.FormatFloat(lat, 'g', -1, 64),
		strconv.FormatFloat(lon, 'g', -1, 64),
		eleStr)
	return err
}

func (w *TextNodeCacheWriter) Close() error {
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

// OpenTextNodeCache loads the whole CSV file into memory.
func OpenTextNodeCache(path string) (*textNodeCache, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open text node cache %q: %w", path, err)
	}
	defer f.Close() // nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]Point)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 4)
		if len(parts) < 3 {
			return nil, fmt.Errorf("text node cache %q: malformed line %q", path, line)
		}
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("text node cache %q: bad id %q: %w", path, parts[0], err)
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("text node cache %q: bad lat %q: %w", path, parts[1], err)
		}
		lon, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return nil, fmt.Errorf("text node cache %q: bad lon %q: %w", path, parts[2], err)
		}
		ele := math.NaN()
		if len(parts) == 4 && parts[3] != "" {
			ele, err = strconv.ParseFloat(parts[3], 64)
			if err != nil {
				return nil, fmt.Errorf("text node cache %q: bad ele %q: %w", path, parts[3], err)
			}
		}
		byID[id] = Point{Lat: lat, Lon: lon, Ele: ele}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan text node cache %q: %w", path, err)
	}

	return &textNodeCache{byID: byID, size: info.Size()}, nil
}

func (rc *textNodeCache) Lookup(id int64) (Point, bool) {
	p, ok := rc.byID[id]
	return p, ok
}

func (rc *textNodeCache) Stats() CacheStats {
	return CacheStats{Entries: len(rc.byID), SizeBytes: rc.size}
}

func (rc *textNodeCache) Close() error { return nil }
