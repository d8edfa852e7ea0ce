package core

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/edsrzf/mmap-go"
)

// Tag whitelist retained at extract time (§4.5).
var TagWhitelist = []string{
	"highway", "name", "ref", "surface", "maxspeed", "oneway",
	"bicycle", "foot", "lanes", "cycleway", "sidewalk", "lit", "access",
}

// OutputTagWhitelist further restricts emitted way tags (§4.7).
var OutputTagWhitelist = []string{
	"highway", "name", "ref", "surface", "maxspeed", "oneway", "bicycle", "foot",
}

func isWhitelisted(key string, list []string) bool {
	for _, k := range list {
		if k == key {
			return true
		}
	}
	return false
}

// FilterWhitelist returns the subset of tags whose keys are in TagWhitelist.
func FilterWhitelist(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if isWhitelisted(k, TagWhitelist) {
			out[k] = v
		}
	}
	return out
}

const maxDictEntries = 32_000
const dictSampleSize = 100_000

// BuildDictionary scans up to dictSampleSize qualifying ways (already
// whitelist-filtered), frequency-counts every "key=value" pair, and returns
// the top min(unique, maxDictEntries) in frequency-descending order (§4.5).
// ways is called once and hands each way's tags to yield; sampling stops
// after dictSampleSize yield calls return true.
func BuildDictionary(ways func(yield func(tags map[string]string) bool)) []string {
	freq := make(map[string]int)
	sampled := 0

	ways(func(tags map[string]string) bool {
		if sampled >= dictSampleSize {
			return false
		}
		sampled++
		for k, v := range tags {
			pair := k + "=" + v
			freq[pair]++
		}
		return true
	})

	pairs := make([]string, 0, len(freq))
	for p := range freq {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if freq[pairs[i]] != freq[pairs[j]] {
			return freq[pairs[i]] > freq[pairs[j]]
		}
		return pairs[i] < pairs[j] // stable tiebreak
	})

	if len(pairs) > maxDictEntries {
		pairs = pairs[:maxDictEntries]
	}
	return pairs
}

// Compressed way-tag cache format, §4.5.
//
//	header:     "RWAY"(4) | version=1(1) | way_count(4, u32) | dict_size(2, u16)
//	dictionary: dict_size NUL-terminated "key=value" strings
//	index:      way_count x 12B (way_id int64 | data offset uint32)
//	data:       variable-length tag blobs
//
// Tag blob: tag_count(1 byte u8), then per tag either
//
//	type=0 | dict_index(2, u16)                          — 3 bytes
//	type=1 | key_len(2,u16) | key | val_len(2,u16) | val  — variable
const (
	wtMagic     = "RWAY"
	wtVersion   = 1
	wtIndexSize = 12
)

// WayTagCacheWriter encodes each put() against a frozen dictionary and
// writes index entries in insertion order to temp files; Finish assembles
// the final cache file.
type WayTagCacheWriter struct {
	dir       string
	dict      []string
	dictIndex map[string]uint16
	indexPath string
	dataPath  string
	indexF    *os.File
	dataF     *os.File
	indexW    *bufio.Writer
	dataW     *bufio.Writer
	count     uint32
	nextOff   uint32
}

// NewWayTagCacheWriter creates the writer's temp files under dir, freezing
// dict (may be empty, meaning every tag is encoded as type-1).
func NewWayTagCacheWriter(dir string, dict []string) (ww *WayTagCacheWriter, rerr error) {
	if len(dict) > maxDictEntries {
		return nil, fmt.Errorf("dictionary has %d entries, exceeds max %d", len(dict), maxDictEntries)
	}

	dictIndex := make(map[string]uint16, len(dict))
	for i, pair := range dict {
		dictIndex[pair] = uint16(i)
	}

	indexPath := filepath.Join(dir, "way_tags.idx.tmp")
	dataPath := filepath.Join(dir, "way_tags.dat.tmp")

	indexF, err := os.Create(indexPath)
	if err != nil {
		return nil, fmt.Errorf("create way-tag index temp %q: %w", indexPath, err)
	}
	defer func() {
		if rerr != nil {
			_ = indexF.Close()
		}
	}()

	dataF, err := os.Create(dataPath)
	if err != nil {
		return nil, fmt.Errorf("create way-tag data temp %q: %w", dataPath, err)
	}

	return &WayTagCacheWriter{
		dir:       dir,
		dict:      dict,
		dictIndex: dictIndex,
		indexPath: indexPath,
		dataPath:  dataPath,
		indexF:    indexF,
		dataF:     dataF,
		indexW:    bufio.NewWriterSize(indexF, 1<<20),
		dataW:     bufio.NewWriterSize(dataF, 1<<20),
	}, nil
}

// Put encodes and appends one way's tags. tag count must fit in a byte
// (§3's "tag count <= 255" invariant).
func (w *WayTagCacheWriter) Put(wayID int64, tags map[string]string) error {
	if len(tags) > 255 {
		return fmt.Errorf("way %d: %d tags exceeds the 255-tag limit", wayID, len(tags))
	}

	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var blob bytes.Buffer
	blob.WriteByte(byte(len(keys)))

	for _, k := range keys {
		v := tags[k]
		pair := k + "=" + v
		if idx, ok := w.dictIndex[pair]; ok {
			blob.WriteByte(0)
			var b [2]byte
			binary.BigEndian.PutUint16(b[:], idx)
			blob.Write(b[:])
			continue
		}

		blob.WriteByte(1)
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(k)))
		blob.Write(lenBuf[:])
		blob.WriteString(k)
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(v)))
		blob.Write(lenBuf[:])
		blob.WriteString(v)
	}

	var idxBuf [wtIndexSize]byte
	binary.BigEndian.PutUint64(idxBuf[0:8], uint64(wayID))
	binary.BigEndian.PutUint32(idxBuf[8:12], w.nextOff)
	if _, err := w.indexW.Write(idxBuf[:]); err != nil {
		return fmt.Errorf("write way-tag index entry for %d: %w", wayID, err)
	}

	n, err := w.dataW.Write(blob.Bytes())
	if err != nil {
		return fmt.Errorf("write way-tag blob for %d: %w", wayID, err)
	}

	w.count++
	w.nextOff += uint32(n)
	return nil
}

// Finish assembles the final cache file at path and removes the temp files.
func (w *WayTagCacheWriter) Finish(path string) error {
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

	var head bytes.Buffer
	head.WriteString(wtMagic)
	head.WriteByte(wtVersion)
	var cnt [4]byte
	binary.BigEndian.PutUint32(cnt[:], w.count)
	head.Write(cnt[:])
	var dsz [2]byte
	binary.BigEndian.PutUint16(dsz[:], uint16(len(w.dict)))
	head.Write(dsz[:])
	for _, pair := range w.dict {
		head.WriteString(pair)
		head.WriteByte(0)
	}

	headPath := filepath.Join(w.dir, "way_tags.hdr.tmp")
	if err := os.WriteFile(headPath, head.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write way-tag cache header temp: %w", err)
	}
	defer removeAll(headPath)

	return assembleFile(path, headPath, w.indexPath, w.dataPath)
}

// Count returns the number of ways written so far.
func (w *WayTagCacheWriter) Count() uint32 { return w.count }

// WayTagCache is satisfied by both the binary and the legacy text way-tag
// cache readers.
type WayTagCache interface {
	Lookup(wayID int64) (map[string]string, bool)
	Stats() CacheStats
	Close() error
}

// binWayTagCache decodes every blob eagerly at load time into an in-memory
// way_id -> tags map, per §4.5's read contract.
type binWayTagCache struct {
	f    *os.File
	m    mmap.MMap
	tags map[int64]map[string]string
}

// OpenWayTagCache maps path read-only, reads the dictionary, then decodes
// every blob into an in-memory map.
func OpenWayTagCache(path string) (wc *binWayTagCache, rerr error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open way-tag cache %q: %w", path, err)
	}
	defer func() {
		if rerr != nil {
			_ = f.Close()
		}
	}()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap way-tag cache %q: %w", path, err)
	}

	if len(m) < 11 {
		return nil, fmt.Errorf("way-tag cache %q: %w: file too short", path, ErrTruncatedRecord)
	}
	if string(m[0:4]) != wtMagic {
		return nil, fmt.Errorf("way-tag cache %q: %w: got %q", path, ErrBadMagic, m[0:4])
	}
	if m[4] != wtVersion {
		return nil, fmt.Errorf("way-tag cache %q: %w: got %d", path, ErrUnsupportedVersion, m[4])
	}

	wayCount := int(binary.BigEndian.Uint32(m[5:9]))
	dictSize := int(binary.BigEndian.Uint16(m[9:11]))

	off := 11
	dict := make([]string, 0, dictSize)
	for i := 0; i < dictSize; i++ {
		end := bytes.IndexByte(m[off:], 0)
		if end < 0 {
			return nil, fmt.Errorf("way-tag cache %q: unterminated dictionary entry %d", path, i)
		}
		dict = append(dict, string(m[off:off+end]))
		off += end + 1
	}

	indexBase := off
	dataBase := indexBase + wayCount*wtIndexSize

	tagsByWay := make(map[int64]map[string]string, wayCount)
	for i := 0; i < wayCount; i++ {
		entry := m[indexBase+i*wtIndexSize : indexBase+(i+1)*wtIndexSize]
		wayID := int64(binary.BigEndian.Uint64(entry[0:8]))
		blobOff := int(binary.BigEndian.Uint32(entry[8:12]))

		tags, err := decodeTagBlob(m[dataBase+blobOff:], dict)
		if err != nil {
			return nil, fmt.Errorf("way-tag cache %q: way %d: %w", path, wayID, err)
		}
		tagsByWay[wayID] = tags
	}

	return &binWayTagCache{f: f, m: m, tags: tagsByWay}, nil
}

func decodeTagBlob(b []byte, dict []string) (map[string]string, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("%w: empty blob", ErrTruncatedRecord)
	}
	tagCount := int(b[0])
	b = b[1:]

	tags := make(map[string]string, tagCount)
	for i := 0; i < tagCount; i++ {
		if len(b) < 1 {
			return nil, fmt.Errorf("%w: short tag type", ErrTruncatedRecord)
		}
		typ := b[0]
		b = b[1:]

		switch typ {
		case 0:
			if len(b) < 2 {
				return nil, fmt.Errorf("%w: short dict index", ErrTruncatedRecord)
			}
			idx := binary.BigEndian.Uint16(b[0:2])
			b = b[2:]
			if int(idx) >= len(dict) {
				return nil, fmt.Errorf("dict index %d out of range (dict has %d entries)", idx, len(dict))
			}
			k, v, ok := strings.Cut(dict[idx], "=")
			if !ok {
				// malformed dictionary entries are skipped per §4.5
				continue
			}
			tags[k] = v
		case 1:
			if len(b) < 2 {
				return nil, fmt.Errorf("%w: short key length", ErrTruncatedRecord)
			}
			keyLen := int(binary.BigEndian.Uint16(b[0:2]))
			b = b[2:]
			if len(b) < keyLen+2 {
				return nil, fmt.Errorf("%w: short key/val", ErrTruncatedRecord)
			}
			key := string(b[:keyLen])
			b = b[keyLen:]
			valLen := int(binary.BigEndian.Uint16(b[0:2]))
			b = b[2:]
			if len(b) < valLen {
				return nil, fmt.Errorf("%w: short val", ErrTruncatedRecord)
			}
			val := string(b[:valLen])
			b = b[valLen:]
			tags[key] = val
		default:
			return nil, fmt.Errorf("unknown tag encoding type %d", typ)
		}
	}

	return tags, nil
}

func (wc *binWayTagCache) Lookup(wayID int64) (map[string]string, bool) {
	t, ok := wc.tags[wayID]
	return t, ok
}

func (wc *binWayTagCache) Stats() CacheStats {
	return CacheStats{Entries: len(wc.tags), SizeBytes: int64(len(wc.m))}
}

func (wc *binWayTagCache) Close() error {
	if err := wc.m.Unmap(); err != nil {
		_ = wc.f.Close()
		return err
	}
	return wc.f.Close()
}

// textWayTagCache is the legacy "way_tags.txt" variant: one
// "way_id<TAB>k=v<TAB>k=v..." line per way, used for diff-friendly debugging
// fixtures (§9). Keys/values are escaped with escapeField/unescapeField
// (shared with the relation cache) so embedded tabs, commas or '=' survive
// a round trip.
type textWayTagCache struct {
	tags map[int64]map[string]string
	size int64
}

type TextWayTagCacheWriter struct {
	f *os.File
	w *bufio.Writer
}

func NewTextWayTagCacheWriter(path string) (*TextWayTagCacheWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create text way-tag cache %q: %w", path, err)
	}
	return &TextWayTagCacheWriter{f: f, w: bufio.NewWriter(f)}, nil
}

// wtEscape/wtUnescape extend escapeField/unescapeField with tab escaping,
// since this format (unlike the relation cache's) uses tab as a field
// delimiter.
func wtEscape(s string) string {
	return strings.ReplaceAll(escapeField(s), "\t", `\t`)
}

func wtUnescape(s string) string {
	return unescapeField(strings.ReplaceAll(s, `\t`, "\t"))
}

func (w *TextWayTagCacheWriter) Put(wayID int64, tags map[string]string) error {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if _, err := fmt.Fprintf(w.w, "%d", wayID); err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := fmt.Fprintf(w.w, "\t%s=%s", wtEscape(k), wtEscape(tags[k])); err != nil {
			return err
		}
	}
	_, err := w.w.WriteString("\n")
	return err
}

func (w *TextWayTagCacheWriter) Close() error {
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

// OpenTextWayTagCache loads the whole file into memory.
func OpenTextWayTagCache(path string) (*textWayTagCache, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open text way-tag cache %q: %w", path, err)
	}
	defer f.Close() // nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	tags := make(map[int64]map[string]string)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		wayID, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("text way-tag cache %q: bad way id %q: %w", path, fields[0], err)
		}
		t := make(map[string]string, len(fields)-1)
		for _, f := range fields[1:] {
			k, v, ok := cutEscaped(f, '=')
			if !ok {
				continue // malformed entries are skipped
			}
			t[wtUnescape(k)] = wtUnescape(v)
		}
		tags[wayID] = t
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan text way-tag cache %q: %w", path, err)
	}

	return &textWayTagCache{tags: tags, size: info.Size()}, nil
}

func (wc *textWayTagCache) Lookup(wayID int64) (map[string]string, bool) {
	t, ok := wc.tags[wayID]
	return t, ok
}

func (wc *textWayTagCache) Stats() CacheStats {
	return CacheStats{Entries: len(wc.tags), SizeBytes: wc.size}
}

func (wc *textWayTagCache) Close() error { return nil }
