package core

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Segment store (SS) binary format, §4.1.
//
//	header: "RSEG"(4) | version=1(1) | record_count(4, big-endian u32, patched on close)
//	record: edge_id(4) | base_way_id(8) | seg_index(4) | flags(1) | node_count(4) | node_count x i64(8)
//
// All integers are big-endian. flags bit0 is the barrier flag.

const (
	ssMagic      = "RSEG"
	ssVersion    = 1
	ssHeaderLen  = 9
	FlagBarrier  = uint8(1) << 0
	ssCountAtOff = 5 // byte offset of record_count within the header
)

// SegmentRecord is one routing-graph edge produced by the external segment
// producer, as stored in the segment store.
type SegmentRecord struct {
	EdgeID    uint32
	BaseWayID int64
	SegIndex  uint32
	Flags     uint8
	NodeRefs  []int64
}

// IsBarrier reports whether the barrier flag is set.
func (r SegmentRecord) IsBarrier() bool { return r.Flags&FlagBarrier != 0 }

func encodeSegmentRecord(w io.Writer, rec SegmentRecord) error {
	if len(rec.NodeRefs) < 2 {
		return fmt.Errorf("segment record for base way %d: node_refs has %d entries, need >= 2",
			rec.BaseWayID, len(rec.NodeRefs))
	}

	hdr := make([]byte, 4+8+4+1+4)
	binary.BigEndian.PutUint32(hdr[0:4], rec.EdgeID)
	binary.BigEndian.PutUint64(hdr[4:12], uint64(rec.BaseWayID))
	binary.BigEndian.PutUint32(hdr[12:16], rec.SegIndex)
	hdr[16] = rec.Flags
	binary.BigEndian.PutUint32(hdr[17:21], uint32(len(rec.NodeRefs)))

	if _, err := w.Write(hdr); err != nil {
		return err
	}

	buf := make([]byte, 8*len(rec.NodeRefs))
	for i, id := range rec.NodeRefs {
		binary.BigEndian.PutUint64(buf[i*8:i*8+8], uint64(id))
	}
	_, err := w.Write(buf)
	return err
}

// checkpointInterval is how often (in records) the header's record_count is
// patched and fsynced during a run, so a crash mid-capture leaves the store
// readable up to the last checkpoint instead of reporting record_count=0.
const checkpointInterval = 500_000

// Writer appends SegmentRecords to a new segment store file. Write-once:
// callers must not reopen an existing store for appending.
type Writer struct {
	f      *os.File
	path   string
	count  uint32
	closed bool
}

// CreateWriter creates path, truncating any existing file, and writes a
// placeholder header (record_count=0, patched on Close). The file and its
// parent directory are fsynced immediately so the empty store survives a
// crash before the first record is written.
func CreateWriter(path string) (*Writer, error) {
	f, err := createFileDurable(filepath.Dir(path), filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("create segment store %q: %w", path, err)
	}

	hdr := make([]byte, ssHeaderLen)
	copy(hdr, ssMagic)
	hdr[4] = ssVersion
	// record_count left as zero

	if _, err := f.Write(hdr); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write segment store header %q: %w", path, err)
	}

	return &Writer{f: f, path: path}, nil
}

// Write appends one record and advances the running count.
func (w *Writer) Write(rec SegmentRecord) error {
	if w.closed {
		return ErrStoreClosed
	}

	if err := encodeSegmentRecord(w.f, rec); err != nil {
		return fmt.Errorf("write segment record: %w", err)
	}

	w.count++
	if w.count%checkpointInterval == 0 {
		if err := w.checkpoint(); err != nil {
			return fmt.Errorf("checkpoint segment store %q at %d records: %w", w.path, w.count, err)
		}
	}
	return nil
}

// checkpoint patches record_count in place and fsyncs, without closing the
// file, so a reader opening the store after a crash sees a valid count for
// every record written before the last checkpoint.
func (w *Writer) checkpoint() error {
	var cnt [4]byte
	binary.BigEndian.PutUint32(cnt[:], w.count)
	if _, err := w.f.WriteAt(cnt[:], ssCountAtOff); err != nil {
		return err
	}
	return w.f.Sync()
}

// Count returns the number of records written so far.
func (w *Writer) Count() uint32 { return w.count }

// Close patches the header's record_count and closes the file. Zero records
// is legal and produces a valid, empty store.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var cnt [4]byte
	binary.BigEndian.PutUint32(cnt[:], w.count)
	if _, err := w.f.WriteAt(cnt[:], ssCountAtOff); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("patch record_count on %q: %w", w.path, err)
	}

	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return fmt.Errorf("sync segment store %q: %w", w.path, err)
	}

	return w.f.Close()
}

func readHeader(f *os.File) (recordCount uint32, rerr error) {
	var hdr [ssHeaderLen]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return 0, fmt.Errorf("read segment store header: %w", err)
	}

	if string(hdr[0:4]) != ssMagic {
		return 0, fmt.Errorf("%w: got %q, want %q", ErrBadMagic, hdr[0:4], ssMagic)
	}

	if hdr[4] != ssVersion {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, hdr[4], ssVersion)
	}

	return binary.BigEndian.Uint32(hdr[5:9]), nil
}

// decodeSegmentRecord reads one record from r, which must be positioned at a
// record boundary. io.EOF (clean, at a boundary) is returned unchanged;
// io.ErrUnexpectedEOF mid-record is wrapped as ErrTruncatedRecord.
func decodeSegmentRecord(r io.Reader) (SegmentRecord, error) {
	var hdr [21]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return SegmentRecord{}, fmt.Errorf("%w: short record header", ErrTruncatedRecord)
		}
		return SegmentRecord{}, err
	}

	rec := SegmentRecord{
		EdgeID:    binary.BigEndian.Uint32(hdr[0:4]),
		BaseWayID: int64(binary.BigEndian.Uint64(hdr[4:12])),
		SegIndex:  binary.BigEndian.Uint32(hdr[12:16]),
		Flags:     hdr[16],
	}

	nodeCount := binary.BigEndian.Uint32(hdr[17:21])
	buf := make([]byte, 8*nodeCount)
	if _, err := io.ReadFull(r, buf); err != nil {
		return SegmentRecord{}, fmt.Errorf("%w: short node_refs (want %d)", ErrTruncatedRecord, nodeCount)
	}

	rec.NodeRefs = make([]int64, nodeCount)
	for i := range rec.NodeRefs {
		rec.NodeRefs[i] = int64(binary.BigEndian.Uint64(buf[i*8 : i*8+8]))
	}

	return rec, nil
}

// RecordScanner is a single-pass, buffered reader over a segment store's
// record section. Scan advances to the next record; Record returns it;
// Err reports the terminal error, if any (nil on clean EOF).
type RecordScanner struct {
	r      *bufio.Reader
	f      *os.File
	record SegmentRecord
	err    error
	done   bool
}

// Scan advances to the next record, returning false at EOF or on error.
func (s *RecordScanner) Scan() bool {
	if s.done {
		return false
	}

	rec, err := decodeSegmentRecord(s.r)
	if err != nil {
		s.done = true
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		if s.f != nil {
			_ = s.f.Close()
			s.f = nil
		}
		return false
	}

	s.record = rec
	return true
}

// Record returns the record produced by the most recent successful Scan.
func (s *RecordScanner) Record() SegmentRecord { return s.record }

// Err reports the terminal scan error, or nil if the scan reached a clean
// end of file.
func (s *RecordScanner) Err() error { return s.err }

// Close releases the underlying file handle early; safe to call after the
// scan is already exhausted.
func (s *RecordScanner) Close() error {
	if s.f == nil {
		return nil
	}
	f := s.f
	s.f = nil
	return f.Close()
}

// Reader is a streaming-only segment store reader: Records() yields a
// single-pass sequence and releases its file handle when exhausted.
type Reader struct {
	path        string
	recordCount uint32
}

// OpenReader validates the header (magic, version) and records the declared
// count; it does not keep the file open between calls to Records().
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment store %q: %w", path, err)
	}
	defer f.Close() // nolint:errcheck

	count, err := readHeader(f)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", path, err)
	}

	return &Reader{path: path, recordCount: count}, nil
}

// RecordCount returns the count recorded in the header.
func (r *Reader) RecordCount() uint32 { return r.recordCount }

// ByEdgeID always fails with ErrUnsupportedOperation: a streaming-only
// reader keeps no offset index. Point lookups are served by IndexedReader.
func (r *Reader) ByEdgeID(id uint32) (SegmentRecord, error) {
	return SegmentRecord{}, fmt.Errorf("edge id %d: %w", id, ErrUnsupportedOperation)
}

// Records opens a fresh file handle and returns a single-pass scanner over
// the record section. The caller must Scan until false; the handle is
// released automatically at that point, or early via RecordScanner.Close.
func (r *Reader) Records() (*RecordScanner, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open segment store %q: %w", r.path, err)
	}

	if _, err := f.Seek(ssHeaderLen, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("seek past header %q: %w", r.path, err)
	}

	return &RecordScanner{r: bufio.NewReaderSize(f, 1<<20), f: f}, nil
}

// IndexedReader additionally supports concurrent point lookups by edge id.
// It eagerly scans the file once on open, building an in-memory
// edge_id -> file_offset map, then serves lookups by seeking and reading
// one record at a time.
type IndexedReader struct {
	path        string
	f           *os.File
	mu          sync.Mutex
	offsets     map[uint32]int64
	recordCount uint32
}

// OpenIndexed opens path, validates its header, and builds the offset
// index by scanning every record once.
func OpenIndexed(path string) (rr *IndexedReader, rerr error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment store %q: %w", path, err)
	}

	defer func() {
		if rerr != nil {
			_ = f.Close()
		}
	}()

	count, err := readHeader(f)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", path, err)
	}

	offsets := make(map[uint32]int64, count)

	br := bufio.NewReaderSize(f, 1<<20)
	off := int64(ssHeaderLen)
	for {
		start := off
		rec, err := decodeSegmentRecord(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("index segment store %q: %w", path, err)
		}

		offsets[rec.EdgeID] = start
		off += int64(21 + 8*len(rec.NodeRefs))
	}

	return &IndexedReader{path: path, f: f, offsets: offsets, recordCount: count}, nil
}

// RecordCount returns the count recorded in the header.
func (r *IndexedReader) RecordCount() uint32 { return r.recordCount }

// ByEdgeID looks up a single record by edge id. Safe for concurrent callers;
// all access to the underlying file handle is serialized.
func (r *IndexedReader) ByEdgeID(id uint32) (SegmentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	off, ok := r.offsets[id]
	if !ok {
		return SegmentRecord{}, fmt.Errorf("edge id %d: %w", id, ErrNotFound)
	}

	if _, err := r.f.Seek(off, io.SeekStart); err != nil {
		return SegmentRecord{}, fmt.Errorf("seek to edge %d: %w", id, err)
	}

	rec, err := decodeSegmentRecord(bufio.NewReader(r.f))
	if err != nil {
		return SegmentRecord{}, fmt.Errorf("read edge %d: %w", id, err)
	}

	return rec, nil
}

// Close releases the underlying file handle.
func (r *IndexedReader) Close() error { return r.f.Close() }
