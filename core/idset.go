package core

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
)

// DefaultSortChunk is C from §4.3: the number of int64 values sorted in
// memory per chunk (~80 MiB).
const DefaultSortChunk = 10_000_000

// spiller accumulates a raw big-endian i64 sequence to a spill file.
type spiller struct {
	f    *os.File
	w    *bufio.Writer
	path string
}

func newSpiller(dir, name string) (*spiller, error) {
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create spill file %q: %w", path, err)
	}
	return &spiller{f: f, w: bufio.NewWriterSize(f, 1<<20), path: path}, nil
}

func (s *spiller) emit(v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	_, err := s.w.Write(b[:])
	return err
}

// finish flushes the spill file, runs the chunked external sort + k-way
// merge with dedup, and removes every temp file it created (spill and chunk
// files alike) regardless of outcome.
func (s *spiller) finish(chunkSize int) (sorted []int64, rerr error) {
	defer removeAll(s.path)

	if err := s.w.Flush(); err != nil {
		_ = s.f.Close()
		return nil, fmt.Errorf("flush spill file %q: %w", s.path, err)
	}
	if err := s.f.Close(); err != nil {
		return nil, fmt.Errorf("close spill file %q: %w", s.path, err)
	}

	chunkPaths, err := splitSortedChunks(s.path, chunkSize)
	defer removeAll(chunkPaths...)
	if err != nil {
		return nil, fmt.Errorf("chunk-sort %q: %w", s.path, err)
	}

	sorted, err = mergeChunks(chunkPaths)
	if err != nil {
		return nil, fmt.Errorf("merge chunks of %q: %w", s.path, err)
	}

	return sorted, nil
}

// splitSortedChunks reads path in fixed-count chunks of chunkSize longs,
// sorts each chunk ascending in memory, and writes it to its own numbered
// temp file alongside path.
func splitSortedChunks(path string, chunkSize int) (paths []string, rerr error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() // nolint:errcheck

	br := bufio.NewReaderSize(f, 1<<20)
	buf := make([]int64, 0, chunkSize)
	idx := 0

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		slices.Sort(buf)

		chunkPath := fmt.Sprintf("%s.chunk%05d", path, idx)
		idx++

		cf, err := os.Create(chunkPath)
		if err != nil {
			return err
		}
		defer cf.Close() // nolint:errcheck
		paths = append(paths, chunkPath)

		w := bufio.NewWriterSize(cf, 1<<20)
		var tmp [8]byte
		for _, v := range buf {
			binary.BigEndian.PutUint64(tmp[:], uint64(v))
			if _, err := w.Write(tmp[:]); err != nil {
				return err
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}

		buf = buf[:0]
		return nil
	}

	var b [8]byte
	for {
		if _, err := io.ReadFull(br, b[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return paths, err
		}
		buf = append(buf, int64(binary.BigEndian.Uint64(b[:])))

		if len(buf) == chunkSize {
			if err := flush(); err != nil {
				return paths, err
			}
		}
	}

	if err := flush(); err != nil {
		return paths, err
	}

	return paths, nil
}

// chunkHead is one entry in the k-way merge's priority queue: the current
// head value of a chunk file, plus which reader it came from.
type chunkHead struct {
	value int64
	idx   int
}

// mergeHeap implements container/heap.Interface over pending chunk heads,
// the same approach storj-storj uses for its own priority queues
// (satellite/jobq/jobqueue/overlayheap.go) rather than a hand-rolled binary
// heap.
type mergeHeap []chunkHead

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return h[i].value < h[j].value }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(chunkHead)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeChunks opens one buffered reader per chunk file, seeds a
// min-priority-queue with each chunk's head value, and repeatedly pops the
// minimum, emitting it only when it differs from the previously emitted
// value (§4.3 step 3).
func mergeChunks(paths []string) (result []int64, rerr error) {
	if len(paths) == 0 {
		return nil, nil
	}

	readers := make([]*bufio.Reader, len(paths))
	files := make([]*os.File, len(paths))
	defer func() {
		for _, f := range files {
			if f != nil {
				_ = f.Close()
			}
		}
	}()

	for i, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		files[i] = f
		readers[i] = bufio.NewReaderSize(f, 1<<16)
	}

	readNext := func(i int) (int64, bool, error) {
		var b [8]byte
		if _, err := io.ReadFull(readers[i], b[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return 0, false, nil
			}
			return 0, false, err
		}
		return int64(binary.BigEndian.Uint64(b[:])), true, nil
	}

	h := make(mergeHeap, 0, len(readers))
	for i := range readers {
		v, ok, err := readNext(i)
		if err != nil {
			return nil, err
		}
		if ok {
			h = append(h, chunkHead{value: v, idx: i})
		}
	}
	heap.Init(&h)

	var prev int64
	havePrev := false
	for h.Len() > 0 {
		top := heap.Pop(&h).(chunkHead)

		if !havePrev || top.value != prev {
			result = append(result, top.value)
			prev = top.value
			havePrev = true
		}

		v, ok, err := readNext(top.idx)
		if err != nil {
			return nil, err
		}
		if ok {
			heap.Push(&h, chunkHead{value: v, idx: top.idx})
		}
	}

	return result, nil
}

// NeededIDs holds the sorted, deduplicated node and base-way id sets derived
// from a segment store (§4.3).
type NeededIDs struct {
	NodeIDs []int64
	WayIDs  []int64
}

// ExtractNeededIDs scans ss once, spilling every base_way_id and node_refs
// value to disk, then derives the sorted-unique node and way id arrays via
// external merge sort. workDir holds the transient spill/chunk files, all of
// which are removed before this returns, on every exit path. chunkSize <= 0
// uses DefaultSortChunk.
func ExtractNeededIDs(ssPath, workDir string, chunkSize int) (NeededIDs, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultSortChunk
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return NeededIDs{}, fmt.Errorf("mkdir %q: %w", workDir, err)
	}

	nodeSpill, err := newSpiller(workDir, "node_ids.bin")
	if err != nil {
		return NeededIDs{}, err
	}
	waySpill, err := newSpiller(workDir, "way_ids.bin")
	if err != nil {
		removeAll(nodeSpill.path)
		return NeededIDs{}, err
	}

	reader, err := OpenReader(ssPath)
	if err != nil {
		removeAll(nodeSpill.path, waySpill.path)
		return NeededIDs{}, err
	}

	scanner, err := reader.Records()
	if err != nil {
		removeAll(nodeSpill.path, waySpill.path)
		return NeededIDs{}, err
	}

	for scanner.Scan() {
		rec := scanner.Record()

		if err := waySpill.emit(rec.BaseWayID); err != nil {
			_ = scanner.Close()
			removeAll(nodeSpill.path, waySpill.path)
			return NeededIDs{}, fmt.Errorf("spill base_way_id: %w", err)
		}

		for _, nid := range rec.NodeRefs {
			if err := nodeSpill.emit(nid); err != nil {
				_ = scanner.Close()
				removeAll(nodeSpill.path, waySpill.path)
				return NeededIDs{}, fmt.Errorf("spill node_ref: %w", err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		removeAll(nodeSpill.path, waySpill.path)
		return NeededIDs{}, fmt.Errorf("scan segment store %q: %w", ssPath, err)
	}

	nodeIDs, err := nodeSpill.finish(chunkSize)
	if err != nil {
		removeAll(waySpill.path)
		return NeededIDs{}, fmt.Errorf("extract node ids: %w", err)
	}

	wayIDs, err := waySpill.finish(chunkSize)
	if err != nil {
		return NeededIDs{}, fmt.Errorf("extract way ids: %w", err)
	}

	return NeededIDs{NodeIDs: nodeIDs, WayIDs: wayIDs}, nil
}

// ContainsID reports whether sorted (ascending, deduplicated) contains id,
// via binary search.
func ContainsID(sorted []int64, id int64) bool {
	_, ok := slices.BinarySearch(sorted, id)
	return ok
}
