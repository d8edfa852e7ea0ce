package core

import "fmt"

// Capture implements SegmentSink (§4.2): it assigns edge ids and writes
// SegmentRecords to a Writer in response to paired pre/commit callbacks from
// the external segment producer. A FIFO of pending pre-records mirrors the
// producer's own 1:1 ordering contract; a commit with nothing pending, or
// pending records left over at Finish, is a fatal integration error.
type Capture struct {
	w       *Writer
	pending []SegmentPre
	counter uint32
}

// NewCapture wraps w; w must not be written to by any other caller.
func NewCapture(w *Writer) *Capture {
	return &Capture{w: w}
}

// Pre records a segment about to be committed. It does not touch the
// segment store; the record is only written on the matching Commit.
func (c *Capture) Pre(seg SegmentPre) error {
	c.pending = append(c.pending, seg)
	return nil
}

// Commit pops the oldest pending segment, assigns it the next edge id, and
// appends a SegmentRecord to the underlying store.
func (c *Capture) Commit() error {
	if len(c.pending) == 0 {
		return fmt.Errorf("%w: commit with no pending segment", ErrFIFOMismatch)
	}

	seg := c.pending[0]
	c.pending = c.pending[1:]

	var flags uint8
	if seg.IsBarrier {
		flags |= FlagBarrier
	}

	rec := SegmentRecord{
		EdgeID:    c.counter,
		BaseWayID: seg.BaseWayID,
		SegIndex:  seg.SegIndex,
		Flags:     flags,
		NodeRefs:  seg.NodeIDs,
	}
	c.counter++

	if err := c.w.Write(rec); err != nil {
		return fmt.Errorf("commit segment for base way %d: %w", seg.BaseWayID, err)
	}

	return nil
}

// EdgeCount returns the number of edges committed so far.
func (c *Capture) EdgeCount() uint32 { return c.counter }

// Finish verifies the FIFO is empty and closes the underlying store. Call
// this once, after the producer signals end-of-stream.
func (c *Capture) Finish() error {
	if len(c.pending) != 0 {
		return fmt.Errorf("%w: %d pending segment(s) with no commit at end of stream",
			ErrFIFOMismatch, len(c.pending))
	}

	return c.w.Close()
}
