package core

import "errors"

// Error kinds surfaced by the segment store, caches and stage drivers. Callers
// use errors.Is against these; wrapped detail is added with fmt.Errorf("%w").
var (
	// ErrBadMagic is returned when a binary cache or segment store file does
	// not start with the expected magic bytes.
	ErrBadMagic = errors.New("bad magic")

	// ErrUnsupportedVersion is returned when a file's version byte is not
	// one this build understands.
	ErrUnsupportedVersion = errors.New("unsupported version")

	// ErrTruncatedRecord is returned when a record's payload runs past EOF.
	ErrTruncatedRecord = errors.New("truncated record")

	// ErrStoreClosed is returned by Writer.Write after Close.
	ErrStoreClosed = errors.New("segment store writer closed")

	// ErrUnsupportedOperation is returned when a streaming-only reader is
	// asked for a point lookup (Reader.ByEdgeID), when a PBF reader that
	// cannot rewind is asked for a second pass, and when the XML writer
	// receives an element out of node/way/relation order.
	ErrUnsupportedOperation = errors.New("unsupported operation on streaming reader")

	// ErrNotFound is returned by an indexed lookup for an unknown id.
	ErrNotFound = errors.New("not found")

	// ErrFIFOMismatch indicates the external segment producer violated the
	// paired pre/commit contract described in §4.2: a commit with no
	// pending segment, or unconsumed pending segments at end of stream.
	ErrFIFOMismatch = errors.New("capture FIFO mismatch")

	// ErrNoCacheFiles is returned when neither the binary nor the text
	// variant of a cache file is present in a cache directory.
	ErrNoCacheFiles = errors.New("no cache files found")

	// ErrBadMemberType is returned when a relation member's type token is
	// not one of NODE, WAY or RELATION.
	ErrBadMemberType = errors.New("bad relation member type")
)
