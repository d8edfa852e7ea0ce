package core

// Point is a geographic position with optional elevation. Ele is NaN when
// the source had no elevation for the point.
type Point struct {
	Lat, Lon, Ele float64
}

// MemberType is the kind of relation member, mirroring OSM's three element
// kinds.
type MemberType uint8

const (
	MemberNode MemberType = iota
	MemberWay
	MemberRelation
)

// String renders the literal tokens used by the relation cache's text
// format and by the derived PBF writer.
func (t MemberType) String() string {
	switch t {
	case MemberNode:
		return "NODE"
	case MemberWay:
		return "WAY"
	case MemberRelation:
		return "RELATION"
	default:
		return "UNKNOWN"
	}
}

// ParseMemberType reverses MemberType.String.
func ParseMemberType(s string) (MemberType, error) {
	switch s {
	case "NODE":
		return MemberNode, nil
	case "WAY":
		return MemberWay, nil
	case "RELATION":
		return MemberRelation, nil
	default:
		return 0, ErrBadMemberType
	}
}

// Member is one member of an OSM relation.
type Member struct {
	Type MemberType
	Ref  int64
	Role string
}

// SourceNode is a node as produced by the external PBF reader. Tags is
// carried through even though the core's own node cache discards everything
// but coordinates; a segment producer may need it (e.g. to recognize
// barrier=* nodes) before the core ever sees the way.
type SourceNode struct {
	ID   int64
	Tags map[string]string
	Point
}

// SourceWay is a way as produced by the external PBF reader.
type SourceWay struct {
	ID    int64
	Nodes []int64
	Tags  map[string]string
}

// SourceRelation is a relation as produced by the external PBF reader, or as
// rewritten by Rewriter before being handed to the PBF writer.
type SourceRelation struct {
	ID      int64
	Tags    map[string]string
	Members []Member
}

// ElementKind discriminates the variants carried by Element.
type ElementKind uint8

const (
	ElementHeader ElementKind = iota
	ElementNode
	ElementWay
	ElementRelation
)

// Element is one item of the external PBF reader's forward-only stream.
// Exactly one of Node/Way/Relation is set, matching Kind.
type Element struct {
	Kind     ElementKind
	Node     *SourceNode
	Way      *SourceWay
	Relation *SourceRelation
}

// PBFReader is the external forward-only stream of typed OSM elements the
// core consumes during capture and extract. It is implemented by a
// downstream PBF decoding library; the core never implements it itself.
// Next returns io.EOF when the stream is exhausted.
type PBFReader interface {
	Next() (Element, error)
}

// OutputNode, OutputWay and OutputRelation are the entities the assembler
// hands to the external PBF writer, carrying the synthetic attributes
// required by its schema (§4.7).
type OutputNode struct {
	ID        int64
	Point     Point
	Version   int32
	Changeset int64
	User      string
	Timestamp int64 // unix seconds
}

type OutputWay struct {
	ID        int64
	Nodes     []int64
	Tags      map[string]string
	Version   int32
	Changeset int64
	User      string
	Timestamp int64
}

type OutputRelation struct {
	ID        int64
	Tags      map[string]string
	Members   []Member
	Version   int32
	Changeset int64
	User      string
	Timestamp int64
}

// PBFWriter accepts nodes, then ways, then relations, in that order, and is
// implemented by a downstream PBF encoding library.
type PBFWriter interface {
	WriteNode(OutputNode) error
	WriteWay(OutputWay) error
	WriteRelation(OutputRelation) error
	Close() error
}

// SegmentPre is the payload of the external segment producer's "pre"
// callback: a segment about to be assigned an edge id.
type SegmentPre struct {
	BaseWayID int64
	NodeIDs   []int64
	SegIndex  uint32
	IsBarrier bool
}

// SegmentSink is driven by the external segment producer via two callbacks
// per segment, arriving in strict 1:1 order: Pre(seg) followed by Commit()
// for that same segment, before the next Pre call. The core's Capture type
// is the only implementation; it is the sole synchronization contract with
// the producer (§4.2).
type SegmentSink interface {
	Pre(seg SegmentPre) error
	Commit() error
}
