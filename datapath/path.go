// Package datapath provides the path addressing scheme for the repository.
// A path has a typed root (data/ui/var/env) followed by an ordered list of
// segments: named properties, array indices, or a wildcard. Paths are
// immutable once constructed and comparable for ancestor relationships,
// which is how changes are routed to subscribers.
package datapath

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/dataflow/errors"
)

// Root discriminates the top-level namespace a path addresses
type Root string

// Root namespaces
const (
	RootData Root = "data" // collected and derived data
	RootUI   Root = "ui"   // UI-bound state
	RootVar  Root = "var"  // configuration variables
	RootEnv  Root = "env"  // environment values
)

// Valid reports whether the root is one of the known namespaces
func (r Root) Valid() bool {
	switch r {
	case RootData, RootUI, RootVar, RootEnv:
		return true
	default:
		return false
	}
}

// SegmentKind discriminates path segment variants
type SegmentKind int

const (
	// SegmentName addresses a named property of an object
	SegmentName SegmentKind = iota
	// SegmentIndex addresses an element of an array
	SegmentIndex
	// SegmentWildcard matches any single segment
	SegmentWildcard
)

// Segment is one step of a path
type Segment struct {
	Kind  SegmentKind
	Name  string // valid when Kind == SegmentName
	Index int    // valid when Kind == SegmentIndex
}

// String renders the segment in dotted-path notation
func (s Segment) String() string {
	switch s.Kind {
	case SegmentIndex:
		return strconv.Itoa(s.Index)
	case SegmentWildcard:
		return "*"
	default:
		return s.Name
	}
}

// Name returns a named property segment
func Name(name string) Segment {
	return Segment{Kind: SegmentName, Name: name}
}

// Index returns an array index segment
func Index(i int) Segment {
	return Segment{Kind: SegmentIndex, Index: i}
}

// Wildcard returns a wildcard segment
func Wildcard() Segment {
	return Segment{Kind: SegmentWildcard}
}

// Path is an immutable, addressable location in the repository.
// The zero value is invalid; construct with New or Parse.
type Path struct {
	root     Root
	segments []Segment
	key      string // precomputed canonical form, usable as a map key
}

// New constructs a path from a root and segments
func New(root Root, segments ...Segment) (Path, error) {
	if !root.Valid() {
		return Path{}, errors.WrapInvalid(
			fmt.Errorf("unknown root %q: %w", root, errors.ErrInvalidPath),
			"datapath", "New", "validate root")
	}
	for _, seg := range segments {
		if seg.Kind == SegmentName && seg.Name == "" {
			return Path{}, errors.WrapInvalid(
				fmt.Errorf("empty segment name: %w", errors.ErrInvalidPath),
				"datapath", "New", "validate segments")
		}
		if seg.Kind == SegmentIndex && seg.Index < 0 {
			return Path{}, errors.WrapInvalid(
				fmt.Errorf("negative index %d: %w", seg.Index, errors.ErrInvalidPath),
				"datapath", "New", "validate segments")
		}
	}
	segs := make([]Segment, len(segments))
	copy(segs, segments)
	return Path{root: root, segments: segs, key: render(root, segs)}, nil
}

// MustParse parses a path and panics on error. Intended for fixed paths
// in declarations and tests.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse parses dotted notation like "data.weather.temp" or "ui.list.0.label".
// Numeric segments parse as indices and "*" as a wildcard.
func Parse(s string) (Path, error) {
	parts := strings.Split(s, ".")
	if len(parts) == 0 || parts[0] == "" {
		return Path{}, errors.WrapInvalid(
			fmt.Errorf("empty path %q: %w", s, errors.ErrInvalidPath),
			"datapath", "Parse", "split path")
	}

	root := Root(parts[0])
	segments := make([]Segment, 0, len(parts)-1)
	for _, part := range parts[1:] {
		switch {
		case part == "":
			return Path{}, errors.WrapInvalid(
				fmt.Errorf("empty segment in %q: %w", s, errors.ErrInvalidPath),
				"datapath", "Parse", "validate segments")
		case part == "*":
			segments = append(segments, Wildcard())
		default:
			if idx, err := strconv.Atoi(part); err == nil {
				if idx < 0 {
					return Path{}, errors.WrapInvalid(
						fmt.Errorf("negative index in %q: %w", s, errors.ErrInvalidPath),
						"datapath", "Parse", "validate segments")
				}
				segments = append(segments, Index(idx))
			} else {
				segments = append(segments, Name(part))
			}
		}
	}

	return New(root, segments...)
}

func render(root Root, segments []Segment) string {
	var b strings.Builder
	b.WriteString(string(root))
	for _, seg := range segments {
		b.WriteByte('.')
		b.WriteString(seg.String())
	}
	return b.String()
}

// Root returns the path's root namespace
func (p Path) Root() Root {
	return p.root
}

// Segments returns a copy of the path's segments
func (p Path) Segments() []Segment {
	segs := make([]Segment, len(p.segments))
	copy(segs, p.segments)
	return segs
}

// Len returns the number of segments below the root
func (p Path) Len() int {
	return len(p.segments)
}

// String returns the canonical dotted form
func (p Path) String() string {
	return p.key
}

// Key returns the canonical form used for map indexing. Identical to
// String; named separately so call sites read as intent.
func (p Path) Key() string {
	return p.key
}

// IsZero reports whether the path is the invalid zero value
func (p Path) IsZero() bool {
	return p.root == ""
}

// Equal reports whether two paths address the same location.
// Wildcards only compare equal to wildcards.
func (p Path) Equal(other Path) bool {
	return p.key == other.key
}

// Child returns a new path with the segment appended
func (p Path) Child(seg Segment) Path {
	segs := make([]Segment, len(p.segments)+1)
	copy(segs, p.segments)
	segs[len(p.segments)] = seg
	return Path{root: p.root, segments: segs, key: render(p.root, segs)}
}

// Parent returns the path one segment shorter. A root-only path returns
// itself.
func (p Path) Parent() Path {
	if len(p.segments) == 0 {
		return p
	}
	segs := p.segments[:len(p.segments)-1]
	return Path{root: p.root, segments: segs, key: render(p.root, segs)}
}

// IsAncestorOf reports whether p is a strict ancestor of other.
// A wildcard segment in p matches any segment of other at that position.
func (p Path) IsAncestorOf(other Path) bool {
	if p.root != other.root || len(p.segments) >= len(other.segments) {
		return false
	}
	return p.prefixMatches(other)
}

// Contains reports whether a change at other should be routed to a
// subscriber of p: true when p equals other or p is an ancestor of other.
func (p Path) Contains(other Path) bool {
	if p.root != other.root || len(p.segments) > len(other.segments) {
		return false
	}
	return p.prefixMatches(other)
}

func (p Path) prefixMatches(other Path) bool {
	for i, seg := range p.segments {
		o := other.segments[i]
		if seg.Kind == SegmentWildcard || o.Kind == SegmentWildcard {
			continue
		}
		if seg.Kind != o.Kind {
			return false
		}
		if seg.Kind == SegmentName && seg.Name != o.Name {
			return false
		}
		if seg.Kind == SegmentIndex && seg.Index != o.Index {
			return false
		}
	}
	return true
}
