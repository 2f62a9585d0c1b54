// Package dirpath implements the directory layer's path model (component A):
// immutable absolute/relative paths of (name, layer-id) segments, with
// escaped parse/format and the prefix tests the node finder and directory
// operations build on.
//
// Grounded on the traversal pattern in the teacher's
// storage/disk/paths.go (pathMapper, pathSet.IsDisjoint/hasPrefixWithWildcard)
// and storage.Path's segment-sequence comparison as exercised by
// storage/path_test.go (storage/path.go itself was filtered out of the
// retrieved source), generalized here to carry a per-segment layer-id and
// the absolute/relative distinction the directory layer's data model
// requires. The teacher's own storage.ParsePathEscaped was not present in
// the retrieved source either; only its call site in paths.go was
// available, so the escaping grammar below is written fresh from the
// spec's description of it, in the same byte-oriented style paths.go uses
// for its own path handling.
package dirpath

import (
	"errors"
	"strings"
)

// ErrInvalidPath is returned when a path string cannot be parsed: an empty
// token (two adjacent unescaped separators, a leading separator repeated, or
// a trailing escape) anywhere in the input.
var ErrInvalidPath = errors.New("dirpath: invalid path")

// Segment is one element of a Path: a name and its associated layer-id.
// layer-id is normally empty except for partition roots and segments
// produced by WithLayer.
type Segment struct {
	Name    string
	LayerID string
}

// Path is an immutable, ordered sequence of segments. The zero Path is the
// empty relative path; use Root() for the empty absolute path.
type Path struct {
	segments []Segment
	absolute bool
}

// Root returns the absolute path with zero segments.
func Root() Path {
	return Path{absolute: true}
}

// Parse parses s into a Path. A leading "/" makes the path absolute.
// Segments are "/"-separated; "\" escapes the following byte, so "\/" is a
// literal slash in a name and "\\" is a literal backslash. An empty segment
// (two adjacent unescaped slashes, or a trailing unescaped slash) is
// rejected with ErrInvalidPath.
func Parse(s string) (Path, error) {
	absolute := strings.HasPrefix(s, "/")
	body := s
	if absolute {
		body = s[1:]
	}
	if body == "" {
		return Path{absolute: absolute}, nil
	}

	var segments []Segment
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			if i == len(body)-1 {
				return Path{}, ErrInvalidPath
			}
			escaped = true
		case c == '/':
			if cur.Len() == 0 {
				return Path{}, ErrInvalidPath
			}
			segments = append(segments, Segment{Name: cur.String()})
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() == 0 {
		return Path{}, ErrInvalidPath
	}
	segments = append(segments, Segment{Name: cur.String()})

	return Path{segments: segments, absolute: absolute}, nil
}

// Format renders p back to its escaped string form, escaping only "\" and
// "/" in names, so Parse(Format(p)) yields p's names again. Format(Parse(s))
// differs from s when s escapes any other byte: "/\a" formats as "/a".
func (p Path) Format() string {
	var b strings.Builder
	if p.absolute {
		b.WriteByte('/')
	}
	for i, seg := range p.segments {
		if i > 0 {
			b.WriteByte('/')
		}
		escapeName(&b, seg.Name)
	}
	return b.String()
}

func (p Path) String() string { return p.Format() }

func escapeName(b *strings.Builder, name string) {
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '\\' || c == '/' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
}

// IsAbsolute reports whether p is rooted.
func (p Path) IsAbsolute() bool { return p.absolute }

// IsRoot reports whether p is the absolute path with zero segments.
func (p Path) IsRoot() bool { return p.absolute && len(p.segments) == 0 }

// Len returns the number of segments in p.
func (p Path) Len() int { return len(p.segments) }

// Segments returns a copy of p's segments.
func (p Path) Segments() []Segment {
	out := make([]Segment, len(p.segments))
	copy(out, p.segments)
	return out
}

// Names returns just the segment names, in order.
func (p Path) Names() []string {
	out := make([]string, len(p.segments))
	for i, s := range p.segments {
		out[i] = s.Name
	}
	return out
}

// Parent returns p with its last segment removed, and false if p has no
// segments to remove (root or empty relative path).
func (p Path) Parent() (Path, bool) {
	if len(p.segments) == 0 {
		return Path{}, false
	}
	return Path{segments: p.segments[:len(p.segments)-1], absolute: p.absolute}, true
}

// Add returns a new Path with names appended as plain (no layer-id)
// segments.
func (p Path) Add(names ...string) Path {
	segs := make([]Segment, 0, len(p.segments)+len(names))
	segs = append(segs, p.segments...)
	for _, n := range names {
		segs = append(segs, Segment{Name: n})
	}
	return Path{segments: segs, absolute: p.absolute}
}

// WithLayer returns a copy of p whose last segment carries layerID. Calling
// WithLayer on the root path returns p unchanged: the root has no segment to
// tag.
func (p Path) WithLayer(layerID string) Path {
	if len(p.segments) == 0 {
		return p
	}
	segs := make([]Segment, len(p.segments))
	copy(segs, p.segments)
	segs[len(segs)-1].LayerID = layerID
	return Path{segments: segs, absolute: p.absolute}
}

// Layer returns the layer-id of p's last segment, or "" for the root path.
func (p Path) Layer() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1].LayerID
}

// StartsWith reports whether p's segment names have other's segment names
// as a prefix. Both paths must share the same absolute/relative kind.
func (p Path) StartsWith(other Path) bool {
	if p.absolute != other.absolute {
		return false
	}
	if len(other.segments) > len(p.segments) {
		return false
	}
	for i := range other.segments {
		if p.segments[i].Name != other.segments[i].Name {
			return false
		}
	}
	return true
}

// IsChildOf reports whether p is a direct or nested child of other: other is
// a strict prefix of p.
func (p Path) IsChildOf(other Path) bool {
	return len(p.segments) > len(other.segments) && p.StartsWith(other)
}

// Equal reports whether p and other have identical kind and segment names
// (layer-ids are not part of path identity for equality — see Compare).
func (p Path) Equal(other Path) bool {
	if p.absolute != other.absolute || len(p.segments) != len(other.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i].Name != other.segments[i].Name {
			return false
		}
	}
	return true
}

// Compare orders p relative to other lexicographically by segment name,
// shorter-is-less when one is a prefix of the other.
func (p Path) Compare(other Path) int {
	n := len(p.segments)
	if len(other.segments) < n {
		n = len(other.segments)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(p.segments[i].Name, other.segments[i].Name); c != 0 {
			return c
		}
	}
	return len(p.segments) - len(other.segments)
}
