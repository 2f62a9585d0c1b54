package directory

import (
	"github.com/dirlayer/fdbdirectory/dirpath"
	"github.com/dirlayer/fdbdirectory/partition"
	"github.com/dirlayer/fdbdirectory/tuple"
)

// Subspace is the materialised result of a successful directory operation:
// the path it was resolved from, its allocated byte prefix, its layer-id,
// and the partition it lives in. It is the "subspace abstraction used by
// application code" the spec treats as an external collaborator — this is
// a minimal pass-through, since CreateOrOpen and friends must return
// something usable.
type Subspace struct {
	path      dirpath.Path
	prefix    []byte
	layer     string
	partition *partition.Descriptor
}

// Path returns the absolute path this subspace was opened at.
func (s *Subspace) Path() dirpath.Path { return s.path }

// Prefix returns the allocated byte prefix application keys should be
// scoped under.
func (s *Subspace) Prefix() []byte { return s.prefix }

// Layer returns the directory's layer-id ("" for a plain directory,
// partition.LayerID for a partition root).
func (s *Subspace) Layer() string { return s.layer }

// Bytes packs elements and prepends this subspace's prefix, giving callers
// a ready-to-use application key.
func (s *Subspace) Bytes(elements ...tuple.Element) []byte {
	return tuple.AppendPack(s.prefix, elements...)
}

// Unpack strips this subspace's prefix from key and unpacks the remainder.
// It returns an error if key does not start with the subspace's prefix.
func (s *Subspace) Unpack(key []byte) ([]tuple.Element, error) {
	if len(key) < len(s.prefix) || string(key[:len(s.prefix)]) != string(s.prefix) {
		return nil, invalidPathError(s.path.Format(), "key does not belong to this subspace")
	}
	return tuple.Unpack(key[len(s.prefix):])
}
