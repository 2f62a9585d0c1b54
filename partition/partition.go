// Package partition implements the partition descriptor (component B): a
// pure value object locating one independent directory tree's nodes
// subspace, content subspace, version key, and metadata-stamp key.
//
// Grounded on the teacher's storage/disk/partition.go, which plays the
// analogous role of describing one schema/partition-version's key range
// (newPartitionTrie's prefix bookkeeping) without itself touching the
// store; adapted here from OPA's schema/partition-version integers to the
// directory layer's content-prefix-addressed partitions.
package partition

import (
	"context"
	"encoding/binary"

	"github.com/dirlayer/fdbdirectory/dirpath"
	"github.com/dirlayer/fdbdirectory/kv"
	"github.com/dirlayer/fdbdirectory/tuple"
)

// version is the on-disk semantic version this layer writes to a fresh
// partition's VersionKey: three little-endian u32 fields (major, minor,
// patch). It also doubles as this library's own read/write capability,
// consulted by the version gate.
var version = [3]uint32{1, 0, 0}

// LibraryVersion returns this library's major, minor, patch capability:
// the version a fresh partition is initialised with, and the ceiling the
// version gate checks an existing partition's on-disk record against.
func LibraryVersion() (major, minor, patch uint32) {
	return version[0], version[1], version[2]
}

// LayerID is the reserved layer-id stamped on every partition root node.
const LayerID = "partition"

// Descriptor locates one partition's subspaces and metadata keys. It holds
// no transaction state of its own.
type Descriptor struct {
	path    dirpath.Path // absolute path of this partition's root, in the parent's namespace
	content []byte       // byte prefix under which allocated subspaces live
	nodes   []byte       // Content || 0xFE

	parent *Descriptor // nil for the outermost partition
}

// New constructs the descriptor for a partition rooted at content, reachable
// at path from the outermost partition. parent is nil for the outermost
// partition.
func New(path dirpath.Path, content []byte, parent *Descriptor) *Descriptor {
	nodes := make([]byte, len(content)+1)
	copy(nodes, content)
	nodes[len(content)] = tuple.DirectoryMarker
	return &Descriptor{path: path, content: content, nodes: nodes, parent: parent}
}

// Path returns the absolute path of this partition's root.
func (d *Descriptor) Path() dirpath.Path { return d.path }

// Content returns the byte prefix subspaces allocated in this partition live
// under.
func (d *Descriptor) Content() []byte { return d.content }

// Nodes returns the byte prefix tree metadata for this partition lives
// under: Content || 0xFE.
func (d *Descriptor) Nodes() []byte { return d.nodes }

// Parent returns the enclosing partition, or nil if d is the outermost one.
func (d *Descriptor) Parent() *Descriptor { return d.parent }

// VersionKey is Nodes+encode(Nodes, "version"): a 3xu32 semantic version
// written once at partition init.
func (d *Descriptor) VersionKey() []byte {
	return tuple.AppendPack(d.nodes, d.nodes, "version")
}

// StampKey is Nodes+encode(Nodes, "stamp"): an opaque 64-bit counter bumped
// on every mutation within the partition.
func (d *Descriptor) StampKey() []byte {
	return tuple.AppendPack(d.nodes, d.nodes, "stamp")
}

// CreateChild returns a fresh descriptor for a nested partition rooted at
// childPrefix, reachable at childPath from the outermost partition.
func (d *Descriptor) CreateChild(childPath dirpath.Path, childPrefix []byte) *Descriptor {
	return New(childPath, childPrefix, d)
}

// InitVersion writes this partition's VersionKey, overwriting any existing
// record; it is called by the version gate when the key is absent and when
// a partition root node is created. The on-disk
// layout is three little-endian u32 fields, matching FDB's own directory
// layer wire format.
func InitVersion(tr kv.Transaction, d *Descriptor) {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], version[0])
	binary.LittleEndian.PutUint32(buf[4:8], version[1])
	binary.LittleEndian.PutUint32(buf[8:12], version[2])
	tr.Set(d.VersionKey(), buf)
}

// ReadVersion reads and decodes this partition's on-disk version record.
// Returns (0,0,0,false) if the key is absent.
func ReadVersion(ctx context.Context, tr kv.ReadTransaction, d *Descriptor) (major, minor, patch uint32, ok bool, err error) {
	v, err := tr.Get(ctx, d.VersionKey())
	if err != nil {
		return 0, 0, 0, false, err
	}
	if v == nil || len(v) < 12 {
		return 0, 0, 0, false, nil
	}
	return binary.LittleEndian.Uint32(v[0:4]), binary.LittleEndian.Uint32(v[4:8]), binary.LittleEndian.Uint32(v[8:12]), true, nil
}

// BumpStamp increments this partition's stamp counter by one via the
// store's atomic-add primitive: the sole conflict surface mutations touch,
// so two concurrent mutations in disjoint subtrees of the same partition do
// not conflict on the stamp alone.
func (d *Descriptor) BumpStamp(tr kv.Transaction) {
	tr.AtomicAdd(d.StampKey(), 1)
}

// GetStampValue reads StampKey, returning the raw stored bytes (an opaque
// little-endian counter as maintained by kv.Transaction.AtomicAdd). The
// value is not cached on d: callers needing per-call caching keep their own
// copy, since a Descriptor may be shared across transactions and the stamp
// is read-version-scoped.
func (d *Descriptor) GetStampValue(ctx context.Context, tr kv.ReadTransaction) ([]byte, error) {
	return tr.Get(ctx, d.StampKey())
}
