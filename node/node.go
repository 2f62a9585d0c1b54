// Package node implements the node finder (component C): given a
// transaction, a root partition, and an absolute path, traverse the node
// tree — crossing partition boundaries as needed — and report the node's
// prefix, layer, owning partition, and the validation chain a cache entry
// for this lookup would need to revalidate.
//
// Grounded on the traversal loop in the teacher's storage/disk/disk.go
// transaction path-walking helpers (which thread a running prefix through
// repeated key reads) generalized to cross partition boundaries and to
// build a validation chain instead of returning data directly.
package node

import (
	"context"
	"errors"

	"github.com/dirlayer/fdbdirectory/dirpath"
	"github.com/dirlayer/fdbdirectory/kv"
	"github.com/dirlayer/fdbdirectory/partition"
	"github.com/dirlayer/fdbdirectory/tuple"
)

var errInvalidChildEdgeKey = errors.New("node: key is not a valid child-edge key")

// childIndexTag separates the sub-directory index from other node
// attributes in the key encoding (§3: "the constant 0").
const childIndexTag = 0

// layerAttr is the tuple element naming the "layer" attribute key.
const layerAttr = "layer"

// ValidationPair is one (key, observed-value) pair in a validation chain.
type ValidationPair struct {
	Key   []byte
	Value []byte
}

// Node is the result of a find: the node's allocated prefix, its layer-id,
// the partition its children live in (the nested partition itself when the
// node is a partition root, otherwise the one holding the node), the
// partition holding the node's own child-index edge, its prefix as
// recorded in that edge, the validation chain accumulated while traversing
// to it, and whether it exists at all.
type Node struct {
	Prefix                  []byte
	Layer                   string
	Partition               *partition.Descriptor
	ParentPartition          *partition.Descriptor
	PrefixInParentPartition []byte
	Chain                   []ValidationPair
	Exists                  bool
}

// ChildEdgeKey returns the key recording the child-index edge from parent
// to childName: Nodes+encode(parent, 0, childName).
func ChildEdgeKey(nodes []byte, parentPrefix []byte, childName string) []byte {
	return tuple.AppendPack(nodes, parentPrefix, childIndexTag, childName)
}

// LayerKey returns the key recording prefix's layer attribute:
// Nodes+encode(prefix, "layer").
func LayerKey(nodes []byte, prefix []byte) []byte {
	return tuple.AppendPack(nodes, prefix, layerAttr)
}

// ChildEdgeRange returns the [begin, end) bounds covering every child edge
// of parentPrefix, for a caller that needs to enumerate children rather
// than look up one by name (List, Remove).
func ChildEdgeRange(nodes []byte, parentPrefix []byte) (begin, end []byte) {
	begin = tuple.AppendPack(nodes, parentPrefix, childIndexTag)
	end = tuple.AppendPack(nodes, parentPrefix, childIndexTag+1)
	return begin, end
}

// ChildName extracts the child name from a key returned by a scan over
// ChildEdgeRange's bounds.
func ChildName(nodes []byte, key []byte) (string, error) {
	elems, err := tuple.Unpack(key[len(nodes):])
	if err != nil {
		return "", err
	}
	if len(elems) < 3 {
		return "", errInvalidChildEdgeKey
	}
	name, ok := elems[2].(string)
	if !ok {
		return "", errInvalidChildEdgeKey
	}
	return name, nil
}

// Find traverses path from rootPartition, returning the Node it names. The
// chain grows O(depth-of-partitions), not O(depth-of-path): only partition
// stamp keys are recorded, since per-segment child-edge reads are already
// covered transitively by the owning partition's stamp.
func Find(ctx context.Context, tr kv.ReadTransaction, rootPartition *partition.Descriptor, path dirpath.Path) (Node, error) {
	current := rootPartition.Nodes()
	part := rootPartition
	layer := partition.LayerID
	parentPartition := rootPartition.Parent()

	stamp, err := part.GetStampValue(ctx, tr)
	if err != nil {
		return Node{}, err
	}
	chain := []ValidationPair{{Key: part.StampKey(), Value: stamp}}

	segments := path.Segments()
	var prefixInParentPartition []byte

	for i, seg := range segments {
		edgeKey := ChildEdgeKey(part.Nodes(), current, seg.Name)
		childPrefix, err := tr.Get(ctx, edgeKey)
		if err != nil {
			return Node{}, err
		}
		if childPrefix == nil {
			return Node{Exists: false, Chain: chain}, nil
		}

		if i == len(segments)-1 {
			prefixInParentPartition = childPrefix
			parentPartition = part
		}

		current = childPrefix
		layerVal, err := tr.Get(ctx, LayerKey(part.Nodes(), current))
		if err != nil {
			return Node{}, err
		}
		layer = string(layerVal)

		if layer == partition.LayerID {
			childPath := partialPath(path, i+1)
			part = part.CreateChild(childPath, current)
			current = part.Nodes()
			stamp, err := part.GetStampValue(ctx, tr)
			if err != nil {
				return Node{}, err
			}
			chain = append(chain, ValidationPair{Key: part.StampKey(), Value: stamp})
		}
	}

	declaredLayer := path.Layer()
	if declaredLayer == "" {
		path = path.WithLayer(layer)
	}

	return Node{
		Prefix:                  current,
		Layer:                   layer,
		Partition:               part,
		ParentPartition:          parentPartition,
		PrefixInParentPartition: prefixInParentPartition,
		Chain:                   chain,
		Exists:                  true,
	}, nil
}

// partialPath returns the first n segments of p as a fresh absolute path.
// The finder only ever operates on absolute paths (§3: "the core accepts
// only absolute paths internally"), so the partition path built while
// crossing a boundary is always rooted.
func partialPath(p dirpath.Path, n int) dirpath.Path {
	return dirpath.Root().Add(p.Names()[:n]...)
}
