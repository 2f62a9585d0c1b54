package directory

import (
	"bytes"
	"context"
	"sort"

	"github.com/dirlayer/fdbdirectory/dircache"
	"github.com/dirlayer/fdbdirectory/dirpath"
	"github.com/dirlayer/fdbdirectory/internal/ptr"
	"github.com/dirlayer/fdbdirectory/kv"
	"github.com/dirlayer/fdbdirectory/metrics"
	"github.com/dirlayer/fdbdirectory/node"
	"github.com/dirlayer/fdbdirectory/partition"
	"github.com/dirlayer/fdbdirectory/txnstate"
)

// Exists reports whether path names a directory. The root always exists.
func (l *Layer) Exists(ctx context.Context, tr kv.Transaction, state *txnstate.State, path dirpath.Path) (exists bool, err error) {
	done := l.instrument(ctx, metrics.OpExists, path.Format())
	defer func() { err = done(err) }()

	if path.IsRoot() {
		return true, nil
	}
	if err := checkVersionGate(ctx, tr, l.root, false); err != nil {
		return false, err
	}
	n, err := l.lookup(ctx, tr, state, path)
	if err != nil {
		return false, err
	}
	return n.Exists, nil
}

func (l *Layer) lookup(ctx context.Context, tr kv.Transaction, state *txnstate.State, path dirpath.Path) (node.Node, error) {
	return dircache.Lookup(ctx, l.cache, state, l.db, tr, l.root, path)
}

// ChildEntry is one entry returned by List: a child's name and its
// layer-id.
type ChildEntry struct {
	Name  string
	Layer string
}

// List returns path's immediate children, sorted by name.
func (l *Layer) List(ctx context.Context, tr kv.Transaction, state *txnstate.State, path dirpath.Path) (entries []ChildEntry, err error) {
	done := l.instrument(ctx, metrics.OpList, path.Format())
	defer func() { err = done(err) }()

	if err := checkVersionGate(ctx, tr, l.root, false); err != nil {
		return nil, err
	}

	var part *partition.Descriptor
	var basePrefix []byte
	if path.IsRoot() {
		part = l.root
		basePrefix = l.root.Nodes()
	} else {
		n, err := l.lookup(ctx, tr, state, path)
		if err != nil {
			return nil, err
		}
		if !n.Exists {
			return nil, notFoundError(path.Format())
		}
		part, basePrefix = childEnumerationBase(n)
	}

	entries, err = listChildren(ctx, tr, part, basePrefix)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// TryList is List, returning (nil, nil) instead of a NotFound error.
func (l *Layer) TryList(ctx context.Context, tr kv.Transaction, state *txnstate.State, path dirpath.Path) ([]ChildEntry, error) {
	entries, err := l.List(ctx, tr, state, path)
	if IsNotFound(err) {
		return nil, nil
	}
	return entries, err
}

// ListAll is a streaming variant of List: it calls fn once per child, in
// name order, stopping early if fn returns an error. Unlike List it never
// materialises the full child set into memory at once, scanning in pages
// bounded by pageSize.
func (l *Layer) ListAll(ctx context.Context, tr kv.Transaction, state *txnstate.State, path dirpath.Path, pageSize int, fn func(ChildEntry) error) (err error) {
	done := l.instrument(ctx, metrics.OpList, path.Format())
	defer func() { err = done(err) }()

	if pageSize <= 0 {
		pageSize = 256
	}
	if err := checkVersionGate(ctx, tr, l.root, false); err != nil {
		return err
	}

	var part *partition.Descriptor
	var basePrefix []byte
	if path.IsRoot() {
		part, basePrefix = l.root, l.root.Nodes()
	} else {
		n, err := l.lookup(ctx, tr, state, path)
		if err != nil {
			return err
		}
		if !n.Exists {
			return notFoundError(path.Format())
		}
		part, basePrefix = childEnumerationBase(n)
	}

	begin, end := node.ChildEdgeRange(part.Nodes(), basePrefix)
	for {
		res, err := tr.GetRange(ctx, begin, end, kv.RangeOptions{Limit: pageSize})
		if err != nil {
			return err
		}
		for _, kvp := range res.KeyValues {
			name, err := node.ChildName(part.Nodes(), kvp.Key)
			if err != nil {
				return err
			}
			layerVal, err := tr.Get(ctx, node.LayerKey(part.Nodes(), kvp.Value))
			if err != nil {
				return err
			}
			if err := fn(ChildEntry{Name: name, Layer: string(layerVal)}); err != nil {
				return err
			}
		}
		if !res.More || len(res.KeyValues) == 0 {
			return nil
		}
		begin = append(append([]byte(nil), res.KeyValues[len(res.KeyValues)-1].Key...), 0x00)
	}
}

func listChildren(ctx context.Context, tr kv.Transaction, part *partition.Descriptor, basePrefix []byte) ([]ChildEntry, error) {
	begin, end := node.ChildEdgeRange(part.Nodes(), basePrefix)
	res, err := tr.GetRange(ctx, begin, end, kv.RangeOptions{})
	if err != nil {
		return nil, err
	}
	entries := make([]ChildEntry, 0, len(res.KeyValues))
	for _, kvp := range res.KeyValues {
		name, err := node.ChildName(part.Nodes(), kvp.Key)
		if err != nil {
			return nil, err
		}
		layerVal, err := tr.Get(ctx, node.LayerKey(part.Nodes(), kvp.Value))
		if err != nil {
			return nil, err
		}
		entries = append(entries, ChildEntry{Name: name, Layer: string(layerVal)})
	}
	return entries, nil
}

// childEnumerationBase returns the (partition, prefix) pair whose child
// edges describe n's own children: if n is itself a partition root, its
// children live in the nested partition it roots (addressed by that
// partition's own Nodes, per "P = Nodes itself" for a partition root);
// otherwise they live alongside n in n's owning partition.
func childEnumerationBase(n node.Node) (*partition.Descriptor, []byte) {
	if n.Layer == partition.LayerID {
		return n.Partition, n.Partition.Nodes()
	}
	return n.ParentPartition, n.PrefixInParentPartition
}

// Remove deletes path and its entire subtree: descendants' metadata, the
// content range backing every removed node, and the parent-to-child edge.
func (l *Layer) Remove(ctx context.Context, tr kv.Transaction, state *txnstate.State, path dirpath.Path) (err error) {
	done := l.instrument(ctx, metrics.OpRemove, path.Format())
	defer func() { err = done(err) }()

	if path.IsRoot() {
		return rootNotModifiableError()
	}
	if err := checkVersionGate(ctx, tr, l.root, true); err != nil {
		return err
	}

	n, err := l.lookup(ctx, tr, state, path)
	if err != nil {
		return err
	}
	if !n.Exists {
		return notFoundError(path.Format())
	}

	if ok, _ := state.EnterMutated(); !ok {
		return cacheMisuseError("transaction is no longer usable")
	}

	childPart, childBase := childEnumerationBase(n)
	if err := removeSubtree(ctx, tr, childPart, childBase); err != nil {
		return err
	}
	tr.ClearRange(ptr.Range(n.PrefixInParentPartition))

	name := path.Names()[path.Len()-1]
	parentPath, _ := path.Parent()
	parentBase := n.ParentPartition.Nodes()
	if !parentPath.IsRoot() {
		// The parent's own prefix, not its partition's Nodes: re-derive it
		// by looking the parent up once more (cheap: it is guaranteed
		// cached by the lookup that just ran for path itself).
		parentNode, err := l.lookup(ctx, tr, state, parentPath)
		if err != nil {
			return err
		}
		parentBase = parentNode.PrefixInParentPartition
		if parentNode.Layer == partition.LayerID {
			parentBase = parentNode.Partition.Nodes()
		}
	}
	tr.Clear(node.ChildEdgeKey(n.ParentPartition.Nodes(), parentBase, name))
	tr.Clear(node.LayerKey(n.ParentPartition.Nodes(), n.PrefixInParentPartition))

	n.ParentPartition.BumpStamp(tr)
	tr.TouchMetadataVersionKey()
	l.cache.Evict(path)
	return nil
}

// TryRemove is Remove, returning (false, nil) instead of a NotFound error
// and (true, nil) on success.
func (l *Layer) TryRemove(ctx context.Context, tr kv.Transaction, state *txnstate.State, path dirpath.Path) (bool, error) {
	err := l.Remove(ctx, tr, state, path)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// removeSubtree recursively clears every child of (part, basePrefix):
// partition-typed children are removed in one sweep (their whole nested
// keyspace lives under their own content range), plain children recurse
// first and are then cleared the same way.
func removeSubtree(ctx context.Context, tr kv.Transaction, part *partition.Descriptor, basePrefix []byte) error {
	begin, end := node.ChildEdgeRange(part.Nodes(), basePrefix)
	res, err := tr.GetRange(ctx, begin, end, kv.RangeOptions{})
	if err != nil {
		return err
	}
	for _, kvp := range res.KeyValues {
		childPrefix := kvp.Value
		layerVal, err := tr.Get(ctx, node.LayerKey(part.Nodes(), childPrefix))
		if err != nil {
			return err
		}
		if string(layerVal) == partition.LayerID {
			tr.ClearRange(ptr.Range(childPrefix))
		} else {
			if err := removeSubtree(ctx, tr, part, childPrefix); err != nil {
				return err
			}
			tr.ClearRange(ptr.Range(childPrefix))
		}
		tr.Clear(node.LayerKey(part.Nodes(), childPrefix))
		tr.Clear(kvp.Key)
	}
	return nil
}

// Move renames oldPath to newPath, preserving the node's prefix and
// contents. Both endpoints must resolve within the same partition.
func (l *Layer) Move(ctx context.Context, tr kv.Transaction, state *txnstate.State, oldPath, newPath dirpath.Path) (sub *Subspace, err error) {
	done := l.instrument(ctx, metrics.OpMove, oldPath.Format()+" -> "+newPath.Format())
	defer func() { err = done(err) }()

	if oldPath.IsRoot() || newPath.IsRoot() {
		return nil, rootNotModifiableError()
	}
	if newPath.StartsWith(oldPath) {
		return nil, invalidPathError(newPath.Format(), "destination is a descendant of source (would create a cycle)")
	}
	if err := checkVersionGate(ctx, tr, l.root, true); err != nil {
		return nil, err
	}

	oldNode, err := l.lookup(ctx, tr, state, oldPath)
	if err != nil {
		return nil, err
	}
	if !oldNode.Exists {
		return nil, notFoundError(oldPath.Format())
	}

	newNode, err := l.lookup(ctx, tr, state, newPath)
	if err != nil {
		return nil, err
	}
	if newNode.Exists {
		return nil, alreadyExistsError(newPath.Format())
	}

	newParentPath, _ := newPath.Parent()
	var newParentPart *partition.Descriptor
	var newParentBase []byte
	if newParentPath.IsRoot() {
		newParentPart, newParentBase = l.root, l.root.Nodes()
	} else {
		newParentNode, err := l.lookup(ctx, tr, state, newParentPath)
		if err != nil {
			return nil, err
		}
		if !newParentNode.Exists {
			return nil, notFoundError(newParentPath.Format())
		}
		newParentPart, newParentBase = childEnumerationBase(newParentNode)
	}

	// Find rebuilds a fresh *partition.Descriptor on every crossing, so two
	// independent lookups landing in the same nested partition never share a
	// pointer: compare the partitions' own byte identity (Nodes) instead.
	if !bytes.Equal(newParentPart.Nodes(), oldNode.ParentPartition.Nodes()) {
		return nil, invalidPathError(newPath.Format(), "move destination is in a different partition than the source")
	}

	if ok, _ := state.EnterMutated(); !ok {
		return nil, cacheMisuseError("transaction is no longer usable")
	}

	oldName := oldPath.Names()[oldPath.Len()-1]
	newName := newPath.Names()[newPath.Len()-1]

	oldParentPath, _ := oldPath.Parent()
	oldParentBase := l.root.Nodes()
	if !oldParentPath.IsRoot() {
		oldParentNode, err := l.lookup(ctx, tr, state, oldParentPath)
		if err != nil {
			return nil, err
		}
		oldParentBase = oldParentNode.PrefixInParentPartition
		if oldParentNode.Layer == partition.LayerID {
			oldParentBase = oldParentNode.Partition.Nodes()
		}
	}

	tr.Set(node.ChildEdgeKey(newParentPart.Nodes(), newParentBase, newName), oldNode.PrefixInParentPartition)
	tr.Clear(node.ChildEdgeKey(oldNode.ParentPartition.Nodes(), oldParentBase, oldName))

	oldNode.ParentPartition.BumpStamp(tr)
	tr.TouchMetadataVersionKey()
	l.cache.Evict(oldPath)
	l.cache.Evict(newPath)

	return &Subspace{path: newPath, prefix: oldNode.Prefix, layer: oldNode.Layer, partition: oldNode.ParentPartition}, nil
}

// ChangeLayer rewrites path's layer-id attribute. Transitions between a
// partition layer and any other layer are rejected: they would break the
// nesting invariant for every descendant.
func (l *Layer) ChangeLayer(ctx context.Context, tr kv.Transaction, state *txnstate.State, path dirpath.Path, newLayer string) (sub *Subspace, err error) {
	done := l.instrument(ctx, metrics.OpChangeLayer, path.Format())
	defer func() { err = done(err) }()

	if path.IsRoot() {
		return nil, rootNotModifiableError()
	}
	if err := checkVersionGate(ctx, tr, l.root, true); err != nil {
		return nil, err
	}

	n, err := l.lookup(ctx, tr, state, path)
	if err != nil {
		return nil, err
	}
	if !n.Exists {
		return nil, notFoundError(path.Format())
	}
	if (n.Layer == partition.LayerID) != (newLayer == partition.LayerID) {
		return nil, invalidPathError(path.Format(), "cannot change a partition into a non-partition directory or vice versa")
	}

	if ok, _ := state.EnterMutated(); !ok {
		return nil, cacheMisuseError("transaction is no longer usable")
	}

	tr.Set(node.LayerKey(n.ParentPartition.Nodes(), n.PrefixInParentPartition), []byte(newLayer))
	n.ParentPartition.BumpStamp(tr)
	tr.TouchMetadataVersionKey()
	l.cache.Evict(path)

	return &Subspace{path: path, prefix: n.Prefix, layer: newLayer, partition: n.ParentPartition}, nil
}
