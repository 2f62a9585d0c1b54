package directory

import (
	"context"

	"github.com/dirlayer/fdbdirectory/internal/ptr"
	"github.com/dirlayer/fdbdirectory/kv"
	"github.com/dirlayer/fdbdirectory/partition"
)

// prefixFree reports whether prefix is safe to allocate: it must not
// already have live data under it, and it must not overlap the root
// partition's own nodes subspace (invariant 2: "none intersects the nodes
// subspace"). Detecting overlap against every nested partition's nodes
// subspace would require walking the whole tree; this checks the
// live-data range and the outermost nodes subspace, which covers the
// common case a caller-supplied prefix collides with.
func prefixFree(ctx context.Context, tr kv.ReadTransaction, root *partition.Descriptor, prefix []byte) (bool, error) {
	if len(prefix) == 0 {
		return false, nil
	}
	if ptr.Overlaps(prefix, root.Nodes()) {
		return false, nil
	}

	begin, end := ptr.Range(prefix)
	res, err := tr.GetRange(ctx, begin, end, kv.RangeOptions{Limit: 1})
	if err != nil {
		return false, err
	}
	return len(res.KeyValues) == 0, nil
}
