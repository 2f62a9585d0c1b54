// Package directory is the public API of the directory layer (component E,
// plus the version gate of component H): CreateOrOpen, Open, Create,
// Register, Move, Remove, List, Exists, and ChangeLayer, and their Try…
// variants, operating over one Layer instance and the kv.Database it wraps.
//
// Grounded on the teacher's top-level storage package, which plays the same
// role of the single public surface composing lower packages (inmem/disk,
// errors, transaction) into operations a caller invokes directly — adapted
// here from OPA's document-store verbs to the directory layer's path/prefix
// verbs.
package directory

import (
	"context"
	"sync"
	"time"

	"github.com/dirlayer/fdbdirectory/dircache"
	"github.com/dirlayer/fdbdirectory/dirpath"
	"github.com/dirlayer/fdbdirectory/hca"
	"github.com/dirlayer/fdbdirectory/kv"
	"github.com/dirlayer/fdbdirectory/logging"
	"github.com/dirlayer/fdbdirectory/metrics"
	"github.com/dirlayer/fdbdirectory/node"
	"github.com/dirlayer/fdbdirectory/partition"
	"github.com/dirlayer/fdbdirectory/tuple"
	"github.com/dirlayer/fdbdirectory/txnstate"
)

// Layer is one Directory Layer instance: a KV database, its per-process
// cache context, and the outermost partition descriptor. It is safe for
// concurrent use by multiple transactions.
type Layer struct {
	db      kv.Database
	cache   *dircache.Cache
	root    *partition.Descriptor
	log     logging.Logger
	metrics *metrics.Registry

	allocMu    sync.Mutex
	allocators map[string]*hca.Allocator
}

// Options configures a new Layer.
type Options struct {
	// RootContentPrefix is the byte prefix the outermost partition's
	// allocated subspaces live under. An empty prefix (the default) uses
	// the whole keyspace.
	RootContentPrefix []byte

	// CachePositiveCapacity bounds the number of positive (exists) cache
	// entries kept in memory; 0 uses a sensible default.
	CachePositiveCapacity int

	// Logger receives a Debug entry for each directory operation and each
	// Layer.Do call that succeeds, and a Warn entry for each one that
	// fails. A nil Logger discards everything.
	Logger logging.Logger

	// Metrics, if non-nil, is the registry operation counters, latency
	// histograms, and cache/allocator counters are reported through. A nil
	// Metrics is a no-op.
	Metrics *metrics.Registry
}

// New returns a fresh Layer over db.
func New(db kv.Database, opts Options) *Layer {
	log := opts.Logger
	if log == nil {
		log = logging.NewNoOpLogger()
	}
	return &Layer{
		db:         db,
		cache:      dircache.New(opts.CachePositiveCapacity, opts.Metrics),
		root:       partition.New(dirpath.Root(), opts.RootContentPrefix, nil),
		log:        log,
		metrics:    opts.Metrics,
		allocators: map[string]*hca.Allocator{},
	}
}

// allocatorFor returns the Allocator for the partition whose nodes subspace
// is nodes, creating and caching one on first use. Reusing the same
// *hca.Allocator across calls under the same parent (rather than a fresh
// one per CreateOrOpen) is what lets its window state actually reduce
// commit conflicts across many allocations, and what makes Stats() report
// something more than a single call's counters.
func (l *Layer) allocatorFor(nodes []byte) *hca.Allocator {
	l.allocMu.Lock()
	defer l.allocMu.Unlock()
	key := string(nodes)
	alloc, ok := l.allocators[key]
	if !ok {
		alloc = hca.New(append([]byte(nil), nodes...))
		l.allocators[key] = alloc
	}
	return alloc
}

// AllocatorStats returns the high-contention allocator's introspection
// counters for the partition nodes subspace is rooted at, or the zero value
// if no allocation has happened there yet in this process.
func (l *Layer) AllocatorStats(nodes []byte) hca.Stats {
	l.allocMu.Lock()
	alloc, ok := l.allocators[string(nodes)]
	l.allocMu.Unlock()
	if !ok {
		return hca.Stats{}
	}
	return alloc.Stats()
}

// RootAllocatorStats is AllocatorStats for the outermost partition, the
// common case for a flat set of directories created directly under Root().
func (l *Layer) RootAllocatorStats() hca.Stats {
	return l.AllocatorStats(l.root.Nodes())
}

// Do runs fn in a fresh transaction retried by the underlying kv.Database,
// giving fn a per-attempt transaction state alongside the transaction
// handle. This is the "trivial adapter" wrapper every caller is expected to
// use; the Layer's op methods below take the state explicitly so they can
// also be composed directly by callers managing their own retry loop.
func (l *Layer) Do(ctx context.Context, fn func(ctx context.Context, tr kv.Transaction, state *txnstate.State) (interface{}, error)) (interface{}, error) {
	txn := logging.TxnContext{ID: logging.NewTxnID()}
	ctx = logging.NewContext(ctx, txn)
	log := l.log.WithFields(txn.Fields())

	start := time.Now()
	result, err := l.db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		var state txnstate.State
		return fn(ctx, tr, &state)
	})
	if err != nil {
		log.Warn("transaction failed after %s: %v", time.Since(start), err)
	} else {
		log.Debug("transaction committed in %s", time.Since(start))
	}
	return result, err
}

// instrument times one op's execution for both the log and the metrics
// registry, extracting an error code from directory errors so dashboards
// can break latency and failure counts down by what went wrong.
func (l *Layer) instrument(ctx context.Context, op metrics.Op, path string) func(err error) error {
	start := time.Now()
	log := l.log
	if txn, ok := logging.FromContext(ctx); ok {
		log = log.WithFields(txn.Fields())
	}
	log = log.WithFields(map[string]interface{}{"op": string(op), "path": path})
	return func(err error) error {
		code := ""
		if de, ok := err.(*Error); ok {
			code = errCodeName(de.Code)
		} else if err != nil {
			code = "unknown"
		}
		l.metrics.ObserveOp(op, time.Since(start), code)
		if err != nil {
			log.Warn("%s failed after %s: %v", op, time.Since(start), err)
		} else {
			log.Debug("%s succeeded in %s", op, time.Since(start))
		}
		return err
	}
}

// Root returns the Subspace describing the outermost partition's root. The
// root is never opened, moved, renamed, or removed by any API (invariant
// 3); this accessor exists so callers can scope keys directly under it.
func (l *Layer) Root() *Subspace {
	return &Subspace{path: dirpath.Root(), prefix: l.root.Content(), partition: l.root}
}

// IsRoot reports whether path names the root.
func (l *Layer) IsRoot(path dirpath.Path) bool {
	return path.IsRoot()
}

// CreateOrOpenOptions controls CreateOrOpen's behavior.
type CreateOrOpenOptions struct {
	AllowCreate bool
	AllowOpen   bool

	// PrefixOverride, if non-nil, supplies the prefix to register instead
	// of allocating one. Only legal when the directory is created directly
	// under the outermost partition (Register/TryRegister never nest).
	PrefixOverride []byte

	// LayerID is the caller's expected (on open) or assigned (on create)
	// layer-id. Empty means "plain directory, no layer check/assignment".
	LayerID string
}

// CreateOrOpen is the union operation §4.E describes: it creates path if it
// is absent and AllowCreate, opens it if present and AllowOpen, and
// recursively creates any missing parent directories along the way.
func (l *Layer) CreateOrOpen(ctx context.Context, tr kv.Transaction, state *txnstate.State, path dirpath.Path, opts CreateOrOpenOptions) (sub *Subspace, err error) {
	done := l.instrument(ctx, metrics.OpCreateOrOpen, path.Format())
	defer func() { err = done(err) }()

	if path.IsRoot() {
		return nil, rootNotModifiableError()
	}
	if !path.IsAbsolute() {
		return nil, invalidPathError(path.Format(), "path must be absolute")
	}

	if err := checkVersionGate(ctx, tr, l.root, opts.AllowCreate); err != nil {
		return nil, err
	}

	n, err := dircache.Lookup(ctx, l.cache, state, l.db, tr, l.root, path)
	if err != nil {
		return nil, err
	}

	if n.Exists {
		if !opts.AllowOpen {
			return nil, alreadyExistsError(path.Format())
		}
		if opts.LayerID != "" && n.Layer != opts.LayerID {
			return nil, layerMismatchError(path.Format(), opts.LayerID, n.Layer)
		}
		// n.Partition, not n.ParentPartition: for a partition directory these
		// differ (Partition is the nested partition this directory roots),
		// and a caller recursing through this Subspace as a parent (below)
		// must enumerate and allocate children in that nested partition's
		// nodes subspace, not the one the partition directory itself lives
		// in. For a non-partition directory Find sets Partition equal to
		// ParentPartition, so this is correct in both cases.
		return &Subspace{path: path, prefix: n.Prefix, layer: n.Layer, partition: n.Partition}, nil
	}

	if !opts.AllowCreate {
		return nil, notFoundError(path.Format())
	}

	if ok, _ := state.EnterMutated(); !ok {
		return nil, cacheMisuseError("transaction is no longer usable")
	}

	parentPath, hasParent := path.Parent()
	var parentPrefix []byte
	var parentPart *partition.Descriptor
	if !hasParent || parentPath.IsRoot() {
		parentPrefix = l.root.Nodes()
		parentPart = l.root
	} else {
		parentSub, err := l.CreateOrOpen(ctx, tr, state, parentPath, CreateOrOpenOptions{
			AllowCreate: true,
			AllowOpen:   true,
			LayerID:     parentPath.Layer(),
		})
		if err != nil {
			return nil, err
		}
		parentPrefix = parentSub.prefix
		parentPart = parentSub.partition
	}

	name := path.Names()[path.Len()-1]

	var newPrefix []byte
	if opts.PrefixOverride != nil {
		if parentPart != l.root {
			return nil, invalidPathError(path.Format(), "a caller-supplied prefix may only be registered under the outermost partition")
		}
		newPrefix = append([]byte(nil), opts.PrefixOverride...)
	} else {
		alloc := l.allocatorFor(parentPart.Nodes())
		before := alloc.Stats()
		id, err := alloc.Allocate(ctx, tr)
		if err != nil {
			return nil, err
		}
		after := alloc.Stats()
		for i := after.Retries - before.Retries; i > 0; i-- {
			l.metrics.AllocatorRetry()
		}
		l.metrics.SetAllocatorWindow(after.WindowSize)
		newPrefix = append(append([]byte(nil), parentPart.Content()...), tuple.Pack(id)...)
	}

	free, err := prefixFree(ctx, tr, l.root, newPrefix)
	if err != nil {
		return nil, err
	}
	if !free {
		return nil, prefixCollisionError(path.Format())
	}

	layerID := opts.LayerID
	tr.Set(node.ChildEdgeKey(parentPart.Nodes(), parentPrefix, name), newPrefix)
	tr.Set(node.LayerKey(parentPart.Nodes(), newPrefix), []byte(layerID))

	// As in the exists branch above, a new partition directory's Subspace
	// carries the nested partition and its nodes prefix.
	resultPrefix, resultPart := newPrefix, parentPart
	if layerID == partition.LayerID {
		child := parentPart.CreateChild(path, newPrefix)
		partition.InitVersion(tr, child)
		tr.Set(child.StampKey(), make([]byte, 8))
		resultPrefix, resultPart = child.Nodes(), child
	}

	tr.TouchMetadataVersionKey()
	l.cache.Evict(path)

	return &Subspace{path: path, prefix: resultPrefix, layer: layerID, partition: resultPart}, nil
}

// Open requires path to already exist.
func (l *Layer) Open(ctx context.Context, tr kv.Transaction, state *txnstate.State, path dirpath.Path, layerID string) (*Subspace, error) {
	return l.CreateOrOpen(ctx, tr, state, path, CreateOrOpenOptions{AllowOpen: true, LayerID: layerID})
}

// TryOpen is Open, returning (nil, nil) instead of a NotFound error.
func (l *Layer) TryOpen(ctx context.Context, tr kv.Transaction, state *txnstate.State, path dirpath.Path, layerID string) (*Subspace, error) {
	sub, err := l.Open(ctx, tr, state, path, layerID)
	if IsNotFound(err) {
		return nil, nil
	}
	return sub, err
}

// Create requires path to not already exist.
func (l *Layer) Create(ctx context.Context, tr kv.Transaction, state *txnstate.State, path dirpath.Path, layerID string) (*Subspace, error) {
	return l.CreateOrOpen(ctx, tr, state, path, CreateOrOpenOptions{AllowCreate: true, LayerID: layerID})
}

// TryCreate is Create, returning (nil, nil) instead of an AlreadyExists
// error.
func (l *Layer) TryCreate(ctx context.Context, tr kv.Transaction, state *txnstate.State, path dirpath.Path, layerID string) (*Subspace, error) {
	sub, err := l.Create(ctx, tr, state, path, layerID)
	if IsAlreadyExists(err) {
		return nil, nil
	}
	return sub, err
}

// Register bootstraps a directory over a pre-existing key range: CreateOrOpen
// with a caller-supplied prefix instead of an allocated one.
func (l *Layer) Register(ctx context.Context, tr kv.Transaction, state *txnstate.State, path dirpath.Path, layerID string, prefix []byte) (*Subspace, error) {
	return l.CreateOrOpen(ctx, tr, state, path, CreateOrOpenOptions{AllowCreate: true, LayerID: layerID, PrefixOverride: prefix})
}

// TryRegister is Register, returning (nil, nil) instead of an AlreadyExists
// error.
func (l *Layer) TryRegister(ctx context.Context, tr kv.Transaction, state *txnstate.State, path dirpath.Path, layerID string, prefix []byte) (*Subspace, error) {
	sub, err := l.Register(ctx, tr, state, path, layerID, prefix)
	if IsAlreadyExists(err) {
		return nil, nil
	}
	return sub, err
}

// PrefixFree reports whether prefix is non-empty, does not overlap the
// outermost partition's nodes subspace, and has no existing key under it;
// exported so operational tooling can check a prefix before a manual
// Register call. Allocated directory prefixes are not looked up as such: a
// prefix that extends an allocated directory's prefix, or is extended by
// one, reads as free as long as no key lies under prefix itself.
func (l *Layer) PrefixFree(ctx context.Context, tr kv.ReadTransaction, prefix []byte) (bool, error) {
	return prefixFree(ctx, tr, l.root, prefix)
}
