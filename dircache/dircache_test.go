package dircache

import (
	"context"
	"testing"

	"github.com/dirlayer/fdbdirectory/dirpath"
	"github.com/dirlayer/fdbdirectory/kv"
	"github.com/dirlayer/fdbdirectory/kv/memkv"
	"github.com/dirlayer/fdbdirectory/node"
	"github.com/dirlayer/fdbdirectory/partition"
	"github.com/dirlayer/fdbdirectory/txnstate"
)

func setup(t *testing.T) (*memkv.Database, *partition.Descriptor) {
	t.Helper()
	db := memkv.New()
	root := partition.New(dirpath.Root(), []byte{}, nil)
	return db, root
}

func TestLookupMissThenHit(t *testing.T) {
	db, root := setup(t)
	ctx := context.Background()
	childPrefix := []byte{0x01}

	_, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		tr.Set(node.ChildEdgeKey(root.Nodes(), root.Nodes(), "a"), childPrefix)
		tr.Set(node.LayerKey(root.Nodes(), childPrefix), []byte(""))
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	c := New(16, nil)
	p, _ := dirpath.Parse("/a")

	var state txnstate.State
	res, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		return Lookup(ctx, c, &state, db, tr, root, p)
	})
	if err != nil {
		t.Fatal(err)
	}
	n := res.(node.Node)
	if !n.Exists {
		t.Fatal("expected node to exist on miss path")
	}

	var state2 txnstate.State
	res2, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		return Lookup(ctx, c, &state2, db, tr, root, p)
	})
	if err != nil {
		t.Fatal(err)
	}
	n2 := res2.(node.Node)
	if string(n2.Prefix) != string(childPrefix) {
		t.Fatalf("cache hit returned wrong prefix: %x", n2.Prefix)
	}
}

func TestMutatedModeBypassesCache(t *testing.T) {
	db, root := setup(t)
	ctx := context.Background()
	c := New(16, nil)
	p, _ := dirpath.Parse("/missing")

	var state txnstate.State
	state.EnterMutated()

	_, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		return Lookup(ctx, c, &state, db, tr, root, p)
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.getNegative(p.Format()); ok {
		t.Fatal("expected MUTATED-mode lookup to bypass the cache entirely")
	}
}

func TestEvictRemovesPathAndDescendants(t *testing.T) {
	db, root := setup(t)
	ctx := context.Background()
	c := New(16, nil)

	a, _ := dirpath.Parse("/a")
	ab, _ := dirpath.Parse("/a/b")

	var state txnstate.State
	db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		return Lookup(ctx, c, &state, db, tr, root, a)
	})
	var state2 txnstate.State
	db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		return Lookup(ctx, c, &state2, db, tr, root, ab)
	})

	if _, ok := c.getNegative(a.Format()); !ok {
		t.Fatal("expected /a to be cached (negative) before eviction")
	}

	c.Evict(a)

	if _, ok := c.getNegative(a.Format()); ok {
		t.Fatal("expected /a to be evicted")
	}
	if _, ok := c.getNegative(ab.Format()); ok {
		t.Fatal("expected descendant /a/b to be evicted along with /a")
	}
}
