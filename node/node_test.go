package node

import (
	"context"
	"testing"

	"github.com/dirlayer/fdbdirectory/dirpath"
	"github.com/dirlayer/fdbdirectory/kv"
	"github.com/dirlayer/fdbdirectory/kv/memkv"
	"github.com/dirlayer/fdbdirectory/partition"
)

func TestFindMissingSegmentReportsNotExists(t *testing.T) {
	db := memkv.New()
	ctx := context.Background()
	root := partition.New(dirpath.Root(), []byte{}, nil)

	p, _ := dirpath.Parse("/missing")
	res, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		return Find(ctx, tr, root, p)
	})
	if err != nil {
		t.Fatal(err)
	}
	n := res.(Node)
	if n.Exists {
		t.Fatal("expected node to not exist")
	}
	if len(n.Chain) != 1 {
		t.Fatalf("expected root partition stamp in chain, got %d entries", len(n.Chain))
	}
}

func TestFindResolvesCreatedChild(t *testing.T) {
	db := memkv.New()
	ctx := context.Background()
	root := partition.New(dirpath.Root(), []byte{}, nil)
	childPrefix := []byte{0x01}

	_, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		tr.Set(ChildEdgeKey(root.Nodes(), root.Nodes(), "a"), childPrefix)
		tr.Set(LayerKey(root.Nodes(), childPrefix), []byte(""))
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	p, _ := dirpath.Parse("/a")
	res, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		return Find(ctx, tr, root, p)
	})
	if err != nil {
		t.Fatal(err)
	}
	n := res.(Node)
	if !n.Exists {
		t.Fatal("expected node to exist")
	}
	if string(n.Prefix) != string(childPrefix) {
		t.Fatalf("got prefix %x, want %x", n.Prefix, childPrefix)
	}
	if n.Partition != root {
		t.Fatal("expected same partition as root (no nesting)")
	}
}

func TestFindCrossesPartitionBoundary(t *testing.T) {
	db := memkv.New()
	ctx := context.Background()
	root := partition.New(dirpath.Root(), []byte{}, nil)
	partPrefix := []byte{0x02}
	grandchildPrefix := []byte{0x02, 0xFE, 0x03}

	_, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		tr.Set(ChildEdgeKey(root.Nodes(), root.Nodes(), "p"), partPrefix)
		tr.Set(LayerKey(root.Nodes(), partPrefix), []byte(partition.LayerID))

		childPart := partition.New(mustParse("/p"), partPrefix, root)
		tr.Set(ChildEdgeKey(childPart.Nodes(), childPart.Nodes(), "leaf"), grandchildPrefix)
		tr.Set(LayerKey(childPart.Nodes(), grandchildPrefix), []byte(""))
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	p, _ := dirpath.Parse("/p/leaf")
	res, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		return Find(ctx, tr, root, p)
	})
	if err != nil {
		t.Fatal(err)
	}
	n := res.(Node)
	if !n.Exists {
		t.Fatal("expected node to exist")
	}
	if string(n.Prefix) != string(grandchildPrefix) {
		t.Fatalf("got prefix %x, want %x", n.Prefix, grandchildPrefix)
	}
	if n.Partition == root {
		t.Fatal("expected traversal to have crossed into the nested partition")
	}
	if len(n.Chain) != 2 {
		t.Fatalf("expected chain to grow by one partition stamp, got %d entries", len(n.Chain))
	}
}

func mustParse(s string) dirpath.Path {
	p, err := dirpath.Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}
