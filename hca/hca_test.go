package hca

import (
	"context"
	"testing"

	"github.com/dirlayer/fdbdirectory/kv"
	"github.com/dirlayer/fdbdirectory/kv/memkv"
)

func TestAllocateReturnsUniqueIDs(t *testing.T) {
	db := memkv.New()
	ctx := context.Background()
	a := New([]byte{0xFE})

	seen := make(map[int64]bool)
	for i := 0; i < 200; i++ {
		id, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
			return a.Allocate(ctx, tr)
		})
		if err != nil {
			t.Fatal(err)
		}
		n := id.(int64)
		if seen[n] {
			t.Fatalf("duplicate id allocated: %d", n)
		}
		seen[n] = true
	}
	if a.Stats().Allocations != 200 {
		t.Fatalf("expected 200 allocations recorded, got %d", a.Stats().Allocations)
	}
}

func TestWindowAdvancesUnderLoad(t *testing.T) {
	db := memkv.New()
	ctx := context.Background()
	a := New([]byte{0xFE})

	for i := 0; i < 100; i++ {
		_, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
			_, err := a.Allocate(ctx, tr)
			return nil, err
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if a.Stats().WindowAdvances == 0 {
		t.Fatal("expected at least one window advance after 100 allocations in a 64-wide window")
	}
}

func TestWindowSizeDoublesAtThresholds(t *testing.T) {
	cases := []struct {
		start int64
		want  int64
	}{
		{0, 64},
		{254, 64},
		{255, 1024},
		{65534, 1024},
		{65535, 8192},
	}
	for _, c := range cases {
		if got := windowSize(c.start); got != c.want {
			t.Fatalf("windowSize(%d) = %d, want %d", c.start, got, c.want)
		}
	}
}
