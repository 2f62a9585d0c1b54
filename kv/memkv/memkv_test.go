package memkv

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/dirlayer/fdbdirectory/kv"
)

func TestSetGetRoundTrip(t *testing.T) {
	db := New()
	ctx := context.Background()
	_, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		tr.Set([]byte("a"), []byte("1"))
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	v, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		return tr.Get(ctx, []byte("a"))
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(v.([]byte)) != "1" {
		t.Fatalf("expected 1, got %v", v)
	}
}

func TestConcurrentWritesOnDifferentKeysBothCommit(t *testing.T) {
	db := New()
	ctx := context.Background()
	_, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		tr.Set([]byte("x"), []byte("1"))
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		tr.Set([]byte("y"), []byte("2"))
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestReadWriteConflictRetries(t *testing.T) {
	db := New()
	ctx := context.Background()
	db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		tr.Set([]byte("k"), []byte("0"))
		return nil, nil
	})

	attempts := 0
	_, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		attempts++
		_, _ = tr.Get(ctx, []byte("k"))
		if attempts == 1 {
			// simulate a concurrent writer landing between read and commit
			db.Transact(ctx, func(ctx context.Context, tr2 kv.Transaction) (interface{}, error) {
				tr2.Set([]byte("k"), []byte("1"))
				return nil, nil
			})
		}
		tr.Set([]byte("k"), []byte("2"))
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if attempts < 2 {
		t.Fatalf("expected at least one retry, got %d attempts", attempts)
	}
}

func TestAtomicAddIsCumulative(t *testing.T) {
	db := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
			tr.AtomicAdd([]byte("counter"), 1)
			return nil, nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	v, _ := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		return tr.Get(ctx, []byte("counter"))
	})
	b := v.([]byte)
	if len(b) != 8 {
		t.Fatalf("expected 8-byte counter, got %d bytes", len(b))
	}
	if got := binary.LittleEndian.Uint64(b); got != 5 {
		t.Fatalf("expected counter 5 after five adds of 1, got %d", got)
	}
}

func TestValueCheckFailureForcesRetryAndIsReported(t *testing.T) {
	db := New()
	ctx := context.Background()
	db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		tr.Set([]byte("stamp"), []byte("v1"))
		return nil, nil
	})

	var sawFailure bool
	attempts := 0
	db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		attempts++
		if db.FailedValueCheckFromPreviousAttempt(tr) {
			sawFailure = true
		}
		if attempts == 1 {
			// the check expects v1; a concurrent writer then changes it to
			// v2, so this attempt's commit fails and the retry (which adds
			// no check) commits
			db.AddValueCheck(tr, []byte("stamp"), []byte("v1"))
			db.Transact(ctx, func(ctx context.Context, tr2 kv.Transaction) (interface{}, error) {
				tr2.Set([]byte("stamp"), []byte("v2"))
				return nil, nil
			})
		}
		return nil, nil
	})
	if attempts < 2 {
		t.Fatalf("expected retry after value check failure, got %d attempts", attempts)
	}
	if !sawFailure {
		t.Fatalf("expected FailedValueCheckFromPreviousAttempt to report true on retry")
	}
}

func TestGetRangeReturnsSortedKeysWithinBounds(t *testing.T) {
	db := New()
	ctx := context.Background()
	db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		tr.Set([]byte("a"), []byte("1"))
		tr.Set([]byte("b"), []byte("2"))
		tr.Set([]byte("c"), []byte("3"))
		return nil, nil
	})
	res, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		return tr.GetRange(ctx, []byte("a"), []byte("c"), kv.RangeOptions{})
	})
	if err != nil {
		t.Fatal(err)
	}
	r := res.(kv.RangeResult)
	if len(r.KeyValues) != 2 {
		t.Fatalf("expected 2 keys in [a,c), got %d", len(r.KeyValues))
	}
	if string(r.KeyValues[0].Key) != "a" || string(r.KeyValues[1].Key) != "b" {
		t.Fatalf("unexpected keys: %v", r.KeyValues)
	}
}
