package badgerkv

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/dirlayer/fdbdirectory/kv"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(Options{InMemory: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSetAndGetRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.Transact(ctx, func(_ context.Context, tr kv.Transaction) (interface{}, error) {
		tr.Set([]byte("a"), []byte("1"))
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}

	v, err := db.ReadTransact(ctx, func(_ context.Context, tr kv.ReadTransaction) (interface{}, error) {
		return tr.Get(ctx, []byte("a"))
	})
	if err != nil {
		t.Fatalf("ReadTransact: %v", err)
	}
	if !bytes.Equal(v.([]byte), []byte("1")) {
		t.Fatalf("got %q, want %q", v, "1")
	}
}

func TestGetMissingKeyReturnsNilNil(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	v, err := db.ReadTransact(ctx, func(_ context.Context, tr kv.ReadTransaction) (interface{}, error) {
		return tr.Get(ctx, []byte("missing"))
	})
	if err != nil {
		t.Fatalf("ReadTransact: %v", err)
	}
	if v != nil {
		t.Fatalf("got %v, want nil", v)
	}
}

func TestClearRangeRemovesOnlyTheRange(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.Transact(ctx, func(_ context.Context, tr kv.Transaction) (interface{}, error) {
		tr.Set([]byte("a/1"), []byte("x"))
		tr.Set([]byte("a/2"), []byte("x"))
		tr.Set([]byte("b/1"), []byte("x"))
		return nil, nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err = db.Transact(ctx, func(_ context.Context, tr kv.Transaction) (interface{}, error) {
		tr.ClearRange([]byte("a/"), []byte("a0"))
		return nil, nil
	})
	if err != nil {
		t.Fatalf("ClearRange: %v", err)
	}

	res, err := db.ReadTransact(ctx, func(ctx context.Context, tr kv.ReadTransaction) (interface{}, error) {
		return tr.GetRange(ctx, []byte(""), []byte("\xff"), kv.RangeOptions{})
	})
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	rr := res.(kv.RangeResult)
	if len(rr.KeyValues) != 1 || string(rr.KeyValues[0].Key) != "b/1" {
		t.Fatalf("got %+v, want only b/1 left", rr.KeyValues)
	}
}

func TestAtomicAddAccumulates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	key := []byte("counter")

	for i := 0; i < 3; i++ {
		_, err := db.Transact(ctx, func(_ context.Context, tr kv.Transaction) (interface{}, error) {
			tr.AtomicAdd(key, 2)
			return nil, nil
		})
		if err != nil {
			t.Fatalf("AtomicAdd round %d: %v", i, err)
		}
	}

	v, err := db.ReadTransact(ctx, func(_ context.Context, tr kv.ReadTransaction) (interface{}, error) {
		return tr.Get(ctx, key)
	})
	if err != nil {
		t.Fatalf("ReadTransact: %v", err)
	}
	cur := v.([]byte)
	if len(cur) != 8 {
		t.Fatalf("want an 8-byte counter, got %d bytes", len(cur))
	}
	if got := binary.LittleEndian.Uint64(cur); got != 6 {
		t.Fatalf("want counter 6 after three adds of 2, got %d", got)
	}
}

func TestConcurrentWritesToSameKeyConflictAndRetry(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.Transact(ctx, func(_ context.Context, tr kv.Transaction) (interface{}, error) {
		tr.Set([]byte("race"), []byte("0"))
		return nil, nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
				v, err := tr.Get(ctx, []byte("race"))
				if err != nil {
					return nil, err
				}
				tr.Set([]byte("race"), append(v, 'x'))
				return nil, nil
			})
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
	}

	v, err := db.ReadTransact(ctx, func(_ context.Context, tr kv.ReadTransaction) (interface{}, error) {
		return tr.Get(ctx, []byte("race"))
	})
	if err != nil {
		t.Fatalf("ReadTransact: %v", err)
	}
	if got := len(v.([]byte)); got != 1+8 {
		t.Fatalf("want every append to have landed serially (9 bytes), got %d", got)
	}
}

func TestMetadataVersionKeyNilUntilCommitted(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		before, err := tr.GetMetadataVersionKey(ctx)
		if err != nil {
			return nil, err
		}
		tr.TouchMetadataVersionKey()
		after, err := tr.GetMetadataVersionKey(ctx)
		if err != nil {
			return nil, err
		}
		if after != nil {
			t.Fatalf("want nil after touching within the same transaction, got %v", after)
		}
		_ = before
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}

	v, err := db.ReadTransact(ctx, func(ctx context.Context, tr kv.ReadTransaction) (interface{}, error) {
		return tr.GetMetadataVersionKey(ctx)
	})
	if err != nil {
		t.Fatalf("ReadTransact: %v", err)
	}
	if len(v.([]byte)) != 8 {
		t.Fatalf("want an 8-byte stamp after commit, got %v", v)
	}
}

func TestValueCheckFailsCommitOnMismatch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.Transact(ctx, func(_ context.Context, tr kv.Transaction) (interface{}, error) {
		tr.Set([]byte("k"), []byte("v1"))
		return nil, nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Transact retries a failed commit, so the mismatch shows up as a second
	// attempt that is told its predecessor's value check failed.
	attempts := 0
	var sawFailure bool
	_, err = db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		attempts++
		if db.FailedValueCheckFromPreviousAttempt(tr) {
			sawFailure = true
		}
		if attempts == 1 {
			db.AddValueCheck(tr, []byte("k"), []byte("v2"))
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("want the mismatched value check to fail the first commit and force one retry, got %d attempts", attempts)
	}
	if !sawFailure {
		t.Fatalf("want FailedValueCheckFromPreviousAttempt to report the mismatch on the retry")
	}
}

func TestSnapshotReadsDoNotBlockConcurrentWriter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.Transact(ctx, func(_ context.Context, tr kv.Transaction) (interface{}, error) {
		tr.Set([]byte("s"), []byte("1"))
		return nil, nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err = db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		if _, err := tr.Snapshot().Get(ctx, []byte("s")); err != nil {
			return nil, err
		}
		tr.Set([]byte("other"), []byte("2"))
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
}
