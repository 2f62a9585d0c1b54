// Package badgerkv implements kv.Database over github.com/dgraph-io/badger/v4,
// a real ACID, ordered, transactional engine standing in for the FDB cluster
// the directory layer spec treats as given. Unlike kv/memkv (which hand-rolls
// optimistic conflict detection over a lock-guarded map), this backend leans
// on badger's own SSI conflict detector: every Get/Set/Delete issued against
// a transaction's *badger.Txn is already tracked by badger, so a conflicting
// concurrent write surfaces as badger.ErrConflict from Commit with no extra
// bookkeeping here.
//
// Grounded on the teacher's storage/disk (disk.go's New/Options/Store shape,
// txn.go's iterator-based range reads), adapted from OPA's document store
// (policy/data keyed by path) to the directory layer's flat, tuple-encoded
// byte-key space — there is no partition trie or path mapper here, because
// the directory layer already owns all of the structure above the KV
// contract.
package badgerkv

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/dirlayer/fdbdirectory/kv"
	"github.com/dirlayer/fdbdirectory/logging"
	"github.com/dirlayer/fdbdirectory/util"
)

// metadataVersionKey is kept outside the directory tree's own keyspace so it
// can never collide with an allocated prefix.
var metadataVersionKey = []byte("\xff/metadataVersion")

// Options configures a badger-backed Database.
type Options struct {
	// Dir is the on-disk directory badger stores its files in. Ignored when
	// InMemory is set.
	Dir string

	// InMemory runs badger entirely in memory (no Dir required); useful for
	// tests that still want real SSI conflict detection rather than memkv's
	// hand-rolled one.
	InMemory bool

	// Logger, if non-nil, receives badger's own internal log lines.
	Logger logging.Logger
}

// Database is a kv.Database backed by a single badger.DB.
type Database struct {
	db      *badger.DB
	backoff util.Backoff
}

// New opens (or creates) a badger database under opts.
func New(opts Options) (*Database, error) {
	bopts := badger.DefaultOptions(opts.Dir).WithInMemory(opts.InMemory)
	if opts.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogAdapter{log: opts.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badgerkv: open: %w", err)
	}
	return &Database{db: db, backoff: util.DefaultBackoffPolicy()}, nil
}

// Close releases badger's file handles.
func (d *Database) Close() error { return d.db.Close() }

// Transact runs f against one *badger.Txn per attempt, retrying on
// badger.ErrConflict with backoff. The kv.Transaction handle itself is
// stable across attempts so value checks registered by the cache context
// persist across a retry the way FailedValueCheckFromPreviousAttempt
// expects.
func (d *Database) Transact(ctx context.Context, f func(context.Context, kv.Transaction) (interface{}, error)) (interface{}, error) {
	tr := &transaction{db: d}
	for attempt := 0; ; attempt++ {
		tr.beginAttempt()
		result, err := f(ctx, tr)
		if err != nil {
			tr.btx.Discard()
			return nil, err
		}
		commitErr := tr.commit()
		if commitErr == nil {
			return result, nil
		}
		if !kv.IsConflict(commitErr) {
			return nil, commitErr
		}
		if werr := waitBackoff(ctx, d.backoff, attempt); werr != nil {
			return nil, werr
		}
	}
}

// ReadTransact is sugar over Transact for read-only callers.
func (d *Database) ReadTransact(ctx context.Context, f func(context.Context, kv.ReadTransaction) (interface{}, error)) (interface{}, error) {
	return d.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		return f(ctx, tr)
	})
}

// AddValueCheck attaches a (key, expected) pair evaluated just before commit.
func (d *Database) AddValueCheck(tr kv.Transaction, key, expected []byte) {
	t := tr.(*transaction)
	t.valueChecks = append(t.valueChecks, valueCheck{
		key:      append([]byte(nil), key...),
		expected: append([]byte(nil), expected...),
	})
}

// FailedValueCheckFromPreviousAttempt reports whether tr's previous attempt
// failed one of its registered value checks.
func (d *Database) FailedValueCheckFromPreviousAttempt(tr kv.Transaction) bool {
	return tr.(*transaction).lastAttemptValueCheckFailed
}

type valueCheck struct {
	key      []byte
	expected []byte
}

type transaction struct {
	db  *Database
	btx *badger.Txn

	metadataVersionSeen [8]byte
	metadataTouched     bool

	valueChecks                 []valueCheck
	lastAttemptValueCheckFailed bool
}

// beginAttempt opens a fresh badger.Txn for this attempt, snapshots the
// metadata-version key without registering a conflict on it (mirrors FDB's
// treatment of the key as a special, non-conflicting read), and records
// whether the value checks from the attempt just finished held up.
func (t *transaction) beginAttempt() {
	t.lastAttemptValueCheckFailed = t.valueChecksFailNow()
	t.btx = t.db.db.NewTransaction(true)
	t.metadataTouched = false
	t.valueChecks = nil

	var seen [8]byte
	_ = t.db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metadataVersionKey)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		copy(seen[:], v)
		return nil
	})
	t.metadataVersionSeen = seen
}

func (t *transaction) valueChecksFailNow() bool {
	if len(t.valueChecks) == 0 {
		return false
	}
	failed := false
	_ = t.db.db.View(func(txn *badger.Txn) error {
		for _, vc := range t.valueChecks {
			item, err := txn.Get(vc.key)
			var live []byte
			if err != nil {
				if !errors.Is(err, badger.ErrKeyNotFound) {
					return err
				}
			} else if live, err = item.ValueCopy(nil); err != nil {
				return err
			}
			if !bytes.Equal(live, vc.expected) {
				failed = true
				return nil
			}
		}
		return nil
	})
	return failed
}

// commit checks this attempt's value checks (through btx, so a changed key
// also registers as a conflict for the next attempt's snapshot), bumps the
// metadata-version key if touched, and commits.
func (t *transaction) commit() error {
	for _, vc := range t.valueChecks {
		item, err := t.btx.Get(vc.key)
		var live []byte
		if err != nil {
			if !errors.Is(err, badger.ErrKeyNotFound) {
				t.btx.Discard()
				return fmt.Errorf("badgerkv: value check: %w", err)
			}
		} else if live, err = item.ValueCopy(nil); err != nil {
			t.btx.Discard()
			return fmt.Errorf("badgerkv: value check: %w", err)
		}
		if !bytes.Equal(live, vc.expected) {
			t.btx.Discard()
			return &kv.ErrConflict{Reason: fmt.Sprintf("value check failed for %q", vc.key)}
		}
	}

	if t.metadataTouched {
		if err := t.bumpMetadataVersion(); err != nil {
			t.btx.Discard()
			return err
		}
	}

	err := t.btx.Commit()
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrConflict) {
		return &kv.ErrConflict{Reason: "badger: " + err.Error()}
	}
	return fmt.Errorf("badgerkv: commit: %w", err)
}

func (t *transaction) bumpMetadataVersion() error {
	item, err := t.btx.Get(metadataVersionKey)
	var cur uint64
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("badgerkv: metadata version: %w", err)
		}
	} else {
		v, verr := item.ValueCopy(nil)
		if verr != nil {
			return fmt.Errorf("badgerkv: metadata version: %w", verr)
		}
		if len(v) == 8 {
			cur = binary.BigEndian.Uint64(v)
		}
	}
	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, cur+1)
	return t.btx.Set(metadataVersionKey, next)
}

func (t *transaction) Get(_ context.Context, key []byte) ([]byte, error) {
	item, err := t.btx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("badgerkv: get: %w", err)
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("badgerkv: get: %w", err)
	}
	return v, nil
}

func (t *transaction) GetRange(_ context.Context, begin, end []byte, opts kv.RangeOptions) (kv.RangeResult, error) {
	iterOpts := badger.DefaultIteratorOptions
	iterOpts.Reverse = opts.Reverse
	it := t.btx.NewIterator(iterOpts)
	defer it.Close()
	return scanRange(it, begin, end, opts)
}

func (t *transaction) AddReadConflictKey(key []byte) {
	// badger has no API to fold a key into this txn's conflict set without
	// reading it; a Get for its side effect is the closest analogue to
	// FDB's tr.AddReadConflictKey.
	_, _ = t.btx.Get(key)
}

func (t *transaction) Snapshot() kv.ReadTransaction {
	return &snapshotView{db: t.db.db}
}

func (t *transaction) GetMetadataVersionKey(_ context.Context) ([]byte, error) {
	if t.metadataTouched {
		return nil, nil
	}
	return append([]byte(nil), t.metadataVersionSeen[:]...), nil
}

func (t *transaction) Set(key, value []byte) {
	_ = t.btx.Set(append([]byte(nil), key...), append([]byte(nil), value...))
}

func (t *transaction) Clear(key []byte) {
	_ = t.btx.Delete(append([]byte(nil), key...))
}

func (t *transaction) ClearRange(begin, end []byte) {
	it := t.btx.NewIterator(badger.DefaultIteratorOptions)
	var toDelete [][]byte
	for it.Seek(begin); it.Valid(); it.Next() {
		k := it.Item().KeyCopy(nil)
		if bytes.Compare(k, end) >= 0 {
			break
		}
		toDelete = append(toDelete, k)
	}
	it.Close()
	for _, k := range toDelete {
		_ = t.btx.Delete(k)
	}
}

// AtomicAdd reads the current value through the owning *badger.Txn and
// writes back the sum. badger tracks that read, so two transactions adding
// to the same key concurrently conflict and one of them is retried.
func (t *transaction) AtomicAdd(key []byte, delta int64) {
	k := append([]byte(nil), key...)
	var cur int64
	if item, err := t.btx.Get(k); err == nil {
		if v, verr := item.ValueCopy(nil); verr == nil && len(v) == 8 {
			cur = int64(binary.LittleEndian.Uint64(v))
		}
	}
	cur += delta
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, uint64(cur))
	_ = t.btx.Set(k, out)
}

func (t *transaction) TouchMetadataVersionKey() {
	t.metadataTouched = true
}

// snapshotView reads through a fresh read-only badger transaction so its
// reads never contribute to the owning transaction's conflict range, the
// same bypass FDB's tr.Snapshot() grants.
type snapshotView struct{ db *badger.DB }

func (s *snapshotView) Get(_ context.Context, key []byte) ([]byte, error) {
	var out []byte
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		out, found = v, true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badgerkv: snapshot get: %w", err)
	}
	if !found {
		return nil, nil
	}
	return out, nil
}

func (s *snapshotView) GetRange(_ context.Context, begin, end []byte, opts kv.RangeOptions) (kv.RangeResult, error) {
	var result kv.RangeResult
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Reverse = opts.Reverse
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		var err error
		result, err = scanRange(it, begin, end, opts)
		return err
	})
	if err != nil {
		return kv.RangeResult{}, fmt.Errorf("badgerkv: snapshot range: %w", err)
	}
	return result, nil
}

func (s *snapshotView) AddReadConflictKey([]byte) {}

func (s *snapshotView) Snapshot() kv.ReadTransaction { return s }

func (s *snapshotView) GetMetadataVersionKey(_ context.Context) ([]byte, error) {
	v, err := s.Get(context.Background(), metadataVersionKey)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return make([]byte, 8), nil
	}
	return v, nil
}

// scanRange drives an already-configured badger.Iterator over [begin, end),
// shared between a live transaction's GetRange and a snapshotView's.
func scanRange(it *badger.Iterator, begin, end []byte, opts kv.RangeOptions) (kv.RangeResult, error) {
	var result kv.RangeResult

	if !opts.Reverse {
		for it.Seek(begin); it.Valid(); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			if bytes.Compare(k, end) >= 0 {
				break
			}
			if opts.Limit > 0 && len(result.KeyValues) == opts.Limit {
				result.More = true
				break
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return kv.RangeResult{}, err
			}
			result.KeyValues = append(result.KeyValues, kv.KeyValue{Key: k, Value: v})
		}
		return result, nil
	}

	it.Seek(end)
	if it.Valid() && bytes.Equal(it.Item().KeyCopy(nil), end) {
		it.Next()
	}
	for ; it.Valid(); it.Next() {
		item := it.Item()
		k := item.KeyCopy(nil)
		if bytes.Compare(k, begin) < 0 {
			break
		}
		if opts.Limit > 0 && len(result.KeyValues) == opts.Limit {
			result.More = true
			break
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return kv.RangeResult{}, err
		}
		result.KeyValues = append(result.KeyValues, kv.KeyValue{Key: k, Value: v})
	}
	return result, nil
}

func waitBackoff(ctx context.Context, policy util.Backoff, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-policy.After(attempt):
		return nil
	}
}

// badgerLogAdapter routes badger's internal logging through the directory
// layer's own logging.Logger instead of badger's default stderr logger.
type badgerLogAdapter struct{ log logging.Logger }

func (a *badgerLogAdapter) Errorf(f string, v ...interface{})   { a.log.Error(f, v...) }
func (a *badgerLogAdapter) Warningf(f string, v ...interface{}) { a.log.Warn(f, v...) }
func (a *badgerLogAdapter) Infof(f string, v ...interface{})    { a.log.Info(f, v...) }
func (a *badgerLogAdapter) Debugf(f string, v ...interface{})   { a.log.Debug(f, v...) }
