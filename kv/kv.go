// Package kv defines the transactional key-value contract the directory
// layer is built against (§6 of the directory layer spec): strictly
// serialisable transactions, read-versioned snapshots, conflict-range
// tracking, atomic mutations, range scans, and a metadata-version key with
// version-stamp semantics.
//
// This is the "external collaborator" the directory layer spec treats as
// given. Two concrete implementations live under kv/memkv (an in-process
// reference store used by tests) and kv/badgerkv (a real ACID, ordered,
// transactional engine backed by badger/v4), grounded on the teacher's
// storage.Store/storage/inmem and storage/disk split.
package kv

import (
	"context"
	"errors"
)

// RangeOptions controls a GetRange scan.
type RangeOptions struct {
	Limit   int  // 0 means unlimited
	Reverse bool
}

// KeyValue is one entry returned from a range scan.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// RangeResult is the (possibly truncated) result of a range scan.
type RangeResult struct {
	KeyValues []KeyValue
	More      bool // true if Limit truncated the result
}

// ReadTransaction is the read-only subset of the transaction contract. It is
// what Snapshot() returns, and what Layer.PrefixFree accepts.
type ReadTransaction interface {
	// Get fetches the value at key. A missing key returns (nil, nil).
	Get(ctx context.Context, key []byte) ([]byte, error)

	// GetRange scans [begin, end).
	GetRange(ctx context.Context, begin, end []byte, opts RangeOptions) (RangeResult, error)

	// AddReadConflictKey declares that this transaction's result depends on
	// key being unchanged at commit time, even though the key itself may
	// never be Get: it is folded into the engine's conflict range.
	AddReadConflictKey(key []byte)

	// Snapshot returns a read handle whose reads do not contribute to this
	// transaction's conflict range (mirrors FDB's tr.Snapshot()).
	Snapshot() ReadTransaction

	// GetMetadataVersionKey returns the current value of the store-wide
	// metadata-version key. It is a version-stamp: its value changes at
	// most once per committed transaction, and it reads as nil if touched
	// earlier in the same transaction (not yet assigned a stamp).
	GetMetadataVersionKey(ctx context.Context) ([]byte, error)
}

// Transaction is a read/write transaction.
type Transaction interface {
	ReadTransaction

	Set(key, value []byte)
	Clear(key []byte)
	ClearRange(begin, end []byte)

	// AtomicAdd adds delta to the (little-endian, i64) value at key without
	// introducing a read/conflict on the prior value. This is the only
	// commit-conflict surface the high-contention allocator's counter step
	// exposes (§4.D).
	AtomicAdd(key []byte, delta int64)

	// TouchMetadataVersionKey marks the metadata-version key to be bumped
	// when this transaction commits.
	TouchMetadataVersionKey()
}

// Database is a handle to the store plus the retry/value-check plumbing
// transactions need (§6.2): a set of (key, expected-value) checks evaluated
// before commit, and a way to tell whether the previous attempt's checks
// failed.
type Database interface {
	// Transact runs f inside a fresh transaction, retrying on conflict with
	// backoff, and committing f's mutations (if any) on success. It is the
	// "trivial adapter" the spec calls out: correctness lives in the
	// Directory Layer, not here. Matches the real FDB binding's db.Transact:
	// used uniformly for read-only and read/write operations alike — a
	// caller that never calls Set/Clear/AtomicAdd simply commits no writes.
	Transact(ctx context.Context, f func(context.Context, Transaction) (interface{}, error)) (interface{}, error)

	// ReadTransact is sugar over Transact for read-only callers; it exists
	// so read paths read as read-only at the call site even though, per
	// FDB's own binding, it is implemented in terms of the same machinery.
	ReadTransact(ctx context.Context, f func(context.Context, ReadTransaction) (interface{}, error)) (interface{}, error)

	// AddValueCheck attaches a (key, expected) pair to tr that must still
	// hold when tr commits; used by the cache context to validate a chain
	// without re-scanning it.
	AddValueCheck(tr Transaction, key, expected []byte)

	// FailedValueCheckFromPreviousAttempt reports whether the previous
	// attempt of the retry loop tr belongs to failed one of its value
	// checks — the cache context's signal to discard itself.
	FailedValueCheckFromPreviousAttempt(tr Transaction) bool

	Close() error
}

// ErrConflict is returned by Transact/ReadTransact's inner commit when the
// engine detects a conflicting concurrent transaction; callers never see it
// directly because the retry loop absorbs it, but implementations of
// Database use it as the sentinel that triggers a retry.
type ErrConflict struct{ Reason string }

func (e *ErrConflict) Error() string { return "kv: conflict: " + e.Reason }

// IsConflict reports whether err is (or wraps) an ErrConflict.
func IsConflict(err error) bool {
	var conflict *ErrConflict
	return errors.As(err, &conflict)
}
