// Package memkv is an in-process reference implementation of kv.Database. It
// gives every transaction a point-in-time snapshot of the keyspace and
// detects read-write conflicts (a key or range it read was written by a
// transaction that committed after its snapshot) optimistically at commit
// time; blind writes to the same key do not conflict. This is the same
// shape of guarantee §5 of the directory layer spec asks of
// the underlying engine.
//
// Grounded on the teacher's storage/inmem: a single in-process store guarded
// by locks (storage/inmem/inmem.go), generalized from OPA's single-writer
// document store into a proper multi-writer OCC store because the directory
// layer's concurrency invariants (§5, §8 invariant 4) depend on real
// conflict detection, not just mutual exclusion.
package memkv

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/dirlayer/fdbdirectory/kv"
	"github.com/dirlayer/fdbdirectory/util"
)

// Database is an in-memory kv.Database.
type Database struct {
	mu              sync.Mutex
	data            map[string][]byte
	version         int64
	log             []logEntry
	metadataVersion [8]byte
	backoff         util.Backoff
}

type logEntry struct {
	version int64
	keys    map[string]struct{}
	ranges  [][2]string
}

// New returns an empty in-memory database.
func New() *Database {
	return &Database{
		data:    map[string][]byte{},
		backoff: util.DefaultBackoffPolicy(),
	}
}

// Close is a no-op for the in-memory store.
func (db *Database) Close() error { return nil }

func (db *Database) Transact(ctx context.Context, f func(context.Context, kv.Transaction) (interface{}, error)) (interface{}, error) {
	tr := newTransaction(db)
	for attempt := 0; ; attempt++ {
		tr.beginAttempt()
		result, err := f(ctx, tr)
		if err != nil {
			return nil, err
		}
		commitErr := db.commit(tr)
		if commitErr == nil {
			return result, nil
		}
		if !kv.IsConflict(commitErr) {
			return nil, commitErr
		}
		if err := waitBackoff(ctx, db.backoff, attempt); err != nil {
			return nil, err
		}
	}
}

func (db *Database) ReadTransact(ctx context.Context, f func(context.Context, kv.ReadTransaction) (interface{}, error)) (interface{}, error) {
	return db.Transact(ctx, func(ctx context.Context, tr kv.Transaction) (interface{}, error) {
		return f(ctx, tr)
	})
}

func (db *Database) AddValueCheck(tr kv.Transaction, key, expected []byte) {
	t := tr.(*transaction)
	t.valueChecks = append(t.valueChecks, valueCheck{key: string(key), expected: append([]byte(nil), expected...)})
}

func (db *Database) FailedValueCheckFromPreviousAttempt(tr kv.Transaction) bool {
	return tr.(*transaction).lastAttemptValueCheckFailed
}

type valueCheck struct {
	key      string
	expected []byte
}

type transaction struct {
	db      *Database
	snapshotKeys map[string][]byte
	readVersion  int64

	metadataVersionSeen [8]byte
	metadataTouched     bool

	readKeys   map[string]struct{}
	readRanges [][2]string

	writes      map[string][]byte
	clearedKeys map[string]struct{}
	clearRanges [][2]string
	atomicAdds  map[string]int64

	valueChecks []valueCheck

	lastAttemptValueCheckFailed bool
	lastAttemptConflicted       bool
}

func newTransaction(db *Database) *transaction {
	return &transaction{db: db}
}

// beginAttempt resets per-attempt state and takes a fresh snapshot, carrying
// forward whether the previous attempt failed a value check so the cache
// context can observe it before doing any work this round.
func (t *transaction) beginAttempt() {
	t.lastAttemptValueCheckFailed = t.valueCheckFailedNow()
	t.db.mu.Lock()
	t.snapshotKeys = make(map[string][]byte, len(t.db.data))
	for k, v := range t.db.data {
		t.snapshotKeys[k] = v
	}
	t.readVersion = t.db.version
	t.metadataVersionSeen = t.db.metadataVersion
	t.db.mu.Unlock()

	t.metadataTouched = false
	t.readKeys = map[string]struct{}{}
	t.readRanges = nil
	t.writes = map[string][]byte{}
	t.clearedKeys = map[string]struct{}{}
	t.clearRanges = nil
	t.atomicAdds = map[string]int64{}
	t.valueChecks = nil
}

// valueCheckFailedNow evaluates this attempt's registered value checks
// against the live (not snapshot) data, used both to decide whether to
// retry and to report to the *next* attempt via lastAttemptValueCheckFailed.
func (t *transaction) valueCheckFailedNow() bool {
	if len(t.valueChecks) == 0 {
		return false
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	for _, vc := range t.valueChecks {
		live := t.db.data[vc.key]
		if !bytes.Equal(live, vc.expected) {
			return true
		}
	}
	return false
}

func (t *transaction) Get(_ context.Context, key []byte) ([]byte, error) {
	t.readKeys[string(key)] = struct{}{}
	v, ok := t.snapshotKeys[string(key)]
	if over, hit := t.localWrite(key); hit {
		return over, nil
	}
	if !ok {
		return nil, nil
	}
	return append([]byte{}, v...), nil
}

func (t *transaction) localWrite(key []byte) ([]byte, bool) {
	k := string(key)
	if _, cleared := t.clearedKeys[k]; cleared {
		return nil, true
	}
	if v, ok := t.writes[k]; ok {
		return append([]byte{}, v...), true
	}
	if _, ok := t.atomicAdds[k]; ok {
		v := t.resolveAtomic(k)
		return v, true
	}
	return nil, false
}

func (t *transaction) resolveAtomic(k string) []byte {
	base := t.snapshotKeys[k]
	var cur int64
	if len(base) == 8 {
		cur = int64(binary.LittleEndian.Uint64(base))
	}
	cur += t.atomicAdds[k]
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, uint64(cur))
	return out
}

func (t *transaction) GetRange(_ context.Context, begin, end []byte, opts kv.RangeOptions) (kv.RangeResult, error) {
	t.readRanges = append(t.readRanges, [2]string{string(begin), string(end)})

	merged := map[string][]byte{}
	for k, v := range t.snapshotKeys {
		if withinRange(k, string(begin), string(end)) {
			merged[k] = v
		}
	}
	for k := range t.clearedKeys {
		if withinRange(k, string(begin), string(end)) {
			delete(merged, k)
		}
	}
	for _, r := range t.localClearRangesSnapshot() {
		for k := range merged {
			if withinRange(k, r[0], r[1]) {
				delete(merged, k)
			}
		}
	}
	for k, v := range t.writes {
		if withinRange(k, string(begin), string(end)) {
			merged[k] = v
		}
	}
	for k := range t.atomicAdds {
		if withinRange(k, string(begin), string(end)) {
			merged[k] = t.resolveAtomic(k)
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if opts.Reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	more := false
	if opts.Limit > 0 && len(keys) > opts.Limit {
		keys = keys[:opts.Limit]
		more = true
	}
	result := kv.RangeResult{More: more}
	for _, k := range keys {
		result.KeyValues = append(result.KeyValues, kv.KeyValue{Key: []byte(k), Value: append([]byte(nil), merged[k]...)})
	}
	return result, nil
}

func (t *transaction) localClearRangesSnapshot() [][2]string {
	return t.clearRanges
}

func withinRange(key, begin, end string) bool {
	return key >= begin && key < end
}

func (t *transaction) AddReadConflictKey(key []byte) {
	t.readKeys[string(key)] = struct{}{}
}

func (t *transaction) Snapshot() kv.ReadTransaction {
	return &snapshotView{t: t}
}

func (t *transaction) GetMetadataVersionKey(_ context.Context) ([]byte, error) {
	if t.metadataTouched {
		return nil, nil
	}
	return t.metadataVersionSeen[:], nil
}

func (t *transaction) Set(key, value []byte) {
	k := string(key)
	delete(t.clearedKeys, k)
	delete(t.atomicAdds, k)
	t.writes[k] = append([]byte(nil), value...)
}

func (t *transaction) Clear(key []byte) {
	k := string(key)
	delete(t.writes, k)
	delete(t.atomicAdds, k)
	t.clearedKeys[k] = struct{}{}
}

func (t *transaction) ClearRange(begin, end []byte) {
	t.clearRanges = append(t.clearRanges, [2]string{string(begin), string(end)})
	for k := range t.writes {
		if withinRange(k, string(begin), string(end)) {
			delete(t.writes, k)
		}
	}
}

func (t *transaction) AtomicAdd(key []byte, delta int64) {
	k := string(key)
	delete(t.clearedKeys, k)
	t.atomicAdds[k] += delta
}

func (t *transaction) TouchMetadataVersionKey() {
	t.metadataTouched = true
}

type snapshotView struct{ t *transaction }

func (s *snapshotView) Get(ctx context.Context, key []byte) ([]byte, error) {
	if over, hit := s.t.localWrite(key); hit {
		return over, nil
	}
	v, ok := s.t.snapshotKeys[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte{}, v...), nil
}

func (s *snapshotView) GetRange(ctx context.Context, begin, end []byte, opts kv.RangeOptions) (kv.RangeResult, error) {
	saved := s.t.readRanges
	res, err := s.t.GetRange(ctx, begin, end, opts)
	s.t.readRanges = saved
	return res, err
}

func (s *snapshotView) AddReadConflictKey([]byte) {}

func (s *snapshotView) Snapshot() kv.ReadTransaction { return s }

func (s *snapshotView) GetMetadataVersionKey(ctx context.Context) ([]byte, error) {
	return s.t.GetMetadataVersionKey(ctx)
}

// commit applies a transaction's buffered writes if nothing it read has
// changed since its snapshot was taken, and if every registered value check
// still holds against the live store.
func (db *Database) commit(t *transaction) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, entry := range db.log {
		if entry.version <= t.readVersion {
			continue
		}
		if conflicts(t, entry) {
			t.lastAttemptConflicted = true
			return &kv.ErrConflict{Reason: "read-write conflict"}
		}
	}
	for _, vc := range t.valueChecks {
		if !bytes.Equal(db.data[vc.key], vc.expected) {
			return &kv.ErrConflict{Reason: fmt.Sprintf("value check failed for %q", vc.key)}
		}
	}

	if len(t.writes) == 0 && len(t.clearedKeys) == 0 && len(t.clearRanges) == 0 && len(t.atomicAdds) == 0 && !t.metadataTouched {
		return nil
	}

	touched := map[string]struct{}{}
	for k, v := range t.writes {
		db.data[k] = v
		touched[k] = struct{}{}
	}
	for k := range t.clearedKeys {
		delete(db.data, k)
		touched[k] = struct{}{}
	}
	for _, r := range t.clearRanges {
		for k := range db.data {
			if withinRange(k, r[0], r[1]) {
				delete(db.data, k)
				touched[k] = struct{}{}
			}
		}
	}
	for k, delta := range t.atomicAdds {
		var cur int64
		if b := db.data[k]; len(b) == 8 {
			cur = int64(binary.LittleEndian.Uint64(b))
		}
		cur += delta
		out := make([]byte, 8)
		binary.LittleEndian.PutUint64(out, uint64(cur))
		db.data[k] = out
		touched[k] = struct{}{}
	}

	db.version++
	if t.metadataTouched {
		binary.BigEndian.PutUint64(db.metadataVersion[:], uint64(db.version))
	}
	db.log = append(db.log, logEntry{version: db.version, keys: touched, ranges: t.clearRanges})
	if len(db.log) > 4096 {
		db.log = db.log[len(db.log)-2048:]
	}
	return nil
}

func conflicts(t *transaction, entry logEntry) bool {
	for k := range t.readKeys {
		if _, ok := entry.keys[k]; ok {
			return true
		}
	}
	for k := range entry.keys {
		for _, r := range t.readRanges {
			if withinRange(k, r[0], r[1]) {
				return true
			}
		}
	}
	for _, er := range entry.ranges {
		for k := range t.readKeys {
			if withinRange(k, er[0], er[1]) {
				return true
			}
		}
		for _, rr := range t.readRanges {
			if rangesOverlap(rr, er) {
				return true
			}
		}
	}
	return false
}

func rangesOverlap(a, b [2]string) bool {
	return a[0] < b[1] && b[0] < a[1]
}

func waitBackoff(ctx context.Context, policy util.Backoff, attempt int) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-policy.After(attempt):
		return nil
	}
}
