// Package hca implements the high-contention allocator (component D):
// minting unique i64 ids under many concurrent writers with minimal commit
// conflicts and near-minimum byte length when tuple-encoded.
//
// Grounded on the teacher's storage/disk/disk.go counter/sequence handling
// (atomic-increment-backed id assignment under a single mutex-guarded RNG)
// generalized here to the two-subspace, window-doubling probe scheme the
// directory layer's allocator uses.
package hca

import (
	"context"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/dirlayer/fdbdirectory/kv"
	"github.com/dirlayer/fdbdirectory/tuple"
)

const hcaAttr = "hca"

const (
	countersTag = 0
	recentTag   = 1
)

// Allocator mints unique i64 ids within one partition's allocator subspace,
// rooted at nodes+pack(nodes, "hca").
type Allocator struct {
	nodes []byte

	mu   sync.Mutex
	rng  *rand.Rand
	stat Stats
}

// Stats is a snapshot of the allocator's observed state, for introspection
// and benchmarking; it is not part of the correctness contract.
type Stats struct {
	Allocations    uint64
	Retries        uint64
	WindowStart    int64
	WindowSize     int64
	WindowAdvances uint64
}

// New returns an allocator rooted at nodes (a partition's Nodes() prefix).
func New(nodes []byte) *Allocator {
	return &Allocator{
		nodes: nodes,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Stats returns a copy of the allocator's current counters.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stat
}

func (a *Allocator) countersKey(windowStart int64) []byte {
	return tuple.AppendPack(a.nodes, a.nodes, hcaAttr, countersTag, windowStart)
}

func (a *Allocator) recentKey(candidate int64) []byte {
	return tuple.AppendPack(a.nodes, a.nodes, hcaAttr, recentTag, candidate)
}

func windowSize(start int64) int64 {
	switch {
	case start < 255:
		return 64
	case start < 65535:
		return 1024
	default:
		return 8192
	}
}

// Allocate mints a fresh id within tr, following the two-phase probe scheme:
// a snapshot read locates (or advances) the active window, an atomic
// increment claims a slot in it as the sole commit-conflict surface, and a
// non-snapshot probe loop picks an unclaimed candidate within the window.
func (a *Allocator) Allocate(ctx context.Context, tr kv.Transaction) (int64, error) {
	start, count, err := a.currentWindow(ctx, tr)
	if err != nil {
		return 0, err
	}
	window := windowSize(start)

	if (count+1)*2 >= window {
		start, window, err = a.advanceWindow(ctx, tr, start, window)
		if err != nil {
			return 0, err
		}
	}

	tr.AtomicAdd(a.countersKey(start), 1)

	for {
		candidate := start + a.nextCandidate(window)
		// The probe read is deliberately not a snapshot read: it must
		// conflict with a concurrent transaction that writes the same
		// candidate's tombstone, which is what serialises two allocations
		// that landed on the same c.
		v, err := tr.Get(ctx, a.recentKey(candidate))
		if err != nil {
			return 0, err
		}
		if v == nil {
			tr.Set(a.recentKey(candidate), []byte{})
			a.mu.Lock()
			a.stat.Allocations++
			a.mu.Unlock()
			return candidate, nil
		}
		a.mu.Lock()
		a.stat.Retries++
		a.mu.Unlock()
	}
}

// currentWindow snapshot-reads the largest existing (COUNTERS, windowStart)
// entry. Absent means the allocator has never advanced past window 0.
func (a *Allocator) currentWindow(ctx context.Context, tr kv.Transaction) (start, count int64, err error) {
	snap := tr.Snapshot()
	begin := tuple.AppendPack(a.nodes, a.nodes, hcaAttr, countersTag)
	end := tuple.AppendPack(a.nodes, a.nodes, hcaAttr, countersTag+1)
	res, err := snap.GetRange(ctx, begin, end, kv.RangeOptions{Limit: 1, Reverse: true})
	if err != nil {
		return 0, 0, err
	}
	if len(res.KeyValues) == 0 {
		return 0, 0, nil
	}
	entry := res.KeyValues[0]
	elems, err := tuple.Unpack(entry.Key[len(a.nodes):])
	if err != nil {
		return 0, 0, err
	}
	// The packed tuple is (nodes, "hca", countersTag, windowStart); the
	// window start is the last element.
	if len(elems) < 4 {
		return 0, 0, nil
	}
	windowStart, ok := elems[3].(int64)
	if !ok {
		return 0, 0, nil
	}
	return windowStart, decodeCount(entry.Value), nil
}

func decodeCount(v []byte) int64 {
	if len(v) != 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(v))
}

// advanceWindow clears the exhausted counters/recent entries and moves the
// active window forward by one step.
func (a *Allocator) advanceWindow(ctx context.Context, tr kv.Transaction, start, window int64) (newStart, newWindow int64, err error) {
	tr.ClearRange(tuple.AppendPack(a.nodes, a.nodes, hcaAttr, countersTag), a.countersKey(start+1))
	newStart = start + window
	tr.ClearRange(tuple.AppendPack(a.nodes, a.nodes, hcaAttr, recentTag), a.recentKey(newStart))
	a.mu.Lock()
	a.stat.WindowAdvances++
	a.stat.WindowStart = newStart
	a.stat.WindowSize = windowSize(newStart)
	a.mu.Unlock()
	return newStart, windowSize(newStart), nil
}

func (a *Allocator) nextCandidate(window int64) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rng.Int63n(window)
}
