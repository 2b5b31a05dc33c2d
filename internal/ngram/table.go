// Package ngram holds the in-memory n-gram counters and their text encoding.
//
// A Table counts every 1-, 2- and 3-character window of a character stream.
// It is not safe for concurrent use; internal/store wraps it behind a mutex.
package ngram

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"strings"
)

// MaxOrder is the longest gram tracked.
const MaxOrder = 3

// Sentinel stands in for an empty window slot under BoundarySentinel.
const Sentinel rune = 0

// ErrCountOverflow is returned when a counter would exceed math.MaxUint64.
var ErrCountOverflow = errors.New("ngram: count overflow")

// BoundaryPolicy decides what happens to grams that reach back past the
// start of the stream.
type BoundaryPolicy int

const (
	// BoundarySuppress records no gram that involves an empty window slot.
	BoundarySuppress BoundaryPolicy = iota
	// BoundarySentinel records such grams with Sentinel in the empty slots.
	BoundarySentinel
)

// String returns the configuration spelling of the policy.
func (p BoundaryPolicy) String() string {
	switch p {
	case BoundarySentinel:
		return "sentinel"
	default:
		return "suppress"
	}
}

// ParseBoundaryPolicy parses "suppress" or "sentinel".
func ParseBoundaryPolicy(s string) (BoundaryPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "suppress":
		return BoundarySuppress, nil
	case "sentinel":
		return BoundarySentinel, nil
	default:
		return BoundarySuppress, fmt.Errorf("unknown boundary policy: %s", s)
	}
}

// slot is one window position; ok is false until a character has been seen.
type slot struct {
	r  rune
	ok bool
}

// Table counts 1-, 2- and 3-grams over a stream of pushed characters.
type Table struct {
	grams  [MaxOrder]map[string]uint64
	window [MaxOrder - 1]slot
	policy BoundaryPolicy
}

// NewTable returns an empty table.
func NewTable(policy BoundaryPolicy) *Table {
	t := &Table{policy: policy}
	for i := range t.grams {
		t.grams[i] = make(map[string]uint64)
	}
	return t
}

// FromTables builds a table from decoded counts. The window starts empty:
// context from before a restart is not carried over.
func FromTables(m1, m2, m3 map[string]uint64, policy BoundaryPolicy) *Table {
	t := &Table{policy: policy}
	for i, m := range [MaxOrder]map[string]uint64{m1, m2, m3} {
		if m == nil {
			m = make(map[string]uint64)
		}
		t.grams[i] = m
	}
	return t
}

// Policy returns the boundary policy.
func (t *Table) Policy() BoundaryPolicy {
	return t.policy
}

// Push counts r as the end of a 1-, 2- and 3-gram and shifts the window.
// Either every count is incremented or, on ErrCountOverflow, none is.
func (t *Table) Push(r rune) error {
	keys := t.keys(r)

	for i, k := range keys {
		if k == "" {
			continue
		}
		if t.grams[i][k] == math.MaxUint64 {
			return fmt.Errorf("%w: %d-gram", ErrCountOverflow, i+1)
		}
	}
	for i, k := range keys {
		if k != "" {
			t.grams[i][k]++
		}
	}

	t.window[0] = t.window[1]
	t.window[1] = slot{r: r, ok: true}
	return nil
}

// keys returns the gram keys ending in r, "" where the policy suppresses one.
func (t *Table) keys(r rune) [MaxOrder]string {
	var keys [MaxOrder]string
	keys[0] = string(r)

	w0, ok0 := t.slotRune(0)
	w1, ok1 := t.slotRune(1)
	if ok1 {
		keys[1] = string([]rune{w1, r})
	}
	if ok0 && ok1 {
		keys[2] = string([]rune{w0, w1, r})
	}
	return keys
}

func (t *Table) slotRune(i int) (rune, bool) {
	s := t.window[i]
	if s.ok {
		return s.r, true
	}
	if t.policy == BoundarySentinel {
		return Sentinel, true
	}
	return 0, false
}

// Snapshot returns copies of the three tables. The window is untouched.
func (t *Table) Snapshot() Snapshot {
	var s Snapshot
	for i, m := range t.grams {
		s.grams[i] = maps.Clone(m)
	}
	return s
}

// Totals returns the sum of counts per order.
func (t *Table) Totals() [MaxOrder]uint64 {
	var totals [MaxOrder]uint64
	for i, m := range t.grams {
		totals[i] = sum(m)
	}
	return totals
}

// Len returns the number of distinct grams per order.
func (t *Table) Len() [MaxOrder]int {
	var n [MaxOrder]int
	for i, m := range t.grams {
		n[i] = len(m)
	}
	return n
}

// Snapshot is a point-in-time copy of a Table's counts.
type Snapshot struct {
	grams [MaxOrder]map[string]uint64
}

// NewSnapshot wraps decoded counts, for tooling that reads files directly.
func NewSnapshot(m1, m2, m3 map[string]uint64) Snapshot {
	return Snapshot{grams: [MaxOrder]map[string]uint64{m1, m2, m3}}
}

// Order returns the counts for n-grams, n in 1..MaxOrder.
// The map belongs to the snapshot and must not be modified.
func (s Snapshot) Order(n int) map[string]uint64 {
	if n < 1 || n > MaxOrder {
		return nil
	}
	return s.grams[n-1]
}

// Total returns the sum of counts for n-grams.
func (s Snapshot) Total(n int) uint64 {
	return sum(s.Order(n))
}

// Len returns the number of distinct n-grams.
func (s Snapshot) Len(n int) int {
	return len(s.Order(n))
}

// sum saturates instead of wrapping; totals are informational.
func sum(m map[string]uint64) uint64 {
	var total uint64
	for _, c := range m {
		if total > math.MaxUint64-c {
			return math.MaxUint64
		}
		total += c
	}
	return total
}
