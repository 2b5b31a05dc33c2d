// Package export renders persisted gram tables for people and other tools:
// ranked top-N listings, JSON and YAML documents, and SQLite databases.
package export

import (
	"github.com/google/btree"
)

// Entry is one gram and its count.
type Entry struct {
	Gram  string `json:"gram" yaml:"gram"`
	Count uint64 `json:"count" yaml:"count"`
}

// byRank orders entries by descending count, ties by ascending gram.
func byRank(a, b Entry) bool {
	if a.Count != b.Count {
		return a.Count > b.Count
	}
	return a.Gram < b.Gram
}

// Ranking keeps grams in rank order.
type Ranking struct {
	tree *btree.BTreeG[Entry]
}

// NewRanking indexes counts by rank.
func NewRanking(counts map[string]uint64) *Ranking {
	r := &Ranking{tree: btree.NewG(32, byRank)}
	for gram, count := range counts {
		r.tree.ReplaceOrInsert(Entry{Gram: gram, Count: count})
	}
	return r
}

// Len returns the number of distinct grams.
func (r *Ranking) Len() int {
	return r.tree.Len()
}

// Top returns the n highest-ranked entries; n <= 0 returns all of them.
func (r *Ranking) Top(n int) []Entry {
	if n <= 0 || n > r.tree.Len() {
		n = r.tree.Len()
	}
	out := make([]Entry, 0, n)
	r.tree.Ascend(func(e Entry) bool {
		out = append(out, e)
		return len(out) < n
	})
	return out
}

// Top ranks counts and returns the n highest entries.
func Top(counts map[string]uint64, n int) []Entry {
	return NewRanking(counts).Top(n)
}
