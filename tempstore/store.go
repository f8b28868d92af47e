// Package tempstore implements the in-memory epoch store the ra package's
// TempStore node scans (spec §6 epoch store contract): a planner-assigned,
// named relation holding rule-derived tuples, with per-epoch delta tracking
// for semi-naive recursion.
package tempstore

import (
	"sort"

	"github.com/elewis/qdb/value"
)

// EpochStore holds one named temp relation's tuples. All tuples are kept
// sorted (spec §5: "scans return tuples in storage key order") so prefix
// and range iteration is a pair of sort.Search binary searches, mirroring
// how the persistent backends realize the same ordering via byte-key scans.
type EpochStore struct {
	all     []value.Tuple // sorted, de-duplicated
	delta   []value.Tuple // sorted subset added in the most recent epoch
	pending []value.Tuple // tuples inserted since the last AdvanceEpoch
}

// New returns an empty epoch store.
func New() *EpochStore {
	return &EpochStore{}
}

// Insert queues a tuple for the next epoch. Duplicates of tuples already in
// the store (from any prior epoch) are silently dropped once AdvanceEpoch
// runs; duplicates within the same pending batch are not deduplicated until
// then either, to keep Insert O(1).
func (s *EpochStore) Insert(t value.Tuple) {
	s.pending = append(s.pending, t)
}

// AdvanceEpoch merges pending inserts into the store, deduplicating against
// everything already present, and returns the number of genuinely new
// tuples (the fixpoint driver stops iterating once this is zero).
func (s *EpochStore) AdvanceEpoch() int {
	if len(s.pending) == 0 {
		s.delta = nil
		return 0
	}
	sort.Slice(s.pending, func(i, j int) bool { return s.pending[i].Compare(s.pending[j]) < 0 })

	var fresh []value.Tuple
	for _, t := range s.pending {
		if len(fresh) > 0 && fresh[len(fresh)-1].Equal(t) {
			continue
		}
		if idx := sort.Search(len(s.all), func(i int) bool { return s.all[i].Compare(t) >= 0 }); idx < len(s.all) && s.all[idx].Equal(t) {
			continue
		}
		fresh = append(fresh, t)
	}

	s.delta = fresh
	s.pending = nil
	if len(fresh) == 0 {
		return 0
	}

	merged := make([]value.Tuple, 0, len(s.all)+len(fresh))
	i, j := 0, 0
	for i < len(s.all) && j < len(fresh) {
		if s.all[i].Compare(fresh[j]) < 0 {
			merged = append(merged, s.all[i])
			i++
		} else {
			merged = append(merged, fresh[j])
			j++
		}
	}
	merged = append(merged, s.all[i:]...)
	merged = append(merged, fresh[j:]...)
	s.all = merged
	return len(fresh)
}

// Iter is a sorted, single-pass iterator over a slice of tuples.
type Iter struct {
	tuples []value.Tuple
	pos    int
}

func newIter(tuples []value.Tuple) *Iter { return &Iter{tuples: tuples} }

func (it *Iter) Next() bool {
	if it.pos >= len(it.tuples) {
		return false
	}
	it.pos++
	return true
}

func (it *Iter) Tuple() value.Tuple { return it.tuples[it.pos-1] }

// AllIter iterates every tuple ever inserted.
func (s *EpochStore) AllIter() *Iter { return newIter(s.all) }

// DeltaAllIter iterates only tuples added in the current epoch.
func (s *EpochStore) DeltaAllIter() *Iter { return newIter(s.delta) }

// PrefixIter iterates tuples whose leading columns equal prefix.
func (s *EpochStore) PrefixIter(prefix value.Tuple) *Iter {
	return newIter(boundedPrefix(s.all, prefix))
}

// DeltaPrefixIter is PrefixIter restricted to the current epoch's delta.
func (s *EpochStore) DeltaPrefixIter(prefix value.Tuple) *Iter {
	return newIter(boundedPrefix(s.delta, prefix))
}

func boundedPrefix(tuples []value.Tuple, prefix value.Tuple) []value.Tuple {
	lo := sort.Search(len(tuples), func(i int) bool { return !lessPrefix(tuples[i], prefix) })
	hi := sort.Search(len(tuples), func(i int) bool { return greaterPrefix(tuples[i], prefix) })
	if lo > hi {
		return nil
	}
	return tuples[lo:hi]
}

func lessPrefix(t, prefix value.Tuple) bool {
	n := len(prefix)
	if len(t) < n {
		n = len(t)
	}
	return t[:n].Compare(prefix) < 0
}

func greaterPrefix(t, prefix value.Tuple) bool {
	n := len(prefix)
	if len(t) < n {
		n = len(t)
	}
	return t[:n].Compare(prefix) > 0
}

// RangeIter iterates tuples within a prefix whose trailing columns (after
// len(prefix) columns) lie within [lo, hi); inclusive controls whether hi
// itself is included.
func (s *EpochStore) RangeIter(prefix, lo, hi value.Tuple, inclusive bool) *Iter {
	return newIter(boundedRange(s.all, prefix, lo, hi, inclusive))
}

// DeltaRangeIter is RangeIter restricted to the current epoch's delta.
func (s *EpochStore) DeltaRangeIter(prefix, lo, hi value.Tuple, inclusive bool) *Iter {
	return newIter(boundedRange(s.delta, prefix, lo, hi, inclusive))
}

func boundedRange(tuples []value.Tuple, prefix, lo, hi value.Tuple, inclusive bool) []value.Tuple {
	within := boundedPrefix(tuples, prefix)
	start := sort.Search(len(within), func(i int) bool {
		return !tailLess(within[i], prefix, lo)
	})
	var end int
	if inclusive {
		end = sort.Search(len(within), func(i int) bool { return tailGreater(within[i], prefix, hi) })
	} else {
		end = sort.Search(len(within), func(i int) bool { return !tailLess(within[i], prefix, hi) })
	}
	if start > end {
		return nil
	}
	return within[start:end]
}

func tailLess(t, prefix, bound value.Tuple) bool {
	return t[len(prefix):].Compare(bound) < 0
}

func tailGreater(t, prefix, bound value.Tuple) bool {
	return t[len(prefix):].Compare(bound) > 0
}
