package tempstore_test

import (
	"testing"

	"github.com/elewis/qdb/tempstore"
	"github.com/elewis/qdb/value"
	"github.com/stretchr/testify/require"
)

func tup(vals ...int64) value.Tuple {
	t := make(value.Tuple, len(vals))
	for i, v := range vals {
		t[i] = value.Of(v)
	}
	return t
}

func TestEpochStoreDeltaAndDedup(t *testing.T) {
	s := tempstore.New()
	s.Insert(tup(1, 2))
	s.Insert(tup(1, 3))
	n := s.AdvanceEpoch()
	require.Equal(t, 2, n)

	var all []value.Tuple
	it := s.AllIter()
	for it.Next() {
		all = append(all, it.Tuple())
	}
	require.Len(t, all, 2)

	s.Insert(tup(1, 2)) // duplicate, already present
	s.Insert(tup(2, 3)) // fresh
	n = s.AdvanceEpoch()
	require.Equal(t, 1, n)

	var delta []value.Tuple
	dit := s.DeltaAllIter()
	for dit.Next() {
		delta = append(delta, dit.Tuple())
	}
	require.Len(t, delta, 1)
	require.True(t, delta[0].Equal(tup(2, 3)))
}

func TestEpochStorePrefixAndRange(t *testing.T) {
	s := tempstore.New()
	for _, r := range [][2]int64{{1, 2}, {1, 3}, {1, 9}, {2, 3}} {
		s.Insert(tup(r[0], r[1]))
	}
	s.AdvanceEpoch()

	it := s.PrefixIter(tup(1))
	var got []value.Tuple
	for it.Next() {
		got = append(got, it.Tuple())
	}
	require.Len(t, got, 3)

	rit := s.RangeIter(tup(1), value.Tuple{value.Of(int64(3))}, value.Tuple{value.Of(int64(9))}, false)
	var rng []value.Tuple
	for rit.Next() {
		rng = append(rng, rit.Tuple())
	}
	require.Len(t, rng, 1)
	require.True(t, rng[0].Equal(tup(1, 3)))
}
