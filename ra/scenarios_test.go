package ra_test

import (
	"path/filepath"
	"testing"

	"github.com/elewis/qdb/binding"
	"github.com/elewis/qdb/expr"
	"github.com/elewis/qdb/ra"
	"github.com/elewis/qdb/storage"
	"github.com/elewis/qdb/tempstore"
	"github.com/elewis/qdb/value"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, it ra.TupleIter) []value.Tuple {
	t.Helper()
	var out []value.Tuple
	for it.Next() {
		out = append(out, it.Tuple().Clone())
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
	return out
}

func tuple(vals ...interface{}) value.Tuple {
	out := make(value.Tuple, len(vals))
	for i, v := range vals {
		out[i] = value.Of(v)
	}
	return out
}

// S1: InnerJoin falls back to the materialized sort-and-binary-search
// strategy when the right child is neither InlineFixed nor a scan whose
// join keys land on a storage-order prefix (spec §4.8.1).
func TestInnerJoinMaterializedStrategy(t *testing.T) {
	people := tempstore.New()
	people.Insert(tuple(int64(1), "alice"))
	people.Insert(tuple(int64(2), "bob"))
	people.AdvanceEpoch()

	ages := tempstore.New()
	ages.Insert(tuple(int64(1), int64(30)))
	ages.Insert(tuple(int64(2), int64(25)))
	ages.AdvanceEpoch()

	left := ra.NewTempStoreScan("people", []binding.Symbol{"id", "name"})
	ageScan := ra.NewTempStoreScan("ages", []binding.Symbol{"id", "age"})
	// Wrapping in Unification hides the scan behind a node kind InnerJoin
	// does not special-case, forcing the materialized fallback even though
	// the underlying relation would otherwise support a prefix join.
	right := ra.NewUnification(ageScan, "tag", expr.NewConst(value.Of(int64(1))), false)

	join := ra.NewInnerJoin(left, right, []binding.Symbol{"id"}, []binding.Symbol{"id"})
	join.EliminateTempVars(binding.NewSet("name", "age", "tag"))
	require.NoError(t, join.FillBindingIndicesAndCompile())

	ctx := &ra.Context{Stores: map[string]*tempstore.EpochStore{"people": people, "ages": ages}}
	it, err := join.Iter(ctx)
	require.NoError(t, err)

	got := collect(t, it)
	require.Len(t, got, 2)
	require.ElementsMatch(t, []value.Tuple{
		tuple("alice", int64(30), int64(1)),
		tuple("bob", int64(25), int64(1)),
	}, got)
}

// S2: joining against the unit relation (InlineFixed's specialized path)
// is the identity, including its multi-row multimap strategy.
func TestInnerJoinUnitLeftIdentity(t *testing.T) {
	left := ra.Unit()
	right := ra.NewInlineFixed([]binding.Symbol{"x"}, []value.Tuple{
		tuple(int64(1)),
		tuple(int64(2)),
	})

	join := ra.NewInnerJoin(left, right, nil, nil)
	join.EliminateTempVars(binding.NewSet("x"))
	require.NoError(t, join.FillBindingIndicesAndCompile())

	it, err := join.Iter(&ra.Context{})
	require.NoError(t, err)

	got := collect(t, it)
	require.ElementsMatch(t, []value.Tuple{tuple(int64(1)), tuple(int64(2))}, got)
}

// S3: NegJoin's prefix-scan-and-drop-on-first-match strategy (spec §4.9).
func TestNegJoinPrefixStrategy(t *testing.T) {
	people := tempstore.New()
	people.Insert(tuple(int64(1), "alice"))
	people.Insert(tuple(int64(2), "bob"))
	people.AdvanceEpoch()

	banned := tempstore.New()
	banned.Insert(tuple(int64(1)))
	banned.AdvanceEpoch()

	left := ra.NewTempStoreScan("people", []binding.Symbol{"id", "name"})
	right := ra.NewTempStoreScan("banned", []binding.Symbol{"id"})

	neg := ra.NewNegJoin(left, right, []binding.Symbol{"id"}, []binding.Symbol{"id"})
	neg.EliminateTempVars(binding.NewSet("id", "name"))
	require.NoError(t, neg.FillBindingIndicesAndCompile())

	ctx := &ra.Context{Stores: map[string]*tempstore.EpochStore{"people": people, "banned": banned}}
	it, err := neg.Iter(ctx)
	require.NoError(t, err)

	got := collect(t, it)
	require.Equal(t, []value.Tuple{tuple(int64(2), "bob")}, got)
}

// S4: multi-mode Unification spreads a List-valued expression into one
// output row per element (spec §4.5).
func TestUnificationMultiSpread(t *testing.T) {
	listExpr := &expr.MakeList{Elems: []expr.Expr{
		expr.NewConst(value.Of(int64(1))),
		expr.NewConst(value.Of(int64(2))),
	}}
	uni := ra.NewUnification(ra.Unit(), "elem", listExpr, true)
	uni.EliminateTempVars(binding.NewSet("elem"))
	require.NoError(t, uni.FillBindingIndicesAndCompile())

	it, err := uni.Iter(&ra.Context{})
	require.NoError(t, err)

	got := collect(t, it)
	require.Equal(t, []value.Tuple{tuple(int64(1)), tuple(int64(2))}, got)
}

// S5: StoredWithValidity's skip-scan picks the greatest validity <= valid_at
// and hides tombstoned rows (spec §3 invariant 6, §8).
func TestStoredWithValidityScan(t *testing.T) {
	backend, err := storage.NewBadgerBackend(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	handle, err := storage.NewValidityHandle("history",
		[]value.Tag{value.TagInt, value.TagInt},
		[]value.Tag{value.TagString})
	require.NoError(t, err)

	require.NoError(t, backend.Put(handle, tuple(int64(1), int64(1), "v1"), false))
	require.NoError(t, backend.Put(handle, tuple(int64(1), int64(3), "v3"), false))
	require.NoError(t, backend.Put(handle, tuple(int64(1), int64(5), "tombstone"), true))

	bindings := []binding.Symbol{"id", "ts", "val"}

	at4 := ra.NewStoredWithValidityScan(handle, bindings, 4)
	at4.EliminateTempVars(binding.NewSet("id", "ts", "val"))
	require.NoError(t, at4.FillBindingIndicesAndCompile())
	it, err := at4.Iter(&ra.Context{Backend: backend})
	require.NoError(t, err)
	require.Equal(t, []value.Tuple{tuple(int64(1), int64(3), "v3")}, collect(t, it))

	at5 := ra.NewStoredWithValidityScan(handle, bindings, 5)
	at5.EliminateTempVars(binding.NewSet("id", "ts", "val"))
	require.NoError(t, at5.FillBindingIndicesAndCompile())
	it2, err := at5.Iter(&ra.Context{Backend: backend})
	require.NoError(t, err)
	require.Empty(t, collect(t, it2))
}

// S6: Filter-over-InnerJoin pushdown fuses a right-only predicate into the
// right scan's own filter list, where it is evaluated as part of the
// prefix join rather than as a separate residual stage (spec §4.10).
func TestFilterPushdownIntoJoin(t *testing.T) {
	people := tempstore.New()
	people.Insert(tuple(int64(1), "alice"))
	people.Insert(tuple(int64(2), "bob"))
	people.AdvanceEpoch()

	ages := tempstore.New()
	ages.Insert(tuple(int64(1), int64(30)))
	ages.Insert(tuple(int64(2), int64(17)))
	ages.AdvanceEpoch()

	left := ra.NewTempStoreScan("people", []binding.Symbol{"id", "name"})
	right := ra.NewTempStoreScan("ages", []binding.Symbol{"id", "age"})
	join := ra.NewInnerJoin(left, right, []binding.Symbol{"id"}, []binding.Symbol{"id"})

	pred := &expr.Comparison{Op: expr.OpGTE, Left: expr.NewVar("age"), Right: expr.NewConst(value.Of(int64(18)))}
	filtered := ra.NewFilter(join, []expr.Expr{pred})

	// Pushdown with no residual predicate collapses back to the join node
	// itself (spec §4.10: "keeps genuinely cross-side conjuncts ... in a
	// residual Filter above the join" -- here there is none).
	_, isJoin := filtered.(*ra.InnerJoin)
	require.True(t, isJoin)

	filtered.EliminateTempVars(binding.NewSet("name", "age"))
	require.NoError(t, filtered.FillBindingIndicesAndCompile())

	ctx := &ra.Context{Stores: map[string]*tempstore.EpochStore{"people": people, "ages": ages}}
	it, err := filtered.Iter(ctx)
	require.NoError(t, err)

	got := collect(t, it)
	require.Equal(t, []value.Tuple{tuple("alice", int64(30))}, got)
}
