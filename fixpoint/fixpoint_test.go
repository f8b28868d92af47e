package fixpoint_test

import (
	"testing"

	"github.com/elewis/qdb/binding"
	"github.com/elewis/qdb/fixpoint"
	"github.com/elewis/qdb/ra"
	"github.com/elewis/qdb/tempstore"
	"github.com/elewis/qdb/value"
	"github.com/stretchr/testify/require"
)

func tup(vals ...interface{}) value.Tuple {
	out := make(value.Tuple, len(vals))
	for i, v := range vals {
		out[i] = value.Of(v)
	}
	return out
}

// Drives reachable(x, y) :- edge(x, y). reachable(x, y) :- reachable(x, z), edge(z, y).
// to a fixpoint over a small DAG, exercising the semi-naive delta-scan
// contract end to end.
func TestRunTransitiveClosure(t *testing.T) {
	edge := tempstore.New()
	edge.Insert(tup(int64(1), int64(2)))
	edge.Insert(tup(int64(2), int64(3)))
	edge.Insert(tup(int64(3), int64(4)))
	edge.AdvanceEpoch()

	reachable := tempstore.New()
	reachable.Insert(tup(int64(1), int64(2)))
	reachable.Insert(tup(int64(2), int64(3)))
	reachable.Insert(tup(int64(3), int64(4)))
	reachable.AdvanceEpoch()

	// reachable(x, y) :- reachable(x, z) [delta], edge(z, y).
	body := ra.NewInnerJoin(
		ra.NewTempStoreScan("reachable", []binding.Symbol{"x", "z"}),
		ra.NewTempStoreScan("edge", []binding.Symbol{"z", "y"}),
		[]binding.Symbol{"z"}, []binding.Symbol{"z"},
	)
	projected := ra.NewReorder(body, []binding.Symbol{"x", "y"})
	projected.EliminateTempVars(binding.NewSet("x", "y"))
	require.NoError(t, projected.FillBindingIndicesAndCompile())

	ctx := &ra.Context{Stores: map[string]*tempstore.EpochStore{"edge": edge, "reachable": reachable}}
	epochs, err := fixpoint.Run(ctx, fixpoint.Rule{Body: projected, Target: "reachable"})
	require.NoError(t, err)
	require.Greater(t, epochs, 0)

	it := reachable.AllIter()
	var got []value.Tuple
	for it.Next() {
		got = append(got, it.Tuple())
	}
	require.ElementsMatch(t, []value.Tuple{
		tup(int64(1), int64(2)),
		tup(int64(2), int64(3)),
		tup(int64(3), int64(4)),
		tup(int64(1), int64(3)),
		tup(int64(2), int64(4)),
		tup(int64(1), int64(4)),
	}, got)
}
