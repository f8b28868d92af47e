package planner_test

import (
	"path/filepath"
	"testing"

	"github.com/elewis/qdb/binding"
	"github.com/elewis/qdb/expr"
	"github.com/elewis/qdb/planner"
	"github.com/elewis/qdb/ra"
	"github.com/elewis/qdb/storage"
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

func TestPlanPatternFilterUnify(t *testing.T) {
	backend, err := storage.NewBadgerBackend(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	h := storage.RelationHandle{Name: "age", KeyTypes: []value.Tag{value.TagInt}, ValueTypes: []value.Tag{value.TagInt}}
	require.NoError(t, backend.Put(h, tup(int64(1), int64(30)), false))
	require.NoError(t, backend.Put(h, tup(int64(2), int64(17)), false))

	clauses := []planner.Clause{
		planner.Pattern{Handle: h, Bindings: []binding.Symbol{"id", "age"}},
		planner.Filter{Preds: []expr.Expr{
			&expr.Comparison{Op: expr.OpGTE, Left: expr.NewVar("age"), Right: expr.NewConst(value.Of(int64(18)))},
		}},
		planner.Unify{
			Binding: "is_adult",
			Expr:    expr.NewConst(value.Of(true)),
		},
	}

	plan, err := planner.Plan(clauses, []binding.Symbol{"id", "is_adult"})
	require.NoError(t, err)

	it, err := plan.Iter(&ra.Context{Backend: backend})
	require.NoError(t, err)
	var got []value.Tuple
	for it.Next() {
		got = append(got, it.Tuple().Clone())
	}
	require.NoError(t, it.Err())
	require.Equal(t, []value.Tuple{tup(int64(1), true)}, got)
}

func TestPlanNegation(t *testing.T) {
	people := tempstore.New()
	people.Insert(tup(int64(1), "alice"))
	people.Insert(tup(int64(2), "bob"))
	people.AdvanceEpoch()

	banned := tempstore.New()
	banned.Insert(tup(int64(1)))
	banned.AdvanceEpoch()

	clauses := []planner.Clause{
		planner.TempPattern{StoreName: "people", Bindings: []binding.Symbol{"id", "name"}},
		planner.Neg{StoreName: "banned", Bindings: []binding.Symbol{"id"}},
	}

	plan, err := planner.Plan(clauses, []binding.Symbol{"name"})
	require.NoError(t, err)

	ctx := &ra.Context{Stores: map[string]*tempstore.EpochStore{"people": people, "banned": banned}}
	it, err := plan.Iter(ctx)
	require.NoError(t, err)
	var got []value.Tuple
	for it.Next() {
		got = append(got, it.Tuple().Clone())
	}
	require.NoError(t, it.Err())
	require.Equal(t, []value.Tuple{tup("bob")}, got)
}
