package control_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elewis/qdb/binding"
	"github.com/elewis/qdb/control"
	"github.com/elewis/qdb/expr"
	"github.com/elewis/qdb/ra"
	"github.com/elewis/qdb/tempstore"
	"github.com/elewis/qdb/value"
)

func tup(vals ...interface{}) value.Tuple {
	out := make(value.Tuple, len(vals))
	for i, v := range vals {
		out[i] = value.Of(v)
	}
	return out
}

func TestReturnConcatenatesFramesInOrder(t *testing.T) {
	ex := control.NewExecutor(nil)

	first := &control.ResultFrame{Columns: []binding.Symbol{"x"}, Rows: []value.Tuple{tup(int64(1))}}
	second := &control.ResultFrame{Columns: []binding.Symbol{"x"}, Rows: []value.Tuple{tup(int64(2))}, Next: first}

	cols, rows, err := ex.Run([]control.Statement{control.Return{Frame: second}})
	require.NoError(t, err)
	require.Equal(t, []binding.Symbol{"x"}, cols)
	require.Equal(t, []value.Tuple{tup(int64(1)), tup(int64(2))}, rows)
}

func TestLoopBreakWithLabel(t *testing.T) {
	ex := control.NewExecutor(nil)
	calls := 0

	body := []control.Statement{
		control.Loop{
			Label: "outer",
			Body: []control.Statement{
				countingStmt(&calls),
				control.Break{Label: "outer"},
			},
		},
		control.Return{Frame: &control.ResultFrame{Columns: []binding.Symbol{"n"}, Rows: []value.Tuple{tup(int64(0))}}},
	}

	_, _, err := ex.Run(body)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestLoopRunsUntilBreak(t *testing.T) {
	ex := control.NewExecutor(nil)
	calls := 0

	loop := control.Loop{
		Body: []control.Statement{
			countingStmt(&calls),
			stopAfter(&calls, 3),
		},
	}

	_, _, err := ex.Run([]control.Statement{loop})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDanglingBreakIsAnError(t *testing.T) {
	ex := control.NewExecutor(nil)
	_, _, err := ex.Run([]control.Statement{control.Break{}})
	require.Error(t, err)
	var dangling *control.DanglingControlFlowError
	require.True(t, errors.As(err, &dangling))
	require.Equal(t, "break", dangling.Kind)
}

func TestIgnoreErrorProgramDowngradesToFailedStatus(t *testing.T) {
	ex := control.NewExecutor(nil)
	prog := control.IgnoreErrorProgram{
		Body: []control.Statement{failingStmt{}},
	}
	cols, rows, err := ex.Run([]control.Statement{prog})
	require.NoError(t, err)
	require.Equal(t, []binding.Symbol{"status"}, cols)
	require.Equal(t, []value.Tuple{tup("FAILED")}, rows)
}

func TestTempSwapRotatesStoresAndBreaksLoop(t *testing.T) {
	ex := control.NewExecutor(nil)
	left := tempstore.New()
	left.Insert(tup(int64(1)))
	left.AdvanceEpoch()
	right := tempstore.New()
	ex.Stores["left"] = left
	ex.Stores["right"] = right

	iterations := 0
	loop := control.Loop{
		Body: []control.Statement{
			incr(&iterations),
			control.TempSwap{Left: "left", Right: "right"},
		},
	}
	_, _, err := ex.Run([]control.Statement{loop})
	require.NoError(t, err)
	require.Equal(t, 1, iterations)
	require.Same(t, left, ex.Stores["right"])
	require.Same(t, right, ex.Stores["left"])
}

func TestIfBranchesOnLastColumnBool(t *testing.T) {
	ex := control.NewExecutor(nil)

	trueCond := ra.NewInlineFixed([]binding.Symbol{"x"}, []value.Tuple{tup(true)})
	falseCond := ra.NewInlineFixed([]binding.Symbol{"x"}, []value.Tuple{tup(false)})
	emptyCond := ra.NewInlineFixed([]binding.Symbol{"x"}, nil)
	used := binding.NewSet("x")
	for _, n := range []*ra.InlineFixed{trueCond, falseCond, emptyCond} {
		n.EliminateTempVars(used)
		require.NoError(t, n.FillBindingIndicesAndCompile())
	}

	thenRow := []value.Tuple{tup("then")}
	elseRow := []value.Tuple{tup("else")}

	stmt := control.If{
		Cond: trueCond,
		Then: []control.Statement{control.Return{Frame: &control.ResultFrame{Columns: []binding.Symbol{"branch"}, Rows: thenRow}}},
		Else: []control.Statement{control.Return{Frame: &control.ResultFrame{Columns: []binding.Symbol{"branch"}, Rows: elseRow}}},
	}
	_, rows, err := ex.Run([]control.Statement{stmt})
	require.NoError(t, err)
	require.Equal(t, thenRow, rows)

	// A non-empty result whose last column is false must take the Else
	// branch: mere non-emptiness is not enough.
	stmt.Cond = falseCond
	_, rows, err = ex.Run([]control.Statement{stmt})
	require.NoError(t, err)
	require.Equal(t, elseRow, rows)

	stmt.Cond = emptyCond
	_, rows, err = ex.Run([]control.Statement{stmt})
	require.NoError(t, err)
	require.Equal(t, elseRow, rows)
}

func TestIfNegateInvertsTheTest(t *testing.T) {
	ex := control.NewExecutor(nil)

	falseCond := ra.NewInlineFixed([]binding.Symbol{"x"}, []value.Tuple{tup(false)})
	falseCond.EliminateTempVars(binding.NewSet("x"))
	require.NoError(t, falseCond.FillBindingIndicesAndCompile())

	thenRow := []value.Tuple{tup("then")}
	stmt := control.If{
		Cond:   falseCond,
		Negate: true,
		Then:   []control.Statement{control.Return{Frame: &control.ResultFrame{Columns: []binding.Symbol{"branch"}, Rows: thenRow}}},
		Else:   []control.Statement{control.Return{Frame: &control.ResultFrame{Columns: []binding.Symbol{"branch"}, Rows: []value.Tuple{tup("else")}}}},
	}
	_, rows, err := ex.Run([]control.Statement{stmt})
	require.NoError(t, err)
	require.Equal(t, thenRow, rows)
}

func TestIfNonBoolLastColumnIsAnError(t *testing.T) {
	ex := control.NewExecutor(nil)

	notBool := ra.NewInlineFixed([]binding.Symbol{"x"}, []value.Tuple{tup(int64(1))})
	notBool.EliminateTempVars(binding.NewSet("x"))
	require.NoError(t, notBool.FillBindingIndicesAndCompile())

	stmt := control.If{
		Cond: notBool,
		Then: []control.Statement{control.Return{Frame: &control.ResultFrame{Columns: []binding.Symbol{"branch"}, Rows: []value.Tuple{tup("then")}}}},
	}
	_, _, err := ex.Run([]control.Statement{stmt})
	require.Error(t, err)
	var predErr *expr.PredicateTypeError
	require.True(t, errors.As(err, &predErr))
}

// --- test helpers ---

type countingFn struct{ fn func() }

func (c countingFn) Exec(_ *control.Executor, _ *ra.Context, _ *control.Poison) (control.ControlCode, error) {
	c.fn()
	return control.ControlCode{}, nil
}

func countingStmt(calls *int) control.Statement {
	return countingFn{fn: func() { *calls++ }}
}

func incr(n *int) control.Statement {
	return countingFn{fn: func() { *n++ }}
}

type condBreak struct {
	calls *int
	limit int
}

func (b condBreak) Exec(ex *control.Executor, ctx *ra.Context, p *control.Poison) (control.ControlCode, error) {
	if *b.calls >= b.limit {
		return control.Break{}.Exec(ex, ctx, p)
	}
	return control.ControlCode{}, nil
}

func stopAfter(calls *int, limit int) control.Statement {
	return condBreak{calls: calls, limit: limit}
}

type failingStmt struct{}

func (failingStmt) Exec(_ *control.Executor, _ *ra.Context, _ *control.Poison) (control.ControlCode, error) {
	return control.ControlCode{}, errors.New("boom")
}
