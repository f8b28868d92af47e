package expr_test

import (
	"testing"

	"github.com/elewis/qdb/binding"
	"github.com/elewis/qdb/expr"
	"github.com/elewis/qdb/value"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, e expr.Expr, idx map[binding.Symbol]int) expr.Bytecode {
	t.Helper()
	require.NoError(t, e.FillBindingIndices(idx))
	return e.Compile()
}

func TestComparisonBytecode(t *testing.T) {
	e := &expr.Comparison{Op: expr.OpGT, Left: expr.NewVar("x"), Right: expr.NewConst(value.Of(int64(5)))}
	bc := compile(t, e, map[binding.Symbol]int{"x": 0})

	stack := expr.NewStack()
	ok, err := expr.EvalPred(bc, value.Tuple{value.Of(int64(10))}, stack)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = expr.EvalPred(bc, value.Tuple{value.Of(int64(1))}, stack)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUnresolvedBindingFails(t *testing.T) {
	e := expr.NewVar("missing")
	err := e.FillBindingIndices(map[binding.Symbol]int{})
	require.Error(t, err)
	var bre *expr.BindingResolutionError
	require.ErrorAs(t, err, &bre)
}

func TestPredicateTypeErrorOnNonBool(t *testing.T) {
	e := expr.NewConst(value.Of(int64(1)))
	bc := compile(t, e, map[binding.Symbol]int{})
	stack := expr.NewStack()
	_, err := expr.EvalPred(bc, value.Tuple{}, stack)
	require.Error(t, err)
	var pte *expr.PredicateTypeError
	require.ErrorAs(t, err, &pte)
}

func TestMakeListAndAnd(t *testing.T) {
	list := &expr.MakeList{Elems: []expr.Expr{expr.NewConst(value.Of(int64(1))), expr.NewConst(value.Of(int64(2)))}}
	bc := compile(t, list, map[binding.Symbol]int{})
	stack := expr.NewStack()
	v, err := expr.Eval(bc, value.Tuple{}, stack)
	require.NoError(t, err)
	elems, ok := v.AsList()
	require.True(t, ok)
	require.Len(t, elems, 2)

	conj := &expr.And{Left: expr.NewConst(value.Of(true)), Right: expr.NewConst(value.Of(false))}
	bc2 := compile(t, conj, map[binding.Symbol]int{})
	ok2, err := expr.EvalPred(bc2, value.Tuple{}, stack)
	require.NoError(t, err)
	require.False(t, ok2)
}
