package ra

import (
	"github.com/elewis/qdb/binding"
	"github.com/elewis/qdb/expr"
	"github.com/elewis/qdb/value"
)

// boundsKind tags computeBounds' result instead of an Either-typed return
// (spec §9's instruction to prefer explicit tagged Go types over a generic
// either type for branching iterator strategies).
type boundsKind int

const (
	// boundsUnbounded means every trailing column is unconstrained; the
	// caller falls back to an unbounded prefix scan.
	boundsUnbounded boundsKind = iota
	// boundsComputed means at least one trailing column was constrained;
	// the caller uses the accompanying lower/upper sentinel tuples.
	boundsComputed
)

// boundsResult is the outcome of static bounds analysis over a scan's
// remaining filters (spec §4.7, with the exact column-by-column fill rule
// resolved from cozo's compute_bounds per SPEC_FULL.md §2C).
type boundsResult struct {
	kind         boundsKind
	lower, upper value.Tuple
}

// computeBounds derives [lower, upper) sentinel tuples over the trailing
// (non-prefix) columns of a scan from conjuncts in filters that constrain
// those columns against literals with >=, <=, <, >, or =. Unconstrained
// positions are Null (lower) / Bot (upper), and upper carries one extra
// trailing Bot so the exclusive bound still admits tuples equal to its
// literals (an = or <= boundary value). Only *expr.Comparison filters
// with one Var side (referencing a trailing column) and one Const side
// contribute; anything else is ignored by bounds analysis (it still runs,
// post-scan, as an ordinary filter).
func computeBounds(filters []expr.Expr, bindings []binding.Symbol, prefixLen int) boundsResult {
	trailing := bindings[prefixLen:]
	lower := make(value.Tuple, len(trailing))
	upper := make(value.Tuple, len(trailing))
	for i := range trailing {
		lower[i] = value.Null
		upper[i] = value.Bot
	}
	kind := boundsUnbounded

	colIndex := func(sym binding.Symbol) int {
		for i, s := range trailing {
			if s == sym {
				return i
			}
		}
		return -1
	}

	for _, f := range filters {
		cmp, ok := f.(*expr.Comparison)
		if !ok {
			continue
		}
		varTerm, constTerm, flipped := asVarConst(cmp.Left, cmp.Right)
		if varTerm == nil || constTerm == nil {
			continue
		}
		ci := colIndex(varTerm.Symbol)
		if ci < 0 {
			continue
		}
		op := cmp.Op
		if flipped {
			op = flipOp(op)
		}
		lit := constTerm.Value
		switch op {
		case expr.OpEQ:
			lower[ci] = lit
			upper[ci] = lit
			kind = boundsComputed
		case expr.OpGT, expr.OpGTE:
			lower[ci] = lit
			kind = boundsComputed
		case expr.OpLT, expr.OpLTE:
			upper[ci] = lit
			kind = boundsComputed
		}
	}

	upper = append(upper, value.Bot)
	return boundsResult{kind: kind, lower: lower, upper: upper}
}

func asVarConst(left, right expr.Expr) (*expr.Var, *expr.Const, bool) {
	if v, ok := left.(*expr.Var); ok {
		if c, ok2 := right.(*expr.Const); ok2 {
			return v, c, false
		}
	}
	if v, ok := right.(*expr.Var); ok {
		if c, ok2 := left.(*expr.Const); ok2 {
			return v, c, true
		}
	}
	return nil, nil, false
}

func flipOp(op expr.CompareOp) expr.CompareOp {
	switch op {
	case expr.OpLT:
		return expr.OpGT
	case expr.OpLTE:
		return expr.OpGTE
	case expr.OpGT:
		return expr.OpLT
	case expr.OpGTE:
		return expr.OpLTE
	default:
		return op
	}
}
