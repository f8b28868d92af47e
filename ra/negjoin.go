package ra

import (
	"fmt"

	"github.com/elewis/qdb/binding"
)

// NegJoin drops every left tuple for which a matching right-side tuple
// exists on the named key columns (spec §4.9, an anti-join: its output
// binds no right-side column at all). The right child must be a concrete
// relation scan (TempStore, Stored, or StoredWithValidity) that knows how
// to test membership; any other right kind is a planner bug, since nothing
// else produces a relation NegJoin can test against without first
// materializing it as one of those three kinds.
type NegJoin struct {
	base
	left, right         Node
	leftKeys, rightKeys []binding.Symbol
	li, ri              []int
}

func NewNegJoin(left, right Node, leftKeys, rightKeys []binding.Symbol) *NegJoin {
	return &NegJoin{left: left, right: right, leftKeys: leftKeys, rightKeys: rightKeys}
}

func (n *NegJoin) BindingsBefore() []binding.Symbol { return n.left.BindingsAfter() }
func (n *NegJoin) BindingsAfter() []binding.Symbol  { return n.after(n.BindingsBefore()) }

func (n *NegJoin) EliminateTempVars(used binding.Set) {
	n.eliminate(n.BindingsBefore(), used)

	leftUsed := binding.NewSet()
	for _, s := range n.leftKeys {
		leftUsed.Add(s)
	}
	for sym := range used {
		leftUsed.Add(sym)
	}
	n.left.EliminateTempVars(leftUsed)

	rightUsed := binding.NewSet()
	for _, s := range n.rightKeys {
		rightUsed.Add(s)
	}
	n.right.EliminateTempVars(rightUsed)
}

func (n *NegJoin) FillBindingIndicesAndCompile() error {
	if err := n.left.FillBindingIndicesAndCompile(); err != nil {
		return err
	}
	if err := n.right.FillBindingIndicesAndCompile(); err != nil {
		return err
	}
	leftAfter := n.left.BindingsAfter()
	rightAfter := n.right.BindingsAfter()

	n.li = make([]int, len(n.leftKeys))
	for i, s := range n.leftKeys {
		idx := binding.IndexOf(leftAfter, s)
		if idx < 0 {
			return &PlannerBugError{Msg: fmt.Sprintf("neg-join key %q missing from left child", s)}
		}
		n.li[i] = idx
	}
	n.ri = make([]int, len(n.rightKeys))
	for i, s := range n.rightKeys {
		idx := binding.IndexOf(rightAfter, s)
		if idx < 0 {
			return &PlannerBugError{Msg: fmt.Sprintf("neg-join key %q missing from right child", s)}
		}
		n.ri[i] = idx
	}
	return nil
}

func (n *NegJoin) Iter(ctx *Context) (TupleIter, error) {
	left, err := n.left.Iter(ctx)
	if err != nil {
		return nil, err
	}
	leftAfter := n.left.BindingsAfter()
	final := n.BindingsAfter()
	elimIdx := make([]int, len(final))
	for i, s := range final {
		elimIdx[i] = binding.IndexOf(leftAfter, s)
	}

	switch r := n.right.(type) {
	case *TempStoreScan:
		return r.negJoin(ctx, left, n.li, n.ri, elimIdx)
	case *StoredScan:
		return r.negJoin(ctx, left, n.li, n.ri, elimIdx)
	case *StoredWithValidityScan:
		return r.negJoin(ctx, left, n.li, n.ri, elimIdx)
	default:
		left.Close()
		return nil, &PlannerBugError{Msg: "negjoin right child must be a stored or temp relation scan"}
	}
}
