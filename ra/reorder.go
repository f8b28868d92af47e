package ra

import (
	"fmt"

	"github.com/elewis/qdb/binding"
	"github.com/elewis/qdb/value"
)

// Reorder permutes/selects its child's output columns by name (spec §4.3).
type Reorder struct {
	base
	child    Node
	newOrder []binding.Symbol
	srcIdx   []int // position in child.BindingsAfter() for each entry of newOrder
}

func NewReorder(child Node, newOrder []binding.Symbol) *Reorder {
	return &Reorder{child: child, newOrder: newOrder}
}

func (n *Reorder) BindingsBefore() []binding.Symbol { return n.newOrder }
func (n *Reorder) BindingsAfter() []binding.Symbol  { return n.after(n.newOrder) }

func (n *Reorder) EliminateTempVars(used binding.Set) {
	n.eliminate(n.newOrder, used)
	// The child must still produce every binding newOrder references,
	// regardless of this node's own elimination (elimination only hides
	// columns from *this* node's consumer, it does not change what the
	// permutation itself requires from below).
	childUsed := binding.NewSet()
	for _, s := range n.newOrder {
		childUsed.Add(s)
	}
	n.child.EliminateTempVars(childUsed)
}

func (n *Reorder) FillBindingIndicesAndCompile() error {
	if err := n.child.FillBindingIndicesAndCompile(); err != nil {
		return err
	}
	childBindings := n.child.BindingsAfter()
	n.srcIdx = make([]int, len(n.newOrder))
	for i, s := range n.newOrder {
		idx := binding.IndexOf(childBindings, s)
		if idx < 0 {
			// Missing bindings are a planner bug (spec §4.3): the
			// permutation named a column the child doesn't produce.
			return &PlannerBugError{Msg: fmt.Sprintf("reorder references %q which child does not produce", s)}
		}
		n.srcIdx[i] = idx
	}
	return nil
}

func (n *Reorder) Iter(ctx *Context) (TupleIter, error) {
	child, err := n.child.Iter(ctx)
	if err != nil {
		return nil, err
	}
	keep := make([]int, len(n.after(n.newOrder)))
	afterSyms := n.after(n.newOrder)
	for i, s := range afterSyms {
		keep[i] = binding.IndexOf(n.newOrder, s)
	}
	return &reorderIter{child: child, srcIdx: n.srcIdx, keep: keep}, nil
}

type reorderIter struct {
	child  TupleIter
	srcIdx []int
	keep   []int
	cur    value.Tuple
}

func (r *reorderIter) Next() bool {
	if !r.child.Next() {
		return false
	}
	t := r.child.Tuple()
	permuted := t.Project(r.srcIdx)
	r.cur = permuted.Project(r.keep)
	return true
}
func (r *reorderIter) Tuple() value.Tuple { return r.cur }
func (r *reorderIter) Err() error         { return r.child.Err() }
func (r *reorderIter) Close() error       { return r.child.Close() }
