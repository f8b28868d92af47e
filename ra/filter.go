package ra

import (
	"github.com/elewis/qdb/binding"
	"github.com/elewis/qdb/expr"
	"github.com/elewis/qdb/value"
)

// Filter holds a conjunction of predicate expressions evaluated over its
// child's bindings (spec §4.4).
type Filter struct {
	base
	child    Node
	preds    []expr.Expr
	compiled []expr.Bytecode
}

func newPlainFilter(child Node, preds []expr.Expr) *Filter {
	return &Filter{child: child, preds: preds}
}

// pushable is implemented by the scan node kinds (TempStore, Stored,
// StoredWithValidity) whose own filter list a Filter-over-scan pushes into,
// so the scan can use the predicates for bounds analysis (spec §4.4, §4.7).
type pushable interface {
	addFilters(preds []expr.Expr)
}

// NewFilter is the smart constructor implementing filter fusion and
// pushdown (spec §4.4, §4.10). It is the only way Filter nodes are built;
// callers never construct *Filter directly.
func NewFilter(child Node, preds []expr.Expr) Node {
	if len(preds) == 0 {
		return child
	}
	switch c := child.(type) {
	case *Filter:
		// Filter fusion: extend the predicate list rather than nesting.
		return NewFilter(c.child, append(append([]expr.Expr{}, c.preds...), preds...))
	case pushable:
		c.addFilters(preds)
		return child
	case *InnerJoin:
		return pushFilterIntoJoin(c, preds)
	default:
		return newPlainFilter(child, preds)
	}
}

// pushFilterIntoJoin splits preds into conjuncts and classifies each by
// whether its free variables are a subset of the left or right child's
// pre-elimination bindings, pushing each into the matching side (which may
// itself push further, e.g. into a scan's filter list) and keeping
// genuinely cross-side conjuncts in a residual Filter above the join (spec
// §4.10).
func pushFilterIntoJoin(j *InnerJoin, preds []expr.Expr) Node {
	leftBefore := binding.NewSet()
	for _, s := range j.left.BindingsBefore() {
		leftBefore.Add(s)
	}
	rightBefore := binding.NewSet()
	for _, s := range j.right.BindingsBefore() {
		rightBefore.Add(s)
	}

	var leftPreds, rightPreds, residual []expr.Expr
	for _, p := range preds {
		free := p.Bindings()
		switch {
		case free.Subset(leftBefore):
			leftPreds = append(leftPreds, p)
		case free.Subset(rightBefore):
			rightPreds = append(rightPreds, p)
		default:
			residual = append(residual, p)
		}
	}

	newLeft := j.left
	if len(leftPreds) > 0 {
		newLeft = NewFilter(j.left, leftPreds)
	}
	newRight := j.right
	if len(rightPreds) > 0 {
		newRight = NewFilter(j.right, rightPreds)
	}
	newJoin := NewInnerJoin(newLeft, newRight, j.leftKeys, j.rightKeys)
	if len(residual) == 0 {
		return newJoin
	}
	return newPlainFilter(newJoin, residual)
}

func (n *Filter) BindingsBefore() []binding.Symbol { return n.child.BindingsAfter() }
func (n *Filter) BindingsAfter() []binding.Symbol  { return n.after(n.BindingsBefore()) }

func (n *Filter) EliminateTempVars(used binding.Set) {
	n.eliminate(n.BindingsBefore(), used)
	childUsed := binding.NewSet()
	for sym := range used {
		childUsed.Add(sym)
	}
	for _, p := range n.preds {
		childUsed = childUsed.Union(p.Bindings())
	}
	n.child.EliminateTempVars(childUsed)
}

func (n *Filter) FillBindingIndicesAndCompile() error {
	if err := n.child.FillBindingIndicesAndCompile(); err != nil {
		return err
	}
	idx := bindingIndex(n.child.BindingsAfter())
	n.compiled = make([]expr.Bytecode, len(n.preds))
	for i, p := range n.preds {
		if err := p.FillBindingIndices(idx); err != nil {
			return err
		}
		n.compiled[i] = p.Compile()
	}
	return nil
}

func (n *Filter) Iter(ctx *Context) (TupleIter, error) {
	child, err := n.child.Iter(ctx)
	if err != nil {
		return nil, err
	}
	before := n.BindingsBefore()
	keep := projectionFor(before, n.after(before))
	return &filterIter{child: child, compiled: n.compiled, stack: expr.NewStack(), keep: keep}, nil
}

// projectionFor returns, for each symbol in after (a subsequence of
// before), its index within before.
func projectionFor(before, after []binding.Symbol) []int {
	idx := make([]int, len(after))
	for i, s := range after {
		idx[i] = binding.IndexOf(before, s)
	}
	return idx
}

type filterIter struct {
	child    TupleIter
	compiled []expr.Bytecode
	stack    *expr.Stack
	keep     []int
	cur      value.Tuple
	err      error
}

func (f *filterIter) Next() bool {
	if f.err != nil {
		return false
	}
	for f.child.Next() {
		t := f.child.Tuple()
		ok := true
		for _, bc := range f.compiled {
			pass, err := expr.EvalPred(bc, t, f.stack)
			if err != nil {
				f.err = err
				return false
			}
			if !pass {
				ok = false
				break
			}
		}
		if ok {
			f.cur = t.Project(f.keep)
			return true
		}
	}
	f.err = f.child.Err()
	return false
}

func (f *filterIter) Tuple() value.Tuple { return f.cur }
func (f *filterIter) Err() error {
	if f.err != nil {
		return f.err
	}
	return f.child.Err()
}
func (f *filterIter) Close() error { return f.child.Close() }
