package ra

import (
	"github.com/elewis/qdb/binding"
	"github.com/elewis/qdb/expr"
	"github.com/elewis/qdb/value"
)

// Unification extends each input tuple with the value of an expression,
// bound to a new column (spec §4.5). In Multi mode the expression must
// yield a List and the tuple is replicated once per element.
type Unification struct {
	base
	child    Node
	binding_ binding.Symbol
	expr     expr.Expr
	multi    bool
	compiled expr.Bytecode
}

func NewUnification(child Node, bindTo binding.Symbol, e expr.Expr, multi bool) *Unification {
	return &Unification{child: child, binding_: bindTo, expr: e, multi: multi}
}

func (n *Unification) BindingsBefore() []binding.Symbol {
	return append(append([]binding.Symbol{}, n.child.BindingsAfter()...), n.binding_)
}
func (n *Unification) BindingsAfter() []binding.Symbol { return n.after(n.BindingsBefore()) }

func (n *Unification) EliminateTempVars(used binding.Set) {
	n.eliminate(n.BindingsBefore(), used)
	childUsed := binding.NewSet()
	for sym := range used {
		if sym != n.binding_ {
			childUsed.Add(sym)
		}
	}
	childUsed = childUsed.Union(n.expr.Bindings())
	n.child.EliminateTempVars(childUsed)
}

func (n *Unification) FillBindingIndicesAndCompile() error {
	if err := n.child.FillBindingIndicesAndCompile(); err != nil {
		return err
	}
	idx := bindingIndex(n.child.BindingsAfter())
	if err := n.expr.FillBindingIndices(idx); err != nil {
		return err
	}
	n.compiled = n.expr.Compile()
	return nil
}

func (n *Unification) Iter(ctx *Context) (TupleIter, error) {
	child, err := n.child.Iter(ctx)
	if err != nil {
		return nil, err
	}
	before := n.BindingsBefore()
	keep := projectionFor(before, n.after(before))
	return &unificationIter{
		child:    child,
		compiled: n.compiled,
		stack:    expr.NewStack(),
		multi:    n.multi,
		binding:  string(n.binding_),
		keep:     keep,
	}, nil
}

type unificationIter struct {
	child    TupleIter
	compiled expr.Bytecode
	stack    *expr.Stack
	multi    bool
	binding  string
	keep     []int

	pending []value.Tuple
	pos     int
	cur     value.Tuple
	err     error
}

func (u *unificationIter) Next() bool {
	if u.err != nil {
		return false
	}
	for {
		if u.pos < len(u.pending) {
			u.cur = u.pending[u.pos]
			u.pos++
			return true
		}
		if !u.child.Next() {
			u.err = u.child.Err()
			return false
		}
		t := u.child.Tuple()
		v, err := expr.Eval(u.compiled, t, u.stack)
		if err != nil {
			u.err = err
			return false
		}
		if u.multi {
			elems, ok := v.AsList()
			if !ok {
				u.err = &BadSpreadUnificationError{Binding: u.binding}
				return false
			}
			u.pending = u.pending[:0]
			for _, e := range elems {
				u.pending = append(u.pending, t.Concat(value.Tuple{e}).Project(u.keep))
			}
			u.pos = 0
			continue
		}
		u.cur = t.Concat(value.Tuple{v}).Project(u.keep)
		return true
	}
}

func (u *unificationIter) Tuple() value.Tuple { return u.cur }
func (u *unificationIter) Err() error {
	if u.err != nil {
		return u.err
	}
	return u.child.Err()
}
func (u *unificationIter) Close() error { return u.child.Close() }
