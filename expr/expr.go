// Package expr implements the expression trees Filter and Unification
// nodes hold, their compilation into linear bytecode, and the bytecode
// evaluator. Grounded on the teacher's query/predicate.go Term/Comparison
// shape, generalized with a compile step because the evaluator contract
// (spec §6) requires resolving symbolic references to positions once,
// during planning, rather than re-resolving a binding map on every tuple.
package expr

import (
	"fmt"

	"github.com/elewis/qdb/binding"
	"github.com/elewis/qdb/value"
)

// CompareOp is a comparison operator, matching the teacher's query.CompareOp.
type CompareOp string

const (
	OpEQ  CompareOp = "="
	OpNE  CompareOp = "!="
	OpLT  CompareOp = "<"
	OpLTE CompareOp = "<="
	OpGT  CompareOp = ">"
	OpGTE CompareOp = ">="
)

// Expr is a node in an expression tree. Trees are built with symbolic
// variable references; FillBindingIndices resolves them to positions within
// a parent node's post-elimination bindings, and Compile lowers the tree to
// a linear Bytecode program.
type Expr interface {
	// Bindings returns the free variables this expression references.
	Bindings() binding.Set
	// FillBindingIndices resolves every Var leaf's symbol to its position in
	// idx. Returns a BindingResolutionError if a reference is unresolved.
	FillBindingIndices(idx map[binding.Symbol]int) error
	// Compile lowers the expression to bytecode. Must be called after
	// FillBindingIndices.
	Compile() Bytecode
}

// BindingResolutionError reports an expression referencing an unknown
// symbol at planning time. Fatal for the query (spec §7).
type BindingResolutionError struct {
	Symbol binding.Symbol
}

func (e *BindingResolutionError) Error() string {
	return fmt.Sprintf("unresolved binding reference: %s", e.Symbol)
}

// Var references a tuple column by binding name, resolved to a position
// during FillBindingIndices.
type Var struct {
	Symbol binding.Symbol
	idx    int
	filled bool
}

func NewVar(sym binding.Symbol) *Var { return &Var{Symbol: sym} }

func (v *Var) Bindings() binding.Set { return binding.NewSet(v.Symbol) }

func (v *Var) FillBindingIndices(idx map[binding.Symbol]int) error {
	pos, ok := idx[v.Symbol]
	if !ok {
		return &BindingResolutionError{Symbol: v.Symbol}
	}
	v.idx = pos
	v.filled = true
	return nil
}

func (v *Var) Compile() Bytecode {
	return Bytecode{{Op: OpLoadVar, Int: v.idx}}
}

// Const is a literal value.
type Const struct {
	Value value.DataValue
}

func NewConst(v value.DataValue) *Const { return &Const{Value: v} }

func (c *Const) Bindings() binding.Set                             { return binding.NewSet() }
func (c *Const) FillBindingIndices(map[binding.Symbol]int) error   { return nil }
func (c *Const) Compile() Bytecode {
	return Bytecode{{Op: OpPushConst, Const: c.Value}}
}

// Comparison implements a single comparison predicate, e.g. [(< ?x 10)].
type Comparison struct {
	Op    CompareOp
	Left  Expr
	Right Expr
}

func (c *Comparison) Bindings() binding.Set {
	return c.Left.Bindings().Union(c.Right.Bindings())
}

func (c *Comparison) FillBindingIndices(idx map[binding.Symbol]int) error {
	if err := c.Left.FillBindingIndices(idx); err != nil {
		return err
	}
	return c.Right.FillBindingIndices(idx)
}

func (c *Comparison) Compile() Bytecode {
	var bc Bytecode
	bc = append(bc, c.Left.Compile()...)
	bc = append(bc, c.Right.Compile()...)
	bc = append(bc, Instr{Op: OpCompare, Cmp: c.Op})
	return bc
}

// And is a conjunction of two predicate expressions.
type And struct {
	Left, Right Expr
}

func (a *And) Bindings() binding.Set { return a.Left.Bindings().Union(a.Right.Bindings()) }
func (a *And) FillBindingIndices(idx map[binding.Symbol]int) error {
	if err := a.Left.FillBindingIndices(idx); err != nil {
		return err
	}
	return a.Right.FillBindingIndices(idx)
}
func (a *And) Compile() Bytecode {
	var bc Bytecode
	bc = append(bc, a.Left.Compile()...)
	bc = append(bc, a.Right.Compile()...)
	bc = append(bc, Instr{Op: OpAnd})
	return bc
}

// Not negates a predicate expression.
type Not struct {
	Inner Expr
}

func (n *Not) Bindings() binding.Set                           { return n.Inner.Bindings() }
func (n *Not) FillBindingIndices(idx map[binding.Symbol]int) error { return n.Inner.FillBindingIndices(idx) }
func (n *Not) Compile() Bytecode {
	bc := append(Bytecode{}, n.Inner.Compile()...)
	return append(bc, Instr{Op: OpNot})
}

// MakeList builds a List value from its element expressions, used by
// Unification's multi-mode expressions.
type MakeList struct {
	Elems []Expr
}

func (m *MakeList) Bindings() binding.Set {
	s := binding.NewSet()
	for _, e := range m.Elems {
		s = s.Union(e.Bindings())
	}
	return s
}

func (m *MakeList) FillBindingIndices(idx map[binding.Symbol]int) error {
	for _, e := range m.Elems {
		if err := e.FillBindingIndices(idx); err != nil {
			return err
		}
	}
	return nil
}

func (m *MakeList) Compile() Bytecode {
	var bc Bytecode
	for _, e := range m.Elems {
		bc = append(bc, e.Compile()...)
	}
	bc = append(bc, Instr{Op: OpMakeList, Int: len(m.Elems)})
	return bc
}
