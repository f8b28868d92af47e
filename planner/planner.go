// Package planner is a thin logical-clause-to-RA-tree builder (spec
// §4.11, supplemented): naming grounded on the teacher's datalog/planner
// package (Plan, planClause), reduced to the fixed set of clause shapes
// SPEC_FULL.md's test scenarios and CLI need. This is deliberately not a
// query-language parser or a cost-based optimizer (those are the explicit
// non-goal named in spec §1) — it exists only to give the ra evaluator a
// realistic, non-test-harness caller.
package planner

import (
	"fmt"

	"github.com/elewis/qdb/binding"
	"github.com/elewis/qdb/expr"
	"github.com/elewis/qdb/ra"
	"github.com/elewis/qdb/storage"
)

// Clause is one logical clause a query body is built from.
type Clause interface {
	apply(current ra.Node) (ra.Node, error)
}

// Pattern matches a persistent relation, joining it against whatever the
// plan has accumulated so far on any bindings they share (spec §4.7,
// §4.8). A zero ValidAt with a validity-enabled Handle is itself a valid
// timestamp (epoch zero); callers that never deal in validity relations
// leave Handle.HasValidity false and ValidAt unused.
type Pattern struct {
	Handle   storage.RelationHandle
	Bindings []binding.Symbol
	ValidAt  int64
}

func (p Pattern) apply(current ra.Node) (ra.Node, error) {
	var scan ra.Node
	if p.Handle.HasValidity {
		scan = ra.NewStoredWithValidityScan(p.Handle, p.Bindings, p.ValidAt)
	} else {
		scan = ra.NewStoredScan(p.Handle, p.Bindings)
	}
	return joinOrCross(current, scan, p.Bindings), nil
}

// TempPattern matches an in-memory epoch store by name, the temp-relation
// counterpart to Pattern (spec §4.6).
type TempPattern struct {
	StoreName string
	Bindings  []binding.Symbol
}

func (t TempPattern) apply(current ra.Node) (ra.Node, error) {
	scan := ra.NewTempStoreScan(t.StoreName, t.Bindings)
	return joinOrCross(current, scan, t.Bindings), nil
}

// Neg drops rows of the current plan that have a matching row in the named
// relation on their shared bindings (spec §4.9). Exactly one of Handle or
// StoreName should be set.
type Neg struct {
	Handle    storage.RelationHandle
	StoreName string
	Bindings  []binding.Symbol
}

func (n Neg) apply(current ra.Node) (ra.Node, error) {
	shared := sharedKeys(current, n.Bindings)
	if len(shared) == 0 {
		return nil, fmt.Errorf("negation clause shares no bindings with the current plan")
	}
	var scan ra.Node
	if n.StoreName != "" {
		scan = ra.NewTempStoreScan(n.StoreName, n.Bindings)
	} else {
		scan = ra.NewStoredScan(n.Handle, n.Bindings)
	}
	return ra.NewNegJoin(current, scan, shared, shared), nil
}

// Filter applies a conjunction of predicates over the current plan's
// bindings (spec §4.4). NewFilter performs fusion/pushdown automatically.
type Filter struct {
	Preds []expr.Expr
}

func (f Filter) apply(current ra.Node) (ra.Node, error) {
	return ra.NewFilter(current, f.Preds), nil
}

// Unify binds a new column to an expression over the current plan's
// bindings (spec §4.5).
type Unify struct {
	Binding binding.Symbol
	Expr    expr.Expr
	Multi   bool
}

func (u Unify) apply(current ra.Node) (ra.Node, error) {
	return ra.NewUnification(current, u.Binding, u.Expr, u.Multi), nil
}

// Plan folds clauses, in order, into a single RA tree rooted at the unit
// relation, reorders/projects to keep, then runs the two tree-level
// planning passes (spec §4.1): elimination propagation followed by
// binding-index resolution and bytecode compilation. The returned node is
// ready for Iter.
func Plan(clauses []Clause, keep []binding.Symbol) (ra.Node, error) {
	var current ra.Node = ra.Unit()
	for i, c := range clauses {
		next, err := c.apply(current)
		if err != nil {
			return nil, fmt.Errorf("planner: clause %d: %w", i, err)
		}
		current = next
	}

	root := ra.NewReorder(current, keep)
	used := binding.NewSet()
	for _, s := range keep {
		used.Add(s)
	}
	root.EliminateTempVars(used)
	if err := root.FillBindingIndicesAndCompile(); err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	return root, nil
}

// joinOrCross joins the current plan against scan on whatever bindings
// they share, or cross-products them (empty key lists) when they share
// none — including the first clause, joined against the unit relation.
func joinOrCross(current ra.Node, scan ra.Node, scanBindings []binding.Symbol) ra.Node {
	shared := sharedKeys(current, scanBindings)
	return ra.NewInnerJoin(current, scan, shared, shared)
}

func sharedKeys(current ra.Node, scanBindings []binding.Symbol) []binding.Symbol {
	have := binding.NewSet()
	for _, s := range current.BindingsBefore() {
		have.Add(s)
	}
	var shared []binding.Symbol
	for _, s := range scanBindings {
		if have.Contains(s) {
			shared = append(shared, s)
		}
	}
	return shared
}
