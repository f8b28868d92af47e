// Package ra implements the relational-algebra evaluator: the tree of
// physical operators that consumes stored relations, temporary in-memory
// derived relations, and inline constants, and streams tuples for a rule
// body. Grounded throughout on cozo-core/src/query/ra.rs (the exact source
// this package's node kinds and strategy-selection logic were distilled
// from) expressed in the teacher's Go idiom: Relation/Iterator-shaped
// interfaces, struct-held children instead of boxed trait objects, and
// explicit tagged variants instead of Either-typed branching returns.
package ra

import (
	"github.com/elewis/qdb/binding"
	"github.com/elewis/qdb/storage"
	"github.com/elewis/qdb/tempstore"
	"github.com/elewis/qdb/value"
)

// TupleIter is a lazy, single-pass tuple stream. Streams are ordered by
// production and may fail mid-stream: a non-nil Err() after Next() returns
// false means the stream terminated on error rather than exhaustion (spec
// §4.1 "iteration").
type TupleIter interface {
	Next() bool
	Tuple() value.Tuple
	Err() error
	Close() error
}

// Context is the execution context threaded through one query's Iter calls:
// the storage backend borrowed immutably for the query's duration, the
// named in-memory epoch stores TempStore nodes scan, which single store (if
// any) is this iteration's semi-naive delta frontier, and the fixed
// timestamp validity scans run at.
type Context struct {
	Backend storage.Backend
	Stores  map[string]*tempstore.EpochStore
	// DeltaStore names the one TempStore whose frontier is being expanded
	// this semi-naive step; "" means every TempStore scans in normal mode.
	DeltaStore string
	ValidAt    int64
}

// IsDelta reports whether the named store should scan in delta-only mode
// for this iteration.
func (c *Context) IsDelta(storeName string) bool {
	return c.DeltaStore != "" && c.DeltaStore == storeName
}

// Node is an RA tree node. A node owns its children exclusively (a strict
// tree; no sharing, no back-references, per spec §3 and the §9 design
// note on boxed-children trees). Iterators borrow the tree for the
// duration of a single query; no iterator outlives its tree.
type Node interface {
	// BindingsBefore returns the columns this node computes, before its own
	// elimination set is applied.
	BindingsBefore() []binding.Symbol
	// BindingsAfter returns BindingsBefore with the elimination set removed,
	// order-preserving (spec §3 invariant 2). This is what a consumer sees.
	BindingsAfter() []binding.Symbol
	// EliminateTempVars is the top-down elimination propagation pass (spec
	// §4.1). used is the set of bindings this node's consumer still needs.
	EliminateTempVars(used binding.Set)
	// FillBindingIndicesAndCompile is the post-order binding-index
	// resolution and bytecode compilation pass (spec §4.1). Must run after
	// EliminateTempVars has settled every node's elimination set.
	FillBindingIndicesAndCompile() error
	// Iter returns a lazy tuple stream over this node's post-elimination
	// bindings.
	Iter(ctx *Context) (TupleIter, error)
}

// base holds the elimination-set bookkeeping shared by every node kind.
type base struct {
	elim binding.Set
}

func (b *base) eliminate(before []binding.Symbol, used binding.Set) {
	elim := binding.NewSet()
	for _, s := range before {
		if !used.Contains(s) {
			elim.Add(s)
		}
	}
	b.elim = elim
}

func (b *base) after(before []binding.Symbol) []binding.Symbol {
	return binding.Without(before, b.elim)
}

// bindingIndex builds a post-elimination position map for an expression's
// FillBindingIndices call.
func bindingIndex(bindings []binding.Symbol) map[binding.Symbol]int {
	idx := make(map[binding.Symbol]int, len(bindings))
	for i, s := range bindings {
		idx[s] = i
	}
	return idx
}

// sliceIter adapts a pre-materialized []value.Tuple into a TupleIter; used
// by InlineFixed.
type sliceIter struct {
	tuples []value.Tuple
	pos    int
}

func newSliceIter(tuples []value.Tuple) *sliceIter { return &sliceIter{tuples: tuples} }

func (s *sliceIter) Next() bool {
	if s.pos >= len(s.tuples) {
		return false
	}
	s.pos++
	return true
}
func (s *sliceIter) Tuple() value.Tuple { return s.tuples[s.pos-1] }
func (s *sliceIter) Err() error         { return nil }
func (s *sliceIter) Close() error       { return nil }

// errIter is a TupleIter that yields a single error and then terminates,
// the convention spec §4.1 describes for mid-stream failures discovered
// before the first tuple (e.g. a materialized join that fails while
// building its cache).
type errIter struct {
	err  error
	done bool
}

func newErrIter(err error) *errIter { return &errIter{err: err} }

func (e *errIter) Next() bool   { return false }
func (e *errIter) Tuple() value.Tuple { return nil }
func (e *errIter) Err() error   { return e.err }
func (e *errIter) Close() error { return nil }
