package ra

import (
	"github.com/elewis/qdb/binding"
	"github.com/elewis/qdb/storage"
	"github.com/elewis/qdb/value"
)

// InlineFixed is a literal relation of rows, including the unit relation
// (zero bindings, one empty row) used as cartesian product's neutral
// element (spec §4.2, invariant 5).
type InlineFixed struct {
	base
	bindings []binding.Symbol
	rows     []value.Tuple
	keepIdx  []int // positions of BindingsAfter within bindings, set by EliminateTempVars
}

// NewInlineFixed builds an InlineFixed node. Every row must have
// len(bindings) columns.
func NewInlineFixed(bindings []binding.Symbol, rows []value.Tuple) *InlineFixed {
	return &InlineFixed{bindings: bindings, rows: rows}
}

// Unit returns the zero-column, one-empty-row unit relation.
func Unit() *InlineFixed {
	return NewInlineFixed(nil, []value.Tuple{{}})
}

func (n *InlineFixed) BindingsBefore() []binding.Symbol { return n.bindings }
func (n *InlineFixed) BindingsAfter() []binding.Symbol  { return n.after(n.bindings) }

func (n *InlineFixed) EliminateTempVars(used binding.Set) {
	n.eliminate(n.bindings, used)
	after := n.after(n.bindings)
	n.keepIdx = make([]int, len(after))
	for i, s := range after {
		n.keepIdx[i] = binding.IndexOf(n.bindings, s)
	}
}

func (n *InlineFixed) FillBindingIndicesAndCompile() error { return nil }

func (n *InlineFixed) Iter(ctx *Context) (TupleIter, error) {
	out := make([]value.Tuple, len(n.rows))
	for i, r := range n.rows {
		out[i] = r.Project(n.keepIdx)
	}
	return newSliceIter(out), nil
}

// rowsAfterElim returns this node's rows projected to BindingsAfter, the
// same tuples Iter would stream — used directly by InnerJoin/NegJoin
// strategy selection instead of going through an Iter/TupleIter round trip
// for a relation that is already fully materialized.
func (n *InlineFixed) rowsAfterElim() []value.Tuple {
	out := make([]value.Tuple, len(n.rows))
	for i, r := range n.rows {
		out[i] = r.Project(n.keepIdx)
	}
	return out
}

// Join implements InlineFixed's specialized join strategy (spec §4.2),
// used when an InnerJoin's right child is InlineFixed. li/ri index into the
// left stream's tuples and this node's post-elimination rows respectively.
// elimIdx selects which columns of the concatenated (left ++ right) tuple
// survive the InnerJoin's own elimination.
func (n *InlineFixed) Join(left TupleIter, li, ri []int, elimIdx []int) TupleIter {
	rows := n.rowsAfterElim()
	switch len(rows) {
	case 0:
		left.Close()
		return newSliceIter(nil)
	case 1:
		row := rows[0]
		rightKey := row.Project(ri)
		var out []value.Tuple
		for left.Next() {
			l := left.Tuple()
			if l.Project(li).Equal(rightKey) {
				out = append(out, l.Concat(row).Project(elimIdx))
			}
		}
		err := left.Err()
		left.Close()
		if err != nil {
			return newErrIter(err)
		}
		return newSliceIter(out)
	default:
		multimap := make(map[string][]value.Tuple, len(rows))
		for _, row := range rows {
			k := string(keyBytes(row.Project(ri)))
			multimap[k] = append(multimap[k], row)
		}
		var out []value.Tuple
		for left.Next() {
			l := left.Tuple()
			k := string(keyBytes(l.Project(li)))
			for _, row := range multimap[k] {
				out = append(out, l.Concat(row).Project(elimIdx))
			}
		}
		err := left.Err()
		left.Close()
		if err != nil {
			return newErrIter(err)
		}
		return newSliceIter(out)
	}
}

// keyBytes gives a hashable map-key representation of a join-key
// projection, reusing the storage package's total-order byte encoding so
// that equal DataValues (even across differing internal representations)
// hash identically.
func keyBytes(t value.Tuple) []byte {
	return storage.EncodeOrdered(t)
}
