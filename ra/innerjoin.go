package ra

import (
	"fmt"
	"sort"

	"github.com/elewis/qdb/binding"
	"github.com/elewis/qdb/value"
)

// InnerJoin equi-joins its left stream against its right child on the
// named key columns (spec §4.8). Strategy selection happens once, in Iter,
// based on the right child's concrete kind: InlineFixed's own specialized
// join, a bounds-analyzed prefix join when the join keys land on a prefix
// of a scan's storage order, a point-lookup fast path when the prefix
// covers the whole storage key, or a materialized sort-and-binary-search
// join as the universal fallback (spec §4.8.1).
type InnerJoin struct {
	base
	left, right          Node
	leftKeys, rightKeys  []binding.Symbol
	li, ri               []int
	leftWidth, rightWidth int
}

func NewInnerJoin(left, right Node, leftKeys, rightKeys []binding.Symbol) *InnerJoin {
	return &InnerJoin{left: left, right: right, leftKeys: leftKeys, rightKeys: rightKeys}
}

// nonKeyRightBindings is the right child's output with the join-key
// columns removed: their values are already present via the left side, so
// a join's own output keeps only one copy of each shared name.
func (n *InnerJoin) nonKeyRightBindings() []binding.Symbol {
	keySet := binding.NewSet()
	for _, s := range n.rightKeys {
		keySet.Add(s)
	}
	var out []binding.Symbol
	for _, s := range n.right.BindingsAfter() {
		if !keySet.Contains(s) {
			out = append(out, s)
		}
	}
	return out
}

func (n *InnerJoin) BindingsBefore() []binding.Symbol {
	return append(append([]binding.Symbol{}, n.left.BindingsAfter()...), n.nonKeyRightBindings()...)
}
func (n *InnerJoin) BindingsAfter() []binding.Symbol { return n.after(n.BindingsBefore()) }

// EliminateTempVars propagates this node's used set to both children, with
// each side's own join keys always counted as used on that side (both
// children must still produce their join column to perform the join, even
// if the result projects it away). Adding
// the full used set to both sides rather than the precise per-side subset
// is conservative but harmless: eliminate() only looks at symbols a node
// actually produces.
func (n *InnerJoin) EliminateTempVars(used binding.Set) {
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
	for sym := range used {
		rightUsed.Add(sym)
	}
	n.right.EliminateTempVars(rightUsed)
}

func (n *InnerJoin) FillBindingIndicesAndCompile() error {
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
			return &PlannerBugError{Msg: fmt.Sprintf("join key %q missing from left child", s)}
		}
		n.li[i] = idx
	}
	n.ri = make([]int, len(n.rightKeys))
	for i, s := range n.rightKeys {
		idx := binding.IndexOf(rightAfter, s)
		if idx < 0 {
			return &PlannerBugError{Msg: fmt.Sprintf("join key %q missing from right child", s)}
		}
		n.ri[i] = idx
	}
	n.leftWidth = len(leftAfter)
	n.rightWidth = len(rightAfter)
	return nil
}

// elimIdxFor maps each symbol of the join's final output to its position
// in the full (left ++ right) concatenation every join strategy produces
// before projecting.
func (n *InnerJoin) elimIdxFor(final []binding.Symbol) []int {
	full := append(append([]binding.Symbol{}, n.left.BindingsAfter()...), n.right.BindingsAfter()...)
	idx := make([]int, len(final))
	for i, s := range final {
		idx[i] = binding.IndexOf(full, s)
	}
	return idx
}

func (n *InnerJoin) Iter(ctx *Context) (TupleIter, error) {
	left, err := n.left.Iter(ctx)
	if err != nil {
		return nil, err
	}
	elimIdx := n.elimIdxFor(n.BindingsAfter())

	switch r := n.right.(type) {
	case *InlineFixed:
		return r.Join(left, n.li, n.ri, elimIdx), nil
	case *TempStoreScan:
		if isPrefix(n.ri) {
			return r.prefixJoin(ctx, left, n.li, n.ri, elimIdx), nil
		}
		return n.materializedJoin(ctx, left, elimIdx)
	case *StoredScan:
		if keyLen := r.storageKeyLen(); keyLen > 0 && len(n.ri) >= keyLen {
			return r.pointLookup(ctx, left, n.li, n.ri, elimIdx, n.leftWidth), nil
		}
		if isPrefix(n.ri) {
			return r.prefixJoin(ctx, left, n.li, n.ri, elimIdx), nil
		}
		return n.materializedJoin(ctx, left, elimIdx)
	case *StoredWithValidityScan:
		if keyLen := r.storageKeyLen(); keyLen > 0 && len(n.ri) >= keyLen {
			return r.pointLookup(ctx, left, n.li, n.ri, elimIdx, n.leftWidth), nil
		}
		if isPrefix(n.ri) {
			return r.prefixJoin(ctx, left, n.li, n.ri, elimIdx), nil
		}
		return n.materializedJoin(ctx, left, elimIdx)
	default:
		return n.materializedJoin(ctx, left, elimIdx)
	}
}

// materializedJoinCacheRow is one sorted right-side row, keyed by its
// join-key projection for binary search.
type materializedJoinCacheRow struct {
	key  value.Tuple
	full value.Tuple
}

// materializedJoin is the universal fallback (spec §4.8.1): sort the right
// side once by its join-key projection, then binary-search it for each
// left tuple. Only the right side is pre-materialized — the right child
// must be fully indexed before any lookup can run, the way
// CachedMaterializedIterator pre-sorts its cached side in ra.rs. The left
// side and the join output itself stay pull-based: materializedJoinIter
// consumes exactly one left tuple per Next() call, matching spec §5's
// requirement that a lazy tuple stream suspend between tuples rather than
// run hidden work ahead of its consumer.
func (n *InnerJoin) materializedJoin(ctx *Context, left TupleIter, elimIdx []int) (TupleIter, error) {
	right, err := n.right.Iter(ctx)
	if err != nil {
		left.Close()
		return nil, err
	}

	var cache []materializedJoinCacheRow
	for right.Next() {
		row := right.Tuple()
		cache = append(cache, materializedJoinCacheRow{key: row.Project(n.ri), full: row})
	}
	if err := right.Err(); err != nil {
		right.Close()
		left.Close()
		return nil, err
	}
	right.Close()
	sort.Slice(cache, func(i, j int) bool { return cache[i].key.Compare(cache[j].key) < 0 })

	return &materializedJoinIter{
		left:    left,
		cache:   cache,
		li:      n.li,
		elimIdx: elimIdx,
	}, nil
}

// materializedJoinIter pulls one left tuple at a time and, on a
// multi-match, buffers only that tuple's own matches until they are
// drained, rather than precomputing the whole join output up front.
type materializedJoinIter struct {
	left    TupleIter
	cache   []materializedJoinCacheRow
	li      []int
	elimIdx []int

	pending    []value.Tuple
	pendingIdx int
	cur        value.Tuple
	err        error
}

func (it *materializedJoinIter) Next() bool {
	for {
		if it.pendingIdx < len(it.pending) {
			it.cur = it.pending[it.pendingIdx]
			it.pendingIdx++
			return true
		}
		if !it.left.Next() {
			it.err = it.left.Err()
			return false
		}
		l := it.left.Tuple()
		lk := l.Project(it.li)
		lo := sort.Search(len(it.cache), func(i int) bool { return it.cache[i].key.Compare(lk) >= 0 })
		it.pending = it.pending[:0]
		for i := lo; i < len(it.cache) && it.cache[i].key.Equal(lk); i++ {
			it.pending = append(it.pending, l.Concat(it.cache[i].full).Project(it.elimIdx))
		}
		it.pendingIdx = 0
	}
}

func (it *materializedJoinIter) Tuple() value.Tuple { return it.cur }
func (it *materializedJoinIter) Err() error         { return it.err }
func (it *materializedJoinIter) Close() error       { return it.left.Close() }
