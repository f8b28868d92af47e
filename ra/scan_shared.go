package ra

import (
	"fmt"

	"github.com/elewis/qdb/binding"
	"github.com/elewis/qdb/expr"
	"github.com/elewis/qdb/storage"
	"github.com/elewis/qdb/tempstore"
	"github.com/elewis/qdb/value"
)

// driver is the raw ordered-scan capability a scanCore delegates to. Each
// of the three leaf node kinds (TempStore, Stored, StoredWithValidity)
// provides its own driver; all other scan machinery (filtering, bounds
// analysis, prefix-join, neg-join, point lookup) is shared.
type driver interface {
	scanAll(ctx *Context) (TupleIter, error)
	scanPrefix(ctx *Context, prefix value.Tuple) (TupleIter, error)
	scanBoundedPrefix(ctx *Context, prefix, lower, upper value.Tuple) (TupleIter, error)
	// storageKeyLen returns the number of leading columns forming this
	// source's natural ordering key, or 0 if point lookup never applies
	// (TempStore: spec §4.7 restricts point lookup to Stored/StoredWithValidity).
	storageKeyLen() int
	// pointGet/pointExists are only meaningful when storageKeyLen() > 0.
	pointGet(ctx *Context, key value.Tuple) (value.Tuple, bool, error)
	pointExists(ctx *Context, key value.Tuple) (bool, error)
}

// scanCore implements the scan machinery common to TempStore, Stored, and
// StoredWithValidity (spec §4.6, §4.7): post-filtering, bounds-analyzed
// prefix joins, and both NegJoin strategies. Leaf scans never eliminate
// their own columns (spec §4.1: "for leaf scans elimination is a no-op");
// projection happens in the parent.
type scanCore struct {
	bindings []binding.Symbol
	filters  []expr.Expr
	compiled []expr.Bytecode
	d        driver
}

func (s *scanCore) addFilters(preds []expr.Expr) {
	s.filters = append(s.filters, preds...)
}

func (s *scanCore) bindingsBefore() []binding.Symbol { return s.bindings }
func (s *scanCore) bindingsAfter() []binding.Symbol  { return s.bindings }

func (s *scanCore) fillAndCompile() error {
	idx := bindingIndex(s.bindings)
	s.compiled = make([]expr.Bytecode, len(s.filters))
	for i, f := range s.filters {
		if err := f.FillBindingIndices(idx); err != nil {
			return err
		}
		s.compiled[i] = f.Compile()
	}
	return nil
}

func (s *scanCore) postFilter(inner TupleIter) TupleIter {
	if len(s.compiled) == 0 {
		return inner
	}
	return &filterIter{child: inner, compiled: s.compiled, stack: expr.NewStack(), keep: identityKeep(len(s.bindings))}
}

func identityKeep(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func (s *scanCore) iter(ctx *Context) (TupleIter, error) {
	inner, err := s.d.scanAll(ctx)
	if err != nil {
		return nil, err
	}
	return s.postFilter(inner), nil
}

// prefixJoin implements the shared prefix-join strategy (spec §4.6, §4.7):
// for each left tuple, build the right-side prefix in storage order and
// range-scan under it, using a bounds analysis computed once and reused
// for every remaining left tuple of this stream (the skip_range_check
// latch, see SPEC_FULL.md §2C). For a stored source the bounds cover only
// the key columns, since a bounded scan compares them against key bytes.
func (s *scanCore) prefixJoin(ctx *Context, left TupleIter, li, ri []int, elimIdx []int) TupleIter {
	bindings := s.bindings
	if kl := s.d.storageKeyLen(); kl > 0 && kl >= len(ri) && kl < len(bindings) {
		bindings = bindings[:kl]
	}
	bounds := computeBounds(s.filters, bindings, len(ri))
	return &prefixJoinIter{core: s, ctx: ctx, left: left, li: storageOrder(li, ri), ri: ri, elimIdx: elimIdx, bounds: bounds}
}

type prefixJoinIter struct {
	core    *scanCore
	ctx     *Context
	left    TupleIter
	li, ri  []int
	elimIdx []int
	bounds  boundsResult

	cur   value.Tuple
	inner TupleIter
	err   error
}

func (p *prefixJoinIter) Next() bool {
	if p.err != nil {
		return false
	}
	for {
		if p.inner != nil {
			if p.inner.Next() {
				row := p.inner.Tuple()
				p.cur = p.left.Tuple().Concat(row).Project(p.elimIdx)
				return true
			}
			if err := p.inner.Err(); err != nil {
				p.err = err
				return false
			}
			p.inner.Close()
			p.inner = nil
		}
		if !p.left.Next() {
			p.err = p.left.Err()
			return false
		}
		prefix := p.left.Tuple().Project(p.li)
		var it TupleIter
		var err error
		if p.bounds.kind == boundsUnbounded {
			it, err = p.core.d.scanPrefix(p.ctx, prefix)
		} else {
			it, err = p.core.d.scanBoundedPrefix(p.ctx, prefix, p.bounds.lower, p.bounds.upper)
		}
		if err != nil {
			p.err = err
			return false
		}
		p.inner = p.core.postFilter(it)
	}
}

func (p *prefixJoinIter) Tuple() value.Tuple { return p.cur }
func (p *prefixJoinIter) Err() error         { return p.err }
func (p *prefixJoinIter) Close() error {
	if p.inner != nil {
		p.inner.Close()
	}
	return p.left.Close()
}

// negJoin implements both NegJoin strategies (spec §4.6, §4.9): prefix
// scan-and-drop-on-first-match when ri is a prefix of storage order,
// otherwise materialize the right-side join-column projections into a set
// and reject membership.
func (s *scanCore) negJoin(ctx *Context, left TupleIter, li, ri []int, leftElimIdx []int) (TupleIter, error) {
	if isPrefix(ri) {
		return &negPrefixIter{core: s, ctx: ctx, left: left, li: storageOrder(li, ri), ri: ri, leftElimIdx: leftElimIdx}, nil
	}
	set := make(map[string]struct{})
	all, err := s.d.scanAll(ctx)
	if err != nil {
		return nil, err
	}
	all = s.postFilter(all)
	for all.Next() {
		k := string(storage.EncodeOrdered(all.Tuple().Project(ri)))
		set[k] = struct{}{}
	}
	if err := all.Err(); err != nil {
		all.Close()
		return nil, err
	}
	all.Close()
	return &negMaterializedIter{left: left, li: li, leftElimIdx: leftElimIdx, set: set}, nil
}

func isPrefix(idxs []int) bool {
	seen := make(map[int]bool, len(idxs))
	for _, i := range idxs {
		seen[i] = true
	}
	for i := 0; i < len(idxs); i++ {
		if !seen[i] {
			return false
		}
	}
	return true
}

// storageOrder reorders li so that entry k is the left column joined
// against right column k, giving prefix values in storage order. ri must
// satisfy isPrefix.
func storageOrder(li, ri []int) []int {
	out := make([]int, len(ri))
	for i, r := range ri {
		out[r] = li[i]
	}
	return out
}

type negPrefixIter struct {
	core        *scanCore
	ctx         *Context
	left        TupleIter
	li, ri      []int
	leftElimIdx []int
	cur         value.Tuple
	err         error
}

func (n *negPrefixIter) Next() bool {
	if n.err != nil {
		return false
	}
	for n.left.Next() {
		l := n.left.Tuple()
		prefix := l.Project(n.li)
		it, err := n.core.d.scanPrefix(n.ctx, prefix)
		if err != nil {
			n.err = err
			return false
		}
		it = n.core.postFilter(it)
		matched := it.Next()
		err = it.Err()
		it.Close()
		if err != nil {
			n.err = err
			return false
		}
		if matched {
			continue
		}
		n.cur = l.Project(n.leftElimIdx)
		return true
	}
	n.err = n.left.Err()
	return false
}
func (n *negPrefixIter) Tuple() value.Tuple { return n.cur }
func (n *negPrefixIter) Err() error         { return n.err }
func (n *negPrefixIter) Close() error       { return n.left.Close() }

type negMaterializedIter struct {
	left        TupleIter
	li          []int
	leftElimIdx []int
	set         map[string]struct{}
	cur         value.Tuple
	err         error
}

func (n *negMaterializedIter) Next() bool {
	if n.err != nil {
		return false
	}
	for n.left.Next() {
		l := n.left.Tuple()
		k := string(storage.EncodeOrdered(l.Project(n.li)))
		if _, found := n.set[k]; found {
			continue
		}
		n.cur = l.Project(n.leftElimIdx)
		return true
	}
	n.err = n.left.Err()
	return false
}
func (n *negMaterializedIter) Tuple() value.Tuple { return n.cur }
func (n *negMaterializedIter) Err() error         { return n.err }
func (n *negMaterializedIter) Close() error       { return n.left.Close() }

// pointLookup implements the point-lookup fast path (spec §4.7): when the
// left-to-right prefix length is >= the storage key length. If every kept
// output position (elimIdx) lands outside the right side's value-column
// range and there are no residual filters, uses an exists check with Bot
// placeholders for the (eliminated) value columns; otherwise fetches the
// full record and applies the residual filters.
func (s *scanCore) pointLookup(ctx *Context, left TupleIter, li, ri []int, elimIdx []int, leftWidth int) TupleIter {
	keyLen := s.d.storageKeyLen()
	valueColsNeeded := false
	for _, idx := range elimIdx {
		if idx >= leftWidth+keyLen {
			valueColsNeeded = true
			break
		}
	}
	existsOnly := !valueColsNeeded && len(s.compiled) == 0
	return &pointLookupIter{core: s, ctx: ctx, left: left, li: li, ri: ri, elimIdx: elimIdx, existsOnly: existsOnly, keyLen: keyLen, stack: expr.NewStack()}
}

type pointLookupIter struct {
	core       *scanCore
	ctx        *Context
	left       TupleIter
	li, ri     []int
	elimIdx    []int
	existsOnly bool
	keyLen     int
	stack      *expr.Stack
	cur        value.Tuple
	err        error
}

func (p *pointLookupIter) Next() bool {
	if p.err != nil {
		return false
	}
	for p.left.Next() {
		l := p.left.Tuple()
		key := l.Project(p.li)
		if p.existsOnly {
			ok, err := p.core.d.pointExists(p.ctx, key)
			if err != nil {
				p.err = err
				return false
			}
			if !ok {
				continue
			}
			row := make(value.Tuple, len(p.core.bindings))
			copy(row, key)
			for i := p.keyLen; i < len(row); i++ {
				row[i] = value.Bot
			}
			p.cur = l.Concat(row).Project(p.elimIdx)
			return true
		}
		row, ok, err := p.core.d.pointGet(p.ctx, key)
		if err != nil {
			p.err = err
			return false
		}
		if !ok {
			continue
		}
		pass := true
		for _, bc := range p.core.compiled {
			v, err := expr.EvalPred(bc, row, p.stack)
			if err != nil {
				p.err = err
				return false
			}
			if !v {
				pass = false
				break
			}
		}
		if !pass {
			continue
		}
		p.cur = l.Concat(row).Project(p.elimIdx)
		return true
	}
	p.err = p.left.Err()
	return false
}
func (p *pointLookupIter) Tuple() value.Tuple { return p.cur }
func (p *pointLookupIter) Err() error         { return p.err }
func (p *pointLookupIter) Close() error       { return p.left.Close() }

// --- concrete leaf node kinds ---

// TempStoreScan scans an in-memory epoch store (spec §4.6).
type TempStoreScan struct {
	base
	core      scanCore
	storeName string
}

func NewTempStoreScan(storeName string, bindings []binding.Symbol) *TempStoreScan {
	n := &TempStoreScan{storeName: storeName}
	n.core = scanCore{bindings: bindings, d: &tempStoreDriver{storeName: storeName}}
	return n
}

func (n *TempStoreScan) addFilters(preds []expr.Expr)       { n.core.addFilters(preds) }
func (n *TempStoreScan) BindingsBefore() []binding.Symbol   { return n.core.bindingsBefore() }
func (n *TempStoreScan) BindingsAfter() []binding.Symbol    { return n.core.bindingsAfter() }
func (n *TempStoreScan) EliminateTempVars(used binding.Set) {}
func (n *TempStoreScan) FillBindingIndicesAndCompile() error { return n.core.fillAndCompile() }
func (n *TempStoreScan) Iter(ctx *Context) (TupleIter, error) { return n.core.iter(ctx) }
func (n *TempStoreScan) prefixJoin(ctx *Context, left TupleIter, li, ri []int, elimIdx []int) TupleIter {
	return n.core.prefixJoin(ctx, left, li, ri, elimIdx)
}
func (n *TempStoreScan) negJoin(ctx *Context, left TupleIter, li, ri []int, elimIdx []int) (TupleIter, error) {
	return n.core.negJoin(ctx, left, li, ri, elimIdx)
}

type tempStoreDriver struct{ storeName string }

func (d *tempStoreDriver) store(ctx *Context) *tempstore.EpochStore { return ctx.Stores[d.storeName] }

func (d *tempStoreDriver) scanAll(ctx *Context) (TupleIter, error) {
	s := d.store(ctx)
	var it *tempstore.Iter
	if ctx.IsDelta(d.storeName) {
		it = s.DeltaAllIter()
	} else {
		it = s.AllIter()
	}
	return &epochIter{it: it}, nil
}

func (d *tempStoreDriver) scanPrefix(ctx *Context, prefix value.Tuple) (TupleIter, error) {
	s := d.store(ctx)
	var it *tempstore.Iter
	if ctx.IsDelta(d.storeName) {
		it = s.DeltaPrefixIter(prefix)
	} else {
		it = s.PrefixIter(prefix)
	}
	return &epochIter{it: it}, nil
}

func (d *tempStoreDriver) scanBoundedPrefix(ctx *Context, prefix, lower, upper value.Tuple) (TupleIter, error) {
	s := d.store(ctx)
	var it *tempstore.Iter
	if ctx.IsDelta(d.storeName) {
		it = s.DeltaRangeIter(prefix, lower, upper, false)
	} else {
		it = s.RangeIter(prefix, lower, upper, false)
	}
	return &epochIter{it: it}, nil
}

func (d *tempStoreDriver) storageKeyLen() int { return 0 }
func (d *tempStoreDriver) pointGet(ctx *Context, key value.Tuple) (value.Tuple, bool, error) {
	return nil, false, &PlannerBugError{Msg: "point lookup is not available for TempStore"}
}
func (d *tempStoreDriver) pointExists(ctx *Context, key value.Tuple) (bool, error) {
	return false, &PlannerBugError{Msg: "point lookup is not available for TempStore"}
}

type epochIter struct {
	it *tempstore.Iter
}

func (e *epochIter) Next() bool          { return e.it.Next() }
func (e *epochIter) Tuple() value.Tuple  { return e.it.Tuple() }
func (e *epochIter) Err() error          { return nil }
func (e *epochIter) Close() error        { return nil }

// StoredScan scans a persistent relation via the storage backend (spec
// §4.7).
type StoredScan struct {
	base
	core   scanCore
	handle storage.RelationHandle
}

func NewStoredScan(handle storage.RelationHandle, bindings []binding.Symbol) *StoredScan {
	n := &StoredScan{handle: handle}
	n.core = scanCore{bindings: bindings, d: &storedDriver{handle: handle}}
	return n
}

func (n *StoredScan) addFilters(preds []expr.Expr)        { n.core.addFilters(preds) }
func (n *StoredScan) BindingsBefore() []binding.Symbol    { return n.core.bindingsBefore() }
func (n *StoredScan) BindingsAfter() []binding.Symbol     { return n.core.bindingsAfter() }
func (n *StoredScan) EliminateTempVars(used binding.Set)  {}
func (n *StoredScan) FillBindingIndicesAndCompile() error { return n.core.fillAndCompile() }
func (n *StoredScan) Iter(ctx *Context) (TupleIter, error) { return n.core.iter(ctx) }
func (n *StoredScan) prefixJoin(ctx *Context, left TupleIter, li, ri []int, elimIdx []int) TupleIter {
	return n.core.prefixJoin(ctx, left, li, ri, elimIdx)
}
func (n *StoredScan) negJoin(ctx *Context, left TupleIter, li, ri []int, elimIdx []int) (TupleIter, error) {
	return n.core.negJoin(ctx, left, li, ri, elimIdx)
}
func (n *StoredScan) pointLookup(ctx *Context, left TupleIter, li, ri, elimIdx []int, leftWidth int) TupleIter {
	return n.core.pointLookup(ctx, left, li, ri, elimIdx, leftWidth)
}
func (n *StoredScan) storageKeyLen() int { return n.handle.KeyLen() }

type storedDriver struct{ handle storage.RelationHandle }

func (d *storedDriver) scanAll(ctx *Context) (TupleIter, error) {
	it, err := ctx.Backend.ScanAll(d.handle)
	return wrapRowIter(it, err, d.handle)
}
func (d *storedDriver) scanPrefix(ctx *Context, prefix value.Tuple) (TupleIter, error) {
	it, err := ctx.Backend.ScanPrefix(d.handle, prefix)
	return wrapRowIter(it, err, d.handle)
}
func (d *storedDriver) scanBoundedPrefix(ctx *Context, prefix, lower, upper value.Tuple) (TupleIter, error) {
	it, err := ctx.Backend.ScanBoundedPrefix(d.handle, prefix, lower, upper)
	return wrapRowIter(it, err, d.handle)
}
func (d *storedDriver) storageKeyLen() int { return d.handle.KeyLen() }
func (d *storedDriver) pointGet(ctx *Context, key value.Tuple) (value.Tuple, bool, error) {
	return ctx.Backend.Get(d.handle, key)
}
func (d *storedDriver) pointExists(ctx *Context, key value.Tuple) (bool, error) {
	return ctx.Backend.Exists(d.handle, key)
}

func wrapRowIter(it storage.RowIter, err error, h storage.RelationHandle) (TupleIter, error) {
	if err != nil {
		return nil, err
	}
	return &rowTupleIter{it: it, keyTypes: h.KeyTypes, valueTypes: h.ValueTypes}, nil
}

// rowTupleIter adapts a storage.RowIter into a TupleIter, checking each
// decoded column against the handle's declared type: a scan whose storage
// bytes decode to a tag other than the Ref the schema declares for that
// column is a corrupt-data condition, not a query-evaluation one, so it is
// fatal for the stream (spec §7, EntityIdExpectedError).
type rowTupleIter struct {
	it         storage.RowIter
	keyTypes   []value.Tag
	valueTypes []value.Tag
	cur        value.Tuple
	err        error
}

func (r *rowTupleIter) Next() bool {
	if r.err != nil {
		return false
	}
	if !r.it.Next() {
		return false
	}
	row := r.it.Row().Tuple
	for i, v := range row {
		want := r.declaredTag(i)
		if want == value.TagRef && v.Tag != value.TagRef {
			r.err = &EntityIdExpectedError{Got: fmt.Sprintf("tag %d", v.Tag)}
			return false
		}
	}
	r.cur = row
	return true
}
func (r *rowTupleIter) declaredTag(col int) value.Tag {
	if col < len(r.keyTypes) {
		return r.keyTypes[col]
	}
	vi := col - len(r.keyTypes)
	if vi < len(r.valueTypes) {
		return r.valueTypes[vi]
	}
	return value.TagBot
}
func (r *rowTupleIter) Tuple() value.Tuple { return r.cur }
func (r *rowTupleIter) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.it.Err()
}
func (r *rowTupleIter) Close() error { return r.it.Close() }

// StoredWithValidityScan is like StoredScan but every scan is replaced by
// the storage backend's validity-aware skip-scan variant, evaluated at a
// fixed valid_at timestamp (spec §4.7, invariant 6).
type StoredWithValidityScan struct {
	base
	core    scanCore
	handle  storage.RelationHandle
	validAt int64
}

// NewStoredWithValidityScan enforces invariant 6 (the handle's last key
// column must be typed Validity) via storage.NewValidityHandle's caller
// contract — callers pass an already-validated handle here.
func NewStoredWithValidityScan(handle storage.RelationHandle, bindings []binding.Symbol, validAt int64) *StoredWithValidityScan {
	n := &StoredWithValidityScan{handle: handle, validAt: validAt}
	n.core = scanCore{bindings: bindings, d: &storedValidityDriver{handle: handle, validAt: validAt}}
	return n
}

func (n *StoredWithValidityScan) addFilters(preds []expr.Expr)        { n.core.addFilters(preds) }
func (n *StoredWithValidityScan) BindingsBefore() []binding.Symbol    { return n.core.bindingsBefore() }
func (n *StoredWithValidityScan) BindingsAfter() []binding.Symbol     { return n.core.bindingsAfter() }
func (n *StoredWithValidityScan) EliminateTempVars(used binding.Set)  {}
func (n *StoredWithValidityScan) FillBindingIndicesAndCompile() error { return n.core.fillAndCompile() }
func (n *StoredWithValidityScan) Iter(ctx *Context) (TupleIter, error) { return n.core.iter(ctx) }
func (n *StoredWithValidityScan) prefixJoin(ctx *Context, left TupleIter, li, ri []int, elimIdx []int) TupleIter {
	return n.core.prefixJoin(ctx, left, li, ri, elimIdx)
}
func (n *StoredWithValidityScan) negJoin(ctx *Context, left TupleIter, li, ri []int, elimIdx []int) (TupleIter, error) {
	return n.core.negJoin(ctx, left, li, ri, elimIdx)
}
func (n *StoredWithValidityScan) pointLookup(ctx *Context, left TupleIter, li, ri, elimIdx []int, leftWidth int) TupleIter {
	return n.core.pointLookup(ctx, left, li, ri, elimIdx, leftWidth)
}
func (n *StoredWithValidityScan) storageKeyLen() int { return n.handle.KeyLen() }

type storedValidityDriver struct {
	handle  storage.RelationHandle
	validAt int64
}

func (d *storedValidityDriver) scanAll(ctx *Context) (TupleIter, error) {
	it, err := ctx.Backend.SkipScanAll(d.handle, d.effectiveValidAt(ctx))
	return wrapRowIter(it, err, d.handle)
}
func (d *storedValidityDriver) scanPrefix(ctx *Context, prefix value.Tuple) (TupleIter, error) {
	it, err := ctx.Backend.SkipScanPrefix(d.handle, prefix, d.effectiveValidAt(ctx))
	return wrapRowIter(it, err, d.handle)
}
func (d *storedValidityDriver) scanBoundedPrefix(ctx *Context, prefix, lower, upper value.Tuple) (TupleIter, error) {
	it, err := ctx.Backend.SkipScanBoundedPrefix(d.handle, prefix, lower, upper, d.effectiveValidAt(ctx))
	return wrapRowIter(it, err, d.handle)
}
func (d *storedValidityDriver) effectiveValidAt(ctx *Context) int64 {
	if ctx.ValidAt != 0 {
		return ctx.ValidAt
	}
	return d.validAt
}
func (d *storedValidityDriver) storageKeyLen() int { return d.handle.KeyLen() }
// pointGet skip-scans the key's non-validity prefix and returns the record
// only if it is the one visible at valid_at and carries the key's validity.
func (d *storedValidityDriver) pointGet(ctx *Context, key value.Tuple) (value.Tuple, bool, error) {
	kl := d.handle.KeyLen()
	it, err := ctx.Backend.SkipScanPrefix(d.handle, key[:kl-1], d.effectiveValidAt(ctx))
	if err != nil {
		return nil, false, err
	}
	defer it.Close()
	if !it.Next() || !it.Row().Tuple[:kl].Equal(key[:kl]) {
		return nil, false, it.Err()
	}
	return it.Row().Tuple, true, nil
}
func (d *storedValidityDriver) pointExists(ctx *Context, key value.Tuple) (bool, error) {
	_, ok, err := d.pointGet(ctx, key)
	return ok, err
}
