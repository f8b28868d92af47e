// Package control implements the imperative layer that sequences queries
// with branches, loops, and early returns (spec §6, supplemented by
// SPEC_FULL.md §2C from original_source/cozo-core/src/runtime/imperative.rs).
// Grounded on imperative.rs's execute_imperative_stmts/execute_imperative:
// the same statement set (Break, Continue, Return, TempDebug, Program,
// IgnoreErrorProgram, If, Loop, TempSwap), the same labeled break/continue
// propagation out of nested loops, and the same per-Run transaction/poison
// bookkeeping, expressed against this module's ra.Node/tempstore.EpochStore
// in place of cozo's Relation/RegularTempStore.
package control

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/elewis/qdb/binding"
	"github.com/elewis/qdb/expr"
	"github.com/elewis/qdb/internal/log"
	"github.com/elewis/qdb/ra"
	"github.com/elewis/qdb/storage"
	"github.com/elewis/qdb/tempstore"
	"github.com/elewis/qdb/value"
)

// tempSwapScratch is the transient name TempSwap rotates relations through,
// matching imperative.rs's "_*temp*" scratch key.
const tempSwapScratch = "_*temp*"

// ctrlKind tags how a statement list exited: running off the end (ctrlNone),
// an unmatched Break/Continue bubbling up to its Loop, or a Return carrying
// a result all the way to Executor.Run.
type ctrlKind int

const (
	ctrlNone ctrlKind = iota
	ctrlBreak
	ctrlContinue
	ctrlReturn
)

// ControlCode is what executing a statement list yields: either "keep
// going" (ctrlNone) or one of the three ways execution can leave a block
// early, carrying Result once it's a Return.
type ControlCode struct {
	Kind    ctrlKind
	Label   string // break/continue target; empty means "nearest enclosing loop"
	Columns []binding.Symbol
	Result  []value.Tuple
}

// Statement is one imperative instruction. Exec runs it against ctx
// (mutated in place: Stores additions/renames are visible to subsequent
// statements) and returns a ControlCode telling the caller whether to keep
// running the rest of its block.
type Statement interface {
	Exec(ex *Executor, ctx *ra.Context, p *Poison) (ControlCode, error)
}

// Break exits the nearest enclosing Loop (or the one named by Label).
type Break struct{ Label string }

func (b Break) Exec(_ *Executor, _ *ra.Context, _ *Poison) (ControlCode, error) {
	return ControlCode{Kind: ctrlBreak, Label: b.Label}, nil
}

// Continue restarts the nearest enclosing Loop's body (or the one named by
// Label).
type Continue struct{ Label string }

func (c Continue) Exec(_ *Executor, _ *ra.Context, _ *Poison) (ControlCode, error) {
	return ControlCode{Kind: ctrlContinue, Label: c.Label}, nil
}

// ResultFrame is one named-row block a Return statement can carry. Frames
// chain right-to-left (Next points at the frame that was already being
// returned before this one was prepended), so a Return built from several
// pattern clauses concatenates them in source order, the way imperative.rs
// builds nr.next = current while walking a Return's row list backwards.
type ResultFrame struct {
	Columns []binding.Symbol
	Rows    []value.Tuple
	Next    *ResultFrame
}

// flatten walks the frame chain tail-first (Next before self, since Next
// was the earlier, outer frame) and concatenates rows under the innermost
// frame's column list.
func (f *ResultFrame) flatten() ([]binding.Symbol, []value.Tuple) {
	if f == nil {
		return nil, nil
	}
	cols, rows := f.Next.flatten()
	if cols == nil {
		cols = f.Columns
	}
	rows = append(rows, f.Rows...)
	return cols, rows
}

// Return ends the enclosing program immediately, yielding Frame's
// concatenated rows as the whole invocation's result.
type Return struct{ Frame *ResultFrame }

func (r Return) Exec(_ *Executor, _ *ra.Context, _ *Poison) (ControlCode, error) {
	cols, rows := r.Frame.flatten()
	return ControlCode{Kind: ctrlReturn, Columns: cols, Result: rows}, nil
}

// TempDebug prints a named temp relation's current contents via
// internal/log, for inspecting intermediate fixpoint state mid-program.
type TempDebug struct {
	StoreName string
	Columns   []binding.Symbol
	Logger    *log.Logger // nil uses log.Default
}

func (d TempDebug) Exec(_ *Executor, ctx *ra.Context, _ *Poison) (ControlCode, error) {
	l := d.Logger
	if l == nil {
		l = log.Default
	}
	store, ok := ctx.Stores[d.StoreName]
	if !ok {
		l.Errorf("temp/debug: relation %q does not exist", d.StoreName)
		return ControlCode{}, nil
	}
	var rows []value.Tuple
	it := store.AllIter()
	for it.Next() {
		rows = append(rows, it.Tuple())
	}
	cols := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		cols[i] = string(c)
	}
	l.Infof("temp/debug %s:\n%s", d.StoreName, log.FormatRelation(cols, rows))
	return ControlCode{}, nil
}

// Program runs a nested statement list as its own scope, propagating
// whatever control code the nested list exits with.
type Program struct{ Body []Statement }

func (s Program) Exec(ex *Executor, ctx *ra.Context, p *Poison) (ControlCode, error) {
	return ex.execStatements(s.Body, ctx, p)
}

// failedResult builds the synthetic one-row {"status": "FAILED"} result
// IgnoreErrorProgram substitutes for a nested program's error.
var failedStatusColumn = []binding.Symbol{"status"}

func failedResult() ControlCode {
	return ControlCode{
		Kind:    ctrlReturn,
		Columns: failedStatusColumn,
		Result:  []value.Tuple{{value.Of("FAILED")}},
	}
}

// IgnoreErrorProgram runs Body like Program, but downgrades any error it
// returns into a synthetic one-row {"status": "FAILED"} Return instead of
// propagating the error, matching imperative.rs's IgnoreErrorProgram.
type IgnoreErrorProgram struct {
	Body   []Statement
	Logger *log.Logger
}

func (s IgnoreErrorProgram) Exec(ex *Executor, ctx *ra.Context, p *Poison) (ControlCode, error) {
	cc, err := ex.execStatements(s.Body, ctx, p)
	if err != nil {
		l := s.Logger
		if l == nil {
			l = log.Default
		}
		l.Errorf("ignore-error program failed, continuing: %v", err)
		return failedResult(), nil
	}
	return cc, nil
}

// If evaluates Cond (an RA tree) and runs Then when the condition is true,
// Else otherwise. The condition is a boolean derived from the last column
// of the first row of Cond's result (spec §6; an empty result or an empty
// row both count as false) — matching execute_imperative_condition in
// imperative.rs, which coerces row[row.len()-1] via op_to_bool rather than
// testing mere non-emptiness. Negate inverts the test (a negated-If runs
// Then when the condition is false), matching imperative.rs's "if"/"if
// not" pair.
type If struct {
	Cond   ra.Node
	Negate bool
	Then   []Statement
	Else   []Statement
}

func (s If) Exec(ex *Executor, ctx *ra.Context, p *Poison) (ControlCode, error) {
	it, err := s.Cond.Iter(ctx)
	if err != nil {
		return ControlCode{}, fmt.Errorf("control: if condition: %w", err)
	}

	cond := false
	if it.Next() {
		row := it.Tuple()
		if len(row) == 0 {
			cond = false
		} else {
			b, ok := row[len(row)-1].AsBool()
			if !ok {
				it.Close()
				return ControlCode{}, fmt.Errorf("control: if condition: %w", &expr.PredicateTypeError{Got: row[len(row)-1]})
			}
			cond = b
		}
	}
	if cerr := it.Err(); cerr != nil {
		it.Close()
		return ControlCode{}, fmt.Errorf("control: if condition: %w", cerr)
	}
	it.Close()

	take := cond
	if s.Negate {
		take = !take
	}
	if take {
		return ex.execStatements(s.Then, ctx, p)
	}
	return ex.execStatements(s.Else, ctx, p)
}

// Loop repeats Body until a Break (matching Label, or unlabeled) exits it, a
// Return exits the whole program, or the Poison is triggered between
// iterations. A Continue matching Label (or unlabeled) starts the next
// iteration; any other labeled Break/Continue propagates to an outer Loop.
type Loop struct {
	Label string
	Body  []Statement
}

func (s Loop) Exec(ex *Executor, ctx *ra.Context, p *Poison) (ControlCode, error) {
	for {
		if err := p.Check(); err != nil {
			return ControlCode{}, err
		}
		cc, err := ex.execStatements(s.Body, ctx, p)
		if err != nil {
			return ControlCode{}, err
		}
		switch cc.Kind {
		case ctrlNone:
			continue
		case ctrlBreak:
			if cc.Label == "" || cc.Label == s.Label {
				return ControlCode{}, nil
			}
			return cc, nil
		case ctrlContinue:
			if cc.Label == "" || cc.Label == s.Label {
				continue
			}
			return cc, nil
		case ctrlReturn:
			return cc, nil
		default:
			return cc, nil
		}
	}
}

// TempSwap atomically rotates two temp relations' names (left -> scratch,
// right -> left, scratch -> right) and implicitly breaks the enclosing
// loop, matching imperative.rs's TempSwap, which is always immediately
// followed by a break in the original grammar.
type TempSwap struct {
	Left, Right string
}

func (s TempSwap) Exec(_ *Executor, ctx *ra.Context, _ *Poison) (ControlCode, error) {
	left, ok := ctx.Stores[s.Left]
	if !ok {
		return ControlCode{}, fmt.Errorf("control: temp/swap: relation %q does not exist", s.Left)
	}
	right, ok := ctx.Stores[s.Right]
	if !ok {
		return ControlCode{}, fmt.Errorf("control: temp/swap: relation %q does not exist", s.Right)
	}
	ctx.Stores[tempSwapScratch] = left
	ctx.Stores[s.Left] = right
	ctx.Stores[s.Right] = ctx.Stores[tempSwapScratch]
	delete(ctx.Stores, tempSwapScratch)
	return ControlCode{Kind: ctrlBreak}, nil
}

// Executor runs imperative statement lists against a shared Backend and
// temp-store namespace, the way cozo's execute_imperative runs one program
// against a shared Db.
type Executor struct {
	Backend storage.Backend
	Stores  map[string]*tempstore.EpochStore
	ValidAt int64

	runningMu sync.Mutex
	running   map[string]*Poison
}

// NewExecutor builds an Executor over backend, with an initially empty temp
// relation namespace.
func NewExecutor(backend storage.Backend) *Executor {
	return &Executor{
		Backend: backend,
		Stores:  make(map[string]*tempstore.EpochStore),
		running: make(map[string]*Poison),
	}
}

// Run executes stmts as one top-level imperative program: it stamps the
// invocation with a UUID query id and registers a Poison under it (so an
// out-of-band caller holding the same id can cancel it via Kill, mirroring
// cozo's running-queries table), builds one ra.Context shared by every
// statement in the list (one logical "transaction" over Backend/Stores for
// the whole call, per imperative.rs's single-transaction execute_imperative
// contract), and returns the columns/rows of whichever Return was reached,
// or nil if the program ran off the end without one.
//
// A Break or Continue that escapes every statement list without a Loop to
// catch it is a DanglingControlFlowError: imperative.rs treats this as a
// hard execution error, not a silent no-op.
func (ex *Executor) Run(stmts []Statement) ([]binding.Symbol, []value.Tuple, error) {
	qid := uuid.New().String()
	poison := &Poison{}
	ex.register(qid, poison)
	defer ex.unregister(qid)

	ctx := &ra.Context{Backend: ex.Backend, Stores: ex.Stores, ValidAt: ex.ValidAt}

	cc, err := ex.execStatements(stmts, ctx, poison)
	if err != nil {
		return nil, nil, err
	}
	switch cc.Kind {
	case ctrlNone:
		return nil, nil, nil
	case ctrlReturn:
		return cc.Columns, cc.Result, nil
	case ctrlBreak:
		return nil, nil, &DanglingControlFlowError{Kind: "break", Label: cc.Label}
	case ctrlContinue:
		return nil, nil, &DanglingControlFlowError{Kind: "continue", Label: cc.Label}
	default:
		return nil, nil, fmt.Errorf("control: unreachable control code %d", cc.Kind)
	}
}

// Kill triggers cancellation of the Run invocation registered under qid, if
// one is still running. A miss (already finished, or unknown id) is a no-op.
// Multiple queries may run concurrently on distinct transactions (spec §5),
// and Kill is meant to be called by an out-of-band caller racing the
// goroutine running that query's Run, so access to running is mutex-guarded
// the way cozo guards its running_queries table.
func (ex *Executor) Kill(qid string) {
	ex.runningMu.Lock()
	p := ex.running[qid]
	ex.runningMu.Unlock()
	p.Kill()
}

func (ex *Executor) register(qid string, p *Poison) {
	ex.runningMu.Lock()
	ex.running[qid] = p
	ex.runningMu.Unlock()
}

func (ex *Executor) unregister(qid string) {
	ex.runningMu.Lock()
	delete(ex.running, qid)
	ex.runningMu.Unlock()
}

// execStatements runs stmts in order, stopping (and propagating its
// ControlCode) at the first one that doesn't return ctrlNone, and checking
// Poison between each statement the way imperative.rs checks it between
// every execute_imperative_stmts iteration.
func (ex *Executor) execStatements(stmts []Statement, ctx *ra.Context, p *Poison) (ControlCode, error) {
	for _, s := range stmts {
		if err := p.Check(); err != nil {
			return ControlCode{}, err
		}
		cc, err := s.Exec(ex, ctx, p)
		if err != nil {
			return ControlCode{}, err
		}
		if cc.Kind != ctrlNone {
			return cc, nil
		}
	}
	return ControlCode{}, nil
}
