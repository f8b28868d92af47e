// Command qdb is a small demo CLI over the qdb evaluator: it opens a
// storage backend, loads a handful of sample relations, plans a few
// queries with package planner, drives a recursive rule to a fixpoint with
// package fixpoint, and prints the results as plain markdown tables.
// Grounded on cmd/datalog/main.go's flag parsing and demo-data/query-loop
// structure, adapted from a Datalog-text REPL (this module has no query
// parser; query bodies are built programmatically via package planner, the
// one substantive feature the distillation's non-goals exclude a text
// frontend for) to a fixed demo sequence.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/elewis/qdb/binding"
	"github.com/elewis/qdb/expr"
	"github.com/elewis/qdb/fixpoint"
	"github.com/elewis/qdb/internal/log"
	"github.com/elewis/qdb/planner"
	"github.com/elewis/qdb/ra"
	"github.com/elewis/qdb/storage"
	"github.com/elewis/qdb/tempstore"
	"github.com/elewis/qdb/value"
)

func main() {
	var dbPath string
	var backendKind string
	var help bool

	flag.StringVar(&dbPath, "db", "qdb-demo.db", "database path")
	flag.StringVar(&backendKind, "backend", "badger", "storage backend: badger or bolt")
	flag.BoolVar(&help, "h", false, "show help")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Loads sample data and runs a demo query plus a recursive closure.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if help {
		flag.Usage()
		os.Exit(0)
	}

	backend, err := openBackend(backendKind, dbPath)
	if err != nil {
		log.Default.Errorf("failed to open %s backend at %s: %v", backendKind, dbPath, err)
		os.Exit(1)
	}
	defer backend.Close()

	ageHandle := storage.RelationHandle{
		Name:       "person_age",
		KeyTypes:   []value.Tag{value.TagInt},
		ValueTypes: []value.Tag{value.TagInt},
	}
	nameHandle := storage.RelationHandle{
		Name:       "person_name",
		KeyTypes:   []value.Tag{value.TagInt},
		ValueTypes: []value.Tag{value.TagString},
	}

	log.Default.Infof("loading sample data")
	loadSampleData(backend, nameHandle, ageHandle)

	log.Default.Infof("planning query: find name and age of adults")
	runAdultsQuery(backend, nameHandle, ageHandle)

	log.Default.Infof("driving edge/reachable to a fixpoint")
	runReachabilityDemo()
}

func openBackend(kind, path string) (storage.Backend, error) {
	switch kind {
	case "bolt":
		return storage.NewBoltBackend(path)
	default:
		return storage.NewBadgerBackend(path)
	}
}

func loadSampleData(backend storage.Backend, nameHandle, ageHandle storage.RelationHandle) {
	people := []struct {
		id   int64
		name string
		age  int64
	}{
		{1, "Alice", 30},
		{2, "Bob", 25},
		{3, "Charlie", 17},
	}
	for _, p := range people {
		row := value.Tuple{value.Of(p.id), value.Of(p.name)}
		if err := backend.Put(nameHandle, row, false); err != nil {
			log.Default.Errorf("loading %s: %v", p.name, err)
		}
		row = value.Tuple{value.Of(p.id), value.Of(p.age)}
		if err := backend.Put(ageHandle, row, false); err != nil {
			log.Default.Errorf("loading %s: %v", p.name, err)
		}
	}
}

func runAdultsQuery(backend storage.Backend, nameHandle, ageHandle storage.RelationHandle) {
	clauses := []planner.Clause{
		planner.Pattern{Handle: nameHandle, Bindings: []binding.Symbol{"id", "name"}},
		planner.Pattern{Handle: ageHandle, Bindings: []binding.Symbol{"id", "age"}},
		planner.Filter{Preds: []expr.Expr{
			&expr.Comparison{Op: expr.OpGTE, Left: expr.NewVar("age"), Right: expr.NewConst(value.Of(int64(18)))},
		}},
	}

	plan, err := planner.Plan(clauses, []binding.Symbol{"name", "age"})
	if err != nil {
		log.Default.Errorf("planning failed: %v", err)
		return
	}

	it, err := plan.Iter(&ra.Context{Backend: backend})
	if err != nil {
		log.Default.Errorf("query failed: %v", err)
		return
	}
	defer it.Close()

	var rows []value.Tuple
	for it.Next() {
		rows = append(rows, it.Tuple().Clone())
	}
	if err := it.Err(); err != nil {
		log.Default.Errorf("query failed: %v", err)
		return
	}
	log.Default.Relation([]string{"name", "age"}, rows)
}

func runReachabilityDemo() {
	edge := tempstore.New()
	edge.Insert(value.Tuple{value.Of(int64(1)), value.Of(int64(2))})
	edge.Insert(value.Tuple{value.Of(int64(2)), value.Of(int64(3))})
	edge.Insert(value.Tuple{value.Of(int64(3)), value.Of(int64(4))})
	edge.AdvanceEpoch()

	reachable := tempstore.New()
	edgeIt := edge.AllIter()
	for edgeIt.Next() {
		reachable.Insert(edgeIt.Tuple())
	}
	reachable.AdvanceEpoch()

	body := ra.NewInnerJoin(
		ra.NewTempStoreScan("reachable", []binding.Symbol{"x", "z"}),
		ra.NewTempStoreScan("edge", []binding.Symbol{"z", "y"}),
		[]binding.Symbol{"z"}, []binding.Symbol{"z"},
	)
	projected := ra.NewReorder(body, []binding.Symbol{"x", "y"})
	projected.EliminateTempVars(binding.NewSet("x", "y"))
	if err := projected.FillBindingIndicesAndCompile(); err != nil {
		log.Default.Errorf("planning closure rule failed: %v", err)
		return
	}

	ctx := &ra.Context{Stores: map[string]*tempstore.EpochStore{"edge": edge, "reachable": reachable}}
	epochs, err := fixpoint.Run(ctx, fixpoint.Rule{Body: projected, Target: "reachable"})
	if err != nil {
		log.Default.Errorf("fixpoint failed: %v", err)
		return
	}
	log.Default.Infof("reached fixpoint after %d epoch(s)", epochs)

	var rows []value.Tuple
	it := reachable.AllIter()
	for it.Next() {
		rows = append(rows, it.Tuple())
	}
	log.Default.Relation([]string{"x", "y"}, rows)
}
