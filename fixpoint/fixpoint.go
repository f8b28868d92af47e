// Package fixpoint implements a minimal semi-naive evaluation driver (spec
// §4.12, supplemented): it repeatedly runs a rule's RA tree with its delta
// store pointed at the relation whose frontier is being expanded, inserts
// newly produced tuples, advances the epoch, and stops once an iteration
// adds nothing new. Grounded on the dependency order named in spec §2
// ("the semi-naive fixpoint driver that coordinates stratified rule
// evaluation") and the delta-scan contract referenced throughout
// cozo-core's ra.rs; this is intentionally not a stratification or
// magic-set rewrite engine (spec §1 non-goal) — it assumes a single rule,
// already stratified, is handed to it.
package fixpoint

import (
	"fmt"

	"github.com/elewis/qdb/ra"
)

// Rule is one recursive rule: a body tree whose output tuples feed back
// into Target, and the name under which Target appears as DeltaStore in
// ctx during semi-naive iteration.
type Rule struct {
	Body   ra.Node
	Target string
}

// Run drives Rule to a fixpoint against ctx, whose Stores map must already
// contain an entry named rule.Target. Each iteration scans the body with
// ctx.DeltaStore set to rule.Target (so any TempStore node reading that
// relation sees only the previous iteration's delta, per the semi-naive
// discipline), inserts every produced tuple, and advances the epoch.
// Iteration stops, and the total number of epochs run is returned, once an
// epoch adds zero new tuples.
func Run(ctx *ra.Context, rule Rule) (int, error) {
	target, ok := ctx.Stores[rule.Target]
	if !ok {
		return 0, fmt.Errorf("fixpoint: target store %q not present in context", rule.Target)
	}

	epochCtx := &ra.Context{
		Backend:    ctx.Backend,
		Stores:     ctx.Stores,
		DeltaStore: rule.Target,
		ValidAt:    ctx.ValidAt,
	}

	epochs := 0
	for {
		it, err := rule.Body.Iter(epochCtx)
		if err != nil {
			return epochs, fmt.Errorf("fixpoint: epoch %d: %w", epochs, err)
		}
		for it.Next() {
			target.Insert(it.Tuple())
		}
		if err := it.Err(); err != nil {
			it.Close()
			return epochs, fmt.Errorf("fixpoint: epoch %d: %w", epochs, err)
		}
		it.Close()

		epochs++
		if target.AdvanceEpoch() == 0 {
			return epochs, nil
		}
	}
}

// RunAll drives every rule in rules to a fixpoint in order, stopping at the
// first error. Rules that depend on each other's output should be ordered
// so a producer appears before its consumer; this package performs no
// dependency analysis (spec §1 non-goal: stratification as a general
// rewrite engine).
func RunAll(ctx *ra.Context, rules []Rule) (int, error) {
	total := 0
	for _, r := range rules {
		n, err := Run(ctx, r)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
