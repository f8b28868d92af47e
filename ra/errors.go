package ra

import "fmt"

// BadSpreadUnificationError reports a multi-mode Unification whose
// expression did not evaluate to a List. Fatal for the stream (spec §7).
type BadSpreadUnificationError struct {
	Binding string
}

func (e *BadSpreadUnificationError) Error() string {
	return fmt.Sprintf("multi-mode unification for %q did not produce a list", e.Binding)
}

// EntityIdExpectedError reports a scan producing a value where an entity
// id (Ref-tagged) was required. Fatal for the stream (spec §7).
type EntityIdExpectedError struct {
	Got string
}

func (e *EntityIdExpectedError) Error() string {
	return fmt.Sprintf("entity id expected, got %s", e.Got)
}

// PlannerBugError reports an invariant the planner is responsible for
// guaranteeing (e.g. Reorder referencing a binding the child doesn't
// produce, or NegJoin's right child being neither TempStore, Stored nor
// StoredWithValidity).
// Spec §4.3 and §4.9 describe these as "a planner bug (panic-level
// invariant failure)" / "unreachable" respectively — surfaced here as an
// error rather than an actual panic so a caller embedding this evaluator in
// a long-lived process can recover instead of crashing.
type PlannerBugError struct {
	Msg string
}

func (e *PlannerBugError) Error() string { return "planner bug: " + e.Msg }
