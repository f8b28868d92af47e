package expr

import (
	"fmt"

	"github.com/elewis/qdb/value"
)

// PredicateTypeError reports a predicate bytecode producing a non-boolean
// top-of-stack value. Fatal for the stream (spec §7).
type PredicateTypeError struct {
	Got value.DataValue
}

func (e *PredicateTypeError) Error() string {
	return fmt.Sprintf("predicate did not evaluate to a boolean (tag %d)", e.Got.Tag)
}

// Eval runs bc against tuple using stack, returning the single resulting
// value. stack is reset before use so the same *Stack may be reused across
// many tuples within one iteration pipeline stage.
func Eval(bc Bytecode, tuple value.Tuple, stack *Stack) (value.DataValue, error) {
	stack.reset()
	for _, instr := range bc {
		switch instr.Op {
		case OpPushConst:
			stack.push(instr.Const)
		case OpLoadVar:
			if instr.Int < 0 || instr.Int >= len(tuple) {
				return value.Null, fmt.Errorf("bytecode load-var index %d out of range (tuple width %d)", instr.Int, len(tuple))
			}
			stack.push(tuple[instr.Int])
		case OpCompare:
			right := stack.pop()
			left := stack.pop()
			stack.push(value.Of(evalCompare(instr.Cmp, left, right)))
		case OpAnd:
			right := stack.pop()
			left := stack.pop()
			lb, lok := left.AsBool()
			rb, rok := right.AsBool()
			if !lok {
				return value.Null, &PredicateTypeError{Got: left}
			}
			if !rok {
				return value.Null, &PredicateTypeError{Got: right}
			}
			stack.push(value.Of(lb && rb))
		case OpOr:
			right := stack.pop()
			left := stack.pop()
			lb, lok := left.AsBool()
			rb, rok := right.AsBool()
			if !lok {
				return value.Null, &PredicateTypeError{Got: left}
			}
			if !rok {
				return value.Null, &PredicateTypeError{Got: right}
			}
			stack.push(value.Of(lb || rb))
		case OpNot:
			v := stack.pop()
			b, ok := v.AsBool()
			if !ok {
				return value.Null, &PredicateTypeError{Got: v}
			}
			stack.push(value.Of(!b))
		case OpMakeList:
			elems := make([]value.DataValue, instr.Int)
			for i := instr.Int - 1; i >= 0; i-- {
				elems[i] = stack.pop()
			}
			stack.push(value.List(elems))
		default:
			return value.Null, fmt.Errorf("unknown bytecode opcode %d", instr.Op)
		}
	}
	if len(stack.vals) != 1 {
		return value.Null, fmt.Errorf("bytecode program left %d values on stack, expected 1", len(stack.vals))
	}
	return stack.pop(), nil
}

// EvalPred runs bc as a predicate and requires the result to be boolean,
// returning a PredicateTypeError otherwise.
func EvalPred(bc Bytecode, tuple value.Tuple, stack *Stack) (bool, error) {
	v, err := Eval(bc, tuple, stack)
	if err != nil {
		return false, err
	}
	b, ok := v.AsBool()
	if !ok {
		return false, &PredicateTypeError{Got: v}
	}
	return b, nil
}

func evalCompare(op CompareOp, left, right value.DataValue) bool {
	cmp := value.Compare(left, right)
	switch op {
	case OpEQ:
		return cmp == 0
	case OpNE:
		return cmp != 0
	case OpLT:
		return cmp < 0
	case OpLTE:
		return cmp <= 0
	case OpGT:
		return cmp > 0
	case OpGTE:
		return cmp >= 0
	default:
		return false
	}
}
