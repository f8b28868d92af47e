package expr

import "github.com/elewis/qdb/value"

// Op is a bytecode opcode. Bytecode is a linear, stackful program: each
// instruction pushes or pops value.DataValue operands from the evaluator's
// reusable Stack.
type Op uint8

const (
	OpPushConst Op = iota
	OpLoadVar
	OpCompare
	OpAnd
	OpOr
	OpNot
	OpMakeList
)

// Instr is a single bytecode instruction. Only the fields relevant to Op are
// populated.
type Instr struct {
	Op    Op
	Int   int             // OpLoadVar position, OpMakeList element count
	Const value.DataValue // OpPushConst literal
	Cmp   CompareOp       // OpCompare operator
}

// Bytecode is a compiled expression program.
type Bytecode []Instr

// Stack is a reusable evaluation stack, owned by a single iteration pipeline
// stage. Spec §5/§9: "each pipeline stage owns its stack; no global stack."
type Stack struct {
	vals []value.DataValue
}

// NewStack returns an empty, reusable stack.
func NewStack() *Stack { return &Stack{vals: make([]value.DataValue, 0, 8)} }

func (s *Stack) push(v value.DataValue) { s.vals = append(s.vals, v) }

func (s *Stack) pop() value.DataValue {
	n := len(s.vals) - 1
	v := s.vals[n]
	s.vals = s.vals[:n]
	return v
}

func (s *Stack) reset() { s.vals = s.vals[:0] }
