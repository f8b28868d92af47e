// Package value implements the tagged, totally ordered DataValue type the
// RA evaluator streams, and the Tuple type built from it.
//
// This generalizes the teacher's datalog.Value (a bare interface{} alias)
// with an explicit tag so the evaluator can represent the Null and Bot
// sentinels range scans and the materialized join's binary search depend
// on — values no ordinary payload type can express.
package value

import "time"

// Tag identifies a DataValue's slot in the total order. Tags themselves are
// ordered Null < Bool < Int < Float < String < Bytes < Ref < List < Bot.
type Tag uint8

const (
	TagNull Tag = iota
	TagBool
	TagInt
	TagFloat
	TagString
	TagBytes
	TagRef
	TagList
	TagBot
)

// DataValue is a tagged value with a total order. Null sorts least, Bot
// sorts greatest; both are sentinels used by bounds analysis and never
// appear in stored tuples.
type DataValue struct {
	Tag     Tag
	Bool    bool
	Int     int64
	Float   float64
	Str     string
	Bytes   []byte
	RefHash [20]byte
	List    []DataValue
}

// Null is the least value in the total order.
var Null = DataValue{Tag: TagNull}

// Bot is the greatest value in the total order, used as an open upper
// sentinel by bounds analysis.
var Bot = DataValue{Tag: TagBot}

func Of(v interface{}) DataValue {
	switch x := v.(type) {
	case nil:
		return Null
	case bool:
		return DataValue{Tag: TagBool, Bool: x}
	case int:
		return DataValue{Tag: TagInt, Int: int64(x)}
	case int64:
		return DataValue{Tag: TagInt, Int: x}
	case float64:
		return DataValue{Tag: TagFloat, Float: x}
	case string:
		return DataValue{Tag: TagString, Str: x}
	case []byte:
		return DataValue{Tag: TagBytes, Bytes: x}
	case time.Time:
		return DataValue{Tag: TagInt, Int: x.UnixNano()}
	case []DataValue:
		return List(x)
	case DataValue:
		return x
	default:
		return DataValue{Tag: TagString, Str: ""}
	}
}

// List builds a List-tagged value from its elements.
func List(elems []DataValue) DataValue {
	return DataValue{Tag: TagList, List: elems}
}

// Ref builds a Ref-tagged value from an entity hash.
func Ref(hash [20]byte) DataValue {
	return DataValue{Tag: TagRef, RefHash: hash}
}

// IsNull reports whether v is the Null sentinel.
func (v DataValue) IsNull() bool { return v.Tag == TagNull }

// IsBot reports whether v is the Bot sentinel.
func (v DataValue) IsBot() bool { return v.Tag == TagBot }

// AsBool returns v's boolean payload and whether v is tagged Bool.
func (v DataValue) AsBool() (bool, bool) {
	if v.Tag != TagBool {
		return false, false
	}
	return v.Bool, true
}

// AsList returns v's list payload and whether v is tagged List.
func (v DataValue) AsList() ([]DataValue, bool) {
	if v.Tag != TagList {
		return nil, false
	}
	return v.List, true
}
