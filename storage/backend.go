// Package storage implements the evaluator's storage backend contract
// (spec §6): point reads, existence checks, ordered scans bounded by a
// prefix and/or a range, and their validity-aware skip-scan counterparts.
// Two interchangeable backends are provided, BadgerBackend (grounded on the
// teacher's datalog/storage/badger_store.go) and BoltBackend (grounded on
// the boltdb/bolt dependency carried by the dolthub-go-mysql-server
// example), demonstrating the spec's plural "pluggable key/value storage
// backends."
package storage

import (
	"fmt"

	"github.com/elewis/qdb/value"
)

// RelationHandle is an opaque reference to a persistent relation. It
// carries the metadata the evaluator needs: how many leading columns form
// the storage key, each column's tag, and whether the relation is
// validity-enabled (spec §3 invariant 6: a validity relation's last key
// column must be typed as a timestamp).
type RelationHandle struct {
	Name         string
	KeyTypes     []value.Tag
	ValueTypes   []value.Tag
	HasValidity  bool // last entry of KeyTypes is the validity timestamp
}

// KeyLen returns the number of columns forming the storage key.
func (h RelationHandle) KeyLen() int { return len(h.KeyTypes) }

// InvalidTimeTravelScanningError reports building a validity scan over a
// relation whose last key column is not a validity timestamp. Fatal for
// the query (spec §7).
type InvalidTimeTravelScanningError struct {
	Relation string
}

func (e *InvalidTimeTravelScanningError) Error() string {
	return fmt.Sprintf("relation %q has no validity key column, cannot build a time-travel scan", e.Relation)
}

// NewValidityHandle validates invariant 6 and returns a handle, or an
// InvalidTimeTravelScanningError.
func NewValidityHandle(name string, keyTypes, valueTypes []value.Tag) (RelationHandle, error) {
	if len(keyTypes) == 0 || keyTypes[len(keyTypes)-1] != value.TagInt {
		return RelationHandle{}, &InvalidTimeTravelScanningError{Relation: name}
	}
	return RelationHandle{Name: name, KeyTypes: keyTypes, ValueTypes: valueTypes, HasValidity: true}, nil
}

// Row is a decoded storage record: key columns followed by value columns,
// in the relation's declared column order.
type Row struct {
	Tuple     value.Tuple
	Tombstone bool
}

// RowIter is a single-pass, ordered iterator over Rows. Mirrors the
// teacher's storage.Iterator (Next/Datom/Close), generalized to the
// evaluator's tuple model and widened with Err() so callers distinguish a
// clean end of stream from a propagated storage error (spec §7: "storage
// error ... fatal for the stream").
type RowIter interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// Backend is the evaluator's only view of persistence (spec §6).
type Backend interface {
	Get(h RelationHandle, key value.Tuple) (value.Tuple, bool, error)
	Exists(h RelationHandle, key value.Tuple) (bool, error)

	ScanAll(h RelationHandle) (RowIter, error)
	ScanPrefix(h RelationHandle, prefix value.Tuple) (RowIter, error)
	ScanBoundedPrefix(h RelationHandle, prefix, lower, upper value.Tuple) (RowIter, error)

	SkipScanAll(h RelationHandle, validAt int64) (RowIter, error)
	SkipScanPrefix(h RelationHandle, prefix value.Tuple, validAt int64) (RowIter, error)
	SkipScanBoundedPrefix(h RelationHandle, prefix, lower, upper value.Tuple, validAt int64) (RowIter, error)

	// Put writes one row (full key + value columns). tombstone marks a
	// validity relation's deletion marker. Not part of spec §6's read
	// contract; needed so tests and the CLI can load data.
	Put(h RelationHandle, row value.Tuple, tombstone bool) error

	Close() error
}

// kvIter is the low-level ordered byte-key iterator each backend's native
// transaction type offers. Shared scan/skip-scan logic in common.go and
// skipscan.go is written once against this interface.
type kvIter interface {
	Valid() bool
	Next()
	Seek(key []byte)
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// kvTxn is the minimal per-backend capability common.go needs: creating an
// ordered iterator and a point get (existence checks are built on get).
type kvTxn interface {
	newIter() (kvIter, error)
	get(key []byte) ([]byte, bool, error)
}
