package storage

import (
	"bytes"
	"fmt"

	"github.com/elewis/qdb/value"
)

// rowIter adapts a raw kvIter, bounded to [low, high), into the evaluator's
// RowIter, decoding each key/value pair against a RelationHandle.
type rowIter struct {
	it   kvIter
	h    RelationHandle
	high []byte // exclusive upper bound, nil for unbounded
	cur  Row
	err  error
	done bool
}

func newRowIter(it kvIter, h RelationHandle, high []byte) *rowIter {
	return &rowIter{it: it, h: h, high: high}
}

func (r *rowIter) Next() bool {
	if r.done || r.err != nil {
		return false
	}
	if !r.it.Valid() {
		r.done = true
		return false
	}
	if r.high != nil && bytes.Compare(r.it.Key(), r.high) >= 0 {
		r.done = true
		return false
	}
	row, err := decodeRow(r.h, r.it.Key(), r.it.Value())
	if err != nil {
		r.err = err
		return false
	}
	r.cur = row
	r.it.Next()
	return true
}

func (r *rowIter) Row() Row { return r.cur }
func (r *rowIter) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.it.Err()
}
func (r *rowIter) Close() error { return r.it.Close() }

func decodeRow(h RelationHandle, key, val []byte) (Row, error) {
	keyCols, _, err := DecodeOrdered(key, h.KeyTypes)
	if err != nil {
		return Row{}, fmt.Errorf("decoding key for relation %s: %w", h.Name, err)
	}
	if len(val) < 1 {
		return Row{}, fmt.Errorf("truncated value for relation %s", h.Name)
	}
	tombstone := val[0] == 1
	valCols, err := DecodeValue(val[1:], h.ValueTypes)
	if err != nil {
		return Row{}, fmt.Errorf("decoding value for relation %s: %w", h.Name, err)
	}
	return Row{Tuple: keyCols.Concat(valCols), Tombstone: tombstone}, nil
}

func encodeRowValue(valCols value.Tuple, tombstone bool) []byte {
	b := make([]byte, 1)
	if tombstone {
		b[0] = 1
	}
	return append(b, EncodeValue(valCols)...)
}

func scanAll(txn kvTxn, h RelationHandle) (RowIter, error) {
	it, err := txn.newIter()
	if err != nil {
		return nil, fmt.Errorf("opening scan over %s: %w", h.Name, err)
	}
	it.Seek(nil)
	return newRowIter(it, h, nil), nil
}

func scanPrefix(txn kvTxn, h RelationHandle, prefix value.Tuple) (RowIter, error) {
	it, err := txn.newIter()
	if err != nil {
		return nil, fmt.Errorf("opening prefix scan over %s: %w", h.Name, err)
	}
	low := EncodeOrdered(prefix)
	it.Seek(low)
	high := PrefixUpperBound(low)
	return newRowIter(it, h, high), nil
}

func scanBoundedPrefix(txn kvTxn, h RelationHandle, prefix, lower, upper value.Tuple) (RowIter, error) {
	it, err := txn.newIter()
	if err != nil {
		return nil, fmt.Errorf("opening bounded prefix scan over %s: %w", h.Name, err)
	}
	pb := EncodeOrdered(prefix)
	low := append(append([]byte{}, pb...), EncodeOrdered(lower)...)
	high := append(append([]byte{}, pb...), EncodeOrdered(upper)...)
	it.Seek(low)
	return newRowIter(it, h, high), nil
}

func get(txn kvTxn, h RelationHandle, key value.Tuple) (value.Tuple, bool, error) {
	k := EncodeOrdered(key)
	val, ok, err := txn.get(k)
	if err != nil {
		return nil, false, fmt.Errorf("get on %s: %w", h.Name, err)
	}
	if !ok {
		return nil, false, nil
	}
	row, err := decodeRow(h, k, val)
	if err != nil {
		return nil, false, err
	}
	if row.Tombstone {
		return nil, false, nil
	}
	return row.Tuple, true, nil
}

func exists(txn kvTxn, h RelationHandle, key value.Tuple) (bool, error) {
	_, ok, err := get(txn, h, key)
	return ok, err
}
