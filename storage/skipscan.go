package storage

import (
	"bytes"

	"github.com/elewis/qdb/value"
)

// skipRowIter implements the validity-aware skip-scan (spec §6): given an
// ascending key order where the last key column is a validity timestamp,
// for each distinct non-validity key prefix it yields at most one row — the
// one with the greatest validity <= validAt among that prefix's records —
// provided that row is not a tombstone, then advances past every other
// record sharing that prefix.
type skipRowIter struct {
	it      kvIter
	h       RelationHandle
	high    []byte
	validAt int64
	cur     Row
	err     error
	done    bool
}

func newSkipRowIter(it kvIter, h RelationHandle, high []byte, validAt int64) *skipRowIter {
	return &skipRowIter{it: it, h: h, high: high, validAt: validAt}
}

func (s *skipRowIter) Next() bool {
	if s.done || s.err != nil {
		return false
	}
	for {
		if !s.it.Valid() {
			s.done = true
			return false
		}
		if s.high != nil && bytes.Compare(s.it.Key(), s.high) >= 0 {
			s.done = true
			return false
		}

		firstRow, err := decodeRow(s.h, s.it.Key(), s.it.Value())
		if err != nil {
			s.err = err
			return false
		}
		nonValidityLen := len(firstRow.Tuple) - 1
		groupPrefix := firstRow.Tuple[:nonValidityLen].Clone()

		var best *Row
		for {
			if !s.it.Valid() {
				break
			}
			if s.high != nil && bytes.Compare(s.it.Key(), s.high) >= 0 {
				break
			}
			row, err := decodeRow(s.h, s.it.Key(), s.it.Value())
			if err != nil {
				s.err = err
				return false
			}
			if !row.Tuple[:nonValidityLen].Equal(groupPrefix) {
				break
			}
			validity := row.Tuple[nonValidityLen].Int
			if validity <= s.validAt {
				r := row
				best = &r
			}
			s.it.Next()
		}

		if best != nil && !best.Tombstone {
			s.cur = *best
			return true
		}
		// No visible record for this prefix (none <= validAt, or the
		// chosen one is a tombstone): skip and continue with the next
		// prefix group, whose first record the outer loop is already
		// positioned at.
	}
}

func (s *skipRowIter) Row() Row { return s.cur }
func (s *skipRowIter) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.it.Err()
}
func (s *skipRowIter) Close() error { return s.it.Close() }

func skipScanAll(txn kvTxn, h RelationHandle, validAt int64) (RowIter, error) {
	it, err := txn.newIter()
	if err != nil {
		return nil, err
	}
	it.Seek(nil)
	return newSkipRowIter(it, h, nil, validAt), nil
}

func skipScanPrefix(txn kvTxn, h RelationHandle, prefix value.Tuple, validAt int64) (RowIter, error) {
	it, err := txn.newIter()
	if err != nil {
		return nil, err
	}
	low := EncodeOrdered(prefix)
	it.Seek(low)
	high := PrefixUpperBound(low)
	return newSkipRowIter(it, h, high, validAt), nil
}

func skipScanBoundedPrefix(txn kvTxn, h RelationHandle, prefix, lower, upper value.Tuple, validAt int64) (RowIter, error) {
	it, err := txn.newIter()
	if err != nil {
		return nil, err
	}
	pb := EncodeOrdered(prefix)
	low := append(append([]byte{}, pb...), EncodeOrdered(lower)...)
	high := append(append([]byte{}, pb...), EncodeOrdered(upper)...)
	it.Seek(low)
	return newSkipRowIter(it, h, high, validAt), nil
}
