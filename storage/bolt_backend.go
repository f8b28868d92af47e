package storage

import (
	"fmt"

	"github.com/boltdb/bolt"
	"github.com/elewis/qdb/value"
)

// BoltBackend implements Backend using boltdb/bolt, a second key/value
// store demonstrating the spec's plural "pluggable key/value storage
// backends." Grounded on the boltdb/bolt dependency carried by the
// dolthub-go-mysql-server example, not on the teacher (which only ever
// wires BadgerDB). Each relation is stored in its own top-level bucket,
// named after RelationHandle.Name; Bolt's B-tree cursor gives Seek-based
// range and skip-scan iteration directly, without badger's txn-per-scan
// bookkeeping.
type BoltBackend struct {
	db *bolt.DB
}

// NewBoltBackend opens (or creates) a Bolt database file at path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Close() error { return b.db.Close() }

type boltTxn struct {
	tx     *bolt.Tx
	bucket string
}

func (t *boltTxn) get(key []byte) ([]byte, bool, error) {
	bkt := t.tx.Bucket([]byte(t.bucket))
	if bkt == nil {
		return nil, false, nil
	}
	v := bkt.Get(key)
	if v == nil {
		return nil, false, nil
	}
	return append([]byte{}, v...), true, nil
}

func (t *boltTxn) newIter() (kvIter, error) {
	bkt := t.tx.Bucket([]byte(t.bucket))
	if bkt == nil {
		return &boltIter{empty: true}, nil
	}
	return &boltIter{cursor: bkt.Cursor()}, nil
}

type boltIter struct {
	cursor *bolt.Cursor
	empty  bool
	k, v   []byte
	valid  bool
}

func (i *boltIter) Valid() bool { return !i.empty && i.valid }
func (i *boltIter) Next() {
	if i.empty {
		return
	}
	i.k, i.v = i.cursor.Next()
	i.valid = i.k != nil
}
func (i *boltIter) Seek(key []byte) {
	if i.empty {
		return
	}
	if key == nil {
		i.k, i.v = i.cursor.First()
	} else {
		i.k, i.v = i.cursor.Seek(key)
	}
	i.valid = i.k != nil
}
func (i *boltIter) Key() []byte   { return i.k }
func (i *boltIter) Value() []byte { return i.v }
func (i *boltIter) Err() error    { return nil }
func (i *boltIter) Close() error  { return nil }

func (b *BoltBackend) withReadTxn(h RelationHandle, fn func(kvTxn) error) error {
	tx, err := b.db.Begin(false)
	if err != nil {
		return fmt.Errorf("beginning bolt read transaction: %w", err)
	}
	defer tx.Rollback()
	return fn(&boltTxn{tx: tx, bucket: h.Name})
}

func (b *BoltBackend) Get(h RelationHandle, key value.Tuple) (value.Tuple, bool, error) {
	var t value.Tuple
	var ok bool
	err := b.withReadTxn(h, func(txn kvTxn) error {
		var err error
		t, ok, err = get(txn, h, key)
		return err
	})
	return t, ok, err
}

func (b *BoltBackend) Exists(h RelationHandle, key value.Tuple) (bool, error) {
	var ok bool
	err := b.withReadTxn(h, func(txn kvTxn) error {
		var err error
		ok, err = exists(txn, h, key)
		return err
	})
	return ok, err
}

// boltScan opens its own read transaction (mirroring BadgerBackend's
// txn-per-scan shape) and wraps the resulting RowIter so Close rolls it
// back.
func (b *BoltBackend) boltScan(h RelationHandle, open func(kvTxn) (RowIter, error)) (RowIter, error) {
	tx, err := b.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("beginning bolt scan transaction: %w", err)
	}
	it, err := open(&boltTxn{tx: tx, bucket: h.Name})
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	return &boltTxnClosingIter{RowIter: it, tx: tx}, nil
}

func (b *BoltBackend) ScanAll(h RelationHandle) (RowIter, error) {
	return b.boltScan(h, func(txn kvTxn) (RowIter, error) { return scanAll(txn, h) })
}

func (b *BoltBackend) ScanPrefix(h RelationHandle, prefix value.Tuple) (RowIter, error) {
	return b.boltScan(h, func(txn kvTxn) (RowIter, error) { return scanPrefix(txn, h, prefix) })
}

func (b *BoltBackend) ScanBoundedPrefix(h RelationHandle, prefix, lower, upper value.Tuple) (RowIter, error) {
	return b.boltScan(h, func(txn kvTxn) (RowIter, error) { return scanBoundedPrefix(txn, h, prefix, lower, upper) })
}

func (b *BoltBackend) SkipScanAll(h RelationHandle, validAt int64) (RowIter, error) {
	return b.boltScan(h, func(txn kvTxn) (RowIter, error) { return skipScanAll(txn, h, validAt) })
}

func (b *BoltBackend) SkipScanPrefix(h RelationHandle, prefix value.Tuple, validAt int64) (RowIter, error) {
	return b.boltScan(h, func(txn kvTxn) (RowIter, error) { return skipScanPrefix(txn, h, prefix, validAt) })
}

func (b *BoltBackend) SkipScanBoundedPrefix(h RelationHandle, prefix, lower, upper value.Tuple, validAt int64) (RowIter, error) {
	return b.boltScan(h, func(txn kvTxn) (RowIter, error) {
		return skipScanBoundedPrefix(txn, h, prefix, lower, upper, validAt)
	})
}

func (b *BoltBackend) Put(h RelationHandle, row value.Tuple, tombstone bool) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(h.Name))
		if err != nil {
			return fmt.Errorf("creating bucket for %s: %w", h.Name, err)
		}
		key := EncodeOrdered(row[:h.KeyLen()])
		val := encodeRowValue(row[h.KeyLen():], tombstone)
		return bkt.Put(key, val)
	})
}

type boltTxnClosingIter struct {
	RowIter
	tx *bolt.Tx
}

func (t *boltTxnClosingIter) Close() error {
	err := t.RowIter.Close()
	t.tx.Rollback()
	return err
}
