package storage

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/elewis/qdb/value"
)

// BadgerBackend implements Backend using BadgerDB, grounded on the
// teacher's datalog/storage/badger_store.go NewBadgerStore tuning.
type BadgerBackend struct {
	db *badger.DB
}

// NewBadgerBackend opens (or creates) a BadgerDB database at path.
func NewBadgerBackend(path string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.MemTableSize = 128 << 20
	opts.BlockCacheSize = 256 << 20
	opts.IndexCacheSize = 100 << 20
	opts.DetectConflicts = false
	opts.NumCompactors = 4
	opts.ValueThreshold = 1 << 10

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerBackend{db: db}, nil
}

func (b *BadgerBackend) Close() error { return b.db.Close() }

type badgerTxn struct {
	txn *badger.Txn
}

func (t *badgerTxn) get(key []byte) ([]byte, bool, error) {
	item, err := t.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out []byte
	err = item.Value(func(val []byte) error {
		out = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (t *badgerTxn) newIter() (kvIter, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	return &badgerIter{it: t.txn.NewIterator(opts)}, nil
}

type badgerIter struct {
	it  *badger.Iterator
	err error
}

func (i *badgerIter) Valid() bool { return i.it.Valid() }
func (i *badgerIter) Next()       { i.it.Next() }
func (i *badgerIter) Seek(key []byte) {
	if key == nil {
		i.it.Rewind()
		return
	}
	i.it.Seek(key)
}
func (i *badgerIter) Key() []byte { return i.it.Item().KeyCopy(nil) }
func (i *badgerIter) Value() []byte {
	var out []byte
	err := i.it.Item().Value(func(val []byte) error {
		out = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		i.err = err
	}
	return out
}
func (i *badgerIter) Err() error  { return i.err }
func (i *badgerIter) Close() error { i.it.Close(); return nil }

func (b *BadgerBackend) withReadTxn(fn func(kvTxn) error) error {
	txn := b.db.NewTransaction(false)
	defer txn.Discard()
	return fn(&badgerTxn{txn: txn})
}

func (b *BadgerBackend) Get(h RelationHandle, key value.Tuple) (value.Tuple, bool, error) {
	var t value.Tuple
	var ok bool
	err := b.withReadTxn(func(txn kvTxn) error {
		var err error
		t, ok, err = get(txn, h, key)
		return err
	})
	return t, ok, err
}

func (b *BadgerBackend) Exists(h RelationHandle, key value.Tuple) (bool, error) {
	var ok bool
	err := b.withReadTxn(func(txn kvTxn) error {
		var err error
		ok, err = exists(txn, h, key)
		return err
	})
	return ok, err
}

func (b *BadgerBackend) ScanAll(h RelationHandle) (RowIter, error) {
	txn := b.db.NewTransaction(false)
	it, err := scanAll(&badgerTxn{txn: txn}, h)
	if err != nil {
		txn.Discard()
		return nil, err
	}
	return &txnClosingIter{RowIter: it, txn: txn}, nil
}

func (b *BadgerBackend) ScanPrefix(h RelationHandle, prefix value.Tuple) (RowIter, error) {
	txn := b.db.NewTransaction(false)
	it, err := scanPrefix(&badgerTxn{txn: txn}, h, prefix)
	if err != nil {
		txn.Discard()
		return nil, err
	}
	return &txnClosingIter{RowIter: it, txn: txn}, nil
}

func (b *BadgerBackend) ScanBoundedPrefix(h RelationHandle, prefix, lower, upper value.Tuple) (RowIter, error) {
	txn := b.db.NewTransaction(false)
	it, err := scanBoundedPrefix(&badgerTxn{txn: txn}, h, prefix, lower, upper)
	if err != nil {
		txn.Discard()
		return nil, err
	}
	return &txnClosingIter{RowIter: it, txn: txn}, nil
}

func (b *BadgerBackend) SkipScanAll(h RelationHandle, validAt int64) (RowIter, error) {
	txn := b.db.NewTransaction(false)
	it, err := skipScanAll(&badgerTxn{txn: txn}, h, validAt)
	if err != nil {
		txn.Discard()
		return nil, err
	}
	return &txnClosingIter{RowIter: it, txn: txn}, nil
}

func (b *BadgerBackend) SkipScanPrefix(h RelationHandle, prefix value.Tuple, validAt int64) (RowIter, error) {
	txn := b.db.NewTransaction(false)
	it, err := skipScanPrefix(&badgerTxn{txn: txn}, h, prefix, validAt)
	if err != nil {
		txn.Discard()
		return nil, err
	}
	return &txnClosingIter{RowIter: it, txn: txn}, nil
}

func (b *BadgerBackend) SkipScanBoundedPrefix(h RelationHandle, prefix, lower, upper value.Tuple, validAt int64) (RowIter, error) {
	txn := b.db.NewTransaction(false)
	it, err := skipScanBoundedPrefix(&badgerTxn{txn: txn}, h, prefix, lower, upper, validAt)
	if err != nil {
		txn.Discard()
		return nil, err
	}
	return &txnClosingIter{RowIter: it, txn: txn}, nil
}

func (b *BadgerBackend) Put(h RelationHandle, row value.Tuple, tombstone bool) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := EncodeOrdered(row[:h.KeyLen()])
		val := encodeRowValue(row[h.KeyLen():], tombstone)
		return txn.Set(key, val)
	})
}

// txnClosingIter wraps a RowIter so Close also discards the backing badger
// read transaction, since each scan opens its own.
type txnClosingIter struct {
	RowIter
	txn *badger.Txn
}

func (t *txnClosingIter) Close() error {
	err := t.RowIter.Close()
	t.txn.Discard()
	return err
}
