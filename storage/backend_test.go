package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/elewis/qdb/storage"
	"github.com/elewis/qdb/value"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]storage.Backend {
	t.Helper()
	badger, err := storage.NewBadgerBackend(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { badger.Close() })

	bolt, err := storage.NewBoltBackend(filepath.Join(t.TempDir(), "bolt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	return map[string]storage.Backend{"badger": badger, "bolt": bolt}
}

func TestBackendsPutGetScan(t *testing.T) {
	h := storage.RelationHandle{
		Name:       "edge",
		KeyTypes:   []value.Tag{value.TagInt, value.TagInt},
		ValueTypes: []value.Tag{},
	}
	rows := []value.Tuple{
		{value.Of(int64(1)), value.Of(int64(2))},
		{value.Of(int64(1)), value.Of(int64(3))},
		{value.Of(int64(2)), value.Of(int64(3))},
	}

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, r := range rows {
				require.NoError(t, b.Put(h, r, false))
			}

			got, ok, err := b.Get(h, value.Tuple{value.Of(int64(1)), value.Of(int64(2))})
			require.NoError(t, err)
			require.True(t, ok)
			require.True(t, got.Equal(value.Tuple{value.Of(int64(1)), value.Of(int64(2))}))

			exists, err := b.Exists(h, value.Tuple{value.Of(int64(9)), value.Of(int64(9))})
			require.NoError(t, err)
			require.False(t, exists)

			it, err := b.ScanPrefix(h, value.Tuple{value.Of(int64(1))})
			require.NoError(t, err)
			defer it.Close()
			var out []value.Tuple
			for it.Next() {
				out = append(out, it.Row().Tuple)
			}
			require.NoError(t, it.Err())
			require.Len(t, out, 2)
		})
	}
}

func TestBackendsSkipScan(t *testing.T) {
	keyTypes := []value.Tag{value.TagRef, value.TagInt}
	h := storage.RelationHandle{Name: "history", KeyTypes: keyTypes, ValueTypes: []value.Tag{value.TagString}, HasValidity: true}

	var id [20]byte
	id[0] = 0xAA
	entity := value.Ref(id)

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Put(h, value.Tuple{entity, value.Of(int64(1)), value.Of("v1")}, false))
			require.NoError(t, b.Put(h, value.Tuple{entity, value.Of(int64(3)), value.Of("v3")}, false))
			require.NoError(t, b.Put(h, value.Tuple{entity, value.Of(int64(5)), value.Of("tombstone")}, true))

			it, err := b.SkipScanAll(h, 4)
			require.NoError(t, err)
			var rows []value.Tuple
			for it.Next() {
				rows = append(rows, it.Row().Tuple)
			}
			require.NoError(t, it.Err())
			it.Close()
			require.Len(t, rows, 1)
			require.True(t, value.Equal(rows[0][2], value.Of("v3")))

			it2, err := b.SkipScanAll(h, 5)
			require.NoError(t, err)
			var rows2 []value.Tuple
			for it2.Next() {
				rows2 = append(rows2, it2.Row().Tuple)
			}
			require.NoError(t, it2.Err())
			it2.Close()
			require.Len(t, rows2, 0)
		})
	}
}
