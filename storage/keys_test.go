package storage_test

import (
	"bytes"
	"testing"

	"github.com/elewis/qdb/storage"
	"github.com/elewis/qdb/value"
	"github.com/stretchr/testify/require"
)

func TestEncodeOrderedMatchesValueOrder(t *testing.T) {
	pairs := []value.Tuple{
		{value.Of(int64(-5))},
		{value.Of(int64(-1))},
		{value.Of(int64(0))},
		{value.Of(int64(1))},
		{value.Of(int64(100))},
	}
	for i := 0; i < len(pairs)-1; i++ {
		a := storage.EncodeOrdered(pairs[i])
		b := storage.EncodeOrdered(pairs[i+1])
		require.True(t, bytes.Compare(a, b) < 0, "encoding of %v should sort before %v", pairs[i], pairs[i+1])
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tup := value.Tuple{value.Of(int64(42)), value.Of("hello"), value.Of(true)}
	enc := storage.EncodeOrdered(tup)
	tags := []value.Tag{value.TagInt, value.TagString, value.TagBool}
	got, n, err := storage.DecodeOrdered(enc, tags)
	require.NoError(t, err)
	require.Equal(t, len(enc), n)
	require.True(t, tup.Equal(got))
}

func TestPrefixUpperBound(t *testing.T) {
	prefix := []byte{1, 2, 3}
	upper := storage.PrefixUpperBound(prefix)
	require.True(t, bytes.Compare(prefix, upper) < 0)
	require.False(t, bytes.HasPrefix(upper, prefix))
}

func TestSentinelOrdering(t *testing.T) {
	lo := storage.EncodeOrdered(value.Tuple{value.Null})
	mid := storage.EncodeOrdered(value.Tuple{value.Of(int64(0))})
	hi := storage.EncodeOrdered(value.Tuple{value.Bot})
	require.True(t, bytes.Compare(lo, mid) < 0)
	require.True(t, bytes.Compare(mid, hi) < 0)
}
