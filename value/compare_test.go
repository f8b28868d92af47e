package value_test

import (
	"testing"

	"github.com/elewis/qdb/value"
	"github.com/stretchr/testify/require"
)

func TestTotalOrderSentinels(t *testing.T) {
	require.True(t, value.Compare(value.Null, value.Of(int64(-1000000))) < 0)
	require.True(t, value.Compare(value.Of(int64(1000000)), value.Bot) < 0)
	require.True(t, value.Compare(value.Null, value.Bot) < 0)
}

func TestCompareNumeric(t *testing.T) {
	require.Equal(t, -1, value.Compare(value.Of(int64(1)), value.Of(int64(2))))
	require.Equal(t, 0, value.Compare(value.Of(int64(2)), value.Of(int64(2))))
	require.Equal(t, 1, value.Compare(value.Of(int64(3)), value.Of(int64(2))))
}

func TestCompareAcrossTags(t *testing.T) {
	// Bool sorts before Int regardless of payload.
	require.True(t, value.Compare(value.Of(true), value.Of(int64(0))) < 0)
}

func TestTupleOrdering(t *testing.T) {
	a := value.Tuple{value.Of(int64(1)), value.Of(int64(2))}
	b := value.Tuple{value.Of(int64(1)), value.Of(int64(3))}
	require.True(t, a.Compare(b) < 0)
	require.True(t, a.Equal(a.Clone()))
}

func TestTupleProjectElimination(t *testing.T) {
	tup := value.Tuple{value.Of(int64(1)), value.Of("x")}
	got := tup.Project([]int{1, -1})
	require.Equal(t, value.Of("x"), got[0])
	require.Equal(t, value.Bot, got[1])
}
