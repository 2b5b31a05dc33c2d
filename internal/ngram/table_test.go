package ngram

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushString(t *testing.T, tbl *Table, s string) {
	t.Helper()
	for _, r := range s {
		require.NoError(t, tbl.Push(r))
	}
}

func TestPushSuppress(t *testing.T) {
	tbl := NewTable(BoundarySuppress)
	pushString(t, tbl, "abc")

	snap := tbl.Snapshot()
	assert.Equal(t, map[string]uint64{"a": 1, "b": 1, "c": 1}, snap.Order(1))
	assert.Equal(t, map[string]uint64{"ab": 1, "bc": 1}, snap.Order(2))
	assert.Equal(t, map[string]uint64{"abc": 1}, snap.Order(3))
}

func TestPushSentinel(t *testing.T) {
	tbl := NewTable(BoundarySentinel)
	pushString(t, tbl, "abc")

	snap := tbl.Snapshot()
	assert.Equal(t, map[string]uint64{"a": 1, "b": 1, "c": 1}, snap.Order(1))
	assert.Equal(t, map[string]uint64{"\x00a": 1, "ab": 1, "bc": 1}, snap.Order(2))
	assert.Equal(t, map[string]uint64{"\x00\x00a": 1, "\x00ab": 1, "abc": 1}, snap.Order(3))
}

func TestPushRepeatedCharacters(t *testing.T) {
	tbl := NewTable(BoundarySuppress)
	pushString(t, tbl, "aaaa")

	snap := tbl.Snapshot()
	assert.Equal(t, uint64(4), snap.Order(1)["a"])
	assert.Equal(t, uint64(3), snap.Order(2)["aa"])
	assert.Equal(t, uint64(2), snap.Order(3)["aaa"])
}

func TestPushMultibyte(t *testing.T) {
	tbl := NewTable(BoundarySuppress)
	pushString(t, tbl, "grüß")

	snap := tbl.Snapshot()
	assert.Equal(t, uint64(1), snap.Order(2)["üß"])
	assert.Equal(t, uint64(1), snap.Order(3)["rüß"])
	assert.Equal(t, 4, snap.Len(1))
}

func TestFromTablesStartsWithFreshWindow(t *testing.T) {
	tbl := FromTables(
		map[string]uint64{"x": 5},
		map[string]uint64{"xy": 2},
		nil,
		BoundarySuppress,
	)
	require.NoError(t, tbl.Push('z'))

	snap := tbl.Snapshot()
	assert.Equal(t, uint64(5), snap.Order(1)["x"])
	assert.Equal(t, uint64(1), snap.Order(1)["z"])
	assert.Equal(t, map[string]uint64{"xy": 2}, snap.Order(2), "no gram spans the restart")
	assert.Empty(t, snap.Order(3))
}

func TestSnapshotIsACopy(t *testing.T) {
	tbl := NewTable(BoundarySuppress)
	pushString(t, tbl, "ab")

	snap := tbl.Snapshot()
	pushString(t, tbl, "ab")

	assert.Equal(t, uint64(1), snap.Order(1)["a"])
	assert.Equal(t, uint64(2), tbl.Snapshot().Order(1)["a"])
}

func TestSnapshotDoesNotMoveWindow(t *testing.T) {
	tbl := NewTable(BoundarySuppress)
	pushString(t, tbl, "ab")
	_ = tbl.Snapshot()
	pushString(t, tbl, "c")

	assert.Equal(t, uint64(1), tbl.Snapshot().Order(3)["abc"])
}

func TestPushOverflow(t *testing.T) {
	tbl := FromTables(map[string]uint64{"a": math.MaxUint64}, nil, nil, BoundarySuppress)
	pushString(t, tbl, "xy")
	before := tbl.Snapshot()

	err := tbl.Push('a')
	require.ErrorIs(t, err, ErrCountOverflow)

	after := tbl.Snapshot()
	assert.Equal(t, before, after, "a failed push changes nothing")
	assert.Equal(t, uint64(math.MaxUint64), after.Order(1)["a"])

	// window was not shifted: the next push still follows "xy"
	require.NoError(t, tbl.Push('z'))
	assert.Equal(t, uint64(1), tbl.Snapshot().Order(3)["xyz"])
}

func TestPushOverflowHigherOrder(t *testing.T) {
	tbl := FromTables(nil, nil, map[string]uint64{"abc": math.MaxUint64}, BoundarySuppress)
	pushString(t, tbl, "ab")

	require.ErrorIs(t, tbl.Push('c'), ErrCountOverflow)
	assert.Zero(t, tbl.Snapshot().Order(1)["c"])
}

func TestTotalsAndLen(t *testing.T) {
	tbl := NewTable(BoundarySuppress)
	pushString(t, tbl, "hello")

	assert.Equal(t, [MaxOrder]uint64{5, 4, 3}, tbl.Totals())
	assert.Equal(t, [MaxOrder]int{4, 4, 3}, tbl.Len())

	snap := tbl.Snapshot()
	assert.Equal(t, uint64(5), snap.Total(1))
	assert.Equal(t, uint64(0), snap.Total(4))
	assert.Nil(t, snap.Order(0))
}

func TestParseBoundaryPolicy(t *testing.T) {
	tests := []struct {
		in   string
		want BoundaryPolicy
		err  bool
	}{
		{"", BoundarySuppress, false},
		{"suppress", BoundarySuppress, false},
		{"Sentinel", BoundarySentinel, false},
		{"nul", BoundarySuppress, true},
	}
	for _, tc := range tests {
		got, err := ParseBoundaryPolicy(tc.in)
		if tc.err {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
		assert.Equal(t, got, mustParse(t, got.String()))
	}
}

func mustParse(t *testing.T, s string) BoundaryPolicy {
	t.Helper()
	p, err := ParseBoundaryPolicy(s)
	require.NoError(t, err)
	return p
}
