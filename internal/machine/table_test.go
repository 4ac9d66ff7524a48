package machine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableSetGetDelete(t *testing.T) {
	var tbl Table

	isNew := tbl.Set("a", NumberVal(1))
	require.True(t, isNew)
	isNew = tbl.Set("a", NumberVal(2))
	require.False(t, isNew)

	v, ok := tbl.Get("a")
	require.True(t, ok)
	require.Equal(t, NumberVal(2), v)

	require.True(t, tbl.Has("a"))
	require.False(t, tbl.Has("missing"))

	require.True(t, tbl.Delete("a"))
	require.False(t, tbl.Has("a"))
	require.False(t, tbl.Delete("a"))
}

func TestTableTombstoneReuse(t *testing.T) {
	var tbl Table
	tbl.Set("a", NumberVal(1))
	tbl.Set("b", NumberVal(2))
	tbl.Delete("a")

	// Re-inserting after a delete must still find "b".
	v, ok := tbl.Get("b")
	require.True(t, ok)
	require.Equal(t, NumberVal(2), v)

	tbl.Set("a", NumberVal(3))
	v, ok = tbl.Get("a")
	require.True(t, ok)
	require.Equal(t, NumberVal(3), v)
}

func TestTableGrowsPastLoadFactor(t *testing.T) {
	var tbl Table
	for i := 0; i < 100; i++ {
		tbl.Set(string(rune('a'+i%26))+string(rune('0'+i/26)), NumberVal(float64(i)))
	}
	require.Equal(t, 100, tbl.Len())
	for i := 0; i < 100; i++ {
		key := string(rune('a'+i%26)) + string(rune('0'+i/26))
		v, ok := tbl.Get(key)
		require.True(t, ok)
		require.Equal(t, NumberVal(float64(i)), v)
	}
}

func TestTableEachVisitsAllEntries(t *testing.T) {
	var tbl Table
	tbl.Set("a", NumberVal(1))
	tbl.Set("b", NumberVal(2))

	seen := map[string]Value{}
	tbl.Each(func(k string, v Value) { seen[k] = v })

	require.Equal(t, map[string]Value{"a": NumberVal(1), "b": NumberVal(2)}, seen)
}

func TestTableRemoveUnmarkedKeys(t *testing.T) {
	var tbl Table
	tbl.Set("keep", ObjVal(1))
	tbl.Set("drop", ObjVal(2))

	tbl.removeUnmarkedKeys(func(v Value) bool {
		return AsHandle(v) == Handle(2)
	})

	require.True(t, tbl.Has("keep"))
	require.False(t, tbl.Has("drop"))
}
