package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircular_WriteRead(t *testing.T) {
	buf, err := NewCircular[int](3)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))

	v, ok := buf.Read()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = buf.Read()
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = buf.Read()
	assert.False(t, ok)
}

func TestCircular_DropOldest(t *testing.T) {
	var dropped []int
	buf, err := NewCircular[int](2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	require.NoError(t, buf.Write(3)) // evicts 1

	assert.Equal(t, []int{1}, dropped)
	assert.Equal(t, 2, buf.Size())

	v, _ := buf.Read()
	assert.Equal(t, 2, v)
	v, _ = buf.Read()
	assert.Equal(t, 3, v)
	assert.EqualValues(t, 1, buf.Stats().Drops())
}

func TestCircular_DropNewest(t *testing.T) {
	buf, err := NewCircular[string](1, WithOverflowPolicy[string](DropNewest))
	require.NoError(t, err)

	require.NoError(t, buf.Write("keep"))
	require.NoError(t, buf.Write("discard"))

	v, ok := buf.Read()
	assert.True(t, ok)
	assert.Equal(t, "keep", v)
	assert.EqualValues(t, 1, buf.Stats().Drops())
}

// Drop callbacks run after the buffer lock is released, so a callback
// may call back into the buffer without deadlocking.
func TestCircular_DropCallbackReentersBuffer(t *testing.T) {
	var buf Buffer[int]
	var sizes []int
	created, err := NewCircular[int](1,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(int) { sizes = append(sizes, buf.Size()) }),
	)
	require.NoError(t, err)
	buf = created

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2)) // evicts 1, callback reads Size

	assert.Equal(t, []int{1}, sizes)

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCircular_ReadBatch(t *testing.T) {
	buf, err := NewCircular[int](10)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, buf.Write(i))
	}

	batch := buf.ReadBatch(3)
	assert.Equal(t, []int{0, 1, 2}, batch)
	assert.Equal(t, 2, buf.Size())

	batch = buf.ReadBatch(10)
	assert.Equal(t, []int{3, 4}, batch)
	assert.True(t, buf.IsEmpty())
	assert.Nil(t, buf.ReadBatch(5))
}

func TestCircular_WriteAfterClose(t *testing.T) {
	buf, err := NewCircular[int](2)
	require.NoError(t, err)
	require.NoError(t, buf.Close())
	assert.Error(t, buf.Write(1))
}

func TestCircular_Clear(t *testing.T) {
	buf, err := NewCircular[int](4)
	require.NoError(t, err)
	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))

	buf.Clear()
	assert.True(t, buf.IsEmpty())
	_, ok := buf.Peek()
	assert.False(t, ok)
}
