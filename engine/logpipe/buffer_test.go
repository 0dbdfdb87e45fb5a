package logpipe

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dongwonkwak/ironpost/engine/models"
)

func entryNamed(msg string) bufferedEntry {
	return bufferedEntry{entry: models.LogEntry{Message: msg}}
}

func TestBufferPushDrainFIFO(t *testing.T) {
	b := NewLogBuffer(4, DropOldest)
	for i := 0; i < 3; i++ {
		require.True(t, b.Push(entryNamed(strconv.Itoa(i))))
	}
	assert.Equal(t, 3, b.Len())

	out := b.DrainUpTo(2)
	require.Len(t, out, 2)
	assert.Equal(t, "0", out[0].entry.Message)
	assert.Equal(t, "1", out[1].entry.Message)
	assert.Equal(t, 1, b.Len())
}

func TestBufferDropOldest(t *testing.T) {
	b := NewLogBuffer(2, DropOldest)
	b.Push(entryNamed("a"))
	b.Push(entryNamed("b"))
	require.True(t, b.Push(entryNamed("c")))

	assert.Equal(t, uint64(1), b.Dropped())
	out := b.DrainUpTo(2)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].entry.Message)
	assert.Equal(t, "c", out[1].entry.Message)
}

func TestBufferDropNewest(t *testing.T) {
	b := NewLogBuffer(2, DropNewest)
	b.Push(entryNamed("a"))
	b.Push(entryNamed("b"))
	assert.False(t, b.Push(entryNamed("c")))

	assert.Equal(t, uint64(1), b.Dropped())
	out := b.DrainUpTo(2)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].entry.Message)
	assert.Equal(t, "b", out[1].entry.Message)
}

func TestBufferUtilization(t *testing.T) {
	b := NewLogBuffer(4, DropOldest)
	assert.Equal(t, 0.0, b.Utilization())
	b.Push(entryNamed("a"))
	b.Push(entryNamed("b"))
	assert.InDelta(t, 0.5, b.Utilization(), 1e-9)
}

func TestBufferWrapAround(t *testing.T) {
	b := NewLogBuffer(3, DropOldest)
	for i := 0; i < 10; i++ {
		b.Push(entryNamed(strconv.Itoa(i)))
	}
	out := b.DrainUpTo(3)
	require.Len(t, out, 3)
	assert.Equal(t, "7", out[0].entry.Message)
	assert.Equal(t, "9", out[2].entry.Message)
	assert.Equal(t, uint64(7), b.Dropped())
}
