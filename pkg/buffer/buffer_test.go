package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOOrder(t *testing.T) {
	b, err := NewCircular[int](4)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, b.Write(i))
	}

	for i := 1; i <= 3; i++ {
		got, ok := b.Read()
		require.True(t, ok)
		assert.Equal(t, i, got)
	}

	_, ok := b.Read()
	assert.False(t, ok, "empty buffer reads nothing")
}

func TestDropOldestOverflow(t *testing.T) {
	var dropped []int
	b, err := NewCircular(2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback(func(v int) { dropped = append(dropped, v) }))
	require.NoError(t, err)

	require.NoError(t, b.Write(1))
	require.NoError(t, b.Write(2))
	require.NoError(t, b.Write(3))

	got, _ := b.Read()
	assert.Equal(t, 2, got, "oldest was evicted")
	assert.Equal(t, []int{1}, dropped)
	assert.Equal(t, int64(1), b.Stats().Dropped())
}

func TestDropCallbackMayReenterBuffer(t *testing.T) {
	var observed []int
	var b Buffer[int]
	var err error
	b, err = NewCircular(2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback(func(v int) {
			// Reading buffer state here deadlocks if the callback runs
			// under the write lock
			observed = append(observed, b.Size())
		}))
	require.NoError(t, err)

	require.NoError(t, b.Write(1))
	require.NoError(t, b.Write(2))
	require.NoError(t, b.Write(3))

	assert.Equal(t, []int{2}, observed)
}

func TestDropNewestOverflow(t *testing.T) {
	b, err := NewCircular(2, WithOverflowPolicy[int](DropNewest))
	require.NoError(t, err)

	require.NoError(t, b.Write(1))
	require.NoError(t, b.Write(2))
	require.NoError(t, b.Write(3))

	got, _ := b.Read()
	assert.Equal(t, 1, got, "incoming item was discarded")
	assert.Equal(t, int64(1), b.Stats().Dropped())
}

func TestBlockPolicyWaitsForReader(t *testing.T) {
	b, err := NewCircular(1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	require.NoError(t, b.Write(1))

	var wg sync.WaitGroup
	wg.Add(1)
	wrote := make(chan struct{})
	go func() {
		defer wg.Done()
		_ = b.Write(2)
		close(wrote)
	}()

	select {
	case <-wrote:
		t.Fatal("write should block on a full buffer")
	case <-time.After(20 * time.Millisecond):
	}

	got, ok := b.Read()
	require.True(t, ok)
	assert.Equal(t, 1, got)

	wg.Wait()
	got, ok = b.Read()
	require.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestCloseReleasesBlockedWriter(t *testing.T) {
	b, err := NewCircular(1, WithOverflowPolicy[int](Block))
	require.NoError(t, err)
	require.NoError(t, b.Write(1))

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Write(2)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Close())

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked writer was not released on close")
	}

	assert.Error(t, b.Write(3), "writes after close fail")
}

func TestInvalidCapacity(t *testing.T) {
	_, err := NewCircular[int](0)
	assert.Error(t, err)
}

func TestStatsCounts(t *testing.T) {
	b, _ := NewCircular[string](8)
	_ = b.Write("a")
	_ = b.Write("b")
	b.Read()

	assert.Equal(t, int64(2), b.Stats().Writes())
	assert.Equal(t, int64(1), b.Stats().Reads())
	assert.Equal(t, int64(0), b.Stats().Dropped())
	assert.Equal(t, 1, b.Size())
	assert.Equal(t, 8, b.Capacity())
}
