package experience

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillBuffer(t *testing.T, buffer *Buffer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, buffer.Add(createTestTransition(fmt.Sprint(i), i+1)))
	}
}

func TestTimedBatcher_SizeTriggeredBatches(t *testing.T) {
	buffer := NewBuffer(10, zerolog.Nop())
	fillBuffer(t, buffer, 5)

	b := NewTimedBatcher(buffer, 2, time.Hour, zerolog.Nop())
	b.Start()
	require.Eventually(t, func() bool { return buffer.Size() == 1 }, 2*time.Second, time.Millisecond)
	b.Close()

	var sizes []int
	for batch := range b.Output() {
		sizes = append(sizes, len(batch))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestTimedBatcher_TimeoutFlushesPartialBatch(t *testing.T) {
	buffer := NewBuffer(10, zerolog.Nop())
	b := NewTimedBatcher(buffer, 100, 20*time.Millisecond, zerolog.Nop())
	b.Start()
	defer b.Close()

	fillBuffer(t, buffer, 1)

	select {
	case batch := <-b.Output():
		assert.Len(t, batch, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("partial batch was not flushed")
	}
}

func TestTimedBatcher_CloseFlushes(t *testing.T) {
	buffer := NewBuffer(10, zerolog.Nop())
	b := NewTimedBatcher(buffer, 100, time.Hour, zerolog.Nop())
	b.Start()

	fillBuffer(t, buffer, 1)
	b.Close()
	b.Close()

	batch, ok := <-b.Output()
	require.True(t, ok)
	assert.Len(t, batch, 1)
	_, ok = <-b.Output()
	assert.False(t, ok)
	assert.Equal(t, 0, buffer.Size())
}

func TestDrain_PersistsEveryBufferedTransition(t *testing.T) {
	logger := zerolog.Nop()
	fp, _ := newFilePersistence(t, nil)
	buffer := NewBuffer(1000, logger)

	b := NewTimedBatcher(buffer, 32, 10*time.Millisecond, logger)
	b.Start()

	done := make(chan struct{})
	go func() {
		Drain(context.Background(), b.Output(), fp, logger)
		close(done)
	}()

	// many batches arrive before the batcher runs; none may be lost
	fillBuffer(t, buffer, 500)
	require.NoError(t, buffer.Close())
	b.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("drain did not finish")
	}

	assert.Equal(t, int64(500), fp.Stats().TotalWritten)
	assert.Equal(t, int64(0), buffer.Stats().TotalDropped)
	assert.Equal(t, int64(500), buffer.Stats().TotalRead)
}

func TestDrain_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	batches := make(chan []*Transition)

	done := make(chan struct{})
	go func() {
		Drain(ctx, batches, NullPersistence{}, zerolog.Nop())
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain ignored cancellation")
	}
}
