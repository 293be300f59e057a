package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/domain"
)

func TestRingFIFO(t *testing.T) {
	r := New[int](3)

	require.NoError(t, r.Write(1))
	require.NoError(t, r.Write(2))
	require.NoError(t, r.Write(3))
	assert.Equal(t, 3, r.Len())

	v, ok := r.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	require.NoError(t, r.Write(4))
	assert.Equal(t, []int{2, 3, 4}, r.Drain())
	assert.Equal(t, 0, r.Len())

	_, ok = r.Read()
	assert.False(t, ok)
}

func TestRingDropNewest(t *testing.T) {
	var dropped []int
	r := New[int](2, WithDropCallback[int](func(v int) { dropped = append(dropped, v) }))

	require.NoError(t, r.Write(1))
	require.NoError(t, r.Write(2))
	err := r.Write(3)

	assert.True(t, errors.Is(err, domain.ErrBufferOverflow))
	assert.Equal(t, []int{3}, dropped)
	assert.Equal(t, []int{1, 2}, r.Drain())

	st := r.Stats()
	assert.Equal(t, int64(1), st.Drops)
	assert.Equal(t, int64(1), st.Overflows)
	assert.Equal(t, 2, st.MaxSize)
}

func TestRingDropOldest(t *testing.T) {
	var dropped []string
	r := New[string](2,
		WithPolicy[string](DropOldest),
		WithDropCallback[string](func(v string) { dropped = append(dropped, v) }),
	)

	for _, s := range []string{"a", "b", "c", "d"} {
		require.NoError(t, r.Write(s))
	}

	assert.Equal(t, []string{"a", "b"}, dropped)
	assert.Equal(t, []string{"c", "d"}, r.Drain())
}

func TestRingNeverExceedsCapacity(t *testing.T) {
	for _, policy := range []OverflowPolicy{DropNewest, DropOldest} {
		t.Run(policy.String(), func(t *testing.T) {
			r := New[int](5, WithPolicy[int](policy))
			for i := 0; i < 100; i++ {
				_ = r.Write(i)
				assert.LessOrEqual(t, r.Len(), 5)
			}
			assert.Equal(t, 5, r.Len())
		})
	}
}

func TestRingBlockWaitsForSpace(t *testing.T) {
	r := New[int](1, WithPolicy[int](Block))
	require.NoError(t, r.Write(1))

	done := make(chan error, 1)
	go func() { done <- r.Write(2) }()

	select {
	case <-done:
		t.Fatal("Write returned while the ring was full")
	case <-time.After(30 * time.Millisecond):
	}

	v, ok := r.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked writer never resumed")
	}
	assert.Equal(t, []int{2}, r.Drain())
}

func TestRingBlockHonoursContext(t *testing.T) {
	r := New[int](1, WithPolicy[int](Block))
	require.NoError(t, r.Write(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.WriteWithContext(ctx, 2)
	assert.True(t, errors.Is(err, domain.ErrBufferOverflow))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, r.Len())
}

func TestRingCloseReleasesWriters(t *testing.T) {
	r := New[int](1, WithPolicy[int](Block))
	require.NoError(t, r.Write(1))

	var wg sync.WaitGroup
	wg.Add(1)
	var err error
	go func() {
		defer wg.Done()
		err = r.Write(2)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Close())
	wg.Wait()

	assert.True(t, errors.Is(err, domain.ErrTransportClosed))
	assert.True(t, errors.Is(r.Write(3), domain.ErrTransportClosed))
	assert.Equal(t, []int{1}, r.Drain())
}

func TestParsePolicy(t *testing.T) {
	tests := map[string]OverflowPolicy{
		"":       DropNewest,
		"newest": DropNewest,
		"OLDEST": DropOldest,
		"block":  Block,
	}
	for in, want := range tests {
		got, err := ParsePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParsePolicy("random")
	assert.Error(t, err)
}
