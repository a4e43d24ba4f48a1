package infra

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflakeMonotonic(t *testing.T) {
	gen, err := NewSnowflakeGenerator(3)
	require.NoError(t, err)

	prev := gen.Next()
	for i := 0; i < 10000; i++ {
		id := gen.Next()
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestSnowflakeClockBackwards(t *testing.T) {
	gen, err := NewSnowflakeGenerator(1)
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	current := base
	gen.now = func() time.Time { return current }

	first := gen.Next()
	current = base.Add(-time.Second)
	second := gen.Next()

	assert.Greater(t, second, first)
	assert.Equal(t, base.UnixMilli(), SnowflakeTime(second).UnixMilli())
}

func TestSnowflakeSequenceOverflowWithStoppedClock(t *testing.T) {
	gen, err := NewSnowflakeGenerator(2)
	require.NoError(t, err)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	gen.now = func() time.Time { return base }

	n := 3*int(sequenceMask+1) + 10
	done := make(chan []int64, 1)
	go func() {
		ids := make([]int64, n)
		for i := range ids {
			ids[i] = gen.Next()
		}
		done <- ids
	}()

	var ids []int64
	select {
	case ids = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Next stalled while the clock stood still")
	}

	for i := 1; i < len(ids); i++ {
		require.Greater(t, ids[i], ids[i-1])
	}
	assert.Equal(t, base.UnixMilli(), SnowflakeTime(ids[0]).UnixMilli())
	assert.Equal(t, base.UnixMilli()+3, SnowflakeTime(ids[n-1]).UnixMilli())
}

func TestSnowflakeTime(t *testing.T) {
	gen, err := NewSnowflakeGenerator(0)
	require.NoError(t, err)

	before := time.Now().Add(-time.Millisecond)
	id := gen.Next()
	after := time.Now().Add(time.Millisecond)

	ts := SnowflakeTime(id)
	assert.True(t, ts.After(before) && ts.Before(after), ts)
}

func TestSnowflakeConcurrentUnique(t *testing.T) {
	gen, err := NewSnowflakeGenerator(7)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{})
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := gen.Next()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 4000)
}

func TestSnowflakeWorkerRange(t *testing.T) {
	_, err := NewSnowflakeGenerator(maxWorkerID + 1)
	assert.Error(t, err)
	_, err = NewSnowflakeGenerator(-1)
	assert.Error(t, err)
}
