package dedup

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdmitFirstSeenOnly(t *testing.T) {
	t.Parallel()

	b := NewBuffer(10, 0.5)
	require.True(t, b.Admit("a"))
	require.False(t, b.Admit("a"))
	require.True(t, b.Admit("b"))
	require.False(t, b.Admit(""))
	require.Equal(t, 2, b.Len())
}

func TestAdmitRepeatsRejectedWithinWindow(t *testing.T) {
	t.Parallel()

	b := NewBuffer(100, 0.5)
	for i := 0; i < 100; i++ {
		require.True(t, b.Admit(fmt.Sprintf("id-%d", i)))
	}
	for i := 0; i < 100; i++ {
		require.False(t, b.Admit(fmt.Sprintf("id-%d", i)))
	}
	require.Zero(t, b.Evicted())
}

func TestCompactionKeepsNewestTail(t *testing.T) {
	t.Parallel()

	b := NewBuffer(10, 0.5)
	for i := 0; i < 11; i++ {
		b.Admit(fmt.Sprintf("id-%d", i))
	}

	require.Equal(t, 5, b.Len())
	require.Equal(t, uint64(6), b.Evicted())
	for i := 0; i < 6; i++ {
		require.False(t, b.Contains(fmt.Sprintf("id-%d", i)))
	}
	for i := 6; i < 11; i++ {
		require.True(t, b.Contains(fmt.Sprintf("id-%d", i)))
	}
	// Evicted ids may be forwarded again.
	require.True(t, b.Admit("id-0"))
}

func TestLenNeverExceedsMax(t *testing.T) {
	t.Parallel()

	b := NewBuffer(50, 0.3)
	for i := 0; i < 1000; i++ {
		b.Admit(fmt.Sprintf("%d", i))
		require.LessOrEqual(t, b.Len(), 50)
	}
}

func TestDefaultsApplied(t *testing.T) {
	t.Parallel()

	b := NewBuffer(0, 2)
	require.Equal(t, DefaultMaxSize, b.maxSize)
	require.Equal(t, DefaultMaxSize/2, b.keep)
}

func TestConcurrentAdmitSingleWinner(t *testing.T) {
	t.Parallel()

	b := NewBuffer(10_000, 0.5)
	var wins atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < 500; i++ {
				if b.Admit(fmt.Sprintf("shared-%d", i)) {
					wins.Add(1)
				}
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int64(500), wins.Load())
}
