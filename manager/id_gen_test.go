package manager

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDGenerator_Wraps(t *testing.T) {
	require := require.New(t)

	gen := newIDGenerator(3)
	got := make([]int, 0, 7)
	for j := 0; j < 7; j++ {
		got = append(got, gen.next())
	}
	require.Equal([]int{1, 2, 3, 1, 2, 3, 1}, got)
	require.Equal(1, gen.current())
}

func TestIDGenerator_Use(t *testing.T) {
	require := require.New(t)

	gen := newIDGenerator(0)
	require.Equal(uint32(DefaultTransactionIDLimit), gen.limit)

	gen.use(DefaultTransactionIDLimit)
	require.Equal(DefaultTransactionIDLimit, gen.current())
	// zero is never generated
	require.Equal(1, gen.next())

	require.False(gen.validID(0))
	require.False(gen.validID(-1))
	require.False(gen.validID(DefaultTransactionIDLimit + 1))
	require.True(gen.validID(1))
	require.True(gen.validID(DefaultTransactionIDLimit))
}

func TestIDGenerator_Concurrent(t *testing.T) {
	gen := newIDGenerator(0)

	const workers, perWorker = 8, 500
	ids := make(chan int, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				ids <- gen.next()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]struct{}, workers*perWorker)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "id %d generated twice", id)
		seen[id] = struct{}{}
	}
	require.Len(t, seen, workers*perWorker)
}
