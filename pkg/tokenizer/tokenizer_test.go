package tokenizer

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTiktokenCount(t *testing.T) {
	tk, err := New(Options{Encoding: DefaultEncoding, Offline: true})
	require.NoError(t, err)

	assert.Equal(t, 0, tk.Count(""))
	assert.Equal(t, 2, tk.Count("hello world"))
	assert.Equal(t, tk.Count("Hello, chargeback!"), tk.Count("Hello, chargeback!"))
}

func TestTiktokenUnknownModelFallsBack(t *testing.T) {
	tk, err := New(Options{Model: "not-a-model", Offline: true})
	require.NoError(t, err)
	assert.Equal(t, 2, tk.Count("hello world"))
}

func TestTiktokenConcurrentCount(t *testing.T) {
	tk, err := New(Options{Encoding: DefaultEncoding, Offline: true, PoolSize: 3})
	require.NoError(t, err)

	want := tk.Count("the quick brown fox jumps over the lazy dog")

	var wg sync.WaitGroup
	counts := make([]int, 32)
	for i := range counts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			counts[i] = tk.Count("the quick brown fox jumps over the lazy dog")
		}()
	}
	wg.Wait()

	for _, n := range counts {
		assert.Equal(t, want, n)
	}
	assert.LessOrEqual(t, tk.created.Load(), int64(3))
	assert.Len(t, tk.idle, int(tk.created.Load()))
}

func TestCachedMemoizes(t *testing.T) {
	var calls atomic.Int32
	inner := CounterFunc(func(text string) int {
		calls.Add(1)
		return len(strings.Fields(text))
	})
	c := NewCached(inner, 2)

	assert.Equal(t, 2, c.Count("a b"))
	assert.Equal(t, 2, c.Count("a b"))
	assert.Equal(t, int32(1), calls.Load())

	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, int32(1), calls.Load())

	c.Count("c")
	c.Count("d e f")
	assert.Equal(t, 3, c.Count("d e f"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestNewCachedDisabled(t *testing.T) {
	inner := CounterFunc(func(string) int { return 1 })
	c := NewCached(inner, 0)
	_, isCached := c.(*Cached)
	assert.False(t, isCached)
}
