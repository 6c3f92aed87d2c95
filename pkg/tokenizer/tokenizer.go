// Package tokenizer counts vocabulary tokens in text fragments.
package tokenizer

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the byte-pair encoding used by current chat models.
const DefaultEncoding = "cl100k_base"

// Counter returns the number of tokens in a text fragment.
// Implementations must be deterministic and safe for concurrent use.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to the Counter interface.
type CounterFunc func(text string) int

// Count implements Counter.
func (f CounterFunc) Count(text string) int { return f(text) }

// Options configures the tiktoken codec.
type Options struct {
	Encoding string `yaml:"encoding"`
	// Model, when set, selects the encoding registered for that model name
	// and falls back to Encoding if the model is unknown.
	Model string `yaml:"model"`
	// Offline loads BPE ranks from the embedded loader instead of downloading them.
	Offline   bool `yaml:"offline"`
	CacheSize int  `yaml:"cache_size"`
	// PoolSize bounds how many codec instances count in parallel.
	// Zero uses GOMAXPROCS.
	PoolSize int `yaml:"pool_size"`
}

var loaderOnce sync.Once

// Tiktoken counts tokens with a tiktoken byte-pair encoding. Each codec
// instance is used by one goroutine at a time; instances are loaded on
// demand up to the pool size and reused afterwards.
type Tiktoken struct {
	load    func() (*tiktoken.Tiktoken, error)
	idle    chan *tiktoken.Tiktoken
	size    int64
	created atomic.Int64
}

// New loads the encoding described by opts.
func New(opts Options) (*Tiktoken, error) {
	if opts.Offline {
		loaderOnce.Do(func() {
			tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		})
	}

	name := opts.Encoding
	if name == "" {
		name = DefaultEncoding
	}
	load := func() (*tiktoken.Tiktoken, error) {
		if opts.Model != "" {
			if enc, err := tiktoken.EncodingForModel(opts.Model); err == nil {
				return enc, nil
			}
		}
		enc, err := tiktoken.GetEncoding(name)
		if err != nil {
			return nil, fmt.Errorf("load encoding %s: %w", name, err)
		}
		return enc, nil
	}

	enc, err := load()
	if err != nil {
		return nil, err
	}

	size := opts.PoolSize
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	t := &Tiktoken{
		load: load,
		idle: make(chan *tiktoken.Tiktoken, size),
		size: int64(size),
	}
	t.created.Store(1)
	t.idle <- enc
	return t, nil
}

// Count returns the token count of text; empty text counts zero.
func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	enc := t.acquire()
	defer func() { t.idle <- enc }()
	return len(enc.Encode(text, nil, nil))
}

func (t *Tiktoken) acquire() *tiktoken.Tiktoken {
	select {
	case enc := <-t.idle:
		return enc
	default:
	}
	if t.created.Add(1) <= t.size {
		if enc, err := t.load(); err == nil {
			return enc
		}
	}
	t.created.Add(-1)
	return <-t.idle
}

// Cached memoizes counts of a wrapped Counter. The memo holds at most size
// entries and is dropped wholesale when it fills up.
type Cached struct {
	next Counter
	size int

	mu   sync.Mutex
	memo map[string]int
}

// NewCached wraps next with a memo of the given size. A size <= 0 returns next unchanged.
func NewCached(next Counter, size int) Counter {
	if size <= 0 {
		return next
	}
	return &Cached{next: next, size: size, memo: make(map[string]int, size)}
}

// Count implements Counter.
func (c *Cached) Count(text string) int {
	if text == "" {
		return 0
	}
	c.mu.Lock()
	n, ok := c.memo[text]
	c.mu.Unlock()
	if ok {
		return n
	}

	n = c.next.Count(text)

	c.mu.Lock()
	if len(c.memo) >= c.size {
		c.memo = make(map[string]int, c.size)
	}
	c.memo[text] = n
	c.mu.Unlock()
	return n
}

// Load builds the configured counter, memoized when opts.CacheSize is positive.
func Load(opts Options) (Counter, error) {
	tk, err := New(opts)
	if err != nil {
		return nil, err
	}
	return NewCached(tk, opts.CacheSize), nil
}
