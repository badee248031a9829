package safety

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/ashureev/safecoach/internal/domain"
)

const (
	defaultVerdictEntries = 10_000
	defaultVerdictTTL     = 10 * time.Minute
)

// VerdictCache remembers fallback verdicts per normalized message so
// repeated ambiguous text does not trigger another model call.
type VerdictCache struct {
	cache  *ristretto.Cache
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// NewVerdictCache creates a cache holding up to maxEntries verdicts.
func NewVerdictCache(maxEntries int64, ttl time.Duration) (*VerdictCache, error) {
	if maxEntries <= 0 {
		maxEntries = defaultVerdictEntries
	}
	if ttl <= 0 {
		ttl = defaultVerdictTTL
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &VerdictCache{cache: cache, ttl: ttl}, nil
}

// Get returns a cached verdict.
func (v *VerdictCache) Get(normalized string) (domain.Category, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return "", false
	}

	value, found := v.cache.Get(normalized)
	if !found {
		return "", false
	}
	cat, ok := value.(domain.Category)
	return cat, ok
}

// Set stores a verdict. Writes are asynchronous; call Wait in tests.
func (v *VerdictCache) Set(normalized string, cat domain.Category) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return false
	}
	return v.cache.SetWithTTL(normalized, cat, 1, v.ttl)
}

// Wait blocks until buffered writes are applied.
func (v *VerdictCache) Wait() {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.closed {
		v.cache.Wait()
	}
}

// Close stops the cache's background goroutines.
func (v *VerdictCache) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	v.cache.Close()
}
