// Package scorecache provides cached access to the append-only technical
// analysis history. Reads are served from a bounded in-memory hot map backed
// by SQLite; writes always go to storage first.
package scorecache

import (
	"fmt"
	"sync"
	"time"

	"github.com/pagelift/pagelift/internal/storage"
)

// AnalysisStore defines the storage operations the cache needs.
// Implemented by storage.Store.
type AnalysisStore interface {
	AppendAnalysis(a storage.TechnicalAnalysis) error
	LatestAnalysis(domain string) (storage.TechnicalAnalysis, error)
	DomainScoreHistory(domain string, until time.Time) ([]storage.ScorePoint, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Cache serves the newest analysis per domain, treating entries older than
// the TTL as misses. The hot map holds at most maxEntries domains; storage
// remains the source of truth.
type Cache struct {
	store      AnalysisStore
	clock      Clock
	ttl        time.Duration
	maxEntries int

	mu  sync.RWMutex
	hot map[string]storage.TechnicalAnalysis
}

// New creates a Cache with the given TTL and hot-map capacity.
func New(store AnalysisStore, ttl time.Duration, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 512
	}
	return &Cache{
		store:      store,
		clock:      realClock{},
		ttl:        ttl,
		maxEntries: maxEntries,
		hot:        make(map[string]storage.TechnicalAnalysis),
	}
}

// NewWithClock creates a Cache with a custom clock (for testing).
func NewWithClock(store AnalysisStore, clock Clock, ttl time.Duration, maxEntries int) *Cache {
	c := New(store, ttl, maxEntries)
	c.clock = clock
	return c
}

func (c *Cache) fresh(a storage.TechnicalAnalysis) bool {
	return c.clock.Now().Before(a.ComputedAt.Add(c.ttl))
}

// Fresh returns the newest analysis for domain if its age is below the TTL.
// A stale or absent entry reports ok=false; staleness is never an error.
func (c *Cache) Fresh(domain string) (storage.TechnicalAnalysis, bool, error) {
	// Fast path: read lock for hot map hit.
	c.mu.RLock()
	if a, ok := c.hot[domain]; ok && c.fresh(a) {
		c.mu.RUnlock()
		return a, true, nil
	}
	c.mu.RUnlock()

	// Slow path: write lock for hot map miss.
	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock.
	if a, ok := c.hot[domain]; ok && c.fresh(a) {
		return a, true, nil
	}

	a, err := c.store.LatestAnalysis(domain)
	if err == storage.ErrNotFound {
		return storage.TechnicalAnalysis{}, false, nil
	}
	if err != nil {
		return storage.TechnicalAnalysis{}, false, fmt.Errorf("loading latest analysis: %w", err)
	}
	if !c.fresh(a) {
		delete(c.hot, domain)
		return storage.TechnicalAnalysis{}, false, nil
	}

	c.insert(domain, a)
	return a, true, nil
}

// Append persists a new history entry and promotes it in the hot map when it
// is newer than the entry already held. Existing rows are never touched.
func (c *Cache) Append(a storage.TechnicalAnalysis) error {
	if err := c.store.AppendAnalysis(a); err != nil {
		return fmt.Errorf("appending analysis: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.hot[a.Domain]; ok && cur.ComputedAt.After(a.ComputedAt) {
		return nil
	}
	c.insert(a.Domain, a)
	return nil
}

// History returns the (time, score) series for domain up to the until bound,
// ascending. It always reads storage so callers get a consistent snapshot
// independent of the hot map.
func (c *Cache) History(domain string, until time.Time) ([]storage.ScorePoint, error) {
	points, err := c.store.DomainScoreHistory(domain, until)
	if err != nil {
		return nil, fmt.Errorf("loading score history: %w", err)
	}
	return points, nil
}

// insert adds an entry under the write lock, evicting the entry with the
// oldest analysis when the map is full. Evicted domains repopulate from
// storage on the next read.
func (c *Cache) insert(domain string, a storage.TechnicalAnalysis) {
	if _, ok := c.hot[domain]; !ok && len(c.hot) >= c.maxEntries {
		var oldestDomain string
		var oldestAt time.Time
		for d, e := range c.hot {
			if oldestDomain == "" || e.ComputedAt.Before(oldestAt) {
				oldestDomain = d
				oldestAt = e.ComputedAt
			}
		}
		delete(c.hot, oldestDomain)
	}
	c.hot[domain] = a
}
