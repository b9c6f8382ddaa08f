package scorecache

import (
	"sync"
	"testing"
	"time"

	"github.com/pagelift/pagelift/internal/storage"
)

// --- Mock store ---

type mockStore struct {
	mu      sync.Mutex
	entries map[string][]storage.TechnicalAnalysis

	latestCalls int
}

func newMockStore() *mockStore {
	return &mockStore{entries: make(map[string][]storage.TechnicalAnalysis)}
}

func (m *mockStore) AppendAnalysis(a storage.TechnicalAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[a.Domain] = append(m.entries[a.Domain], a)
	return nil
}

func (m *mockStore) LatestAnalysis(domain string) (storage.TechnicalAnalysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestCalls++
	list := m.entries[domain]
	if len(list) == 0 {
		return storage.TechnicalAnalysis{}, storage.ErrNotFound
	}
	newest := list[0]
	for _, a := range list[1:] {
		if a.ComputedAt.After(newest.ComputedAt) {
			newest = a
		}
	}
	return newest, nil
}

func (m *mockStore) DomainScoreHistory(domain string, until time.Time) ([]storage.ScorePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var points []storage.ScorePoint
	for _, a := range m.entries[domain] {
		if !a.ComputedAt.After(until) {
			points = append(points, storage.ScorePoint{ComputedAt: a.ComputedAt, OverallScore: a.OverallScore})
		}
	}
	return points, nil
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

func TestFresh_Miss(t *testing.T) {
	store := newMockStore()
	cache := New(store, 24*time.Hour, 8)

	_, ok, err := cache.Fresh("example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected miss on empty store")
	}
}

func TestFresh_HitWithinTTL(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewWithClock(store, clock, 24*time.Hour, 8)

	a := storage.TechnicalAnalysis{ID: "ta1", Domain: "example.com", OverallScore: 82, ComputedAt: clock.Now()}
	if err := cache.Append(a); err != nil {
		t.Fatalf("Append: %v", err)
	}

	clock.Advance(23 * time.Hour)

	got, ok, err := cache.Fresh("example.com")
	if err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	if !ok {
		t.Fatal("expected hit within TTL")
	}
	if got.ID != "ta1" || got.OverallScore != 82 {
		t.Errorf("got %+v", got)
	}

	// Served from the hot map, not storage.
	if store.latestCalls != 0 {
		t.Errorf("LatestAnalysis called %d times, want 0", store.latestCalls)
	}
}

func TestFresh_ExpiredIsMiss(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewWithClock(store, clock, 24*time.Hour, 8)

	a := storage.TechnicalAnalysis{ID: "ta1", Domain: "example.com", OverallScore: 82, ComputedAt: clock.Now()}
	if err := cache.Append(a); err != nil {
		t.Fatalf("Append: %v", err)
	}

	clock.Advance(25 * time.Hour)

	_, ok, err := cache.Fresh("example.com")
	if err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	if ok {
		t.Error("expected miss after TTL expiry")
	}
}

func TestFresh_LoadsFromStorage(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	// Entry written by another process: present in storage, not in the hot map.
	if err := store.AppendAnalysis(storage.TechnicalAnalysis{ID: "ta1", Domain: "example.com", OverallScore: 75, ComputedAt: clock.Now()}); err != nil {
		t.Fatal(err)
	}

	cache := NewWithClock(store, clock, 24*time.Hour, 8)

	got, ok, err := cache.Fresh("example.com")
	if err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	if !ok || got.ID != "ta1" {
		t.Fatalf("got ok=%v %+v, want storage entry", ok, got)
	}
	if store.latestCalls != 1 {
		t.Errorf("LatestAnalysis called %d times, want 1", store.latestCalls)
	}

	// Second read comes from the hot map.
	if _, ok, _ := cache.Fresh("example.com"); !ok {
		t.Error("expected hot hit on second read")
	}
	if store.latestCalls != 1 {
		t.Errorf("LatestAnalysis called %d times after second read, want 1", store.latestCalls)
	}
}

func TestAppend_NewerWins(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewWithClock(store, clock, 24*time.Hour, 8)

	older := storage.TechnicalAnalysis{ID: "ta1", Domain: "example.com", OverallScore: 60, ComputedAt: clock.Now().Add(-time.Hour)}
	newer := storage.TechnicalAnalysis{ID: "ta2", Domain: "example.com", OverallScore: 90, ComputedAt: clock.Now()}

	if err := cache.Append(newer); err != nil {
		t.Fatal(err)
	}
	// A late append of an older entry must not displace the newer one.
	if err := cache.Append(older); err != nil {
		t.Fatal(err)
	}

	got, ok, err := cache.Fresh("example.com")
	if err != nil || !ok {
		t.Fatalf("Fresh: ok=%v err=%v", ok, err)
	}
	if got.ID != "ta2" {
		t.Errorf("hot entry = %q, want ta2", got.ID)
	}

	// Both rows still landed in storage (append-only).
	if len(store.entries["example.com"]) != 2 {
		t.Errorf("storage has %d entries, want 2", len(store.entries["example.com"]))
	}
}

func TestEvictionBounded(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewWithClock(store, clock, 24*time.Hour, 2)

	domains := []string{"a.com", "b.com", "c.com"}
	for i, d := range domains {
		a := storage.TechnicalAnalysis{ID: d, Domain: d, OverallScore: 50, ComputedAt: clock.Now().Add(time.Duration(i) * time.Minute)}
		if err := cache.Append(a); err != nil {
			t.Fatal(err)
		}
	}

	cache.mu.RLock()
	size := len(cache.hot)
	_, oldestPresent := cache.hot["a.com"]
	cache.mu.RUnlock()

	if size != 2 {
		t.Errorf("hot map size = %d, want 2", size)
	}
	if oldestPresent {
		t.Error("oldest entry should have been evicted")
	}

	// Evicted domain still readable through storage.
	if _, ok, err := cache.Fresh("a.com"); err != nil || !ok {
		t.Errorf("evicted domain not readable: ok=%v err=%v", ok, err)
	}
}

func TestHistoryBypassesHotMap(t *testing.T) {
	store := newMockStore()
	clock := &mockClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewWithClock(store, clock, 24*time.Hour, 8)

	base := clock.Now().Add(-3 * 24 * time.Hour)
	for i := 0; i < 3; i++ {
		a := storage.TechnicalAnalysis{
			ID: string(rune('a' + i)), Domain: "example.com",
			OverallScore: float64(70 + i), ComputedAt: base.Add(time.Duration(i) * 24 * time.Hour),
		}
		if err := cache.Append(a); err != nil {
			t.Fatal(err)
		}
	}

	points, err := cache.History("example.com", clock.Now())
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("got %d points, want 3", len(points))
	}
	if points[0].OverallScore != 70 || points[2].OverallScore != 72 {
		t.Errorf("points = %+v", points)
	}
}
