package tokenstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory.
// Records are indexed by user id with a secondary token index that enforces
// token uniqueness; both are updated under one lock.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record // userID -> record
	owners  map[string]string // token -> userID

	clock  Clock
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	clock           Clock
	cleanupInterval time.Duration
}

// WithClock overrides the time source.
func WithClock(clock Clock) MemoryOption {
	return func(c *memoryConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithCleanupInterval starts a background loop purging expired records.
// Zero or negative disables it.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(c *memoryConfig) {
		c.cleanupInterval = d
	}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	cfg := memoryConfig{clock: SystemClock}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &MemoryStore{
		records: make(map[string]Record),
		owners:  make(map[string]string),
		clock:   cfg.clock,
		done:    make(chan struct{}),
	}

	if cfg.cleanupInterval > 0 {
		m.ticker = time.NewTicker(cfg.cleanupInterval)
		go m.cleanupLoop()
	}

	return m
}

// StoreOrUpdate creates or replaces the user's record
func (m *MemoryStore) StoreOrUpdate(ctx context.Context, token, userID string, ttl time.Duration, referrer string) error {
	if err := ValidateStoreOrUpdate(ctx, token, userID, ttl); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if owner, ok := m.owners[token]; ok && owner != userID {
		return ErrDuplicateToken
	}

	if prev, ok := m.records[userID]; ok {
		delete(m.owners, prev.Token)
	}

	m.records[userID] = NewRecord(token, userID, ttl, referrer, m.clock())
	m.owners[token] = userID
	return nil
}

// Authenticate checks the token against the user's current record
func (m *MemoryStore) Authenticate(ctx context.Context, token, userID string) (bool, string, error) {
	if err := ValidateAuthenticate(ctx, token, userID); err != nil {
		return false, "", err
	}

	m.mu.RLock()
	rec, ok := m.records[userID]
	m.mu.RUnlock()

	if !ok || !rec.Matches(token, m.clock()) {
		return false, "", nil
	}
	return true, rec.Referrer, nil
}

// InvalidateToken removes the record holding token
func (m *MemoryStore) InvalidateToken(ctx context.Context, token string) error {
	if err := ValidateToken(ctx, token); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if userID, ok := m.owners[token]; ok {
		delete(m.records, userID)
		delete(m.owners, token)
	}
	return nil
}

// InvalidateUser removes the user's record
func (m *MemoryStore) InvalidateUser(ctx context.Context, userID string) error {
	if err := ValidateUserID(ctx, userID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[userID]; ok {
		delete(m.owners, rec.Token)
		delete(m.records, userID)
	}
	return nil
}

// Clear removes all records
func (m *MemoryStore) Clear(ctx context.Context) error {
	if err := ValidateContext(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.records)
	clear(m.owners)
	return nil
}

// Length returns the number of stored records, expired ones included
func (m *MemoryStore) Length(ctx context.Context) (int, error) {
	if err := ValidateContext(ctx); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.records), nil
}

// DeleteExpired removes expired records
func (m *MemoryStore) DeleteExpired(ctx context.Context) (int, error) {
	if err := ValidateContext(ctx); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	removed := 0
	for userID, rec := range m.records {
		if rec.Expired(now) {
			delete(m.owners, rec.Token)
			delete(m.records, userID)
			removed++
		}
	}
	return removed, nil
}

// Records returns a copy of every stored record.
func (m *MemoryStore) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (m *MemoryStore) Close() error {
	m.once.Do(func() {
		if m.ticker != nil {
			m.ticker.Stop()
		}
		close(m.done)
	})
	return nil
}

func (m *MemoryStore) cleanupLoop() {
	for {
		select {
		case <-m.ticker.C:
			_, _ = m.DeleteExpired(context.Background())
		case <-m.done:
			return
		}
	}
}
