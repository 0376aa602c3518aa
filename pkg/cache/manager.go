package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/andrfilipenk/new-sub001/pkg/tracing"
)

// Level identifies one cache level.
type Level int

const (
	// L1 is the scope-local live-object level. No serialization, cleared
	// when the owning scope ends.
	L1 Level = iota + 1
	// L2 is the shared in-memory level, default TTL 15 minutes.
	L2
	// L3 is the persistent level, default TTL 1 hour.
	L3
	// L4 is the tag-indexed query result level, write-managed separately.
	L4
)

func (l Level) String() string {
	switch l {
	case L1:
		return "L1"
	case L2:
		return "L2"
	case L3:
		return "L3"
	case L4:
		return "L4"
	}
	return fmt.Sprintf("L%d", int(l))
}

// Default TTLs per shared level.
const (
	DefaultL2TTL = 15 * time.Minute
	DefaultL3TTL = time.Hour
)

type levelStats struct {
	hits   int64
	misses int64
	sets   int64
}

// LevelStats is an observational snapshot of one level.
type LevelStats struct {
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Sets      int64  `json:"sets"`
	Size      int    `json:"size,omitempty"`
	Driver    string `json:"driver,omitempty"`
	Available bool   `json:"available"`
}

type l1Item struct {
	value     any
	expiresAt time.Time
}

// Manager is the layered read-through cache. Reads walk L1, L2 then L3 and
// backfill every faster level on a hit; writes go to L1-L3 by default. L4
// lives behind the tag-based invalidation methods only. Values crossing into
// L2/L3 are serialized as JSON, so a backfilled read of a struct yields its
// JSON form, not the original instance; L1 alone holds live objects.
type Manager struct {
	mu    sync.RWMutex
	l1    map[string]l1Item
	l2    Driver
	l3    Driver
	query *QueryCache

	stats  map[Level]*levelStats
	logger ectologger.Logger
}

// NewManager creates a cache manager. l2, l3 and query may each be nil to
// disable that level.
func NewManager(l2, l3 Driver, query *QueryCache, logger ectologger.Logger) *Manager {
	return &Manager{
		l1:    make(map[string]l1Item),
		l2:    l2,
		l3:    l3,
		query: query,
		stats: map[Level]*levelStats{
			L1: {}, L2: {}, L3: {}, L4: {},
		},
		logger: logger,
	}
}

// QueryCache returns the L4 level, or nil when disabled.
func (m *Manager) QueryCache() *QueryCache {
	return m.query
}

func (m *Manager) driver(level Level) Driver {
	switch level {
	case L2:
		return m.l2
	case L3:
		return m.l3
	}
	return nil
}

func (m *Manager) hit(level Level)  { m.mu.Lock(); m.stats[level].hits++; m.mu.Unlock() }
func (m *Manager) miss(level Level) { m.mu.Lock(); m.stats[level].misses++; m.mu.Unlock() }
func (m *Manager) set(level Level)  { m.mu.Lock(); m.stats[level].sets++; m.mu.Unlock() }

func (m *Manager) l1Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.l1[key]
	if !ok {
		return nil, false
	}
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		delete(m.l1, key)
		return nil, false
	}
	return item.value, true
}

func (m *Manager) l1Set(key string, value any, ttl time.Duration) {
	item := l1Item{value: value}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.l1[key] = item
	m.mu.Unlock()
}

// Has reports whether key is present at the given level without counting a
// hit or miss.
func (m *Manager) Has(ctx context.Context, key string, level Level) bool {
	switch level {
	case L1:
		_, ok := m.l1Get(key)
		return ok
	case L2, L3:
		d := m.driver(level)
		if d == nil {
			return false
		}
		_, ok, err := d.Get(ctx, key)
		return err == nil && ok
	}
	return false
}

// Get reads key through L1, L2 and L3 in order, backfilling faster levels on
// a hit. Returns (nil, false) on a total miss. Driver failures degrade to a
// miss, never an error.
func (m *Manager) Get(ctx context.Context, key string) (any, bool) {
	ctx, span := tracing.StartSpan(ctx, "CacheManager.Get")
	defer span.End()

	if value, ok := m.l1Get(key); ok {
		m.hit(L1)
		return value, true
	}
	m.miss(L1)

	if value, ok := m.getDriver(ctx, L2, key); ok {
		m.hit(L2)
		m.l1Set(key, value, 0)
		return value, true
	}

	if value, ok := m.getDriver(ctx, L3, key); ok {
		m.hit(L3)
		m.l1Set(key, value, 0)
		m.setDriver(ctx, L2, key, value, DefaultL2TTL)
		return value, true
	}

	return nil, false
}

// GetFrom reads exactly one level, no fallthrough and no backfill.
func (m *Manager) GetFrom(ctx context.Context, key string, level Level) (any, bool) {
	switch level {
	case L1:
		if value, ok := m.l1Get(key); ok {
			m.hit(L1)
			return value, true
		}
		m.miss(L1)
		return nil, false
	case L2, L3:
		if value, ok := m.getDriver(ctx, level, key); ok {
			m.hit(level)
			return value, true
		}
		return nil, false
	}
	return nil, false
}

func (m *Manager) getDriver(ctx context.Context, level Level, key string) (any, bool) {
	d := m.driver(level)
	if d == nil {
		return nil, false
	}
	data, ok, err := d.Get(ctx, key)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"level": level.String(), "key": key}).Warn("cache read failed")
		m.miss(level)
		return nil, false
	}
	if !ok {
		m.miss(level)
		return nil, false
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		m.miss(level)
		return nil, false
	}
	return value, true
}

func (m *Manager) setDriver(ctx context.Context, level Level, key string, value any, ttl time.Duration) bool {
	d := m.driver(level)
	if d == nil {
		return false
	}
	data, err := json.Marshal(value)
	if err != nil {
		return false
	}
	if err := d.Set(ctx, key, data, ttl); err != nil {
		m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"level": level.String(), "key": key}).Warn("cache write failed")
		return false
	}
	m.set(level)
	return true
}

// Set writes key to the given levels (default L1, L2, L3 when none are
// named). TTL zero means each level's default. Returns true only when every
// targeted enabled level succeeded.
func (m *Manager) Set(ctx context.Context, key string, value any, ttl time.Duration, levels ...Level) bool {
	ctx, span := tracing.StartSpan(ctx, "CacheManager.Set")
	defer span.End()

	if len(levels) == 0 {
		levels = []Level{L1, L2, L3}
	}

	ok := true
	for _, level := range levels {
		switch level {
		case L1:
			m.l1Set(key, value, ttl)
			m.set(L1)
		case L2:
			if m.l2 != nil {
				levelTTL := ttl
				if levelTTL <= 0 {
					levelTTL = DefaultL2TTL
				}
				ok = m.setDriver(ctx, L2, key, value, levelTTL) && ok
			}
		case L3:
			if m.l3 != nil {
				levelTTL := ttl
				if levelTTL <= 0 {
					levelTTL = DefaultL3TTL
				}
				ok = m.setDriver(ctx, L3, key, value, levelTTL) && ok
			}
		}
	}
	return ok
}

// Remember returns the cached value for key, or computes it with fn, stores
// it and returns it.
func (m *Manager) Remember(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	if value, ok := m.Get(ctx, key); ok {
		return value, nil
	}
	value, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	m.Set(ctx, key, value, ttl)
	return value, nil
}

// Delete removes key from every enabled level.
func (m *Manager) Delete(ctx context.Context, key string) {
	m.mu.Lock()
	delete(m.l1, key)
	m.mu.Unlock()

	for _, level := range []Level{L2, L3} {
		d := m.driver(level)
		if d == nil {
			continue
		}
		if err := d.Delete(ctx, key); err != nil {
			m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"level": level.String(), "key": key}).Warn("cache delete failed")
		}
	}
}

// Clear empties every enabled level including the query level.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	m.l1 = make(map[string]l1Item)
	m.mu.Unlock()

	for _, level := range []Level{L2, L3} {
		d := m.driver(level)
		if d == nil {
			continue
		}
		if err := d.Clear(ctx); err != nil {
			m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"level": level.String()}).Warn("cache clear failed")
		}
	}
	if m.query != nil {
		if err := m.query.Clear(ctx); err != nil {
			m.logger.WithContext(ctx).WithError(err).Warn("query cache clear failed")
		}
	}
}

// EntityKey is the direct cache key of one entity.
func EntityKey(entityType string, entityID int64) string {
	return fmt.Sprintf("entity:%s:%d", entityType, entityID)
}

// InvalidateEntity drops one entity's direct key and its dependent query
// results. With entityID zero the whole type's query bucket is dropped
// instead. Returns the number of query results invalidated.
func (m *Manager) InvalidateEntity(ctx context.Context, entityType string, entityID int64) int {
	ctx, span := tracing.StartSpan(ctx, "CacheManager.InvalidateEntity")
	defer span.End()

	if entityID == 0 {
		if m.query == nil {
			return 0
		}
		return m.query.InvalidateType(ctx, entityType)
	}

	m.Delete(ctx, EntityKey(entityType, entityID))
	if m.query == nil {
		return 0
	}
	return m.query.InvalidateEntity(ctx, entityType, entityID)
}

// InvalidateByTag drops the query results registered under tag. Tags are a
// query-level concept only.
func (m *Manager) InvalidateByTag(ctx context.Context, tag string) int {
	if m.query == nil {
		return 0
	}
	return m.query.InvalidateByTag(ctx, tag)
}

// WarmUp bulk-writes a key to value map and returns how many writes fully
// succeeded.
func (m *Manager) WarmUp(ctx context.Context, data map[string]any, ttl time.Duration) int {
	ctx, span := tracing.StartSpan(ctx, "CacheManager.WarmUp")
	defer span.End()

	warmed := 0
	for key, value := range data {
		if m.Set(ctx, key, value, ttl) {
			warmed++
		}
	}
	return warmed
}

// Stats returns per-level counters and sizes.
func (m *Manager) Stats(ctx context.Context) map[string]LevelStats {
	m.mu.RLock()
	l1Size := len(m.l1)
	snapshot := make(map[Level]levelStats, len(m.stats))
	for level, s := range m.stats {
		snapshot[level] = *s
	}
	m.mu.RUnlock()

	out := make(map[string]LevelStats, 4)
	out[L1.String()] = LevelStats{
		Hits: snapshot[L1].hits, Misses: snapshot[L1].misses, Sets: snapshot[L1].sets,
		Size: l1Size, Available: true,
	}
	for _, level := range []Level{L2, L3} {
		d := m.driver(level)
		stats := LevelStats{Hits: snapshot[level].hits, Misses: snapshot[level].misses, Sets: snapshot[level].sets}
		if d != nil {
			stats.Driver = d.Name()
			stats.Available = d.Available(ctx)
			if md, ok := d.(*MemoryDriver); ok {
				stats.Size = md.Size()
			}
		}
		out[level.String()] = stats
	}
	l4 := LevelStats{}
	if m.query != nil {
		l4.Available = m.query.Available(ctx)
	}
	out[L4.String()] = l4
	return out
}

// HealthCheck reports per-level availability. Purely observational; a
// degraded level is reported, never raised.
func (m *Manager) HealthCheck(ctx context.Context) map[string]bool {
	out := map[string]bool{L1.String(): true}
	for _, level := range []Level{L2, L3} {
		d := m.driver(level)
		out[level.String()] = d != nil && d.Available(ctx)
	}
	out[L4.String()] = m.query != nil && m.query.Available(ctx)
	return out
}
