package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/andrfilipenk/new-sub001/pkg/tracing"
)

// InvalidationConfig controls the event hooks.
type InvalidationConfig struct {
	// AutoInvalidate gates every hook; when false all hooks are no-ops.
	AutoInvalidate bool
	// EnableLogging records an InvalidationRecord per hook invocation.
	EnableLogging bool
	// CascadeTags maps an entity type to extra tags invalidated whenever one
	// of its entities is saved, e.g. parent or child collection tags.
	CascadeTags map[string][]string
	// MaxLogSize caps the in-memory log; oldest records drop first.
	MaxLogSize int
}

// DefaultInvalidationConfig enables hooks and logging with a bounded log.
func DefaultInvalidationConfig() InvalidationConfig {
	return InvalidationConfig{
		AutoInvalidate: true,
		EnableLogging:  true,
		MaxLogSize:     1000,
	}
}

// InvalidationRecord is one entry of the append-only invalidation log.
type InvalidationRecord struct {
	ID          string         `json:"id"`
	Event       string         `json:"event"`
	EntityType  string         `json:"entity_type"`
	EntityID    int64          `json:"entity_id,omitempty"`
	Invalidated int            `json:"invalidated"`
	Context     map[string]any `json:"context,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// InvalidationStrategy translates domain events into cache invalidation.
// Storage calls the hooks after successful mutations; the strategy decides
// which keys and tags go stale.
type InvalidationStrategy struct {
	manager *Manager
	cfg     InvalidationConfig
	logger  ectologger.Logger

	mu     sync.Mutex
	log    []InvalidationRecord
	timers map[string]*time.Timer
	fns    map[string]func()
}

// NewInvalidationStrategy wires a strategy to a cache manager.
func NewInvalidationStrategy(manager *Manager, cfg InvalidationConfig, logger ectologger.Logger) *InvalidationStrategy {
	return &InvalidationStrategy{
		manager: manager,
		cfg:     cfg,
		logger:  logger,
		timers:  make(map[string]*time.Timer),
		fns:     make(map[string]func()),
	}
}

func (s *InvalidationStrategy) record(event, entityType string, entityID int64, invalidated int, extra map[string]any) {
	if !s.cfg.EnableLogging {
		return
	}
	rec := InvalidationRecord{
		ID:          uuid.New().String(),
		Event:       event,
		EntityType:  entityType,
		EntityID:    entityID,
		Invalidated: invalidated,
		Context:     extra,
		Timestamp:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.log = append(s.log, rec)
	if s.cfg.MaxLogSize > 0 && len(s.log) > s.cfg.MaxLogSize {
		s.log = s.log[len(s.log)-s.cfg.MaxLogSize:]
	}
	s.mu.Unlock()
}

// OnEntitySave invalidates the entity's direct key, its entity and type
// tags, one attribute tag per changed attribute and any configured cascade
// tags. Returns the number of query results invalidated.
func (s *InvalidationStrategy) OnEntitySave(ctx context.Context, entityType string, entityID int64, changedAttributes []string) int {
	if !s.cfg.AutoInvalidate {
		return 0
	}
	ctx, span := tracing.StartSpan(ctx, "InvalidationStrategy.OnEntitySave")
	defer span.End()

	invalidated := s.manager.InvalidateEntity(ctx, entityType, entityID)
	invalidated += s.manager.InvalidateByTag(ctx, EntityTypeTag(entityType))
	for _, code := range changedAttributes {
		invalidated += s.manager.InvalidateByTag(ctx, AttributeTag(entityType, code))
	}
	for _, tag := range s.cfg.CascadeTags[entityType] {
		invalidated += s.manager.InvalidateByTag(ctx, tag)
	}

	s.record("entity_save", entityType, entityID, invalidated, map[string]any{
		"changed_attributes": changedAttributes,
	})
	return invalidated
}

// OnEntityDelete invalidates the entity and type tags. No cascade.
func (s *InvalidationStrategy) OnEntityDelete(ctx context.Context, entityType string, entityID int64) int {
	if !s.cfg.AutoInvalidate {
		return 0
	}
	ctx, span := tracing.StartSpan(ctx, "InvalidationStrategy.OnEntityDelete")
	defer span.End()

	invalidated := s.manager.InvalidateEntity(ctx, entityType, entityID)
	invalidated += s.manager.InvalidateByTag(ctx, EntityTypeTag(entityType))

	s.record("entity_delete", entityType, entityID, invalidated, nil)
	return invalidated
}

// OnBulkOperation invalidates each touched entity plus the type bucket once.
func (s *InvalidationStrategy) OnBulkOperation(ctx context.Context, entityType string, entityIDs []int64) int {
	if !s.cfg.AutoInvalidate {
		return 0
	}
	ctx, span := tracing.StartSpan(ctx, "InvalidationStrategy.OnBulkOperation")
	defer span.End()

	invalidated := 0
	for _, id := range entityIDs {
		invalidated += s.manager.InvalidateEntity(ctx, entityType, id)
	}
	invalidated += s.manager.InvalidateByTag(ctx, EntityTypeTag(entityType))

	s.record("bulk_operation", entityType, 0, invalidated, map[string]any{"count": len(entityIDs)})
	return invalidated
}

// OnAttributeChange invalidates the entity plus the specific attribute tag.
func (s *InvalidationStrategy) OnAttributeChange(ctx context.Context, entityType string, entityID int64, attributeCode string) int {
	if !s.cfg.AutoInvalidate {
		return 0
	}
	ctx, span := tracing.StartSpan(ctx, "InvalidationStrategy.OnAttributeChange")
	defer span.End()

	invalidated := s.manager.InvalidateEntity(ctx, entityType, entityID)
	invalidated += s.manager.InvalidateByTag(ctx, AttributeTag(entityType, attributeCode))

	s.record("attribute_change", entityType, entityID, invalidated, map[string]any{
		"attribute_code": attributeCode,
	})
	return invalidated
}

// OnCollectionChange invalidates the type bucket only.
func (s *InvalidationStrategy) OnCollectionChange(ctx context.Context, entityType string) int {
	if !s.cfg.AutoInvalidate {
		return 0
	}
	ctx, span := tracing.StartSpan(ctx, "InvalidationStrategy.OnCollectionChange")
	defer span.End()

	invalidated := s.manager.InvalidateByTag(ctx, EntityTypeTag(entityType))
	s.record("collection_change", entityType, 0, invalidated, nil)
	return invalidated
}

// ScheduleInvalidation runs fn after delay. Returns the schedule id; Flush
// runs all pending callbacks immediately, Stop discards them. A zero delay
// runs fn inline.
func (s *InvalidationStrategy) ScheduleInvalidation(fn func(), delay time.Duration) string {
	if delay <= 0 {
		fn()
		return ""
	}

	id := uuid.New().String()
	s.mu.Lock()
	s.fns[id] = fn
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, pending := s.fns[id]
		delete(s.fns, id)
		delete(s.timers, id)
		s.mu.Unlock()
		if pending {
			fn()
		}
	})
	s.mu.Unlock()
	return id
}

// Flush runs every pending scheduled invalidation now.
func (s *InvalidationStrategy) Flush() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.fns))
	for id, fn := range s.fns {
		if t := s.timers[id]; t != nil {
			t.Stop()
		}
		fns = append(fns, fn)
	}
	s.fns = make(map[string]func())
	s.timers = make(map[string]*time.Timer)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Stop cancels every pending scheduled invalidation without running it.
func (s *InvalidationStrategy) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.fns = make(map[string]func())
	s.timers = make(map[string]*time.Timer)
}

// Log returns a copy of the invalidation log, newest last.
func (s *InvalidationStrategy) Log() []InvalidationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]InvalidationRecord, len(s.log))
	copy(out, s.log)
	return out
}

// InvalidationStats summarizes the log.
type InvalidationStats struct {
	Events           int            `json:"events"`
	TotalInvalidated int            `json:"total_invalidated"`
	ByEvent          map[string]int `json:"by_event"`
	Pending          int            `json:"pending"`
}

// Stats aggregates the log and pending schedule count.
func (s *InvalidationStrategy) Stats() InvalidationStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := InvalidationStats{ByEvent: make(map[string]int), Pending: len(s.fns)}
	for _, rec := range s.log {
		stats.Events++
		stats.TotalInvalidated += rec.Invalidated
		stats.ByEvent[rec.Event]++
	}
	return stats
}
