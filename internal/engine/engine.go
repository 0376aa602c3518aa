package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/andrfilipenk/new-sub001/config"
	"github.com/andrfilipenk/new-sub001/pkg/cache"
	"github.com/andrfilipenk/new-sub001/pkg/database"
	"github.com/andrfilipenk/new-sub001/pkg/models"
	"github.com/andrfilipenk/new-sub001/pkg/schema"
	"github.com/andrfilipenk/new-sub001/pkg/startup"
	"github.com/andrfilipenk/new-sub001/pkg/storage"
	"github.com/andrfilipenk/new-sub001/pkg/tracing"
)

// Engine assembles the schema, storage and cache subsystems behind one
// facade. Application code registers entity types, then reads and writes
// entities; the engine keeps the cache coherent around every mutation.
type Engine struct {
	cfg    config.Config
	logger ectologger.Logger

	db           database.DB
	schema       *schema.Manager
	storage      *storage.Storage
	identity     *storage.IdentityMap
	cache        *cache.Manager
	invalidation *cache.InvalidationStrategy
	broadcaster  *cache.Broadcaster
	listener     *cache.Listener
	startup      *startup.Startup

	typesMu sync.RWMutex
	types   map[string]*models.EntityType
}

// New builds an engine from configuration. Nothing connects until Start.
func New(cfg config.Config, logger ectologger.Logger) (*Engine, error) {
	e := &Engine{
		cfg:    cfg,
		logger: logger,
		types:  make(map[string]*models.EntityType),
	}

	l2, err := buildDriver(cfg.CacheL2Driver, cfg)
	if err != nil {
		return nil, fmt.Errorf("cache level 2: %w", err)
	}
	l3, err := buildDriver(cfg.CacheL3Driver, cfg)
	if err != nil {
		return nil, fmt.Errorf("cache level 3: %w", err)
	}

	var queryCache *cache.QueryCache
	if cfg.CacheL4Enabled && l2 != nil {
		queryCache = cache.NewQueryCache(l2, logger)
	}
	e.cache = cache.NewManager(l2, l3, queryCache, logger)

	e.invalidation = cache.NewInvalidationStrategy(e.cache, cache.InvalidationConfig{
		AutoInvalidate: cfg.AutoInvalidate,
		EnableLogging:  cfg.InvalidationLogging,
		MaxLogSize:     cfg.InvalidationLogSize,
	}, logger)

	if cfg.BroadcastEnabled {
		e.broadcaster = cache.NewBroadcaster(cache.BroadcasterConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaTopic,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		}, logger)
		e.listener = cache.NewListener(cache.BroadcasterConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaTopic,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		}, e.cache, e.broadcaster.Origin(), logger)
	}

	e.startup = startup.NewStartup(logger, cfg.StartupMaxAttempts)
	e.startup.AddDependency(&tracingDependency{engine: e})
	e.startup.AddDependency(&databaseDependency{engine: e})
	e.startup.AddDependency(&migrationDependency{engine: e})
	e.startup.AddDependency(&schemaDependency{engine: e})
	e.startup.AddDependency(&broadcastDependency{engine: e})
	return e, nil
}

func buildDriver(name string, cfg config.Config) (cache.Driver, error) {
	switch name {
	case "memory":
		return cache.NewMemoryDriver(), nil
	case "redis":
		return cache.NewRedisDriver(cache.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}), nil
	case "file":
		d, err := cache.NewFileDriver(cfg.CacheL3Dir)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "none", "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown cache driver %q", name)
}

// Start connects the database, initializes the base schema and starts the
// invalidation listener, in dependency order with retry.
func (e *Engine) Start(ctx context.Context) error {
	return e.startup.Start(ctx)
}

// Stop shuts everything down in reverse order.
func (e *Engine) Stop(ctx context.Context) error {
	e.invalidation.Flush()
	e.invalidation.Stop()
	return e.startup.Stop(ctx)
}

// Cache exposes the cache manager for observability surfaces.
func (e *Engine) Cache() *cache.Manager { return e.cache }

// Schema exposes the schema manager.
func (e *Engine) Schema() *schema.Manager { return e.schema }

// Storage exposes the storage layer.
func (e *Engine) Storage() *storage.Storage { return e.storage }

// Invalidation exposes the invalidation strategy and its log.
func (e *Engine) Invalidation() *cache.InvalidationStrategy { return e.invalidation }

// RegisterEntityType synchronizes the entity type's schema and makes it
// addressable by code in the entity operations.
func (e *Engine) RegisterEntityType(ctx context.Context, entityType *models.EntityType) error {
	ctx, span := tracing.StartSpan(ctx, "Engine.RegisterEntityType")
	defer span.End()

	if e.schema == nil {
		return fmt.Errorf("engine is not started")
	}
	if err := e.schema.Synchronize(ctx, entityType); err != nil {
		return err
	}

	e.typesMu.Lock()
	e.types[entityType.Code] = entityType
	e.typesMu.Unlock()
	return nil
}

// EntityType returns a registered entity type by code.
func (e *Engine) EntityType(code string) (*models.EntityType, error) {
	e.typesMu.RLock()
	et, ok := e.types[code]
	e.typesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("entity type %q is not registered", code)
	}
	return et, nil
}

// LoadEntity loads one entity through the identity map and storage.
func (e *Engine) LoadEntity(ctx context.Context, typeCode string, id int64) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.LoadEntity")
	defer span.End()

	et, err := e.EntityType(typeCode)
	if err != nil {
		return nil, err
	}
	return e.storage.Load(ctx, et, id)
}

// SaveEntity persists the entity and invalidates everything its change
// touches, broadcasting the invalidation to peer processes when enabled.
func (e *Engine) SaveEntity(ctx context.Context, entity *models.Entity) error {
	ctx, span := tracing.StartSpan(ctx, "Engine.SaveEntity")
	defer span.End()

	et, err := e.EntityType(entity.EntityType)
	if err != nil {
		return err
	}

	changed := entity.DirtyCodes()
	if err := e.storage.Save(ctx, et, entity); err != nil {
		return err
	}

	e.invalidation.OnEntitySave(ctx, entity.EntityType, entity.ID, changed)
	if e.broadcaster != nil {
		if err := e.broadcaster.PublishEntity(ctx, entity.EntityType, entity.ID); err != nil {
			e.logger.WithContext(ctx).WithError(err).Warn("failed to broadcast invalidation")
		}
	}
	return nil
}

// DeleteEntity removes the entity and invalidates its cache footprint.
// Returns false when the entity was never saved.
func (e *Engine) DeleteEntity(ctx context.Context, entity *models.Entity) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.DeleteEntity")
	defer span.End()

	et, err := e.EntityType(entity.EntityType)
	if err != nil {
		return false, err
	}

	deleted, err := e.storage.Delete(ctx, et, entity)
	if err != nil || !deleted {
		return deleted, err
	}

	e.invalidation.OnEntityDelete(ctx, entity.EntityType, entity.ID)
	if e.broadcaster != nil {
		if err := e.broadcaster.PublishEntity(ctx, entity.EntityType, entity.ID); err != nil {
			e.logger.WithContext(ctx).WithError(err).Warn("failed to broadcast invalidation")
		}
	}
	return true, nil
}

// QueryEntities runs an attribute-filtered query. Results go through the
// query cache when it is enabled, tagged with the entity type so writes
// evict them.
func (e *Engine) QueryEntities(ctx context.Context, typeCode string, opts storage.QueryOptions) ([]*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "Engine.QueryEntities")
	defer span.End()

	et, err := e.EntityType(typeCode)
	if err != nil {
		return nil, err
	}

	qc := e.cache.QueryCache()
	if qc == nil {
		return e.storage.Query(ctx, et, opts)
	}

	key := queryKey(typeCode, opts)
	var ids []int64
	if ok, err := qc.Get(ctx, key, &ids); err == nil && ok {
		return e.storage.LoadMultiple(ctx, et, ids)
	}

	entities, err := e.storage.Query(ctx, et, opts)
	if err != nil {
		return nil, err
	}

	ids = make([]int64, len(entities))
	tags := []string{cache.EntityTypeTag(typeCode)}
	for i, ent := range entities {
		ids[i] = ent.ID
		tags = append(tags, cache.EntityTag(typeCode, ent.ID))
	}
	if err := qc.Set(ctx, key, ids, e.cfg.CacheL4TTL, tags...); err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("failed to cache query result")
	}
	return entities, nil
}

// CountEntities counts entities matching the filters.
func (e *Engine) CountEntities(ctx context.Context, typeCode string, filters []storage.Filter) (int64, error) {
	et, err := e.EntityType(typeCode)
	if err != nil {
		return 0, err
	}
	return e.storage.Count(ctx, et, filters)
}

func queryKey(typeCode string, opts storage.QueryOptions) string {
	key := "query:" + typeCode
	for _, f := range opts.Filters {
		key += fmt.Sprintf("|f:%s%s%v", f.Attribute, f.Operator, f.Value)
	}
	for _, s := range opts.Sorts {
		key += fmt.Sprintf("|s:%s:%t", s.Attribute, s.Descending)
	}
	key += fmt.Sprintf("|l:%d:o:%d", opts.Limit, opts.Offset)
	return key
}
