package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

// DefaultQueryTTL applies when a query result is cached without an explicit
// TTL.
const DefaultQueryTTL = 5 * time.Minute

// Tag constructors. The query cache and the invalidation hooks must agree on
// these shapes, so they live in one place.
func EntityTag(entityType string, entityID int64) string {
	return fmt.Sprintf("entity:%s:%d", entityType, entityID)
}

func EntityTypeTag(entityType string) string {
	return fmt.Sprintf("entity_type:%s", entityType)
}

func AttributeTag(entityType, attributeCode string) string {
	return fmt.Sprintf("attribute:%s:%s", entityType, attributeCode)
}

// QueryCache is the tag-indexed query result level. Results are written with
// the tags they depend on; invalidation walks a tag's member set and deletes
// each result. It is write-managed: the read-through path never backfills it.
type QueryCache struct {
	driver Driver
	tags   TagStore
	logger ectologger.Logger
}

// NewQueryCache creates a query cache over driver. When the driver also
// implements TagStore its native tag sets are used; otherwise an in-process
// store keeps the tag index.
func NewQueryCache(driver Driver, logger ectologger.Logger) *QueryCache {
	tags, ok := driver.(TagStore)
	if !ok {
		tags = NewMemoryDriver()
	}
	return &QueryCache{
		driver: driver,
		tags:   tags,
		logger: logger,
	}
}

// Set stores a query result under key with its dependency tags.
func (c *QueryCache) Set(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error {
	if ttl <= 0 {
		ttl = DefaultQueryTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.driver.Set(ctx, key, data, ttl); err != nil {
		return err
	}
	for _, tag := range tags {
		if err := c.tags.AddToTag(ctx, tag, key); err != nil {
			return err
		}
	}
	return nil
}

// Get unmarshals the cached result for key into dest. Returns false on miss.
func (c *QueryCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, ok, err := c.driver.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// InvalidateByTag deletes every result registered under tag and drops the
// tag set. Returns the number of results deleted.
func (c *QueryCache) InvalidateByTag(ctx context.Context, tag string) int {
	members, err := c.tags.TagMembers(ctx, tag)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tag": tag}).Warn("failed to read tag members")
		return 0
	}

	invalidated := 0
	for _, key := range members {
		if err := c.driver.Delete(ctx, key); err != nil {
			c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"key": key}).Warn("failed to delete cached query")
			continue
		}
		invalidated++
	}
	if err := c.tags.DeleteTag(ctx, tag); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tag": tag}).Warn("failed to drop tag set")
	}
	return invalidated
}

// InvalidateEntity drops every result depending on one entity.
func (c *QueryCache) InvalidateEntity(ctx context.Context, entityType string, entityID int64) int {
	return c.InvalidateByTag(ctx, EntityTag(entityType, entityID))
}

// InvalidateType drops every result depending on the entity type as a whole.
func (c *QueryCache) InvalidateType(ctx context.Context, entityType string) int {
	return c.InvalidateByTag(ctx, EntityTypeTag(entityType))
}

// Clear drops every cached result and the whole tag index.
func (c *QueryCache) Clear(ctx context.Context) error {
	if err := c.driver.Clear(ctx); err != nil {
		return err
	}
	return c.tags.ClearTags(ctx)
}

// Available reports whether the underlying driver is reachable.
func (c *QueryCache) Available(ctx context.Context) bool {
	return c.driver.Available(ctx)
}
