package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// MemoryDriver is an in-process cache backend. Expired items are dropped
// lazily on read.
type MemoryDriver struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	tags  map[string]map[string]struct{}
}

// NewMemoryDriver creates an empty in-process driver.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		items: make(map[string]memoryItem),
		tags:  make(map[string]map[string]struct{}),
	}
}

func (d *MemoryDriver) Name() string { return "memory" }

func (d *MemoryDriver) Get(ctx context.Context, key string) ([]byte, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	item, ok := d.items[key]
	if !ok {
		return nil, false, nil
	}
	if item.expired(time.Now()) {
		delete(d.items, key)
		return nil, false, nil
	}
	return item.value, true, nil
}

func (d *MemoryDriver) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[key] = memoryItem{value: value, expiresAt: expiresAt}
	return nil
}

func (d *MemoryDriver) Delete(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.items, key)
	return nil
}

func (d *MemoryDriver) Clear(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = make(map[string]memoryItem)
	d.tags = make(map[string]map[string]struct{})
	return nil
}

func (d *MemoryDriver) Available(ctx context.Context) bool { return true }

// Size returns the number of stored items, counting expired ones not yet
// swept.
func (d *MemoryDriver) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.items)
}

func (d *MemoryDriver) AddToTag(ctx context.Context, tag string, keys ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.tags[tag]
	if !ok {
		set = make(map[string]struct{})
		d.tags[tag] = set
	}
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return nil
}

func (d *MemoryDriver) TagMembers(ctx context.Context, tag string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	set := d.tags[tag]
	members := make([]string, 0, len(set))
	for key := range set {
		members = append(members, key)
	}
	return members, nil
}

func (d *MemoryDriver) DeleteTag(ctx context.Context, tag string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tags, tag)
	return nil
}

func (d *MemoryDriver) ClearTags(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tags = make(map[string]map[string]struct{})
	return nil
}
