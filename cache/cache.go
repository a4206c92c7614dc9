// Package cache holds identifiers resolved during one sink run.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// entry holds a resolved identifier with its resolution timestamp.
type entry struct {
	id         string
	resolvedAt time.Time
}

// Resolver memoizes Graph identifiers (site IDs, list IDs) for the duration
// of one run. It is passed explicitly to the sink and reset when a run
// starts, so a renamed or recreated list is picked up by the next run.
// It is safe for concurrent use.
type Resolver struct {
	mu     sync.RWMutex
	store  map[string]*entry
	flight singleflight.Group
}

// New creates an empty Resolver.
func New() *Resolver {
	return &Resolver{store: make(map[string]*entry)}
}

// SiteKey is the cache key of a SharePoint site URL.
func SiteKey(siteURL string) string {
	return "site|" + strings.TrimRight(strings.ToLower(siteURL), "/")
}

// ListKey is the cache key of a list display name within a site.
func ListKey(siteID, listName string) string {
	return "list|" + siteID + "|" + strings.ToLower(listName)
}

// Get returns the identifier cached under key.
func (r *Resolver) Get(key string) (string, bool) {
	r.mu.RLock()
	e, ok := r.store[key]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	return e.id, true
}

// Set caches id under key.
func (r *Resolver) Set(key, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[key] = &entry{id: id, resolvedAt: time.Now()}
}

// Resolve returns the cached identifier for key, calling load on a miss.
// Concurrent misses on the same key share one load. Failed loads are not
// cached.
func (r *Resolver) Resolve(ctx context.Context, key string, load func(context.Context) (string, error)) (string, error) {
	if id, ok := r.Get(key); ok {
		return id, nil
	}
	v, err, _ := r.flight.Do(key, func() (any, error) {
		if id, ok := r.Get(key); ok {
			return id, nil
		}
		id, err := load(ctx)
		if err != nil {
			return "", err
		}
		r.Set(key, id)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Age reports how long ago key was resolved.
func (r *Resolver) Age(key string) (time.Duration, bool) {
	r.mu.RLock()
	e, ok := r.store[key]
	r.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return time.Since(e.resolvedAt), true
}

// Reset forgets everything resolved so far.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.store)
}

// Len reports the number of cached identifiers.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store)
}
