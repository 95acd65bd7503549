// Package cache implements the two-tier read-through cache in front of the
// metadata store: an in-process memory tier backed by a read-write lock, and
// an optional Redis tier that survives restarts and is shared across a
// horizontally scaled fleet. The shape is carried over from the original
// RegistryCache (memory_cache + optional redis_client) rather than invented
// fresh, since the teacher repo has no equivalent of its own.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Namespace groups cache keys so invalidation and eviction policy can be
// scoped per kind of data.
type Namespace string

const (
	NamespaceManifest     Namespace = "manifest"
	NamespaceBlobMeta     Namespace = "blob_meta"
	NamespaceRepositories Namespace = "repositories"
	NamespaceTags         Namespace = "tags"
	NamespaceAuthToken    Namespace = "auth_token"
	NamespacePermissions  Namespace = "permissions"
	NamespaceAPIKey       Namespace = "api_key"
	NamespaceSession      Namespace = "session"
)

// TTLs holds the per-namespace time-to-live configuration.
type TTLs struct {
	Manifest     time.Duration
	BlobMeta     time.Duration
	Repositories time.Duration
	Tags         time.Duration
	AuthToken    time.Duration
	Permissions  time.Duration
	APIKey       time.Duration
	Session      time.Duration
}

func (t TTLs) forNamespace(ns Namespace) time.Duration {
	switch ns {
	case NamespaceManifest:
		return t.Manifest
	case NamespaceBlobMeta:
		return t.BlobMeta
	case NamespaceRepositories:
		return t.Repositories
	case NamespaceTags:
		return t.Tags
	case NamespaceAuthToken:
		return t.AuthToken
	case NamespacePermissions:
		return t.Permissions
	case NamespaceAPIKey:
		return t.APIKey
	case NamespaceSession:
		return t.Session
	default:
		return 5 * time.Minute
	}
}

type entry struct {
	data      []byte
	createdAt time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// Cache is the two-tier contract. It is safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex
	mem   map[Namespace]map[string]entry
	order map[Namespace][]string // insertion order, used for eviction among NamespaceManifest

	redis *redis.Client

	ttls           TTLs
	maxMemEntries  int
	enableMemory   bool
	enableRedis    bool
}

// New builds a Cache. rdb may be nil, in which case the cache degrades to
// memory-only silently, as the external KV tier is documented to do.
func New(rdb *redis.Client, ttls TTLs, maxMemEntries int) *Cache {
	c := &Cache{
		mem:           make(map[Namespace]map[string]entry),
		order:         make(map[Namespace][]string),
		redis:         rdb,
		ttls:          ttls,
		maxMemEntries: maxMemEntries,
		enableMemory:  true,
		enableRedis:   rdb != nil,
	}
	for _, ns := range []Namespace{NamespaceManifest, NamespaceBlobMeta, NamespaceRepositories,
		NamespaceTags, NamespaceAuthToken, NamespacePermissions, NamespaceAPIKey, NamespaceSession} {
		c.mem[ns] = make(map[string]entry)
	}
	return c
}

// Get reads memory first, then Redis (backfilling memory on hit), and
// reports a miss otherwise. dest receives the JSON-decoded value on hit.
func (c *Cache) Get(ctx context.Context, ns Namespace, key string, dest any) (bool, error) {
	if c.enableMemory {
		c.mu.RLock()
		e, ok := c.mem[ns][key]
		c.mu.RUnlock()
		if ok && !e.expired(time.Now()) {
			return true, json.Unmarshal(e.data, dest)
		}
	}

	if !c.enableRedis {
		return false, nil
	}
	raw, err := c.redis.Get(ctx, redisKey(ns, key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, nil // degrade to miss on transport error, per §4.C
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	c.backfillMemory(ns, key, raw)
	return true, nil
}

// Set writes both tiers unconditionally (subject to the enable flags).
func (c *Cache) Set(ctx context.Context, ns Namespace, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c.enableMemory {
		c.insertMemory(ns, key, raw)
	}
	if c.enableRedis {
		ttl := c.ttls.forNamespace(ns)
		if err := c.redis.Set(ctx, redisKey(ns, key), raw, ttl).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate removes one exact key from both tiers.
func (c *Cache) Invalidate(ctx context.Context, ns Namespace, key string) {
	c.mu.Lock()
	delete(c.mem[ns], key)
	c.mu.Unlock()
	if c.enableRedis {
		c.redis.Del(ctx, redisKey(ns, key))
	}
}

// InvalidateNamespace drops every entry in a namespace, used for the
// wildcard invalidations noted in §4.C (e.g. manifest PUT invalidates the
// whole repositories and tags:{repo} space).
func (c *Cache) InvalidateNamespace(ctx context.Context, ns Namespace) {
	c.mu.Lock()
	c.mem[ns] = make(map[string]entry)
	c.order[ns] = nil
	c.mu.Unlock()
	if c.enableRedis {
		// Best-effort: scan-delete by prefix. A missed key simply expires
		// by its own TTL, which still honors the coherence invariant within
		// the stale-read window the TTL defines.
		iter := c.redis.Scan(ctx, 0, string(ns)+":*", 100).Iterator()
		for iter.Next(ctx) {
			c.redis.Del(ctx, iter.Val())
		}
	}
}

func (c *Cache) insertMemory(ns Namespace, key string, raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.mem[ns][key]; !exists {
		c.order[ns] = append(c.order[ns], key)
	}
	c.mem[ns][key] = entry{data: raw, createdAt: time.Now(), ttl: c.ttls.forNamespace(ns)}
	c.evictLocked()
}

func (c *Cache) backfillMemory(ns Namespace, key string, raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.mem[ns][key]; !exists {
		c.order[ns] = append(c.order[ns], key)
	}
	c.mem[ns][key] = entry{data: raw, createdAt: time.Now(), ttl: c.ttls.forNamespace(ns)}
	c.evictLocked()
}

// evictLocked enforces maxMemEntries across all namespaces combined: expired
// entries are dropped first, then oldest-by-insertion-time among the
// manifest namespace, mirroring the source cache's cleanup_memory_cache.
// Caller must hold c.mu.
func (c *Cache) evictLocked() {
	total := 0
	for _, m := range c.mem {
		total += len(m)
	}
	if total <= c.maxMemEntries {
		return
	}

	now := time.Now()
	for ns, m := range c.mem {
		var kept []string
		for _, k := range c.order[ns] {
			if e, ok := m[k]; ok && e.expired(now) {
				delete(m, k)
				continue
			}
			kept = append(kept, k)
		}
		c.order[ns] = kept
	}

	total = 0
	for _, m := range c.mem {
		total += len(m)
	}
	for total > c.maxMemEntries && len(c.order[NamespaceManifest]) > 0 {
		oldest := c.order[NamespaceManifest][0]
		c.order[NamespaceManifest] = c.order[NamespaceManifest][1:]
		delete(c.mem[NamespaceManifest], oldest)
		total--
	}
}

// Healthy reports whether the Redis tier (if configured) is reachable.
// Absence of Redis is not itself unhealthy; it is a degraded-but-valid mode.
func (c *Cache) Healthy(ctx context.Context) bool {
	if !c.enableRedis {
		return true
	}
	return c.redis.Ping(ctx).Err() == nil
}

func redisKey(ns Namespace, key string) string {
	return string(ns) + ":" + key
}
