// Package cache holds the process-wide table of live entities: a
// custody-counted handle map in front of the backing store, an
// RWMutex-protected map keyed by entity identifier rather than an ID
// pool.
package cache

import (
	"strconv"
	"sync"

	"github.com/virtworld/entityd/internal/entity"
	"github.com/virtworld/entityd/internal/id"
	"github.com/virtworld/entityd/internal/store"
	"github.com/virtworld/entityd/pkg/log"
	"github.com/virtworld/entityd/pkg/metrics"
)

// Cache is the entity cache: every live entity reachable through Get has
// exactly one in-memory copy shared by every caller that looked it up,
// with a custody count tracking outstanding handles so delete can defer
// a purge until the last handle is released.
type Cache struct {
	st     store.Store
	limits entity.Limits

	mu      sync.RWMutex
	live    map[id.Identifier]entity.Entity
	deleted map[id.Identifier]entity.Entity
	custody map[id.Identifier]int
}

// New builds a cache fronting st.
func New(st store.Store, limits entity.Limits) *Cache {
	return &Cache{
		st:      st,
		limits:  limits,
		live:    map[id.Identifier]entity.Entity{},
		deleted: map[id.Identifier]entity.Entity{},
		custody: map[id.Identifier]int{},
	}
}

// Get returns the live, cached entity for ident, loading it from the
// backing store on a cache miss. Returns (nil, false, nil) if ident has
// been deleted or never existed.
func (c *Cache) Get(ident id.Identifier) (entity.Entity, bool, error) {
	c.mu.RLock()
	if e, ok := c.live[ident]; ok {
		c.mu.RUnlock()
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		c.acquire(ident)
		return e, true, nil
	}
	if _, gone := c.deleted[ident]; gone {
		c.mu.RUnlock()
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	c.mu.RUnlock()

	e, ok, err := c.st.LoadEntity(ident)
	if err != nil {
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		return nil, false, err
	}
	if !ok {
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil, false, nil
	}

	c.mu.Lock()
	if existing, ok := c.live[ident]; ok {
		// Lost a race against a concurrent loader; keep the one already
		// installed so every caller shares the same in-memory copy.
		c.mu.Unlock()
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		c.acquire(ident)
		return existing, true, nil
	}
	c.live[ident] = e
	c.mu.Unlock()

	metrics.CacheLookupsTotal.WithLabelValues("load").Inc()
	c.acquire(ident)
	return e, true, nil
}

// GetIncludingDeleted behaves like Get but also returns entities that
// have been marked deleted and are awaiting purge, for callers (the
// Update Manager's break-source pass) that must still inspect a
// just-deleted entity's outbound references.
func (c *Cache) GetIncludingDeleted(ident id.Identifier) (entity.Entity, bool, error) {
	c.mu.RLock()
	if e, ok := c.live[ident]; ok {
		c.mu.RUnlock()
		return e, true, nil
	}
	if e, ok := c.deleted[ident]; ok {
		c.mu.RUnlock()
		return e, true, nil
	}
	c.mu.RUnlock()
	return c.Get(ident)
}

// Release gives back one handle acquired by Get/GetIncludingDeleted. The
// backing store's custody count is kept in sync so DeleteEntity can
// refuse to purge an entity still in use.
func (c *Cache) Release(ident id.Identifier) {
	c.mu.Lock()
	if n, ok := c.custody[ident]; ok {
		if n <= 1 {
			delete(c.custody, ident)
		} else {
			c.custody[ident] = n - 1
		}
	}
	n := c.custody[ident]
	c.mu.Unlock()

	c.st.SetCustodyCount(ident, n)
	metrics.CacheHandlesOutstanding.Set(float64(c.outstanding()))
}

func (c *Cache) acquire(ident id.Identifier) {
	c.mu.Lock()
	c.custody[ident]++
	n := c.custody[ident]
	c.mu.Unlock()
	c.st.SetCustodyCount(ident, n)
	metrics.CacheHandlesOutstanding.Set(float64(c.outstanding()))
}

func (c *Cache) outstanding() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, n := range c.custody {
		total += n
	}
	return total
}

// NewEntity allocates and caches a brand-new entity.
func (c *Cache) NewEntity(kind entity.Kind, site uint32, owner id.Identifier, name string) (entity.Entity, error) {
	e, err := c.st.NewEntity(kind, site, owner, name)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.live[e.ID()] = e
	c.mu.Unlock()
	metrics.EntitiesTotal.WithLabelValues(identSite(e.ID()), kind.String()).Inc()
	return e, nil
}

// InternalCommitEntity persists e's current state. Called by the Update
// Manager at the end of a commit tick; never called directly by
// application code, which only ever mutates the shared in-memory copy.
func (c *Cache) InternalCommitEntity(e entity.Entity) error {
	if err := c.st.SaveEntity(e); err != nil {
		log.WithComponent("cache").Error().Err(err).Str("id", e.ID().String()).Msg("commit failed")
		return err
	}
	return nil
}

// InternalDeleteEntity removes ident from the live set. If handles are
// still outstanding the entity is moved to the deleted set instead of
// being purged from the backing store immediately. Release never purges;
// the Update Manager re-queues the delete, and calling InternalDeleteEntity
// again (or Purge) on an entity already in the deleted set retries the
// purge, which succeeds once custody has dropped to zero.
func (c *Cache) InternalDeleteEntity(ident id.Identifier, batchID uint64) error {
	c.mu.Lock()
	e, ok := c.live[ident]
	if !ok {
		_, pending := c.deleted[ident]
		c.mu.Unlock()
		if pending {
			return c.tryPurge(ident)
		}
		return nil
	}
	delete(c.live, ident)
	c.deleted[ident] = e
	c.mu.Unlock()

	token := entity.NewLockToken()
	if err := e.Header().Lock(token); err == nil {
		e.Header().SetDeleteBatchID(batchID)
		_ = e.Header().Unlock(token)
	}

	metrics.EntitiesTotal.WithLabelValues(identSite(ident), e.Kind().String()).Dec()
	return c.tryPurge(ident)
}

// Purge finalises a pending delete once custody has dropped to zero,
// removing the durable record. Returns ErrIsEntityInUse if handles are
// still outstanding, mirroring StoreError's retryable-purge contract.
func (c *Cache) Purge(ident id.Identifier) error {
	return c.tryPurge(ident)
}

func (c *Cache) tryPurge(ident id.Identifier) error {
	c.mu.RLock()
	n := c.custody[ident]
	c.mu.RUnlock()
	if n > 0 {
		metrics.PurgeOutcomesTotal.WithLabelValues("requeued_in_use").Inc()
		return entity.ErrIsEntityInUse
	}

	if err := c.st.DeleteEntity(ident); err != nil {
		metrics.PurgeOutcomesTotal.WithLabelValues("requeued_in_use").Inc()
		return err
	}

	c.mu.Lock()
	delete(c.deleted, ident)
	c.mu.Unlock()
	metrics.PurgeOutcomesTotal.WithLabelValues("purged").Inc()
	return nil
}

// DeleteSite removes every entity in site from both the live and
// deleted sets and the backing store, unconditionally — site teardown
// does not wait on custody.
func (c *Cache) DeleteSite(site uint32) error {
	ids, err := c.st.ListSite(site)
	if err != nil {
		return err
	}

	c.mu.Lock()
	for _, ident := range ids {
		delete(c.live, ident)
		delete(c.deleted, ident)
		delete(c.custody, ident)
	}
	c.mu.Unlock()

	return c.st.DeleteSite(site)
}

func identSite(i id.Identifier) string {
	return strconv.FormatUint(uint64(i.Site), 10)
}
