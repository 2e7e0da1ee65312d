// Package updatemgr implements the Update Manager: the single component
// that turns a journaled mutation on one entity into the bidirectional
// back-reference bookkeeping and eventual commit to durable storage that
// the rest of the system relies on, plus the delete/purge pipeline that
// walks RefFieldsFor to break inbound references before an entity is
// reclaimed. A ticker drives a semaphore-gated immediate-queue drain
// plus commit tick rather than running continuously.
package updatemgr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/virtworld/entityd/internal/cache"
	"github.com/virtworld/entityd/internal/entity"
	"github.com/virtworld/entityd/internal/id"
	"github.com/virtworld/entityd/pkg/log"
	"github.com/virtworld/entityd/pkg/metrics"
)

type refOpKind int

const (
	refOpAdd refOpKind = iota
	refOpRemove
)

type refOp struct {
	kind   refOpKind
	from   id.Identifier
	tag    entity.FieldTag
	target id.Identifier
	single bool
}

type pendingDelete struct {
	batchID uint64
}

// Manager owns the immediate reference-bookkeeping queue, the
// pending-commit set, and the delete/purge pipeline. One Manager per
// process; construct with New and call Start once the cache is ready.
type Manager struct {
	cache    *cache.Cache
	interval time.Duration
	sem      *semaphore.Weighted

	nextBatchID atomic.Uint64

	mu             sync.Mutex
	immediate      []refOp
	pendingUpdates map[id.Identifier]struct{}
	pendingDeletes map[id.Identifier]pendingDelete
	pendingSites   map[uint32]struct{}

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Manager fronting c, committing pending work every
// interval. Only one commit tick runs at a time, enforced by a
// weight-1 semaphore rather than a mutex so a tick can wait for the
// previous one with a timeout (one interval) and skip itself if that
// expires.
func New(c *cache.Cache, interval time.Duration) *Manager {
	return &Manager{
		cache:          c,
		interval:       interval,
		sem:            semaphore.NewWeighted(1),
		pendingUpdates: map[id.Identifier]struct{}{},
		pendingDeletes: map[id.Identifier]pendingDelete{},
		pendingSites:   map[uint32]struct{}{},
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Start begins the commit-tick loop on its own goroutine.
func (m *Manager) Start() {
	go m.run()
}

// Stop signals the loop to exit and waits for it to finish the tick in
// progress, if any.
func (m *Manager) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Manager) run() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	lastTick := time.Now()
	for {
		select {
		case now := <-ticker.C:
			// A wall-clock jump backwards (system clock adjustment, VM
			// pause/resume) must not stall commits indefinitely: treat
			// any non-forward progress as "tick due now" rather than
			// trusting the ticker's notion of elapsed time.
			if now.Before(lastTick) {
				log.WithComponent("updatemgr").Warn().Msg("wall clock moved backwards, forcing a commit tick")
			}
			lastTick = now
			m.tick()
		case <-m.stopCh:
			return
		}
	}
}

// Flush runs one commit tick synchronously, outside the ticker loop.
// One-shot callers (the CLI demo commands) that enqueue work and exit
// immediately need this since there may be no ticker fire before the
// process tears the Manager down.
func (m *Manager) Flush() {
	m.tick()
}

func (m *Manager) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()
	if err := m.sem.Acquire(ctx, 1); err != nil {
		log.WithComponent("updatemgr").Warn().Err(err).Msg("commit tick skipped, previous tick still running")
		return
	}
	defer m.sem.Release(1)

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.CommitTickDuration)
		metrics.CommitTicksTotal.Inc()
	}()

	m.drainImmediate()
	m.commitPending()
	m.processDeletes()
	m.processSiteDeletes()
}

// EnqueueAddRef and EnqueueRemoveRef queue a back-reference bookkeeping
// operation to be applied on the next tick's immediate-queue drain. The
// outbound side has already been recorded on from (by a field setter or
// Header.AddRef / Header.RemoveRef) while holding from's exclusive lock;
// EntityChanged calls these from that mutation's fan-out. This only
// arranges for the inbound side on target to be updated.
func (m *Manager) EnqueueAddRef(from id.Identifier, tag entity.FieldTag, target id.Identifier, single bool) {
	m.mu.Lock()
	m.immediate = append(m.immediate, refOp{kind: refOpAdd, from: from, tag: tag, target: target, single: single})
	m.pendingUpdates[from] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) EnqueueRemoveRef(from id.Identifier, tag entity.FieldTag, target id.Identifier, single bool) {
	m.mu.Lock()
	m.immediate = append(m.immediate, refOp{kind: refOpRemove, from: from, tag: tag, target: target, single: single})
	m.pendingUpdates[from] = struct{}{}
	m.mu.Unlock()
}

// MarkDirty schedules ident for the next commit without any reference
// bookkeeping, for mutations that only touch scalar fields.
func (m *Manager) MarkDirty(ident id.Identifier) {
	m.mu.Lock()
	m.pendingUpdates[ident] = struct{}{}
	m.mu.Unlock()
}

// EnqueueDelete schedules ident for the delete/purge pipeline under
// batchID (entities deleted together share a batch so listeners can
// correlate a cascade).
func (m *Manager) EnqueueDelete(ident id.Identifier, batchID uint64) {
	m.mu.Lock()
	m.pendingDeletes[ident] = pendingDelete{batchID: batchID}
	m.mu.Unlock()
}

// Delete schedules ident for deletion under a freshly allocated batch
// ID and returns it, for callers (the CLI, a future game-logic layer)
// that don't already have a cascade to correlate against.
func (m *Manager) Delete(ident id.Identifier) uint64 {
	batchID := m.nextBatchID.Add(1)
	m.EnqueueDelete(ident, batchID)
	return batchID
}

// EnqueueSiteDelete schedules an entire site for teardown on the next
// tick.
func (m *Manager) EnqueueSiteDelete(site uint32) {
	m.mu.Lock()
	m.pendingSites[site] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) drainImmediate() {
	m.mu.Lock()
	ops := m.immediate
	m.immediate = nil
	m.mu.Unlock()

	for _, op := range ops {
		target, ok, err := m.cache.GetIncludingDeleted(op.target)
		if err != nil || !ok {
			continue
		}
		switch op.kind {
		case refOpAdd:
			target.Header().AddBackRef(op.from, op.tag)
		case refOpRemove:
			target.Header().RemoveBackRef(op.from, op.tag)
		}
		m.cache.Release(op.target)
	}
}

func (m *Manager) commitPending() {
	m.mu.Lock()
	idents := make([]id.Identifier, 0, len(m.pendingUpdates))
	for i := range m.pendingUpdates {
		idents = append(idents, i)
	}
	m.pendingUpdates = map[id.Identifier]struct{}{}
	m.mu.Unlock()

	metrics.PendingUpdatesGauge.Set(float64(len(idents)))

	for _, ident := range idents {
		e, ok, err := m.cache.GetIncludingDeleted(ident)
		if err != nil || !ok {
			continue
		}
		if e.Dirty() {
			if err := m.cache.InternalCommitEntity(e); err != nil {
				log.WithComponent("updatemgr").Error().Err(err).Msg("commit failed, will retry next tick")
				m.mu.Lock()
				m.pendingUpdates[ident] = struct{}{}
				m.mu.Unlock()
			} else {
				e.ClearDirty()
			}
		}
		m.cache.Release(ident)
	}
}

// processDeletes walks RefFieldsFor on every pending delete to break
// every inbound reference before handing the entity to the cache for
// purge: RefFieldSingle/RefFieldList references are simply removed from
// the referring entity; RefFieldClearOnBreak fields are cleared outright
// (the referring entity loses the relationship rather than dangling).
func (m *Manager) processDeletes() {
	m.mu.Lock()
	deletes := m.pendingDeletes
	m.pendingDeletes = map[id.Identifier]pendingDelete{}
	m.mu.Unlock()

	metrics.PendingDeletesGauge.Set(float64(len(deletes)))

	for ident, pd := range deletes {
		target, ok, err := m.cache.GetIncludingDeleted(ident)
		if err != nil || !ok {
			continue
		}

		for _, ref := range target.Header().InboundRefs() {
			m.breakReference(ref.From, ref.Tag, ident)
		}

		if err := m.cache.InternalDeleteEntity(ident, pd.batchID); err != nil {
			log.WithComponent("updatemgr").Warn().Err(err).Msg("delete deferred, handles still outstanding")
			m.mu.Lock()
			m.pendingDeletes[ident] = pd
			m.mu.Unlock()
		} else {
			entity.NotifyEntitiesDeleted([]id.Identifier{ident})
		}
		m.cache.Release(ident)
	}
}

func (m *Manager) breakReference(from id.Identifier, tag entity.FieldTag, target id.Identifier) {
	referrer, ok, err := m.cache.GetIncludingDeleted(from)
	if err != nil || !ok {
		return
	}
	defer m.cache.Release(from)

	token := entity.NewLockToken()
	if err := referrer.Lock(token); err != nil {
		return
	}
	defer referrer.Unlock(token)

	single := isSingleValued(referrer.Kind(), tag)
	_ = referrer.Header().RemoveRef(token, tag, target, single)

	m.mu.Lock()
	m.pendingUpdates[from] = struct{}{}
	m.mu.Unlock()
}

func isSingleValued(k entity.Kind, tag entity.FieldTag) bool {
	for _, rf := range entity.RefFieldsFor(k) {
		if rf.Tag == tag {
			return rf.Kind == entity.RefFieldSingle || rf.Kind == entity.RefFieldSecurity
		}
	}
	return false
}

func (m *Manager) processSiteDeletes() {
	m.mu.Lock()
	sites := m.pendingSites
	m.pendingSites = map[uint32]struct{}{}
	m.mu.Unlock()

	for site := range sites {
		if err := m.cache.DeleteSite(site); err != nil {
			log.WithComponent("updatemgr").Error().Err(err).Msg("site delete failed")
		} else {
			entity.NotifySiteDeleted(site)
		}
	}
}

// EntityChanged implements entity.Listener. It is the Update Manager's
// half of the startup-registered pair (the event bus's EntityListener is
// the other): every outermost-unlock fan-out schedules the entity for
// commit and, for every id-reference field that changed, enqueues the
// matching back-reference bookkeeping op — this replaces any need for
// application code to call MarkDirty/EnqueueAddRef/EnqueueRemoveRef
// directly.
func (m *Manager) EntityChanged(e entity.Entity, action entity.EntityAction, changed []entity.FieldTag, flags entity.FlagDelta, ids map[entity.FieldTag]entity.IDDelta) {
	m.MarkDirty(e.ID())
	for tag, delta := range ids {
		single := isSingleValued(e.Kind(), tag)
		for target := range delta.Added {
			m.EnqueueAddRef(e.ID(), tag, target, single)
		}
		for target := range delta.Removed {
			m.EnqueueRemoveRef(e.ID(), tag, target, single)
		}
	}
}

// EntitiesDeleted implements entity.Listener. The Update Manager drives
// deletes itself via its own pipeline, so incoming notifications (which
// would only ever be its own, since it's the sole purger) are ignored.
func (m *Manager) EntitiesDeleted(ids []id.Identifier) {}

// SiteDeleted implements entity.Listener, for the same reason
// EntitiesDeleted is a no-op here.
func (m *Manager) SiteDeleted(site uint32) {}
