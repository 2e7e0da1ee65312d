package events

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/virtworld/entityd/internal/entity"
	"github.com/virtworld/entityd/internal/id"
	"github.com/virtworld/entityd/pkg/log"
	"github.com/virtworld/entityd/pkg/metrics"
)

// queueCapacity bounds the dispatcher's internal channel; Publish blocks
// once it is full rather than dropping events, giving back-pressure to
// producers instead of silently losing a movement/emit/connection event.
const queueCapacity = 1024

type shutdownSentinel struct{}

// Dispatcher is the single-goroutine MPSC consumer that matches each
// published event against the Registry and invokes every matching
// subscription's callback, then applies the post-processing
// auto-unsubscribe rules for entity-deleted, site-deleted, and
// process-completed events.
type Dispatcher struct {
	registry *Registry
	queue    chan any
	sem      *semaphore.Weighted

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewDispatcher builds a Dispatcher over registry. Call Start once
// before Publish; call Stop to drain and halt the worker goroutine.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		queue:    make(chan any, queueCapacity),
		sem:      semaphore.NewWeighted(1),
	}
}

// Start launches the dispatch loop on its own goroutine.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop enqueues the shutdown sentinel and waits for the loop to exit
// after draining whatever was queued ahead of it.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.queue <- shutdownSentinel{}
	})
	d.wg.Wait()
}

// Publish enqueues e for dispatch. Blocks if the queue is full.
func (d *Dispatcher) Publish(e Event) {
	metrics.EventsPublishedTotal.WithLabelValues(e.Type.String()).Inc()
	d.queue <- e
	metrics.EventQueueDepth.Set(float64(len(d.queue)))
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for item := range d.queue {
		metrics.EventQueueDepth.Set(float64(len(d.queue)))
		if _, ok := item.(shutdownSentinel); ok {
			return
		}
		e, ok := item.(Event)
		if !ok {
			continue
		}
		d.dispatch(e)
	}
}

func (d *Dispatcher) dispatch(e Event) {
	ctx := context.Background()
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer d.sem.Release(1)

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.EventDispatchDuration, e.Type.String())

	for _, sub := range d.registry.MatchingFor(e) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithComponent("events").Error().
						Str("panic", "callback panicked").
						Uint64("subscription_id", uint64(sub.ID)).
						Msg("recovered")
				}
			}()
			sub.Callback(e)
			metrics.CallbacksInvokedTotal.WithLabelValues(e.Type.String()).Inc()
		}()
	}

	d.postProcess(e)
}

// postProcess implements the auto-unsubscribe rules: an EntityChanged
// with action=deleted or a Site event with Deleted set unsubscribes
// every watcher indexed against that id/site (there is nothing further
// for them to ever receive), and a completed process's execution
// subscriptions are no longer actionable.
func (d *Dispatcher) postProcess(e Event) {
	switch e.Type {
	case TypeEntityChanged:
		if e.EntityChanged != nil && e.EntityChanged.Action == entity.EntityDeleted {
			d.registry.RemoveForEntity(e.EntityChanged.ID)
		}
	case TypeProcessExecution:
		if e.ProcessExecution != nil && e.ProcessExecution.State == ProcessCompleted {
			d.registry.RemoveForProcess(e.ProcessExecution.PID)
		}
	case TypeSite:
		if e.Site != nil && e.Site.Deleted {
			d.registry.RemoveForSite(e.Site.Site)
		}
	}
}

// EntityDeleted notifies the bus that ident no longer exists. Publishing
// a terminal EntityChanged with action=deleted lets postProcess's normal
// rule unsubscribe every watcher through the same path a real delete
// event would, without requiring callers to special-case deletion.
func (d *Dispatcher) EntityDeleted(ident id.Identifier) {
	d.Publish(Event{
		Type:      TypeEntityChanged,
		Published: time.Now(),
		EntityChanged: &EntityChanged{
			ID:     ident,
			Action: entity.EntityDeleted,
		},
	})
}
