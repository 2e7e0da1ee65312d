package main

import (
	"time"

	"github.com/google/uuid"

	"github.com/virtworld/entityd/internal/cache"
	"github.com/virtworld/entityd/internal/config"
	"github.com/virtworld/entityd/internal/entity"
	"github.com/virtworld/entityd/internal/events"
	"github.com/virtworld/entityd/internal/store/boltstore"
	"github.com/virtworld/entityd/internal/updatemgr"
	"github.com/virtworld/entityd/pkg/log"
)

// app bundles the singletons the process wires together in a fixed
// order — store, cache, Update Manager, then the event bus. The Update
// Manager and the event bus's EntityListener both register as
// entity.Listener so every outermost-unlock fan-out reaches them
// without application code calling back into either explicitly.
type app struct {
	store        *boltstore.BoltStore
	cache        *cache.Cache
	updateMgr    *updatemgr.Manager
	registry     *events.Registry
	dispatcher   *events.Dispatcher
	entityBridge *events.EntityListener
	runID        string
}

func newApp(cfg config.Config) (*app, error) {
	bs, err := boltstore.New(cfg.DB.DataDir, cfg.Limits())
	if err != nil {
		return nil, err
	}
	if err := bs.Init(); err != nil {
		return nil, err
	}

	c := cache.New(bs, cfg.Limits())
	mgr := updatemgr.New(c, time.Duration(cfg.DB.CommitIntervalSeconds)*time.Second)
	registry := events.NewRegistry()
	dispatcher := events.NewDispatcher(registry)
	bridge := events.NewEntityListener(dispatcher)
	runID := uuid.New().String()

	return &app{
		store:        bs,
		cache:        c,
		updateMgr:    mgr,
		registry:     registry,
		dispatcher:   dispatcher,
		entityBridge: bridge,
		runID:        runID,
	}, nil
}

func (a *app) start() {
	a.dispatcher.Start()
	a.updateMgr.Start()
	entity.RegisterListener(a.updateMgr)
	entity.RegisterListener(a.entityBridge)
	log.WithRunID(a.runID).Info().Msg("entityd started")
}

func (a *app) stop() {
	entity.UnregisterListener(a.entityBridge)
	entity.UnregisterListener(a.updateMgr)
	a.dispatcher.Stop()
	a.updateMgr.Stop()
	_ = a.store.Shutdown()
}
