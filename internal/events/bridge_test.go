package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/virtworld/entityd/internal/entity"
	"github.com/virtworld/entityd/internal/id"
)

func TestEntityListenerRepublishesEntityChanged(t *testing.T) {
	d, r := newTestDispatcher(t)
	bridge := NewEntityListener(d)

	target := id.New(1, 42)
	fired := make(chan *EntityChanged, 1)
	_, err := r.Add(TypeEntityChanged, EntityChangedParams{AnyAction: true, EntityIDs: []id.Identifier{target}}, func(e Event) {
		fired <- e.EntityChanged
	}, 0)
	require.NoError(t, err)

	st := newStubEntity(target)
	flags := entity.FlagDelta{Added: map[string]struct{}{"dark": {}}, Removed: map[string]struct{}{}}
	bridge.EntityChanged(st, entity.EntityUpdated, []entity.FieldTag{entity.FieldContainedBy}, flags, nil)

	select {
	case ec := <-fired:
		require.Equal(t, target, ec.ID)
		require.Equal(t, entity.EntityUpdated, ec.Action)
		require.Equal(t, []entity.FieldTag{entity.FieldContainedBy}, ec.Changed)
		require.Equal(t, []string{"dark"}, ec.FlagsAdded)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for republished EntityChanged event")
	}
}

func TestEntityListenerReportsCreatedAction(t *testing.T) {
	d, r := newTestDispatcher(t)
	bridge := NewEntityListener(d)

	target := id.New(1, 44)
	fired := make(chan entity.EntityAction, 1)
	_, err := r.Add(TypeEntityChanged, EntityChangedParams{AnyAction: true, EntityIDs: []id.Identifier{target}}, func(e Event) {
		fired <- e.EntityChanged.Action
	}, 0)
	require.NoError(t, err)

	bridge.EntityChanged(newStubEntity(target), entity.EntityCreated, nil, entity.FlagDelta{}, nil)

	select {
	case action := <-fired:
		require.Equal(t, entity.EntityCreated, action)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for created-action event")
	}
}

func TestEntityListenerEntitiesDeletedUnsubscribes(t *testing.T) {
	d, r := newTestDispatcher(t)
	bridge := NewEntityListener(d)

	target := id.New(1, 43)
	_, err := r.Add(TypeEntityChanged, EntityChangedParams{AnyAction: true, EntityIDs: []id.Identifier{target}}, func(Event) {}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, r.Count(TypeEntityChanged))

	bridge.EntitiesDeleted([]id.Identifier{target})

	require.Eventually(t, func() bool {
		return r.Count(TypeEntityChanged) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestEntityListenerSiteDeletedPublishesSiteEvent(t *testing.T) {
	d, r := newTestDispatcher(t)
	bridge := NewEntityListener(d)

	fired := make(chan *Site, 1)
	_, err := r.Add(TypeSite, SiteParams{AnySite: true}, func(e Event) {
		fired <- e.Site
	}, 0)
	require.NoError(t, err)

	bridge.SiteDeleted(9)

	select {
	case s := <-fired:
		require.Equal(t, uint32(9), s.Site)
		require.True(t, s.Deleted)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for site-deleted event")
	}
}

// stubEntity satisfies entity.Entity minimally for bridge tests that only
// need ID()/Kind()/Header() to be observed.
type stubEntity struct {
	id     id.Identifier
	header *entity.Header
}

func newStubEntity(ident id.Identifier) *stubEntity {
	h := entity.NewHeader(ident, entity.KindThing, id.Identifier{}, "Stub", entity.DefaultLimits, time.Now())
	return &stubEntity{id: ident, header: h}
}

func (s *stubEntity) ID() id.Identifier                 { return s.id }
func (s *stubEntity) Kind() entity.Kind                 { return entity.KindThing }
func (s *stubEntity) Lock(entity.LockToken) error       { return nil }
func (s *stubEntity) Unlock(entity.LockToken) error     { return nil }
func (s *stubEntity) RLock(entity.LockToken) error      { return nil }
func (s *stubEntity) RUnlock(entity.LockToken) error    { return nil }
func (s *stubEntity) Dirty() bool                       { return false }
func (s *stubEntity) ClearDirty()                       {}
func (s *stubEntity) Header() *entity.Header            { return s.header }
func (s *stubEntity) Clone(id.Identifier, uint32, uint32) entity.Entity {
	return nil
}
