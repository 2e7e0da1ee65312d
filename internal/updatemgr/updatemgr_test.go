package updatemgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/virtworld/entityd/internal/cache"
	"github.com/virtworld/entityd/internal/entity"
	"github.com/virtworld/entityd/internal/id"
	"github.com/virtworld/entityd/internal/store/boltstore"
)

func newTestManager(t *testing.T) (*Manager, *cache.Cache) {
	t.Helper()
	st, err := boltstore.New(t.TempDir(), entity.DefaultLimits)
	require.NoError(t, err)
	require.NoError(t, st.Init())
	t.Cleanup(func() { _ = st.Shutdown() })

	c := cache.New(st, entity.DefaultLimits)
	m := New(c, time.Hour)
	return m, c
}

func TestEntityChangedEnqueuesBackRefAndCommit(t *testing.T) {
	entity.ResetListenersForTest()
	t.Cleanup(entity.ResetListenersForTest)

	m, c := newTestManager(t)
	entity.RegisterListener(m)
	defer entity.UnregisterListener(m)

	region, err := c.NewEntity(entity.KindRegion, 1, id.Identifier{}, "Old Town")
	require.NoError(t, err)
	room, err := c.NewEntity(entity.KindRoom, 1, id.Identifier{}, "Bakery")
	require.NoError(t, err)

	cpe := room.(*entity.Room)
	token := entity.NewLockToken()
	require.NoError(t, cpe.Lock(token))
	require.NoError(t, cpe.SetContainedBy(token, region.ID()))
	require.NoError(t, cpe.Unlock(token))

	m.Flush()

	regionAgain, ok, err := c.Get(region.ID())
	require.NoError(t, err)
	require.True(t, ok)
	defer c.Release(region.ID())

	found := false
	for _, ref := range regionAgain.Header().InboundRefs() {
		if ref.From == room.ID() && ref.Tag == entity.FieldContainedBy {
			found = true
		}
	}
	require.True(t, found, "expected region to carry an inbound back-ref from room")
	require.False(t, room.Dirty(), "commit tick should have cleared the dirty flag")
}

func TestDeletePipelineBreaksInboundRefsAndPurges(t *testing.T) {
	entity.ResetListenersForTest()
	t.Cleanup(entity.ResetListenersForTest)

	m, c := newTestManager(t)
	entity.RegisterListener(m)
	defer entity.UnregisterListener(m)

	region, err := c.NewEntity(entity.KindRegion, 1, id.Identifier{}, "Old Town")
	require.NoError(t, err)
	room, err := c.NewEntity(entity.KindRoom, 1, id.Identifier{}, "Bakery")
	require.NoError(t, err)

	cpe := room.(*entity.Room)
	token := entity.NewLockToken()
	require.NoError(t, cpe.Lock(token))
	require.NoError(t, cpe.SetContainedBy(token, region.ID()))
	require.NoError(t, cpe.Unlock(token))
	m.Flush()

	batchID := m.Delete(region.ID())
	require.NotZero(t, batchID)
	m.Flush()

	_, ok, err := c.Get(region.ID())
	require.NoError(t, err)
	require.False(t, ok, "region should have been purged")

	roomAgain, ok, err := c.Get(room.ID())
	require.NoError(t, err)
	require.True(t, ok)
	defer c.Release(room.ID())
	require.Equal(t, id.Identifier{}, roomAgain.(*entity.Room).ContainedBy(),
		"break-source should have reset the single-valued containment ref")
}

func TestEntitiesDeletedAndSiteDeletedAreNoOps(t *testing.T) {
	m, _ := newTestManager(t)
	m.EntitiesDeleted([]id.Identifier{id.New(1, 2)})
	m.SiteDeleted(1)
}
