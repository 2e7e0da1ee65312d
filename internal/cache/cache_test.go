package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/virtworld/entityd/internal/entity"
	"github.com/virtworld/entityd/internal/id"
	"github.com/virtworld/entityd/internal/store/boltstore"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	st, err := boltstore.New(t.TempDir(), entity.DefaultLimits)
	require.NoError(t, err)
	require.NoError(t, st.Init())
	t.Cleanup(func() { _ = st.Shutdown() })
	return New(st, entity.DefaultLimits)
}

func TestGetSharesOneInMemoryCopy(t *testing.T) {
	c := newTestCache(t)
	e, err := c.NewEntity(entity.KindRoom, 1, id.Identifier{}, "Atrium")
	require.NoError(t, err)
	defer c.Release(e.ID())

	a, ok, err := c.Get(e.ID())
	require.NoError(t, err)
	require.True(t, ok)
	defer c.Release(e.ID())

	b, ok, err := c.Get(e.ID())
	require.NoError(t, err)
	require.True(t, ok)
	defer c.Release(e.ID())

	require.Same(t, a, b)
}

func TestGetMissingReturnsFalse(t *testing.T) {
	c := newTestCache(t)
	_, ok, err := c.Get(id.New(1, 999))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInternalDeleteThenPurgeWhenCustodyZero(t *testing.T) {
	c := newTestCache(t)
	e, err := c.NewEntity(entity.KindThing, 1, id.Identifier{}, "Lantern")
	require.NoError(t, err)
	c.Release(e.ID()) // release the handle NewEntity's own bookkeeping left outstanding

	require.NoError(t, c.InternalDeleteEntity(e.ID(), 1))

	_, ok, err := c.Get(e.ID())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInternalDeleteDefersPurgeWhileHandleOutstanding(t *testing.T) {
	c := newTestCache(t)
	e, err := c.NewEntity(entity.KindThing, 1, id.Identifier{}, "Lantern")
	require.NoError(t, err)
	// NewEntity doesn't itself acquire a tracked handle; take one explicitly
	// to simulate an in-flight caller holding the entity.
	held, ok, err := c.Get(e.ID())
	require.NoError(t, err)
	require.True(t, ok)

	err = c.InternalDeleteEntity(e.ID(), 1)
	require.ErrorIs(t, err, entity.ErrIsEntityInUse)

	// still reachable through GetIncludingDeleted since it's tombstoned,
	// not purged
	got, ok, err := c.GetIncludingDeleted(e.ID())
	require.NoError(t, err)
	require.True(t, ok)
	require.Same(t, held, got)
	c.Release(e.ID())
	c.Release(e.ID())

	require.NoError(t, c.Purge(e.ID()))
}

func TestDeleteSiteRemovesAllHandles(t *testing.T) {
	c := newTestCache(t)
	e1, err := c.NewEntity(entity.KindRoom, 4, id.Identifier{}, "Foyer")
	require.NoError(t, err)
	e2, err := c.NewEntity(entity.KindRoom, 4, id.Identifier{}, "Cellar")
	require.NoError(t, err)

	require.NoError(t, c.DeleteSite(4))

	for _, ident := range []id.Identifier{e1.ID(), e2.ID()} {
		_, ok, err := c.Get(ident)
		require.NoError(t, err)
		require.False(t, ok)
	}
}
