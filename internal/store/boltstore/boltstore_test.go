package boltstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/virtworld/entityd/internal/entity"
	"github.com/virtworld/entityd/internal/id"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := New(t.TempDir(), entity.DefaultLimits)
	require.NoError(t, err)
	require.NoError(t, s.Init())
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func TestNewEntityRejectsEmptyName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.NewEntity(entity.KindRoom, 1, id.Identifier{}, "   ")
	require.ErrorIs(t, err, entity.ErrIsNameEmpty)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	owner := id.New(1, 5)
	e, err := s.NewEntity(entity.KindRoom, 1, owner, "Town Square")
	require.NoError(t, err)

	token := entity.NewLockToken()
	room := e.(*entity.Room)
	require.NoError(t, room.Lock(token))
	require.NoError(t, room.SetProperty(token, "color", "blue"))
	require.NoError(t, room.SetNote(token, "a quiet plaza"))
	require.NoError(t, room.Unlock(token))
	require.NoError(t, s.SaveEntity(room))

	loaded, ok, err := s.LoadEntity(e.ID())
	require.NoError(t, err)
	require.True(t, ok)

	loadedRoom, ok := loaded.(*entity.Room)
	require.True(t, ok)
	require.Equal(t, "Town Square", loadedRoom.Name())
	require.Equal(t, "a quiet plaza", loadedRoom.Note())
	color, ok := loadedRoom.Property("color")
	require.True(t, ok)
	require.Equal(t, "blue", color)
	require.Equal(t, owner, loadedRoom.Owner())
}

func TestLoadEntityMissing(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.LoadEntity(id.New(9, 9))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteEntityRejectsWhileInUse(t *testing.T) {
	s := newTestStore(t)
	e, err := s.NewEntity(entity.KindThing, 1, id.Identifier{}, "Rock")
	require.NoError(t, err)

	s.SetCustodyCount(e.ID(), 1)
	err = s.DeleteEntity(e.ID())
	require.ErrorIs(t, err, entity.ErrIsEntityInUse)

	s.SetCustodyCount(e.ID(), 0)
	require.NoError(t, s.DeleteEntity(e.ID()))

	exists, err := s.Exists(e.ID())
	require.NoError(t, err)
	require.False(t, exists)
}

func TestSearchByKindAndNameSubstring(t *testing.T) {
	s := newTestStore(t)
	_, err := s.NewEntity(entity.KindRoom, 3, id.Identifier{}, "Grand Library")
	require.NoError(t, err)
	_, err = s.NewEntity(entity.KindRoom, 3, id.Identifier{}, "Small Closet")
	require.NoError(t, err)
	_, err = s.NewEntity(entity.KindThing, 3, id.Identifier{}, "Library Key")
	require.NoError(t, err)

	rooms, err := s.Search(3, entity.KindRoom, id.Identifier{}, "", false)
	require.NoError(t, err)
	require.Len(t, rooms, 2)

	libraryAny, err := s.Search(3, entity.KindEntity, id.Identifier{}, "library", false)
	require.NoError(t, err)
	require.Len(t, libraryAny, 2)
}

func TestDeleteSiteCascades(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateSite(7, "Testing Grounds"))
	e1, err := s.NewEntity(entity.KindRoom, 7, id.Identifier{}, "Hall")
	require.NoError(t, err)
	e2, err := s.NewEntity(entity.KindRoom, 7, id.Identifier{}, "Vault")
	require.NoError(t, err)

	require.NoError(t, s.DeleteSite(7))

	for _, ident := range []id.Identifier{e1.ID(), e2.ID()} {
		exists, err := s.Exists(ident)
		require.NoError(t, err)
		require.False(t, exists)
	}
	sites, err := s.ListSites()
	require.NoError(t, err)
	require.NotContains(t, sites, uint32(7))
}
