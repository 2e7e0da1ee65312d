package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/virtworld/entityd/internal/entity"
	"github.com/virtworld/entityd/internal/id"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *Registry) {
	t.Helper()
	r := NewRegistry()
	d := NewDispatcher(r)
	d.Start()
	t.Cleanup(d.Stop)
	return d, r
}

func TestSubscriptionReceivesMatchingEventOnly(t *testing.T) {
	d, r := newTestDispatcher(t)

	room := id.New(1, 10)
	other := id.New(1, 11)

	var mu sync.Mutex
	var got []id.Identifier
	done := make(chan struct{}, 1)

	_, err := r.Add(TypeMovement, MovementParams{ToID: room}, func(e Event) {
		mu.Lock()
		got = append(got, e.Movement.Who)
		mu.Unlock()
		done <- struct{}{}
	}, 0)
	require.NoError(t, err)

	d.Publish(Event{Type: TypeMovement, Published: time.Now(), Movement: &Movement{Who: id.New(1, 1), From: other, To: room}})
	d.Publish(Event{Type: TypeMovement, Published: time.Now(), Movement: &Movement{Who: id.New(1, 2), From: other, To: other}})
	d.Publish(Event{Type: TypeMovement, Published: time.Now(), Movement: &Movement{Who: id.New(1, 3), From: room, To: other}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first matching callback")
	}

	select {
	case <-done:
		t.Fatal("a movement that only touches From, not To, should not have matched")
	case <-time.After(100 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []id.Identifier{id.New(1, 1)}, got)
}

func TestCallbackPanicIsRecoveredAndDispatchContinues(t *testing.T) {
	d, r := newTestDispatcher(t)

	source := id.New(1, 1)
	target := id.New(1, 2)

	_, err := r.Add(TypeEmit, EmitParams{Source: source}, func(Event) {
		panic("boom")
	}, 0)
	require.NoError(t, err)

	calledAfter := make(chan struct{}, 1)
	_, err = r.Add(TypeEmit, EmitParams{Source: source}, func(Event) {
		calledAfter <- struct{}{}
	}, 0)
	require.NoError(t, err)

	d.Publish(Event{Type: TypeEmit, Published: time.Now(), Emit: &Emit{Source: source, Target: target, Text: "hi"}})

	select {
	case <-calledAfter:
	case <-time.After(time.Second):
		t.Fatal("dispatcher should keep running matching subscriptions after a panic")
	}
}

func TestEmitExcludeSuppressesSelfEmit(t *testing.T) {
	d, r := newTestDispatcher(t)

	room := id.New(1, 5)
	speaker := id.New(1, 6)

	fired := make(chan struct{}, 1)
	_, err := r.Add(TypeEmit, EmitParams{Target: room, MyID: speaker}, func(Event) {
		fired <- struct{}{}
	}, 0)
	require.NoError(t, err)

	d.Publish(Event{Type: TypeEmit, Published: time.Now(), Emit: &Emit{Source: speaker, Target: room, Text: "hi", Exclude: speaker}})
	select {
	case <-fired:
		t.Fatal("subscriber whose my-id matches the event's exclude should not be notified")
	case <-time.After(100 * time.Millisecond):
	}

	other := id.New(1, 7)
	d.Publish(Event{Type: TypeEmit, Published: time.Now(), Emit: &Emit{Source: other, Target: room, Text: "hi", Exclude: other}})
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("an emit excluding someone else should still notify this subscriber")
	}
}

func TestConnectionSourceMatchIsCaseInsensitiveSubstring(t *testing.T) {
	d, r := newTestDispatcher(t)

	fired := make(chan string, 2)
	_, err := r.Add(TypeConnection, ConnectionParams{Source: "myisp.com"}, func(e Event) {
		fired <- e.Connection.Source
	}, 0)
	require.NoError(t, err)

	who := id.New(1, 1)
	d.Publish(Event{Type: TypeConnection, Published: time.Now(), Connection: &Connection{Who: who, Action: ConnectionConnect, Source: "user42.MyISP.com"}})
	d.Publish(Event{Type: TypeConnection, Published: time.Now(), Connection: &Connection{Who: who, Action: ConnectionConnect, Source: "evil.example.net"}})

	select {
	case src := <-fired:
		require.Equal(t, "user42.MyISP.com", src)
	case <-time.After(time.Second):
		t.Fatal("expected the case-insensitive substring match to fire")
	}
	select {
	case <-fired:
		t.Fatal("non-matching source should not have fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEntityChangedSubscriptionMatchesByEntityIDListAndType(t *testing.T) {
	d, r := newTestDispatcher(t)

	a := id.New(1, 2)
	b := id.New(1, 3)
	c := id.New(1, 4)

	fired := make(chan id.Identifier, 1)
	_, err := r.Add(TypeEntityChanged, EntityChangedParams{
		AnyAction:   true,
		EntityIDs:   []id.Identifier{a, b},
		EntityTypes: map[entity.Kind]struct{}{entity.KindPlayer: {}},
	}, func(e Event) {
		fired <- e.EntityChanged.ID
	}, 0)
	require.NoError(t, err)

	// (1,3), Player -> match.
	d.Publish(Event{Type: TypeEntityChanged, Published: time.Now(), EntityChanged: &EntityChanged{ID: b, Kind: entity.KindPlayer, Action: entity.EntityUpdated}})
	select {
	case got := <-fired:
		require.Equal(t, b, got)
	case <-time.After(time.Second):
		t.Fatal("expected (1,3) Player to match")
	}

	// (1,4), Player -> no match (not in entity-id list).
	d.Publish(Event{Type: TypeEntityChanged, Published: time.Now(), EntityChanged: &EntityChanged{ID: c, Kind: entity.KindPlayer, Action: entity.EntityUpdated}})
	select {
	case <-fired:
		t.Fatal("(1,4) is not in the entity-id filter, should not match")
	case <-time.After(100 * time.Millisecond):
	}

	// (1,2), Room -> no match (wrong type).
	d.Publish(Event{Type: TypeEntityChanged, Published: time.Now(), EntityChanged: &EntityChanged{ID: a, Kind: entity.KindRoom, Action: entity.EntityUpdated}})
	select {
	case <-fired:
		t.Fatal("(1,2) as a Room should not match the Player type filter")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEntityDeletedAutoUnsubscribesWatchers(t *testing.T) {
	d, r := newTestDispatcher(t)

	target := id.New(2, 5)
	fired := make(chan struct{}, 1)
	subID, err := r.Add(TypeEntityChanged, EntityChangedParams{AnyAction: true, EntityIDs: []id.Identifier{target}}, func(Event) {
		fired <- struct{}{}
	}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, r.Count(TypeEntityChanged))

	d.EntityDeleted(target)
	select {
	case <-fired:
		// The deletion itself is a final EntityChanged(action=deleted)
		// delivered to existing watchers before they are unsubscribed.
	case <-time.After(time.Second):
		t.Fatal("expected the deletion's own EntityChanged(action=deleted) to be delivered")
	}
	require.Eventually(t, func() bool {
		return r.Count(TypeEntityChanged) == 0
	}, time.Second, 10*time.Millisecond)

	d.Publish(Event{Type: TypeEntityChanged, Published: time.Now(), EntityChanged: &EntityChanged{ID: target, Action: entity.EntityUpdated}})
	select {
	case <-fired:
		t.Fatal("unsubscribed watcher should not have fired")
	case <-time.After(100 * time.Millisecond):
	}

	r.Remove(subID) // no-op, already gone; exercises the already-removed branch
}

func TestProcessCompletionAutoUnsubscribes(t *testing.T) {
	d, r := newTestDispatcher(t)

	const pid = 77
	_, err := r.Add(TypeProcessExecution, ProcessExecutionParams{PID: pid}, func(Event) {}, pid)
	require.NoError(t, err)
	require.Equal(t, 1, r.Count(TypeProcessExecution))

	d.Publish(Event{Type: TypeProcessExecution, Published: time.Now(), ProcessExecution: &ProcessExecution{PID: pid, State: ProcessCompleted}})

	require.Eventually(t, func() bool {
		return r.Count(TypeProcessExecution) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSiteDeletedAutoUnsubscribesWatchers(t *testing.T) {
	d, r := newTestDispatcher(t)

	const site = uint32(9)
	fired := make(chan struct{}, 1)
	_, err := r.Add(TypeConnection, ConnectionParams{SiteIDs: []uint32{site}}, func(Event) {
		fired <- struct{}{}
	}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, r.Count(TypeConnection))

	d.Publish(Event{Type: TypeSite, Published: time.Now(), Site: &Site{Site: site, Deleted: true}})

	require.Eventually(t, func() bool {
		return r.Count(TypeConnection) == 0
	}, time.Second, 10*time.Millisecond)

	d.Publish(Event{Type: TypeConnection, Published: time.Now(), Connection: &Connection{Who: id.New(site, 1), Action: ConnectionConnect}})
	select {
	case <-fired:
		t.Fatal("unsubscribed watcher should not have fired after its site was deleted")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegistryAddRejectsEmptyFilter(t *testing.T) {
	r := NewRegistry()
	_, err := r.Add(TypeMovement, MovementParams{}, func(Event) {}, 0)
	require.Error(t, err)
}

func TestRegistryAddRejectsMutuallyExclusiveFilters(t *testing.T) {
	r := NewRegistry()
	_, err := r.Add(TypeConnection, ConnectionParams{
		EntityIDs: []id.Identifier{id.New(1, 1)},
		SiteIDs:   []uint32{1},
	}, func(Event) {}, 0)
	require.ErrorIs(t, err, errMutuallyExclusive)
}
