package entity

import (
	"testing"
	"time"

	"github.com/virtworld/entityd/internal/id"
)

type recordingListener struct {
	calls   int
	last    []FieldTag
	actions []EntityAction
}

func (r *recordingListener) EntityChanged(e Entity, action EntityAction, changed []FieldTag, flags FlagDelta, ids map[FieldTag]IDDelta) {
	r.calls++
	r.last = changed
	r.actions = append(r.actions, action)
}
func (r *recordingListener) EntitiesDeleted(ids []id.Identifier) {}
func (r *recordingListener) SiteDeleted(site uint32)              {}

func newTestRoom(t *testing.T) *Room {
	t.Helper()
	h := NewHeader(id.New(1, 10), KindRoom, id.Identifier{}, "Test Room", DefaultLimits, time.Now())
	return NewRoom(h)
}

func TestLockReentrancy(t *testing.T) {
	room := newTestRoom(t)
	token := NewLockToken()

	if err := room.Lock(token); err != nil {
		t.Fatalf("outer Lock failed: %v", err)
	}
	if err := room.SetNote(token, "first"); err != nil {
		t.Fatalf("SetNote failed: %v", err)
	}
	if err := room.Lock(token); err != nil {
		t.Fatalf("reentrant Lock failed: %v", err)
	}
	if err := room.RLock(token); err != nil {
		t.Fatalf("RLock from writer-holder failed: %v", err)
	}
	if err := room.RUnlock(token); err != nil {
		t.Fatalf("RUnlock failed: %v", err)
	}
	if err := room.Unlock(token); err != nil {
		t.Fatalf("inner Unlock failed: %v", err)
	}

	listener := &recordingListener{}
	RegisterListener(listener)
	defer ResetListenersForTest()

	if err := room.Unlock(token); err != nil {
		t.Fatalf("outer Unlock failed: %v", err)
	}
	if listener.calls != 1 {
		t.Errorf("expected fan-out exactly once at outermost release, got %d", listener.calls)
	}
}

func TestFanOutCreateReportsCreatedThenUpdated(t *testing.T) {
	room := newTestRoom(t)
	listener := &recordingListener{}
	RegisterListener(listener)
	defer ResetListenersForTest()

	room.Header().FanOutCreate()
	if listener.calls != 1 {
		t.Fatalf("expected exactly one fan-out from FanOutCreate, got %d", listener.calls)
	}
	if listener.actions[0] != EntityCreated {
		t.Errorf("expected EntityCreated on first fan-out, got %v", listener.actions[0])
	}
	if !room.Dirty() {
		t.Error("a freshly created entity should be dirty")
	}

	token := NewLockToken()
	_ = room.Lock(token)
	_ = room.SetNote(token, "settled in")
	_ = room.Unlock(token)

	if listener.calls != 2 {
		t.Fatalf("expected a second fan-out from the follow-up mutation, got %d", listener.calls)
	}
	if listener.actions[1] != EntityUpdated {
		t.Errorf("expected EntityUpdated on the second fan-out, got %v", listener.actions[1])
	}
}

func TestJournalCancellation(t *testing.T) {
	room := newTestRoom(t)
	token := NewLockToken()
	a := id.New(1, 20)

	if err := room.Lock(token); err != nil {
		t.Fatal(err)
	}
	if err := room.AddLinkedProgram(token, a); err != nil {
		t.Fatal(err)
	}
	if err := room.RemoveLinkedProgram(token, a); err != nil {
		t.Fatal(err)
	}
	delta := room.jrn.ids[FieldLinkedPrograms]
	if !delta.isEmpty() {
		t.Errorf("expected add-then-remove of the same id to cancel, got %+v", delta)
	}
	_ = room.Unlock(token)
}

func TestFlagAddIsInsertIfAbsent(t *testing.T) {
	room := newTestRoom(t)
	token := NewLockToken()
	_ = room.Lock(token)
	defer room.Unlock(token)

	if room.HasFlag("dark") {
		t.Fatal("flag should not be set yet")
	}
	if err := room.AddFlag(token, "dark"); err != nil {
		t.Fatal(err)
	}
	if !room.HasFlag("dark") {
		t.Error("AddFlag should insert when absent")
	}
	// Pure query: HasFlag must not remove the flag as a side effect.
	if !room.HasFlag("dark") {
		t.Error("HasFlag must be idempotent (pure query, not a remove-and-check)")
	}
}

func TestUpdatedTimestampRule(t *testing.T) {
	room := newTestRoom(t)
	token := NewLockToken()
	initialUpdated := room.Updated()

	_ = room.Lock(token)
	_ = room.Touch(token)
	_ = room.Unlock(token)

	if !room.Updated().Equal(initialUpdated) {
		t.Error("touching only accessed-timestamp/access-count should not advance updated-timestamp")
	}

	_ = room.Lock(token)
	_ = room.SetNote(token, "changed")
	_ = room.Unlock(token)

	if room.Updated().Equal(initialUpdated) {
		t.Error("changing any other field should advance updated-timestamp")
	}
}

func TestWrongLockRejected(t *testing.T) {
	room := newTestRoom(t)
	token := NewLockToken()
	other := NewLockToken()

	_ = room.Lock(token)
	defer room.Unlock(token)

	err := room.SetNote(other, "nope")
	if err == nil {
		t.Fatal("expected wrong-lock error when caller doesn't hold the exclusive lock")
	}
	se, ok := err.(*StoreError)
	if !ok || se.Kind != ErrWrongLock {
		t.Errorf("expected ErrWrongLock, got %v", err)
	}
}

func TestNameEmptyRejected(t *testing.T) {
	room := newTestRoom(t)
	token := NewLockToken()
	_ = room.Lock(token)
	defer room.Unlock(token)

	err := room.SetName(token, "")
	if err == nil {
		t.Fatal("expected name-empty error")
	}
	if room.Name() == "" {
		t.Error("rejected mutation must leave the entity untouched")
	}
}

func TestSetOwnerSettlesOnLastValueSet(t *testing.T) {
	thing := NewThing(NewHeader(id.New(1, 6), KindThing, id.Identifier{}, "Rock", DefaultLimits, time.Now()))
	ownerA := id.New(1, 5)
	ownerB := id.New(1, 7)

	token := NewLockToken()
	_ = thing.Lock(token)
	if err := thing.Header().SetOwner(token, ownerA); err != nil {
		t.Fatal(err)
	}
	if err := thing.Header().SetOwner(token, ownerB); err != nil {
		t.Fatal(err)
	}
	_ = thing.Unlock(token)

	// Bidirectional back-reference bookkeeping across entities is the
	// Update Manager's responsibility (driven off this id-delta via its
	// EntityChanged listener callback), not Header's — see
	// updatemgr_test.go's equivalent back-ref test.
	if thing.Owner() != ownerB {
		t.Errorf("expected owner to settle on the last value set, got %v", thing.Owner())
	}
}
