package entity

import "github.com/virtworld/entityd/internal/id"

// Entity is implemented by every concrete variant struct (each embedding
// *Header, directly or through an intermediate struct). Generic
// subsystems — the backing store, the cache, the Update Manager — work
// against this interface and the Header it exposes; variant-specific
// getters/setters live on the concrete types only.
type Entity interface {
	ID() id.Identifier
	Kind() Kind
	Lock(token LockToken) error
	Unlock(token LockToken) error
	RLock(token LockToken) error
	RUnlock(token LockToken) error
	Dirty() bool
	ClearDirty()

	// Header returns the shared attribute block, letting generic code
	// (store encode/decode, the Update Manager's remove-all-references
	// pass, the cache) operate uniformly across variants.
	Header() *Header

	// Clone produces a detached copy of this entity under a new identity,
	// for callers (scripted cloning, prefab instantiation) that need an independent copy.
	// References are NOT copied into the new entity's back-ref table;
	// the caller is responsible for re-establishing them if desired.
	Clone(newID id.Identifier, newVersion, newInstance uint32) Entity
}

// cloneHeader deep-copies h's scalar and map fields under a new identity,
// including the outbound refsOut sets, leaving refsIn empty (no other
// entity points at the clone yet) and the journal fresh.
func cloneHeader(h *Header, newID id.Identifier, newVersion, newInstance uint32) *Header {
	h.mu.Lock()
	defer h.mu.Unlock()

	clone := &Header{
		id:                    newID,
		kind:                  h.kind,
		version:               newVersion,
		instance:              newInstance,
		name:                  h.name,
		note:                  h.note,
		registrationName:      h.registrationName,
		registrationCategory:  h.registrationCategory,
		owner:                 h.owner,
		admins:                copyIDSet(h.admins),
		list:                  copyIDSet(h.list),
		created:               h.created,
		updated:               h.updated,
		accessed:              h.accessed,
		accessCount:           h.accessCount,
		flags:                 copyStringSet(h.flags),
		refsOut:               map[FieldTag]map[id.Identifier]struct{}{},
		refsIn:                map[backRefKey]struct{}{},
		limits:                h.limits,
		jrn:                   newJournal(),
	}
	for tag, set := range h.refsOut {
		clone.refsOut[tag] = copyIDSet(set)
	}
	return clone
}

func copyIDSet(src map[id.Identifier]struct{}) map[id.Identifier]struct{} {
	out := make(map[id.Identifier]struct{}, len(src))
	for k := range src {
		out[k] = struct{}{}
	}
	return out
}

func copyStringSet(src map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(src))
	for k := range src {
		out[k] = struct{}{}
	}
	return out
}

func copyStrings(src []string) []string {
	out := make([]string, len(src))
	copy(out, src)
	return out
}

func copyIDs(src []id.Identifier) []id.Identifier {
	out := make([]id.Identifier, len(src))
	copy(out, src)
	return out
}
