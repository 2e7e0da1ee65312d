package events

import (
	"time"

	"github.com/virtworld/entityd/internal/entity"
	"github.com/virtworld/entityd/internal/id"
)

// EntityListener adapts a Dispatcher into an entity.Listener, so the
// entity package's outermost-unlock fan-out (and the Update Manager's
// delete/site-delete notifications) land on the event bus as ordinary
// published events. Register it once at startup with
// entity.RegisterListener.
type EntityListener struct {
	dispatcher *Dispatcher
}

// NewEntityListener builds a listener that republishes onto d.
func NewEntityListener(d *Dispatcher) *EntityListener {
	return &EntityListener{dispatcher: d}
}

// EntityChanged implements entity.Listener, republishing the merged
// journal as a TypeEntityChanged event: action tags created vs. updated,
// and the flag/id deltas are flattened out of FlagDelta/IDDelta into the
// plain added/removed slices EntityChangedParams filters against.
func (l *EntityListener) EntityChanged(e entity.Entity, action entity.EntityAction, changed []entity.FieldTag, flags entity.FlagDelta, ids map[entity.FieldTag]entity.IDDelta) {
	l.dispatcher.Publish(Event{
		Type:      TypeEntityChanged,
		Published: time.Now(),
		EntityChanged: &EntityChanged{
			ID:           e.ID(),
			Kind:         e.Kind(),
			Owner:        e.Header().Owner(),
			Action:       action,
			Changed:      changed,
			FlagsAdded:   keysOf(flags.Added),
			FlagsRemoved: keysOf(flags.Removed),
			IDsAdded:     idKeysOf(ids, true),
			IDsRemoved:   idKeysOf(ids, false),
		},
	})
}

func keysOf(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// idKeysOf flattens every field's IDDelta into one added or removed
// slice, since EntityChangedParams matches "id added/removed in any
// field" rather than per-field.
func idKeysOf(ids map[entity.FieldTag]entity.IDDelta, added bool) []id.Identifier {
	var out []id.Identifier
	for _, delta := range ids {
		set := delta.Removed
		if added {
			set = delta.Added
		}
		for target := range set {
			out = append(out, target)
		}
	}
	return out
}

// EntitiesDeleted implements entity.Listener, publishing a terminal
// EntityChanged (action=deleted) for each id rather than a dedicated
// shape — subscribers that only filter on action=deleted don't need a
// separate event type, and the dispatcher's post-processing rule
// unsubscribes every watcher of a deleted entity from that one event.
func (l *EntityListener) EntitiesDeleted(ids []id.Identifier) {
	for _, ident := range ids {
		l.dispatcher.EntityDeleted(ident)
	}
}

// SiteDeleted implements entity.Listener, republishing as a
// TypeSite event with Deleted set.
func (l *EntityListener) SiteDeleted(site uint32) {
	l.dispatcher.Publish(Event{
		Type:      TypeSite,
		Published: time.Now(),
		Site:      &Site{Site: site, Deleted: true},
	})
}
