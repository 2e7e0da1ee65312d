package entity

import (
	"sort"

	"github.com/virtworld/entityd/internal/id"
)

// FlagDelta is the (removed, added) pair accumulated for the flag set since
// the last fan-out. Adding a flag already in removed cancels it out of
// removed; removing a flag already in added cancels it out of added.
type FlagDelta struct {
	Removed map[string]struct{}
	Added   map[string]struct{}
}

func newFlagDelta() FlagDelta {
	return FlagDelta{Removed: map[string]struct{}{}, Added: map[string]struct{}{}}
}

func (d *FlagDelta) recordAdd(flag string) {
	if _, wasRemoved := d.Removed[flag]; wasRemoved {
		delete(d.Removed, flag)
		return
	}
	d.Added[flag] = struct{}{}
}

func (d *FlagDelta) recordRemove(flag string) {
	if _, wasAdded := d.Added[flag]; wasAdded {
		delete(d.Added, flag)
		return
	}
	d.Removed[flag] = struct{}{}
}

func (d FlagDelta) isEmpty() bool {
	return len(d.Removed) == 0 && len(d.Added) == 0
}

// IDDelta is the per-field (removed, added) pair for id-reference fields.
// For single-valued id fields the Added set collapses to the latest value
// (recordAdd on a single-valued delta keeps it to size <= 1); the
// first-seen removal is retained
// even if later additions occur.
type IDDelta struct {
	Removed map[id.Identifier]struct{}
	Added   map[id.Identifier]struct{}
	single  bool
}

func newIDDelta(single bool) IDDelta {
	return IDDelta{Removed: map[id.Identifier]struct{}{}, Added: map[id.Identifier]struct{}{}, single: single}
}

func (d *IDDelta) recordAdd(target id.Identifier) {
	if _, wasRemoved := d.Removed[target]; wasRemoved {
		delete(d.Removed, target)
		if !d.single {
			return
		}
	}
	if d.single {
		for existing := range d.Added {
			if existing != target {
				delete(d.Added, existing)
			}
		}
	}
	d.Added[target] = struct{}{}
}

func (d *IDDelta) recordRemove(target id.Identifier) {
	if _, wasAdded := d.Added[target]; wasAdded {
		delete(d.Added, target)
		return
	}
	d.Removed[target] = struct{}{}
}

func (d IDDelta) isEmpty() bool {
	return len(d.Removed) == 0 && len(d.Added) == 0
}

// journal accumulates three deltas: changed-field set, flag delta, and
// per-field id deltas, plus the dirty bit. Each outermost-unlock fan-out
// hands the deltas to the listeners and resets them; the dirty bit
// survives fan-outs and is reset only by ClearDirty, which also empties
// the deltas.
type journal struct {
	changed map[FieldTag]struct{}
	flags   FlagDelta
	ids     map[FieldTag]IDDelta
	dirty   bool
}

func newJournal() journal {
	return journal{
		changed: map[FieldTag]struct{}{},
		flags:   newFlagDelta(),
		ids:     map[FieldTag]IDDelta{},
	}
}

func (j *journal) markChanged(tag FieldTag) {
	j.changed[tag] = struct{}{}
	j.dirty = true
}

func (j *journal) recordIDAdd(tag FieldTag, single bool, target id.Identifier) {
	d, ok := j.ids[tag]
	if !ok {
		d = newIDDelta(single)
	}
	d.recordAdd(target)
	j.ids[tag] = d
	j.markChanged(tag)
}

func (j *journal) recordIDRemove(tag FieldTag, single bool, target id.Identifier) {
	d, ok := j.ids[tag]
	if !ok {
		d = newIDDelta(single)
	}
	d.recordRemove(target)
	j.ids[tag] = d
	j.markChanged(tag)
}

// changedFields returns the currently-accumulated changed-field set as a
// stable-order slice.
func (j *journal) changedFields() []FieldTag {
	out := make([]FieldTag, 0, len(j.changed))
	for tag := range j.changed {
		out = append(out, tag)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

func (j *journal) clear() {
	j.changed = map[FieldTag]struct{}{}
	j.flags = newFlagDelta()
	j.ids = map[FieldTag]IDDelta{}
	j.dirty = false
}

// onlyAccessFieldsChanged reports whether the changed-field set is a
// subset of {accessed-timestamp, access-count}, which must not advance
// updated-timestamp.
func (j *journal) onlyAccessFieldsChanged() bool {
	if len(j.changed) == 0 {
		return true
	}
	for tag := range j.changed {
		if tag != FieldAccessedTimestamp && tag != FieldAccessCount {
			return false
		}
	}
	return true
}
