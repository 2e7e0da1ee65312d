package entity

import (
	"sync"
	"time"

	"github.com/virtworld/entityd/internal/id"
	"github.com/virtworld/entityd/pkg/metrics"
)

// Limits bounds entity names and freeform strings. Supplied by the config
// layer (db.limits_entity_name / db.limits_string_size) and threaded into
// every Header at construction time.
type Limits struct {
	MaxNameChars   int
	MaxStringChars int
}

// DefaultLimits mirrors the config layer's default field-size limits.
var DefaultLimits = Limits{MaxNameChars: 80, MaxStringChars: 4000}

// backRefKey is the reverse-index entry on a target entity: which field of
// which referring entity points here.
type backRefKey struct {
	from id.Identifier
	tag  FieldTag
}

// Header holds every attribute and mechanism common to all entity variants:
// identity, naming, security, audit timestamps, flags, the back-reference
// table, the reentrant lock, and the journal. Variant structs embed *Header
// (by pointer, since it carries locks and must never be copied) and get
// its methods promoted, satisfying the Entity interface without a class
// hierarchy.
type Header struct {
	mu sync.Mutex // protects every field below except the lock sidecar

	id      id.Identifier
	kind    Kind
	version uint32
	instance uint32

	name                string
	note                string
	registrationName    string
	registrationCategory string

	owner  id.Identifier
	admins map[id.Identifier]struct{}
	list   map[id.Identifier]struct{}

	created  time.Time
	updated  time.Time
	accessed time.Time
	accessCount uint64

	flags map[string]struct{}

	// refsOut: field-tag -> set of ids recorded through AddRef/RemoveRef.
	// The variant field setters (SetContainedBy, SetHome, AddTarget, ...)
	// store their targets on the variant struct only and do not update
	// this map.
	refsOut map[FieldTag]map[id.Identifier]struct{}
	// refsIn: reverse index, referring-id+field -> present.
	refsIn map[backRefKey]struct{}

	deleteBatchID uint64
	deleted       bool

	restoreMode bool

	// fannedOutOnce distinguishes the very first fan-out (reported to
	// listeners as EntityCreated) from every subsequent one (EntityUpdated).
	fannedOutOnce bool

	limits Limits

	lock rwlock
	jrn  journal

	// self is the outer Entity value (the variant struct embedding this
	// Header), bound once by the variant constructor so fan-out can pass
	// listeners the concrete entity rather than the bare Header.
	self Entity
}

// bindSelf records the outer Entity value. Variant constructors call this
// immediately after building the struct.
func (h *Header) bindSelf(e Entity) {
	h.self = e
}

// NewHeader constructs a Header for a freshly-allocated entity. now is
// passed in rather than read from time.Now() at every call site so tests
// can control timestamps precisely.
func NewHeader(ident id.Identifier, kind Kind, owner id.Identifier, name string, limits Limits, now time.Time) *Header {
	h := &Header{
		id:       ident,
		kind:     kind,
		version:  1,
		instance: 1,
		name:     name,
		owner:    owner,
		admins:   map[id.Identifier]struct{}{},
		list:     map[id.Identifier]struct{}{},
		created:  now,
		updated:  now,
		accessed: now,
		accessCount: 1,
		flags:    map[string]struct{}{},
		refsOut:  map[FieldTag]map[id.Identifier]struct{}{},
		refsIn:   map[backRefKey]struct{}{},
		limits:   limits,
		jrn:      newJournal(),
	}
	return h
}

func (h *Header) ID() id.Identifier { return h.id }
func (h *Header) Kind() Kind        { return h.kind }
func (h *Header) Header() *Header   { return h }

// --- Locking -----------------------------------------------------------

func (h *Header) Lock(token LockToken) error    { return h.lock.lock(token) }
func (h *Header) Unlock(token LockToken) error  { return h.unlockAndFanOut(token) }
func (h *Header) RLock(token LockToken) error   { return h.lock.rlock(token) }
func (h *Header) RUnlock(token LockToken) error { return h.lock.runlock(token) }

// checkWriteAccess enforces the exclusive-lock contract, except while
// restore mode is active: restore mode disables both locking and
// fan-out together rather than being a distinct token subtype.
func (h *Header) checkWriteAccess(token LockToken) error {
	if h.restoreMode {
		return nil
	}
	if !h.lock.holds(token) {
		return newErr(ErrWrongLock, "operation requires the exclusive lock")
	}
	return nil
}

func (h *Header) unlockAndFanOut(token LockToken) error {
	outermost, err := h.lock.unlockReportOutermost(token)
	if err != nil {
		return err
	}
	if outermost && !h.restoreMode {
		h.fanOut()
	}
	return nil
}

// fanOut advances the updated-timestamp unless only access fields
// changed, then invokes every registered listener once with the merged
// journal, then clears the deltas (dirty bit survives until ClearDirty).
func (h *Header) fanOut() {
	h.mu.Lock()
	if len(h.jrn.changed) == 0 {
		h.mu.Unlock()
		return
	}
	if !h.jrn.onlyAccessFieldsChanged() {
		h.updated = time.Now()
		h.jrn.markChanged(FieldUpdatedTimestamp)
	}
	action := EntityUpdated
	if !h.fannedOutOnce {
		action = EntityCreated
		h.fannedOutOnce = true
	}
	changed := h.jrn.changedFields()
	flags := h.jrn.flags
	ids := make(map[FieldTag]IDDelta, len(h.jrn.ids))
	for k, v := range h.jrn.ids {
		ids[k] = v
	}
	h.jrn.flags = newFlagDelta()
	h.jrn.ids = map[FieldTag]IDDelta{}
	h.jrn.changed = map[FieldTag]struct{}{}
	h.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.EntityFanoutDuration)

	for _, l := range snapshotListeners() {
		l.EntityChanged(h.self, action, changed, flags, ids)
	}
}

// FanOutCreate marks the initial field set dirty and fans out once with
// action = EntityCreated. The backing store calls this exactly once,
// immediately after constructing a brand-new entity and binding its
// outer variant struct: creation has no caller-held lock to release, so
// it can't ride the ordinary Lock/Unlock cycle an in-place mutation
// uses to trigger fanOut.
func (h *Header) FanOutCreate() {
	if h.restoreMode {
		return
	}
	h.mu.Lock()
	for _, tag := range []FieldTag{FieldName, FieldOwner, FieldCreatedTimestamp, FieldAccessedTimestamp, FieldAccessCount, FieldVersion, FieldInstance} {
		h.jrn.markChanged(tag)
	}
	h.mu.Unlock()
	h.fanOut()
}

// MarkHydrated records that this Header was reconstructed from durable
// storage rather than freshly created, so the first real mutation after
// load reports EntityUpdated rather than EntityCreated. Called by the
// backing store's decode path once hydration finishes.
func (h *Header) MarkHydrated() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fannedOutOnce = true
}

// --- Dirty / restore mode -----------------------------------------------

func (h *Header) Dirty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.jrn.dirty
}

func (h *Header) ClearDirty() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jrn.clear()
}

// SetRestoreMode enables or disables restore mode: a first-class flag
// rather than a distinct "NoLockToken" type. While enabled, mutators skip
// the exclusive-lock check (so no lock has to be taken) and fan-out never
// fires; Lock/Unlock themselves still work as usual. Disabling restore mode
// is meant to be one-way in production code (callers should not
// re-enable after disabling); this setter does not itself enforce
// one-wayness beyond the convention.
func (h *Header) SetRestoreMode(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.restoreMode = on
}

func (h *Header) RestoreMode() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.restoreMode
}

// --- Naming & security ---------------------------------------------------

func (h *Header) Name() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.name
}

func (h *Header) SetName(token LockToken, name string) error {
	if err := h.checkWriteAccess(token); err != nil {
		return err
	}
	if name == "" {
		return newErr(ErrNameEmpty, "entity name cannot be empty")
	}
	runes := []rune(name)
	if len(runes) > h.limits.MaxNameChars {
		return newErr(ErrSizeExceeded, "name exceeds %d characters", h.limits.MaxNameChars)
	}
	h.mu.Lock()
	h.name = name
	h.jrn.markChanged(FieldName)
	h.mu.Unlock()
	return nil
}

func (h *Header) boundedStringSet(token LockToken, tag FieldTag, dst *string, value string) error {
	if err := h.checkWriteAccess(token); err != nil {
		return err
	}
	if len([]rune(value)) > h.limits.MaxStringChars {
		return newErr(ErrSizeExceeded, "field %v exceeds %d characters", tag, h.limits.MaxStringChars)
	}
	h.mu.Lock()
	*dst = value
	h.jrn.markChanged(tag)
	h.mu.Unlock()
	return nil
}

func (h *Header) Note() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.note
}

func (h *Header) SetNote(token LockToken, note string) error {
	return h.boundedStringSet(token, FieldNote, &h.note, note)
}

func (h *Header) RegistrationName() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registrationName
}

func (h *Header) SetRegistrationName(token LockToken, name string) error {
	return h.boundedStringSet(token, FieldRegistrationName, &h.registrationName, name)
}

func (h *Header) RegistrationCategory() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registrationCategory
}

func (h *Header) SetRegistrationCategory(token LockToken, cat string) error {
	return h.boundedStringSet(token, FieldRegistrationCategory, &h.registrationCategory, cat)
}

func (h *Header) Owner() id.Identifier {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.owner
}

// SetOwner updates the owner single-valued reference field. Like every
// other id-reference setter, it only journals the add/remove: the
// Update Manager's EntityChanged listener reads the merged id-delta off
// the next fan-out and enqueues the matching back-reference bookkeeping
// on the old/new owner asynchronously, rather than this call reaching
// across to another entity's Header directly.
func (h *Header) SetOwner(token LockToken, newOwner id.Identifier) error {
	if err := h.checkWriteAccess(token); err != nil {
		return err
	}
	h.mu.Lock()
	old := h.owner
	if old == newOwner {
		h.mu.Unlock()
		return nil
	}
	h.owner = newOwner
	h.jrn.recordIDAdd(FieldOwner, true, newOwner)
	if !old.IsDefault() {
		h.jrn.recordIDRemove(FieldOwner, true, old)
	}
	h.mu.Unlock()
	return nil
}

func (h *Header) Admins() []id.Identifier {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]id.Identifier, 0, len(h.admins))
	for a := range h.admins {
		out = append(out, a)
	}
	return out
}

func (h *Header) AddAdmin(token LockToken, who id.Identifier) error {
	if err := h.checkWriteAccess(token); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.admins[who]; ok {
		return nil
	}
	h.admins[who] = struct{}{}
	h.jrn.recordIDAdd(FieldAdmins, false, who)
	return nil
}

func (h *Header) RemoveAdmin(token LockToken, who id.Identifier) error {
	if err := h.checkWriteAccess(token); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.admins[who]; !ok {
		return nil
	}
	delete(h.admins, who)
	h.jrn.recordIDRemove(FieldAdmins, false, who)
	return nil
}

func (h *Header) SecurityList() []id.Identifier {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]id.Identifier, 0, len(h.list))
	for a := range h.list {
		out = append(out, a)
	}
	return out
}

func (h *Header) AddToList(token LockToken, who id.Identifier) error {
	if err := h.checkWriteAccess(token); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.list[who]; ok {
		return nil
	}
	h.list[who] = struct{}{}
	h.jrn.recordIDAdd(FieldSecurityList, false, who)
	return nil
}

func (h *Header) RemoveFromList(token LockToken, who id.Identifier) error {
	if err := h.checkWriteAccess(token); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.list[who]; !ok {
		return nil
	}
	delete(h.list, who)
	h.jrn.recordIDRemove(FieldSecurityList, false, who)
	return nil
}

// --- Audit ---------------------------------------------------------------

func (h *Header) Created() time.Time  { h.mu.Lock(); defer h.mu.Unlock(); return h.created }
func (h *Header) Updated() time.Time  { h.mu.Lock(); defer h.mu.Unlock(); return h.updated }
func (h *Header) Accessed() time.Time { h.mu.Lock(); defer h.mu.Unlock(); return h.accessed }
func (h *Header) AccessCount() uint64 { h.mu.Lock(); defer h.mu.Unlock(); return h.accessCount }
func (h *Header) Version() uint32     { h.mu.Lock(); defer h.mu.Unlock(); return h.version }
func (h *Header) Instance() uint32    { h.mu.Lock(); defer h.mu.Unlock(); return h.instance }

// Touch records an access: advances accessed-timestamp and saturating
// access-count without advancing updated-timestamp.
func (h *Header) Touch(token LockToken) error {
	if err := h.checkWriteAccess(token); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accessed = time.Now()
	if h.accessCount < ^uint64(0) {
		h.accessCount++
	}
	h.jrn.markChanged(FieldAccessedTimestamp)
	h.jrn.markChanged(FieldAccessCount)
	return nil
}

// --- Flags -----------------------------------------------------------

// AddFlag implements "insert if absent": it inserts unconditionally
// when the flag is absent and is a no-op when it's already set.
func (h *Header) AddFlag(token LockToken, flag string) error {
	if err := h.checkWriteAccess(token); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.flags[flag]; ok {
		return nil
	}
	h.flags[flag] = struct{}{}
	h.jrn.flags.recordAdd(flag)
	h.jrn.markChanged(FieldFlags)
	return nil
}

func (h *Header) RemoveFlag(token LockToken, flag string) error {
	if err := h.checkWriteAccess(token); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.flags[flag]; !ok {
		return nil
	}
	delete(h.flags, flag)
	h.jrn.flags.recordRemove(flag)
	h.jrn.markChanged(FieldFlags)
	return nil
}

// HasFlag is a pure query and never mutates state.
func (h *Header) HasFlag(flag string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.flags[flag]
	return ok
}

func (h *Header) Flags() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.flags))
	for f := range h.flags {
		out = append(out, f)
	}
	return out
}

// --- References -----------------------------------------------------

// AddRef records that this entity (as the referring side) points at
// target via field tag. Call site is responsible for calling AddBackRef
// on the target (typically via a store/cache lookup) rather than
// locking both entities at once.
func (h *Header) AddRef(token LockToken, tag FieldTag, target id.Identifier, single bool) error {
	if !ValidFieldTag(tag) {
		return newErr(ErrOutOfRange, "field tag %v is out of range", tag)
	}
	if err := h.checkWriteAccess(token); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.refsOut[tag]
	if !ok {
		set = map[id.Identifier]struct{}{}
		h.refsOut[tag] = set
	}
	if single {
		for existing := range set {
			delete(set, existing)
		}
	}
	set[target] = struct{}{}
	h.jrn.recordIDAdd(tag, single, target)
	return nil
}

func (h *Header) RemoveRef(token LockToken, tag FieldTag, target id.Identifier, single bool) error {
	if !ValidFieldTag(tag) {
		return newErr(ErrOutOfRange, "field tag %v is out of range", tag)
	}
	if err := h.checkWriteAccess(token); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.refsOut[tag]; ok {
		delete(set, target)
	}
	h.jrn.recordIDRemove(tag, single, target)
	return nil
}

// RefsByField returns the current outbound targets for tag.
func (h *Header) RefsByField(tag FieldTag) []id.Identifier {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.refsOut[tag]
	out := make([]id.Identifier, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}

// AddBackRef records an inbound reference on this entity (it is the
// target). Exclusive-lock-free by design: back-ref bookkeeping is driven
// by the Update Manager's immediate-queue drain, which already holds
// whatever discipline its caller requires; Header itself guards the map
// with its own mutex.
func (h *Header) AddBackRef(from id.Identifier, tag FieldTag) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refsIn[backRefKey{from: from, tag: tag}] = struct{}{}
}

// RemoveBackRef is AddBackRef's inverse.
func (h *Header) RemoveBackRef(from id.Identifier, tag FieldTag) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.refsIn, backRefKey{from: from, tag: tag})
}

// RefsFromID reports the field tags through which from references this
// entity, via the back-reference index.
func (h *Header) RefsFromID(from id.Identifier) []FieldTag {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []FieldTag
	for key := range h.refsIn {
		if key.from == from {
			out = append(out, key.tag)
		}
	}
	return out
}

// InboundRefs returns every (referring-id, field) pair recorded against
// this entity, used by the Update Manager's remove-all-references pass.
func (h *Header) InboundRefs() []struct {
	From id.Identifier
	Tag  FieldTag
} {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]struct {
		From id.Identifier
		Tag  FieldTag
	}, 0, len(h.refsIn))
	for key := range h.refsIn {
		out = append(out, struct {
			From id.Identifier
			Tag  FieldTag
		}{From: key.from, Tag: key.tag})
	}
	return out
}

// --- Delete markers --------------------------------------------------

func (h *Header) DeleteBatchID() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deleteBatchID
}

func (h *Header) SetDeleteBatchID(batch uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleteBatchID = batch
	h.deleted = true
}

func (h *Header) Deleted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deleted
}
