package events

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/virtworld/entityd/internal/entity"
	"github.com/virtworld/entityd/internal/id"
	"github.com/virtworld/entityd/pkg/metrics"
)

// ID identifies one subscription, assigned monotonically at
// registration time.
type ID uint64

// Params is implemented by each event type's parameter struct. Matches
// reports whether a published event satisfies this subscription's
// filter: an unset field is a wildcard, multiple values within one field
// are OR'd together, and distinct fields are AND'd. validate reports
// whether the params are internally consistent (e.g. a zero-value
// "match nothing" filter is rejected at subscribe time rather than
// silently never firing). indexKeys reports which of the Registry's
// natural indexes this subscription belongs in, so MatchingFor only
// evaluates Matches against real candidates instead of scanning every
// subscription of the type.
type Params interface {
	Matches(Event) bool
	validate() error
	indexKeys() indexKeys
}

// indexKeys is the set of natural index slots a subscription's params
// register under. A subscription can appear in more than one (e.g. both
// an entity-id and a site-id index) and the Registry is responsible for
// evaluating Matches at most once per subscription regardless.
type indexKeys struct {
	entityIDs []id.Identifier
	siteIDs   []uint32
	pid       uint64
	watchAll  bool
}

// errEmptyFilter is returned by validate() when a subscription's filter
// would never match anything, catching the common mistake of forgetting
// to set either a specific target or a wildcard.
var errEmptyFilter = emptyFilterError{}

type emptyFilterError struct{}

func (emptyFilterError) Error() string { return "subscription filter matches nothing" }

// errMutuallyExclusive is returned by validate() when a subscription
// sets both an entity-id filter and a site-id filter for a params type
// where the two are defined as mutually exclusive.
var errMutuallyExclusive = mutuallyExclusiveError{}

type mutuallyExclusiveError struct{}

func (mutuallyExclusiveError) Error() string {
	return "entity-id and site-id filters are mutually exclusive on this subscription"
}

// containsID reports whether ident appears in ids; an empty ids slice is
// the wildcard case and is handled by the caller before reaching here.
func containsID(ids []id.Identifier, ident id.Identifier) bool {
	for _, i := range ids {
		if i == ident {
			return true
		}
	}
	return false
}

func containsSite(sites []uint32, site uint32) bool {
	for _, s := range sites {
		if s == site {
			return true
		}
	}
	return false
}

// MovementParams matches movement events by moving entity, endpoint
// rooms, verb, and movement-type category. If Site is set (SiteSet),
// Who/From/To must all be left as wildcards — a movement subscription
// watches either specific entities or a whole site, never both.
type MovementParams struct {
	WatchAll     bool
	WhoID        id.Identifier
	FromID       id.Identifier
	ToID         id.Identifier
	How          string
	MovementType string
	Site         uint32
	SiteSet      bool
}

func (p MovementParams) Matches(e Event) bool {
	if e.Type != TypeMovement || e.Movement == nil {
		return false
	}
	if p.WatchAll {
		return true
	}
	if p.SiteSet {
		return p.Site == e.Movement.Site
	}
	if !p.WhoID.IsDefault() && p.WhoID != e.Movement.Who {
		return false
	}
	if !p.FromID.IsDefault() && p.FromID != e.Movement.From {
		return false
	}
	if !p.ToID.IsDefault() && p.ToID != e.Movement.To {
		return false
	}
	if p.How != "" && !strings.EqualFold(p.How, e.Movement.How) {
		return false
	}
	if p.MovementType != "" && !strings.EqualFold(p.MovementType, e.Movement.MovementType) {
		return false
	}
	return !p.WhoID.IsDefault() || !p.FromID.IsDefault() || !p.ToID.IsDefault() ||
		p.How != "" || p.MovementType != ""
}

func (p MovementParams) validate() error {
	if p.WatchAll {
		return nil
	}
	if p.SiteSet {
		if !p.WhoID.IsDefault() || !p.FromID.IsDefault() || !p.ToID.IsDefault() {
			return errMutuallyExclusive
		}
		return nil
	}
	if p.WhoID.IsDefault() && p.FromID.IsDefault() && p.ToID.IsDefault() &&
		p.How == "" && p.MovementType == "" {
		return errEmptyFilter
	}
	return nil
}

func (p MovementParams) indexKeys() indexKeys {
	if p.WatchAll {
		return indexKeys{watchAll: true}
	}
	if p.SiteSet {
		return indexKeys{siteIDs: []uint32{p.Site}}
	}
	var ids []id.Identifier
	for _, i := range []id.Identifier{p.WhoID, p.FromID, p.ToID} {
		if !i.IsDefault() {
			ids = append(ids, i)
		}
	}
	if len(ids) == 0 {
		// Filtering on How/MovementType alone with no id anchor: only
		// the watch-all scan can find it.
		return indexKeys{watchAll: true}
	}
	return indexKeys{entityIDs: ids}
}

// EmitParams matches emitted text by source and/or target entity. At
// least one of Source/Target must be set (a complete wildcard is
// rejected, mirroring the "no free-floating Emit watch" rule). MyID,
// when set, suppresses delivery when the event's Exclude id matches it
// — the self-emit suppression a connected session uses so it doesn't
// see echoes of its own say/pose.
type EmitParams struct {
	Source id.Identifier
	Target id.Identifier
	MyID   id.Identifier
}

func (p EmitParams) Matches(e Event) bool {
	if e.Type != TypeEmit || e.Emit == nil {
		return false
	}
	if !p.Source.IsDefault() && p.Source != e.Emit.Source {
		return false
	}
	if !p.Target.IsDefault() && p.Target != e.Emit.Target {
		return false
	}
	if !p.MyID.IsDefault() && !e.Emit.Exclude.IsDefault() && p.MyID == e.Emit.Exclude {
		return false
	}
	return true
}

func (p EmitParams) validate() error {
	if p.Source.IsDefault() && p.Target.IsDefault() {
		return errEmptyFilter
	}
	return nil
}

func (p EmitParams) indexKeys() indexKeys {
	var ids []id.Identifier
	if !p.Source.IsDefault() {
		ids = append(ids, p.Source)
	}
	if !p.Target.IsDefault() {
		ids = append(ids, p.Target)
	}
	return indexKeys{entityIDs: ids}
}

// ConnectionParams matches connect/disconnect events by action, by
// entity-id list OR site-id list (mutually exclusive), and by a
// case-insensitive substring of the connection's origin string.
type ConnectionParams struct {
	WatchAll  bool
	Action    ConnectionAction
	EntityIDs []id.Identifier
	SiteIDs   []uint32
	Source    string
}

func (p ConnectionParams) Matches(e Event) bool {
	if e.Type != TypeConnection || e.Connection == nil {
		return false
	}
	if p.Action != ConnectionAny && p.Action != e.Connection.Action {
		return false
	}
	if len(p.EntityIDs) > 0 && !containsID(p.EntityIDs, e.Connection.Who) {
		return false
	}
	if len(p.SiteIDs) > 0 && !containsSite(p.SiteIDs, e.Connection.Who.Site) {
		return false
	}
	if p.Source != "" && !strings.Contains(strings.ToLower(e.Connection.Source), strings.ToLower(p.Source)) {
		return false
	}
	if p.WatchAll {
		return true
	}
	return len(p.EntityIDs) > 0 || len(p.SiteIDs) > 0 || p.Source != "" || p.Action != ConnectionAny
}

func (p ConnectionParams) validate() error {
	if len(p.EntityIDs) > 0 && len(p.SiteIDs) > 0 {
		return errMutuallyExclusive
	}
	if !p.WatchAll && len(p.EntityIDs) == 0 && len(p.SiteIDs) == 0 && p.Source == "" && p.Action == ConnectionAny {
		return errEmptyFilter
	}
	return nil
}

func (p ConnectionParams) indexKeys() indexKeys {
	if len(p.EntityIDs) > 0 {
		return indexKeys{entityIDs: p.EntityIDs}
	}
	if len(p.SiteIDs) > 0 {
		return indexKeys{siteIDs: p.SiteIDs}
	}
	return indexKeys{watchAll: true}
}

// EntityChangedParams matches entity fan-out republished onto the bus:
// by action (created/updated/deleted), by entity-id list OR site-id
// (mutually exclusive), by entity-type set, by changed-field set, by
// flag-added/flag-removed sets, and by id-added/id-removed-in-any-field
// sets. When EntityIDsAreOwners is set, EntityIDs is matched against the
// event's Owner instead of its ID — for watching "anything belonging to
// this owner changed" without enumerating every owned entity.
type EntityChangedParams struct {
	AnyAction          bool
	Action             entity.EntityAction
	EntityIDs          []id.Identifier
	EntityIDsAreOwners bool
	SiteIDs            []uint32
	EntityTypes        map[entity.Kind]struct{}
	Fields             map[entity.FieldTag]struct{}
	FlagsAdded         map[string]struct{}
	FlagsRemoved       map[string]struct{}
	IDsAdded           map[id.Identifier]struct{}
	IDsRemoved         map[id.Identifier]struct{}
}

func (p EntityChangedParams) Matches(e Event) bool {
	if e.Type != TypeEntityChanged || e.EntityChanged == nil {
		return false
	}
	ec := e.EntityChanged

	if !p.AnyAction && p.Action != ec.Action {
		return false
	}

	if len(p.EntityIDs) > 0 {
		target := ec.ID
		if p.EntityIDsAreOwners {
			target = ec.Owner
		}
		if !containsID(p.EntityIDs, target) {
			return false
		}
	}
	if len(p.SiteIDs) > 0 && !containsSite(p.SiteIDs, ec.ID.Site) {
		return false
	}

	if len(p.EntityTypes) > 0 {
		if _, ok := p.EntityTypes[ec.Kind]; !ok {
			return false
		}
	}

	if len(p.Fields) > 0 && !anyFieldIn(p.Fields, ec.Changed) {
		return false
	}
	if len(p.FlagsAdded) > 0 && !anyStringIn(p.FlagsAdded, ec.FlagsAdded) {
		return false
	}
	if len(p.FlagsRemoved) > 0 && !anyStringIn(p.FlagsRemoved, ec.FlagsRemoved) {
		return false
	}
	if len(p.IDsAdded) > 0 && !anyIDIn(p.IDsAdded, ec.IDsAdded) {
		return false
	}
	if len(p.IDsRemoved) > 0 && !anyIDIn(p.IDsRemoved, ec.IDsRemoved) {
		return false
	}

	return true
}

func anyFieldIn(set map[entity.FieldTag]struct{}, vals []entity.FieldTag) bool {
	for _, v := range vals {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func anyStringIn(set map[string]struct{}, vals []string) bool {
	for _, v := range vals {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func anyIDIn(set map[id.Identifier]struct{}, vals []id.Identifier) bool {
	for _, v := range vals {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func (p EntityChangedParams) validate() error {
	if len(p.EntityIDs) > 0 && len(p.SiteIDs) > 0 {
		return errMutuallyExclusive
	}
	if len(p.EntityIDs) == 0 && len(p.SiteIDs) == 0 {
		return errEmptyFilter
	}
	return nil
}

func (p EntityChangedParams) indexKeys() indexKeys {
	if len(p.EntityIDs) > 0 && !p.EntityIDsAreOwners {
		return indexKeys{entityIDs: p.EntityIDs}
	}
	if len(p.SiteIDs) > 0 {
		return indexKeys{siteIDs: p.SiteIDs}
	}
	// Owner-redirected filters and anything else without a plain
	// entity-id anchor fall back to the watch-all scan.
	return indexKeys{watchAll: true}
}

// ProcessExecutionParams matches scripted-process lifecycle events by
// PID, by executable-id (or its site, for a wildcard over every process
// running that site's programs), by owner-id (or its site), by exact
// process name, by a state set, and by a native-vs-interpreted
// selector.
type ProcessExecutionParams struct {
	PID            uint64
	ExecutableID   id.Identifier
	ExecutableSite uint32
	ExecutableAnySite bool
	OwnerID        id.Identifier
	OwnerSite      uint32
	OwnerAnySite   bool
	Name           string
	States         map[ProcessState]struct{}
	NativeSet      bool
	Native         bool
}

func (p ProcessExecutionParams) Matches(e Event) bool {
	if e.Type != TypeProcessExecution || e.ProcessExecution == nil {
		return false
	}
	pe := e.ProcessExecution

	if p.PID != 0 && p.PID != pe.PID {
		return false
	}
	if !p.ExecutableID.IsDefault() && p.ExecutableID != pe.ExecutableID {
		return false
	}
	if p.ExecutableAnySite && p.ExecutableSite != pe.ExecutableID.Site {
		return false
	}
	if !p.OwnerID.IsDefault() && p.OwnerID != pe.OwnerID {
		return false
	}
	if p.OwnerAnySite && p.OwnerSite != pe.OwnerID.Site {
		return false
	}
	if p.Name != "" && p.Name != pe.Name {
		return false
	}
	if len(p.States) > 0 {
		if _, ok := p.States[pe.State]; !ok {
			return false
		}
	}
	if p.NativeSet && p.Native != pe.Native {
		return false
	}
	return true
}

func (p ProcessExecutionParams) validate() error {
	if p.PID == 0 && p.ExecutableID.IsDefault() && !p.ExecutableAnySite &&
		p.OwnerID.IsDefault() && !p.OwnerAnySite && p.Name == "" && len(p.States) == 0 {
		return errEmptyFilter
	}
	return nil
}

func (p ProcessExecutionParams) indexKeys() indexKeys {
	if p.PID != 0 {
		return indexKeys{pid: p.PID}
	}
	var ids []id.Identifier
	if !p.ExecutableID.IsDefault() {
		ids = append(ids, p.ExecutableID)
	}
	if !p.OwnerID.IsDefault() {
		ids = append(ids, p.OwnerID)
	}
	if len(ids) > 0 {
		return indexKeys{entityIDs: ids}
	}
	var sites []uint32
	if p.ExecutableAnySite {
		sites = append(sites, p.ExecutableSite)
	}
	if p.OwnerAnySite {
		sites = append(sites, p.OwnerSite)
	}
	if len(sites) > 0 {
		return indexKeys{siteIDs: sites}
	}
	return indexKeys{watchAll: true}
}

// SiteParams matches site administration events for Site, or for every
// site when AnySite is set. Per the event's own contract there are
// currently no further filters.
type SiteParams struct {
	Site    uint32
	AnySite bool
}

func (p SiteParams) Matches(e Event) bool {
	if e.Type != TypeSite || e.Site == nil {
		return false
	}
	return p.AnySite || p.Site == e.Site.Site
}

func (p SiteParams) validate() error { return nil }

func (p SiteParams) indexKeys() indexKeys {
	if p.AnySite {
		return indexKeys{watchAll: true}
	}
	return indexKeys{siteIDs: []uint32{p.Site}}
}

// Callback is invoked once per matching event, on the dispatcher's
// single goroutine — callbacks must not block.
type Callback func(Event)

// Subscription is one registered (type, params, callback) triple.
type Subscription struct {
	ID       ID
	Type     Type
	Params   Params
	Callback Callback

	// ProcessPID, when non-zero, ties this subscription's lifetime to a
	// scripted process: a ProcessExecution completed event for this PID
	// auto-unsubscribes it as part of post-processing.
	ProcessPID uint64
}

// Registry is the central subscription table plus the per-type natural
// indexes (by entity-id, by site-id, by PID, and a watch-all list) that
// let MatchingFor gather real candidates for an event instead of
// scanning every subscription of the type. Because the indexes overlap
// — the same subscription can be reachable through more than one of
// them — MatchingFor deduplicates by subscription ID before calling
// Matches, so is_match-equivalent evaluation runs at most once per
// subscription per event.
type Registry struct {
	mu     sync.RWMutex
	nextID uint64
	byID   map[ID]*Subscription

	byEntityID map[Type]map[id.Identifier]map[ID]*Subscription
	bySiteID   map[Type]map[uint32]map[ID]*Subscription
	byPID      map[ID]*Subscription
	watchAll   map[Type]map[ID]*Subscription
}

func NewRegistry() *Registry {
	r := &Registry{
		byID:       map[ID]*Subscription{},
		byEntityID: map[Type]map[id.Identifier]map[ID]*Subscription{},
		bySiteID:   map[Type]map[uint32]map[ID]*Subscription{},
		byPID:      map[ID]*Subscription{},
		watchAll:   map[Type]map[ID]*Subscription{},
	}
	for t := Type(0); t < numTypes; t++ {
		r.byEntityID[t] = map[id.Identifier]map[ID]*Subscription{}
		r.bySiteID[t] = map[uint32]map[ID]*Subscription{}
		r.watchAll[t] = map[ID]*Subscription{}
	}
	return r
}

// Add validates params and registers a new subscription, returning its
// assigned ID, inserting it into every index its indexKeys() names.
func (r *Registry) Add(t Type, params Params, cb Callback, processPID uint64) (ID, error) {
	if err := params.validate(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	subID := ID(atomic.AddUint64(&r.nextID, 1))
	sub := &Subscription{ID: subID, Type: t, Params: params, Callback: cb, ProcessPID: processPID}
	r.byID[subID] = sub

	keys := params.indexKeys()
	for _, eid := range keys.entityIDs {
		m, ok := r.byEntityID[t][eid]
		if !ok {
			m = map[ID]*Subscription{}
			r.byEntityID[t][eid] = m
		}
		m[subID] = sub
	}
	for _, site := range keys.siteIDs {
		m, ok := r.bySiteID[t][site]
		if !ok {
			m = map[ID]*Subscription{}
			r.bySiteID[t][site] = m
		}
		m[subID] = sub
	}
	if keys.pid != 0 {
		r.byPID[subID] = sub
	}
	if keys.watchAll {
		r.watchAll[t][subID] = sub
	}

	metrics.SubscriptionsActive.WithLabelValues(t.String()).Set(float64(r.countLocked(t)))
	return subID, nil
}

// Remove unregisters a subscription; a no-op if it is already gone.
func (r *Registry) Remove(subID ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(subID)
}

func (r *Registry) removeLocked(subID ID) {
	sub, ok := r.byID[subID]
	if !ok {
		return
	}
	delete(r.byID, subID)
	delete(r.byPID, subID)

	keys := sub.Params.indexKeys()
	for _, eid := range keys.entityIDs {
		delete(r.byEntityID[sub.Type][eid], subID)
	}
	for _, site := range keys.siteIDs {
		delete(r.bySiteID[sub.Type][site], subID)
	}
	delete(r.watchAll[sub.Type], subID)

	metrics.SubscriptionsActive.WithLabelValues(sub.Type.String()).Set(float64(r.countLocked(sub.Type)))
}

// MatchingFor returns every subscription of event's type whose params
// match, gathered from the entity-id/site-id/PID/watch-all indexes and
// deduplicated by ID before Matches is invoked, so a subscription
// reachable through more than one index still evaluates and fires at
// most once.
func (r *Registry) MatchingFor(e Event) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := map[ID]*Subscription{}
	for _, eid := range candidateEntityIDs(e) {
		for subID, sub := range r.byEntityID[e.Type][eid] {
			candidates[subID] = sub
		}
	}
	for _, site := range candidateSiteIDs(e) {
		for subID, sub := range r.bySiteID[e.Type][site] {
			candidates[subID] = sub
		}
	}
	if e.Type == TypeProcessExecution && e.ProcessExecution != nil {
		for subID, sub := range r.byPID {
			if sub.Type == TypeProcessExecution {
				candidates[subID] = sub
			}
		}
	}
	for subID, sub := range r.watchAll[e.Type] {
		candidates[subID] = sub
	}

	out := make([]*Subscription, 0, len(candidates))
	for _, sub := range candidates {
		if sub.Params.Matches(e) {
			out = append(out, sub)
		}
	}
	return out
}

// candidateEntityIDs extracts every entity id an event might be indexed
// under, so MatchingFor can probe the entity-id index without a type
// switch living outside this file.
func candidateEntityIDs(e Event) []id.Identifier {
	switch e.Type {
	case TypeMovement:
		if e.Movement != nil {
			return []id.Identifier{e.Movement.Who, e.Movement.From, e.Movement.To}
		}
	case TypeEmit:
		if e.Emit != nil {
			return []id.Identifier{e.Emit.Source, e.Emit.Target}
		}
	case TypeConnection:
		if e.Connection != nil {
			return []id.Identifier{e.Connection.Who}
		}
	case TypeEntityChanged:
		if e.EntityChanged != nil {
			return []id.Identifier{e.EntityChanged.ID, e.EntityChanged.Owner}
		}
	case TypeProcessExecution:
		if e.ProcessExecution != nil {
			return []id.Identifier{e.ProcessExecution.ExecutableID, e.ProcessExecution.OwnerID}
		}
	}
	return nil
}

func candidateSiteIDs(e Event) []uint32 {
	switch e.Type {
	case TypeMovement:
		if e.Movement != nil {
			return []uint32{e.Movement.Site}
		}
	case TypeConnection:
		if e.Connection != nil {
			return []uint32{e.Connection.Who.Site}
		}
	case TypeEntityChanged:
		if e.EntityChanged != nil {
			return []uint32{e.EntityChanged.ID.Site}
		}
	case TypeProcessExecution:
		if e.ProcessExecution != nil {
			return []uint32{e.ProcessExecution.ExecutableID.Site, e.ProcessExecution.OwnerID.Site}
		}
	case TypeSite:
		if e.Site != nil {
			return []uint32{e.Site.Site}
		}
	}
	return nil
}

// RemoveForProcess unsubscribes every subscription tied to pid, used by
// the ProcessExecution-completed post-processing rule.
func (r *Registry) RemoveForProcess(pid uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for subID, sub := range r.byID {
		if sub.ProcessPID == pid {
			r.removeLocked(subID)
		}
	}
}

// RemoveForEntity unsubscribes every subscription indexed against ident
// across every event type, used by the entity-deleted post-processing
// rule ("notify every processor's entity_deleted").
func (r *Registry) RemoveForEntity(ident id.Identifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t := Type(0); t < numTypes; t++ {
		for subID := range r.byEntityID[t][ident] {
			r.removeLocked(subID)
		}
	}
}

// RemoveForSite unsubscribes every subscription indexed against site
// across every event type, used by the site-deleted post-processing
// rule.
func (r *Registry) RemoveForSite(site uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t := Type(0); t < numTypes; t++ {
		for subID := range r.bySiteID[t][site] {
			r.removeLocked(subID)
		}
	}
}

// Count reports the number of active subscriptions of type t, for the
// SubscriptionsActive metric.
func (r *Registry) Count(t Type) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countLocked(t)
}

func (r *Registry) countLocked(t Type) int {
	seen := map[ID]struct{}{}
	for _, m := range r.byEntityID[t] {
		for id := range m {
			seen[id] = struct{}{}
		}
	}
	for _, m := range r.bySiteID[t] {
		for id := range m {
			seen[id] = struct{}{}
		}
	}
	for id := range r.watchAll[t] {
		seen[id] = struct{}{}
	}
	if t == TypeProcessExecution {
		for id, sub := range r.byPID {
			if sub.Type == t {
				seen[id] = struct{}{}
			}
		}
	}
	return len(seen)
}
