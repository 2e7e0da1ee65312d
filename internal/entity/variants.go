package entity

import "github.com/virtworld/entityd/internal/id"

// PropertyEntity adds an arbitrary key/value property bag to Header, as
// an embeddable struct rather than a base class.
type PropertyEntity struct {
	*Header
	properties map[string]string
}

func newPropertyEntity(h *Header) PropertyEntity {
	return PropertyEntity{Header: h, properties: map[string]string{}}
}

func (p *PropertyEntity) Property(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.properties[key]
	return v, ok
}

func (p *PropertyEntity) SetProperty(token LockToken, key, value string) error {
	if err := p.checkWriteAccess(token); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.properties[key] = value
	return nil
}

func (p *PropertyEntity) RemoveProperty(token LockToken, key string) error {
	if err := p.checkWriteAccess(token); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.properties, key)
	return nil
}

// Properties returns a copy of the full property bag, for callers (the
// backing store's encoder) that need to persist every key at once rather
// than probe one at a time.
func (p *PropertyEntity) Properties() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.properties))
	for k, v := range p.properties {
		out[k] = v
	}
	return out
}

func clonePropertyEntity(p *PropertyEntity, newID id.Identifier, v, i uint32) PropertyEntity {
	props := make(map[string]string, len(p.properties))
	for k, val := range p.properties {
		props[k] = val
	}
	return PropertyEntity{Header: cloneHeader(p.Header, newID, v, i), properties: props}
}

// ContainerPropertyEntity adds the "contained-by" single reference and the
// linked-programs list that Region/Room/Player/Thing/Vehicle all share.
type ContainerPropertyEntity struct {
	PropertyEntity
	containedBy     id.Identifier
	linkedPrograms  []id.Identifier
}

func newContainerPropertyEntity(h *Header) ContainerPropertyEntity {
	return ContainerPropertyEntity{PropertyEntity: newPropertyEntity(h)}
}

func (c *ContainerPropertyEntity) ContainedBy() id.Identifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.containedBy
}

func (c *ContainerPropertyEntity) SetContainedBy(token LockToken, target id.Identifier) error {
	if err := c.checkWriteAccess(token); err != nil {
		return err
	}
	c.mu.Lock()
	old := c.containedBy
	c.containedBy = target
	c.jrn.recordIDAdd(FieldContainedBy, true, target)
	if !old.IsDefault() {
		c.jrn.recordIDRemove(FieldContainedBy, true, old)
	}
	c.mu.Unlock()
	return nil
}

func (c *ContainerPropertyEntity) LinkedPrograms() []id.Identifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyIDs(c.linkedPrograms)
}

func (c *ContainerPropertyEntity) AddLinkedProgram(token LockToken, prog id.Identifier) error {
	if err := c.checkWriteAccess(token); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.linkedPrograms {
		if existing == prog {
			return nil
		}
	}
	c.linkedPrograms = append(c.linkedPrograms, prog)
	c.jrn.recordIDAdd(FieldLinkedPrograms, false, prog)
	return nil
}

func (c *ContainerPropertyEntity) RemoveLinkedProgram(token LockToken, prog id.Identifier) error {
	if err := c.checkWriteAccess(token); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.linkedPrograms {
		if existing == prog {
			c.linkedPrograms = append(c.linkedPrograms[:i], c.linkedPrograms[i+1:]...)
			c.jrn.recordIDRemove(FieldLinkedPrograms, false, prog)
			return nil
		}
	}
	return nil
}

func cloneContainerPropertyEntity(c *ContainerPropertyEntity, newID id.Identifier, v, i uint32) ContainerPropertyEntity {
	return ContainerPropertyEntity{
		PropertyEntity: clonePropertyEntity(&c.PropertyEntity, newID, v, i),
		containedBy:    c.containedBy,
		linkedPrograms: copyIDs(c.linkedPrograms),
	}
}

// Region is a top-level map grouping of rooms; carries no fields beyond
// ContainerPropertyEntity in this reimplementation.
type Region struct{ ContainerPropertyEntity }

func NewRegion(h *Header) *Region {
	r := &Region{ContainerPropertyEntity: newContainerPropertyEntity(h)}
	r.bindSelf(r)
	return r
}

func (r *Region) Clone(newID id.Identifier, v, i uint32) Entity {
	out := &Region{ContainerPropertyEntity: cloneContainerPropertyEntity(&r.ContainerPropertyEntity, newID, v, i)}
	out.bindSelf(out)
	return out
}

// Room is a navigable location.
type Room struct{ ContainerPropertyEntity }

func NewRoom(h *Header) *Room {
	r := &Room{ContainerPropertyEntity: newContainerPropertyEntity(h)}
	r.bindSelf(r)
	return r
}

func (r *Room) Clone(newID id.Identifier, v, i uint32) Entity {
	out := &Room{ContainerPropertyEntity: cloneContainerPropertyEntity(&r.ContainerPropertyEntity, newID, v, i)}
	out.bindSelf(out)
	return out
}

// Player is a human-controlled character with a home room.
type Player struct {
	ContainerPropertyEntity
	home id.Identifier
}

func NewPlayer(h *Header) *Player {
	p := &Player{ContainerPropertyEntity: newContainerPropertyEntity(h)}
	p.bindSelf(p)
	return p
}

func (p *Player) Home() id.Identifier { p.mu.Lock(); defer p.mu.Unlock(); return p.home }

func (p *Player) SetHome(token LockToken, room id.Identifier) error {
	if err := p.checkWriteAccess(token); err != nil {
		return err
	}
	p.mu.Lock()
	old := p.home
	p.home = room
	p.jrn.recordIDAdd(FieldPlayerHome, true, room)
	if !old.IsDefault() {
		p.jrn.recordIDRemove(FieldPlayerHome, true, old)
	}
	p.mu.Unlock()
	return nil
}

func (p *Player) Clone(newID id.Identifier, v, i uint32) Entity {
	out := &Player{
		ContainerPropertyEntity: cloneContainerPropertyEntity(&p.ContainerPropertyEntity, newID, v, i),
		home:                    p.home,
	}
	out.bindSelf(out)
	return out
}

// Guest is a Player variant for unregistered/temporary visitors; shares
// Player's fields and operations exactly.
type Guest struct{ Player }

func NewGuest(h *Header) *Guest {
	g := &Guest{Player: *NewPlayer(h)}
	g.bindSelf(g)
	return g
}

func (g *Guest) Clone(newID id.Identifier, v, i uint32) Entity {
	cloned := g.Player.Clone(newID, v, i).(*Player)
	out := &Guest{Player: *cloned}
	out.bindSelf(out)
	return out
}

// Thing is a manipulable object with a "home" reset location.
type Thing struct {
	ContainerPropertyEntity
	home id.Identifier
}

func NewThing(h *Header) *Thing {
	t := &Thing{ContainerPropertyEntity: newContainerPropertyEntity(h)}
	t.bindSelf(t)
	return t
}

func (t *Thing) Home() id.Identifier { t.mu.Lock(); defer t.mu.Unlock(); return t.home }

func (t *Thing) SetHome(token LockToken, room id.Identifier) error {
	if err := t.checkWriteAccess(token); err != nil {
		return err
	}
	t.mu.Lock()
	old := t.home
	t.home = room
	t.jrn.recordIDAdd(FieldThingHome, true, room)
	if !old.IsDefault() {
		t.jrn.recordIDRemove(FieldThingHome, true, old)
	}
	t.mu.Unlock()
	return nil
}

func (t *Thing) Clone(newID id.Identifier, v, i uint32) Entity {
	out := &Thing{
		ContainerPropertyEntity: cloneContainerPropertyEntity(&t.ContainerPropertyEntity, newID, v, i),
		home:                    t.home,
	}
	out.bindSelf(out)
	return out
}

// Puppet is a Thing remotely controlled by a Player.
type Puppet struct {
	Thing
	controller id.Identifier
}

func NewPuppet(h *Header) *Puppet {
	p := &Puppet{Thing: *NewThing(h)}
	p.bindSelf(p)
	return p
}

func (p *Puppet) Controller() id.Identifier { p.mu.Lock(); defer p.mu.Unlock(); return p.controller }

func (p *Puppet) SetController(token LockToken, who id.Identifier) error {
	if err := p.checkWriteAccess(token); err != nil {
		return err
	}
	p.mu.Lock()
	old := p.controller
	p.controller = who
	p.jrn.recordIDAdd(FieldPuppetController, true, who)
	if !old.IsDefault() {
		p.jrn.recordIDRemove(FieldPuppetController, true, old)
	}
	p.mu.Unlock()
	return nil
}

func (p *Puppet) Clone(newID id.Identifier, v, i uint32) Entity {
	cloned := p.Thing.Clone(newID, v, i).(*Thing)
	out := &Puppet{Thing: *cloned, controller: p.controller}
	out.bindSelf(out)
	return out
}

// Vehicle has an interior room and a controlling entity.
type Vehicle struct {
	ContainerPropertyEntity
	interior   id.Identifier
	controller id.Identifier
}

func NewVehicle(h *Header) *Vehicle {
	v := &Vehicle{ContainerPropertyEntity: newContainerPropertyEntity(h)}
	v.bindSelf(v)
	return v
}

func (v *Vehicle) Interior() id.Identifier   { v.mu.Lock(); defer v.mu.Unlock(); return v.interior }
func (v *Vehicle) Controller() id.Identifier { v.mu.Lock(); defer v.mu.Unlock(); return v.controller }

func (v *Vehicle) SetInterior(token LockToken, room id.Identifier) error {
	if err := v.checkWriteAccess(token); err != nil {
		return err
	}
	v.mu.Lock()
	old := v.interior
	v.interior = room
	v.jrn.recordIDAdd(FieldVehicleInterior, true, room)
	if !old.IsDefault() {
		v.jrn.recordIDRemove(FieldVehicleInterior, true, old)
	}
	v.mu.Unlock()
	return nil
}

func (v *Vehicle) SetController(token LockToken, who id.Identifier) error {
	if err := v.checkWriteAccess(token); err != nil {
		return err
	}
	v.mu.Lock()
	old := v.controller
	v.controller = who
	v.jrn.recordIDAdd(FieldVehicleController, true, who)
	if !old.IsDefault() {
		v.jrn.recordIDRemove(FieldVehicleController, true, old)
	}
	v.mu.Unlock()
	return nil
}

func (v *Vehicle) Clone(newID id.Identifier, ver, inst uint32) Entity {
	out := &Vehicle{
		ContainerPropertyEntity: cloneContainerPropertyEntity(&v.ContainerPropertyEntity, newID, ver, inst),
		interior:                v.interior,
		controller:              v.controller,
	}
	out.bindSelf(out)
	return out
}

// Group is a named membership list (e.g. a player group/guild).
type Group struct {
	PropertyEntity
	members []id.Identifier
}

func NewGroup(h *Header) *Group {
	g := &Group{PropertyEntity: newPropertyEntity(h)}
	g.bindSelf(g)
	return g
}

func (g *Group) Members() []id.Identifier { g.mu.Lock(); defer g.mu.Unlock(); return copyIDs(g.members) }

func (g *Group) AddMember(token LockToken, who id.Identifier) error {
	if err := g.checkWriteAccess(token); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.members {
		if existing == who {
			return nil
		}
	}
	g.members = append(g.members, who)
	g.jrn.recordIDAdd(FieldGroupMembers, false, who)
	return nil
}

func (g *Group) RemoveMember(token LockToken, who id.Identifier) error {
	if err := g.checkWriteAccess(token); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, existing := range g.members {
		if existing == who {
			g.members = append(g.members[:i], g.members[i+1:]...)
			g.jrn.recordIDRemove(FieldGroupMembers, false, who)
			return nil
		}
	}
	return nil
}

func (g *Group) Clone(newID id.Identifier, v, i uint32) Entity {
	out := &Group{PropertyEntity: clonePropertyEntity(&g.PropertyEntity, newID, v, i), members: copyIDs(g.members)}
	out.bindSelf(out)
	return out
}

// Capability is a permission token granted to players/programs; carries no
// additional fields beyond PropertyEntity in this reimplementation.
type Capability struct{ PropertyEntity }

func NewCapability(h *Header) *Capability {
	c := &Capability{PropertyEntity: newPropertyEntity(h)}
	c.bindSelf(c)
	return c
}

func (c *Capability) Clone(newID id.Identifier, v, i uint32) Entity {
	out := &Capability{PropertyEntity: clonePropertyEntity(&c.PropertyEntity, newID, v, i)}
	out.bindSelf(out)
	return out
}

// Program is user-authored, in-world source code plus its compiled form.
type Program struct {
	PropertyEntity
	source   string
	compiled []byte
	language string
	includes []id.Identifier
}

func NewProgram(h *Header) *Program {
	p := &Program{PropertyEntity: newPropertyEntity(h)}
	p.bindSelf(p)
	return p
}

func (p *Program) Source() string   { p.mu.Lock(); defer p.mu.Unlock(); return p.source }
func (p *Program) Compiled() []byte { p.mu.Lock(); defer p.mu.Unlock(); return p.compiled }
func (p *Program) Language() string { p.mu.Lock(); defer p.mu.Unlock(); return p.language }
func (p *Program) Includes() []id.Identifier {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyIDs(p.includes)
}

func (p *Program) SetSource(token LockToken, source string) error {
	if err := p.checkWriteAccess(token); err != nil {
		return err
	}
	if len([]rune(source)) > p.limits.MaxStringChars {
		return newErr(ErrSizeExceeded, "program source exceeds %d characters", p.limits.MaxStringChars)
	}
	p.mu.Lock()
	p.source = source
	p.jrn.markChanged(FieldProgramSource)
	p.mu.Unlock()
	return nil
}

func (p *Program) SetCompiled(token LockToken, compiled []byte) error {
	if err := p.checkWriteAccess(token); err != nil {
		return err
	}
	p.mu.Lock()
	p.compiled = compiled
	p.jrn.markChanged(FieldProgramCompiled)
	p.mu.Unlock()
	return nil
}

func (p *Program) SetLanguage(token LockToken, lang string) error {
	if err := p.checkWriteAccess(token); err != nil {
		return err
	}
	p.mu.Lock()
	p.language = lang
	p.jrn.markChanged(FieldProgramLanguage)
	p.mu.Unlock()
	return nil
}

// SetIncludes replaces the program's include list wholesale (recompilation
// semantics: includes are always recomputed together, not added/removed
// incrementally).
func (p *Program) SetIncludes(token LockToken, includes []id.Identifier) error {
	if err := p.checkWriteAccess(token); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, old := range p.includes {
		p.jrn.recordIDRemove(FieldProgramIncludes, false, old)
	}
	p.includes = copyIDs(includes)
	for _, inc := range p.includes {
		p.jrn.recordIDAdd(FieldProgramIncludes, false, inc)
	}
	return nil
}

func (p *Program) Clone(newID id.Identifier, v, i uint32) Entity {
	out := &Program{
		PropertyEntity: clonePropertyEntity(&p.PropertyEntity, newID, v, i),
		source:         p.source,
		compiled:       append([]byte(nil), p.compiled...),
		language:       p.language,
		includes:       copyIDs(p.includes),
	}
	out.bindSelf(out)
	return out
}

// Action is an in-world verb/command handler: targets, an optional lock
// entity, the three outcome messages, the command words it binds to, and
// its containing entity.
type Action struct {
	PropertyEntity
	targets         []id.Identifier
	lockEntity      id.Identifier
	successMessage  string
	failMessage     string
	roomMessage     string
	commands        []string
	container       id.Identifier
}

func NewAction(h *Header) *Action {
	a := &Action{PropertyEntity: newPropertyEntity(h)}
	a.bindSelf(a)
	return a
}

func (a *Action) Targets() []id.Identifier { a.mu.Lock(); defer a.mu.Unlock(); return copyIDs(a.targets) }

// LastTarget returns the last element of the targets list, or
// (zero-value, false) if it's empty.
func (a *Action) LastTarget() (id.Identifier, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.targets) == 0 {
		return id.Identifier{}, false
	}
	return a.targets[len(a.targets)-1], true
}

func (a *Action) LockEntity() id.Identifier { a.mu.Lock(); defer a.mu.Unlock(); return a.lockEntity }
func (a *Action) SuccessMessage() string    { a.mu.Lock(); defer a.mu.Unlock(); return a.successMessage }
func (a *Action) FailMessage() string       { a.mu.Lock(); defer a.mu.Unlock(); return a.failMessage }
func (a *Action) RoomMessage() string       { a.mu.Lock(); defer a.mu.Unlock(); return a.roomMessage }
func (a *Action) Commands() []string        { a.mu.Lock(); defer a.mu.Unlock(); return copyStrings(a.commands) }
func (a *Action) Container() id.Identifier  { a.mu.Lock(); defer a.mu.Unlock(); return a.container }

func (a *Action) AddTarget(token LockToken, target id.Identifier) error {
	if err := a.checkWriteAccess(token); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.targets = append(a.targets, target)
	a.jrn.recordIDAdd(FieldActionTargets, false, target)
	return nil
}

func (a *Action) RemoveTarget(token LockToken, target id.Identifier) error {
	if err := a.checkWriteAccess(token); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, existing := range a.targets {
		if existing == target {
			a.targets = append(a.targets[:i], a.targets[i+1:]...)
			a.jrn.recordIDRemove(FieldActionTargets, false, target)
			return nil
		}
	}
	return nil
}

func (a *Action) SetLockEntity(token LockToken, lockID id.Identifier) error {
	if err := a.checkWriteAccess(token); err != nil {
		return err
	}
	a.mu.Lock()
	old := a.lockEntity
	a.lockEntity = lockID
	a.jrn.recordIDAdd(FieldActionLock, true, lockID)
	if !old.IsDefault() {
		a.jrn.recordIDRemove(FieldActionLock, true, old)
	}
	a.mu.Unlock()
	return nil
}

func (a *Action) setBoundedMessage(token LockToken, tag FieldTag, dst *string, value string) error {
	if err := a.checkWriteAccess(token); err != nil {
		return err
	}
	if len([]rune(value)) > a.limits.MaxStringChars {
		return newErr(ErrSizeExceeded, "field %v exceeds %d characters", tag, a.limits.MaxStringChars)
	}
	a.mu.Lock()
	*dst = value
	a.jrn.markChanged(tag)
	a.mu.Unlock()
	return nil
}

func (a *Action) SetSuccessMessage(token LockToken, msg string) error {
	return a.setBoundedMessage(token, FieldActionSuccessMessage, &a.successMessage, msg)
}

func (a *Action) SetFailMessage(token LockToken, msg string) error {
	return a.setBoundedMessage(token, FieldActionFailMessage, &a.failMessage, msg)
}

func (a *Action) SetRoomMessage(token LockToken, msg string) error {
	return a.setBoundedMessage(token, FieldActionRoomMessage, &a.roomMessage, msg)
}

func (a *Action) SetCommands(token LockToken, commands []string) error {
	if err := a.checkWriteAccess(token); err != nil {
		return err
	}
	a.mu.Lock()
	a.commands = copyStrings(commands)
	a.jrn.markChanged(FieldActionCommands)
	a.mu.Unlock()
	return nil
}

func (a *Action) SetContainer(token LockToken, container id.Identifier) error {
	if err := a.checkWriteAccess(token); err != nil {
		return err
	}
	a.mu.Lock()
	old := a.container
	a.container = container
	a.jrn.recordIDAdd(FieldActionContainer, true, container)
	if !old.IsDefault() {
		a.jrn.recordIDRemove(FieldActionContainer, true, old)
	}
	a.mu.Unlock()
	return nil
}

func cloneAction(a *Action, newID id.Identifier, v, i uint32) Action {
	return Action{
		PropertyEntity: clonePropertyEntity(&a.PropertyEntity, newID, v, i),
		targets:        copyIDs(a.targets),
		lockEntity:     a.lockEntity,
		successMessage: a.successMessage,
		failMessage:    a.failMessage,
		roomMessage:    a.roomMessage,
		commands:       copyStrings(a.commands),
		container:      a.container,
	}
}

func (a *Action) Clone(newID id.Identifier, v, i uint32) Entity {
	out := &Action{}
	*out = cloneAction(a, newID, v, i)
	out.bindSelf(out)
	return out
}

// Exit is an Action variant that also names an arrival room.
type Exit struct {
	Action
	arrivalRoom id.Identifier
}

func NewExit(h *Header) *Exit {
	e := &Exit{Action: *NewAction(h)}
	e.bindSelf(e)
	return e
}

func (e *Exit) ArrivalRoom() id.Identifier { e.mu.Lock(); defer e.mu.Unlock(); return e.arrivalRoom }

func (e *Exit) SetArrivalRoom(token LockToken, room id.Identifier) error {
	if err := e.checkWriteAccess(token); err != nil {
		return err
	}
	e.mu.Lock()
	old := e.arrivalRoom
	e.arrivalRoom = room
	e.jrn.recordIDAdd(FieldExitArrivalRoom, true, room)
	if !old.IsDefault() {
		e.jrn.recordIDRemove(FieldExitArrivalRoom, true, old)
	}
	e.mu.Unlock()
	return nil
}

func (e *Exit) Clone(newID id.Identifier, v, i uint32) Entity {
	out := &Exit{Action: cloneAction(&e.Action, newID, v, i), arrivalRoom: e.arrivalRoom}
	out.bindSelf(out)
	return out
}

// Command is an Action variant bound directly to a player-typed command
// word rather than an in-room trigger; shares Action's fields exactly.
type Command struct{ Action }

func NewCommand(h *Header) *Command {
	c := &Command{Action: *NewAction(h)}
	c.bindSelf(c)
	return c
}

func (c *Command) Clone(newID id.Identifier, v, i uint32) Entity {
	out := &Command{Action: cloneAction(&c.Action, newID, v, i)}
	out.bindSelf(out)
	return out
}
