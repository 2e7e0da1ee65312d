// Package boltstore implements internal/store.Store on top of
// go.etcd.io/bbolt, with entities JSON-encoded into a flat envelope
// keyed by site and entity identifier.
package boltstore

import (
	"time"

	"github.com/virtworld/entityd/internal/entity"
	"github.com/virtworld/entityd/internal/id"
)

// envelope is the JSON-serialisable encoding of one entity: the common
// header fields plus every variant-specific field, present or zero
// depending on Kind. encode always fills the whole envelope; decode
// reads only the fields Kind says are valid.
type envelope struct {
	Site    uint32
	Entity  uint64
	Kind    entity.Kind
	Version uint32
	Instance uint32

	Name                 string
	Note                 string
	RegistrationName     string
	RegistrationCategory string

	Owner  id.Identifier
	Admins []id.Identifier
	List   []id.Identifier

	Created  time.Time
	Updated  time.Time
	Accessed time.Time
	AccessCount uint64

	Flags []string

	DeleteBatchID uint64
	Deleted       bool

	// Variant-specific.
	Properties     map[string]string
	ContainedBy    id.Identifier
	LinkedPrograms []id.Identifier
	Home           id.Identifier
	Interior       id.Identifier
	Controller     id.Identifier
	Members        []id.Identifier
	Source         string
	Compiled       []byte
	Language       string
	Includes       []id.Identifier
	Targets        []id.Identifier
	LockEntity     id.Identifier
	SuccessMessage string
	FailMessage    string
	RoomMessage    string
	Commands       []string
	Container      id.Identifier
	ArrivalRoom    id.Identifier
}

func encodeEntity(e entity.Entity) envelope {
	h := e.Header()
	env := envelope{
		Site:                 h.ID().Site,
		Entity:               h.ID().Entity,
		Kind:                 h.Kind(),
		Version:              h.Version(),
		Instance:             h.Instance(),
		Name:                 h.Name(),
		Note:                 h.Note(),
		RegistrationName:     h.RegistrationName(),
		RegistrationCategory: h.RegistrationCategory(),
		Owner:                h.Owner(),
		Admins:               h.Admins(),
		List:                 h.SecurityList(),
		Created:              h.Created(),
		Updated:              h.Updated(),
		Accessed:             h.Accessed(),
		AccessCount:          h.AccessCount(),
		Flags:                h.Flags(),
		DeleteBatchID:        h.DeleteBatchID(),
		Deleted:              h.Deleted(),
	}

	switch v := e.(type) {
	case *entity.Region:
		env.Properties = propsOf(&v.PropertyEntity)
		env.ContainedBy = v.ContainedBy()
		env.LinkedPrograms = v.LinkedPrograms()
	case *entity.Room:
		env.Properties = propsOf(&v.PropertyEntity)
		env.ContainedBy = v.ContainedBy()
		env.LinkedPrograms = v.LinkedPrograms()
	case *entity.Guest:
		env.Properties = propsOf(&v.PropertyEntity)
		env.ContainedBy = v.ContainedBy()
		env.LinkedPrograms = v.LinkedPrograms()
		env.Home = v.Home()
	case *entity.Player:
		env.Properties = propsOf(&v.PropertyEntity)
		env.ContainedBy = v.ContainedBy()
		env.LinkedPrograms = v.LinkedPrograms()
		env.Home = v.Home()
	case *entity.Puppet:
		env.Properties = propsOf(&v.PropertyEntity)
		env.ContainedBy = v.ContainedBy()
		env.LinkedPrograms = v.LinkedPrograms()
		env.Home = v.Home()
		env.Controller = v.Controller()
	case *entity.Thing:
		env.Properties = propsOf(&v.PropertyEntity)
		env.ContainedBy = v.ContainedBy()
		env.LinkedPrograms = v.LinkedPrograms()
		env.Home = v.Home()
	case *entity.Vehicle:
		env.Properties = propsOf(&v.PropertyEntity)
		env.ContainedBy = v.ContainedBy()
		env.LinkedPrograms = v.LinkedPrograms()
		env.Interior = v.Interior()
		env.Controller = v.Controller()
	case *entity.Group:
		env.Properties = propsOf(&v.PropertyEntity)
		env.Members = v.Members()
	case *entity.Capability:
		env.Properties = propsOf(&v.PropertyEntity)
	case *entity.Program:
		env.Properties = propsOf(&v.PropertyEntity)
		env.Source = v.Source()
		env.Compiled = v.Compiled()
		env.Language = v.Language()
		env.Includes = v.Includes()
	case *entity.Exit:
		env.Properties = propsOf(&v.PropertyEntity)
		env.Targets = v.Targets()
		env.LockEntity = v.LockEntity()
		env.SuccessMessage = v.SuccessMessage()
		env.FailMessage = v.FailMessage()
		env.RoomMessage = v.RoomMessage()
		env.Commands = v.Commands()
		env.Container = v.Container()
		env.ArrivalRoom = v.ArrivalRoom()
	case *entity.Command:
		env.Properties = propsOf(&v.PropertyEntity)
		env.Targets = v.Targets()
		env.LockEntity = v.LockEntity()
		env.SuccessMessage = v.SuccessMessage()
		env.FailMessage = v.FailMessage()
		env.RoomMessage = v.RoomMessage()
		env.Commands = v.Commands()
		env.Container = v.Container()
	case *entity.Action:
		env.Properties = propsOf(&v.PropertyEntity)
		env.Targets = v.Targets()
		env.LockEntity = v.LockEntity()
		env.SuccessMessage = v.SuccessMessage()
		env.FailMessage = v.FailMessage()
		env.RoomMessage = v.RoomMessage()
		env.Commands = v.Commands()
		env.Container = v.Container()
	}
	return env
}

func propsOf(p *entity.PropertyEntity) map[string]string {
	return p.Properties()
}

// decodeEntity reconstructs an Entity from its envelope, using restore
// mode so hydration bypasses lock/fan-out (per the NoLockToken decision).
func decodeEntity(env envelope, limits entity.Limits) entity.Entity {
	ident := id.New(env.Site, env.Entity)
	h := entity.NewHeader(ident, env.Kind, env.Owner, env.Name, limits, env.Created)
	h.MarkHydrated()
	h.SetRestoreMode(true)
	defer h.SetRestoreMode(false)

	hydrateCommon(h, env)

	var e entity.Entity
	switch env.Kind {
	case entity.KindRegion:
		v := entity.NewRegion(h)
		hydrateContainer(v, env)
		e = v
	case entity.KindRoom:
		v := entity.NewRoom(h)
		hydrateContainer(v, env)
		e = v
	case entity.KindPlayer:
		v := entity.NewPlayer(h)
		hydrateContainer(&v.ContainerPropertyEntity, env)
		_ = v.SetHome(noToken, env.Home)
		e = v
	case entity.KindGuest:
		v := entity.NewGuest(h)
		hydrateContainer(&v.ContainerPropertyEntity, env)
		_ = v.SetHome(noToken, env.Home)
		e = v
	case entity.KindThing:
		v := entity.NewThing(h)
		hydrateContainer(&v.ContainerPropertyEntity, env)
		_ = v.SetHome(noToken, env.Home)
		e = v
	case entity.KindPuppet:
		v := entity.NewPuppet(h)
		hydrateContainer(&v.ContainerPropertyEntity, env)
		_ = v.SetHome(noToken, env.Home)
		_ = v.SetController(noToken, env.Controller)
		e = v
	case entity.KindVehicle:
		v := entity.NewVehicle(h)
		hydrateContainer(&v.ContainerPropertyEntity, env)
		_ = v.SetInterior(noToken, env.Interior)
		_ = v.SetController(noToken, env.Controller)
		e = v
	case entity.KindGroup:
		v := entity.NewGroup(h)
		hydrateProperties(&v.PropertyEntity, env)
		for _, m := range env.Members {
			_ = v.AddMember(noToken, m)
		}
		e = v
	case entity.KindCapability:
		v := entity.NewCapability(h)
		hydrateProperties(&v.PropertyEntity, env)
		e = v
	case entity.KindProgram:
		v := entity.NewProgram(h)
		hydrateProperties(&v.PropertyEntity, env)
		_ = v.SetSource(noToken, env.Source)
		_ = v.SetCompiled(noToken, env.Compiled)
		_ = v.SetLanguage(noToken, env.Language)
		_ = v.SetIncludes(noToken, env.Includes)
		e = v
	case entity.KindExit:
		v := entity.NewExit(h)
		hydrateAction(&v.Action, env)
		_ = v.SetArrivalRoom(noToken, env.ArrivalRoom)
		e = v
	case entity.KindCommand:
		v := entity.NewCommand(h)
		hydrateAction(&v.Action, env)
		e = v
	case entity.KindAction:
		v := entity.NewAction(h)
		hydrateAction(v, env)
		e = v
	default:
		v := entity.NewRoom(h)
		hydrateContainer(v, env)
		e = v
	}

	e.ClearDirty()
	return e
}

// noToken is valid only because restore mode is active on the header
// being hydrated here; hydrateCommon/hydrateX run strictly inside that
// window.
const noToken entity.LockToken = 0

func hydrateCommon(h *entity.Header, env envelope) {
	_ = h.SetNote(noToken, env.Note)
	_ = h.SetRegistrationName(noToken, env.RegistrationName)
	_ = h.SetRegistrationCategory(noToken, env.RegistrationCategory)
	for _, a := range env.Admins {
		_ = h.AddAdmin(noToken, a)
	}
	for _, l := range env.List {
		_ = h.AddToList(noToken, l)
	}
	for _, f := range env.Flags {
		_ = h.AddFlag(noToken, f)
	}
	if env.DeleteBatchID != 0 {
		h.SetDeleteBatchID(env.DeleteBatchID)
	}
}

func hydrateProperties(p *entity.PropertyEntity, env envelope) {
	for k, v := range env.Properties {
		_ = p.SetProperty(noToken, k, v)
	}
}

func hydrateContainer(c *entity.ContainerPropertyEntity, env envelope) {
	hydrateProperties(&c.PropertyEntity, env)
	_ = c.SetContainedBy(noToken, env.ContainedBy)
	for _, lp := range env.LinkedPrograms {
		_ = c.AddLinkedProgram(noToken, lp)
	}
}

func hydrateAction(a *entity.Action, env envelope) {
	hydrateProperties(&a.PropertyEntity, env)
	for _, t := range env.Targets {
		_ = a.AddTarget(noToken, t)
	}
	_ = a.SetLockEntity(noToken, env.LockEntity)
	_ = a.SetSuccessMessage(noToken, env.SuccessMessage)
	_ = a.SetFailMessage(noToken, env.FailMessage)
	_ = a.SetRoomMessage(noToken, env.RoomMessage)
	_ = a.SetCommands(noToken, env.Commands)
	_ = a.SetContainer(noToken, env.Container)
}
