package entity

// Kind tags the concrete variant of an Entity, replacing the dynamic_cast
// chain a deep class hierarchy would otherwise need with a single
// comparable value usable in the field table and in backing-store
// dispatch.
type Kind int

const (
	KindEntity Kind = iota
	KindPropertyEntity
	KindContainerPropertyEntity
	KindRegion
	KindRoom
	KindPlayer
	KindGuest
	KindThing
	KindPuppet
	KindVehicle
	KindGroup
	KindCapability
	KindProgram
	KindAction
	KindExit
	KindCommand
)

var kindNames = map[Kind]string{
	KindEntity:                  "entity",
	KindPropertyEntity:          "property_entity",
	KindContainerPropertyEntity: "container_property_entity",
	KindRegion:                  "region",
	KindRoom:                    "room",
	KindPlayer:                  "player",
	KindGuest:                   "guest",
	KindThing:                   "thing",
	KindPuppet:                  "puppet",
	KindVehicle:                 "vehicle",
	KindGroup:                   "group",
	KindCapability:              "capability",
	KindProgram:                 "program",
	KindAction:                  "action",
	KindExit:                    "exit",
	KindCommand:                 "command",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}
