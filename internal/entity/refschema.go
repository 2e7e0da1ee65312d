package entity

// RefField describes one outbound reference field on a Kind: its tag and
// how the Update Manager's break-source policy treats it when the
// referenced entity is purged.
type RefField struct {
	Tag  FieldTag
	Kind RefFieldKind
}

// refFieldsByKind is a data-driven dispatch table: for each concrete
// variant, every outbound reference field that remove-all-references
// must walk, instead of a type-switch per kind. Common fields (owner,
// admins/list) apply to every kind and are appended by RefFieldsFor.
var refFieldsByKind = map[Kind][]RefField{
	KindRegion:         {{FieldContainedBy, RefFieldSingle}, {FieldLinkedPrograms, RefFieldList}},
	KindRoom:           {{FieldContainedBy, RefFieldSingle}, {FieldLinkedPrograms, RefFieldList}},
	KindPlayer:         {{FieldContainedBy, RefFieldSingle}, {FieldLinkedPrograms, RefFieldList}, {FieldPlayerHome, RefFieldSingle}},
	KindGuest:          {{FieldContainedBy, RefFieldSingle}, {FieldLinkedPrograms, RefFieldList}, {FieldPlayerHome, RefFieldSingle}},
	KindThing:          {{FieldContainedBy, RefFieldSingle}, {FieldLinkedPrograms, RefFieldList}, {FieldThingHome, RefFieldSingle}},
	KindPuppet:         {{FieldContainedBy, RefFieldSingle}, {FieldLinkedPrograms, RefFieldList}, {FieldThingHome, RefFieldSingle}, {FieldPuppetController, RefFieldSingle}},
	KindVehicle:        {{FieldContainedBy, RefFieldSingle}, {FieldLinkedPrograms, RefFieldList}, {FieldVehicleInterior, RefFieldSingle}, {FieldVehicleController, RefFieldSingle}},
	KindGroup:          {{FieldGroupMembers, RefFieldList}},
	KindCapability:     {},
	KindProgram:        {{FieldProgramIncludes, RefFieldClearOnBreak}},
	KindAction:         {{FieldActionTargets, RefFieldList}, {FieldActionLock, RefFieldSingle}, {FieldActionContainer, RefFieldSingle}},
	KindExit:           {{FieldActionTargets, RefFieldList}, {FieldActionLock, RefFieldSingle}, {FieldActionContainer, RefFieldSingle}, {FieldExitArrivalRoom, RefFieldSingle}},
	KindCommand:        {{FieldActionTargets, RefFieldList}, {FieldActionLock, RefFieldSingle}, {FieldActionContainer, RefFieldSingle}},
	KindPropertyEntity: {},
	KindContainerPropertyEntity: {{FieldContainedBy, RefFieldSingle}, {FieldLinkedPrograms, RefFieldList}},
	KindEntity:         {},
}

// commonRefFields apply to every variant regardless of kind.
var commonRefFields = []RefField{
	{FieldOwner, RefFieldSingle},
	{FieldAdmins, RefFieldSecurity},
	{FieldSecurityList, RefFieldSecurity},
}

// RefFieldsFor returns every outbound reference field remove-all-references
// must walk for the given kind: the kind-specific fields plus the common
// owner/security pair every variant carries.
func RefFieldsFor(k Kind) []RefField {
	out := make([]RefField, 0, len(commonRefFields)+len(refFieldsByKind[k]))
	out = append(out, commonRefFields...)
	out = append(out, refFieldsByKind[k]...)
	return out
}
