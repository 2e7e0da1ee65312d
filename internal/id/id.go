// Package id defines the two-part identity used throughout the entity
// store: a site partition plus an entity number scoped to that site.
package id

import "fmt"

// Identifier is a comparable (site, entity) pair. Zero value is the
// default/invalid identifier. Site and entity numbers are reused after
// deletion/purge, so identity equality is the only meaningful comparison —
// callers must not cache an Identifier across a purge and expect it to
// still refer to the same logical object.
type Identifier struct {
	Site   uint32
	Entity uint64
}

// Default is the zero Identifier, representing "no entity".
var Default = Identifier{}

// New returns the Identifier (site, entity).
func New(site uint32, entity uint64) Identifier {
	return Identifier{Site: site, Entity: entity}
}

// IsDefault reports whether both site and entity are zero.
func (i Identifier) IsDefault() bool {
	return i.Site == 0 && i.Entity == 0
}

// IsSiteDefault reports whether the site component is unset.
func (i Identifier) IsSiteDefault() bool {
	return i.Site == 0
}

// IsEntityDefault reports whether the entity component is unset.
func (i Identifier) IsEntityDefault() bool {
	return i.Entity == 0
}

// Equal reports whether i and o identify the same (site, entity) pair.
func (i Identifier) Equal(o Identifier) bool {
	return i == o
}

// Less implements the identifier's total order: site first, then entity.
func (i Identifier) Less(o Identifier) bool {
	if i.Site != o.Site {
		return i.Site < o.Site
	}
	return i.Entity < o.Entity
}

// Compare returns -1, 0, or 1 per the identifier's total order.
func (i Identifier) Compare(o Identifier) int {
	switch {
	case i == o:
		return 0
	case i.Less(o):
		return -1
	default:
		return 1
	}
}

// String renders the identifier as "#site-entity", dropping the site
// prefix when it is unset (matching the debug-string contract of a bare
// entity number within the caller's own site).
func (i Identifier) String() string {
	if i.IsSiteDefault() {
		return fmt.Sprintf("#%d", i.Entity)
	}
	return fmt.Sprintf("#%d-%d", i.Site, i.Entity)
}
