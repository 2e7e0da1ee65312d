// Package store defines the backing-store contract: the durable
// encode/decode, id-allocation, metadata, and site-administration surface
// the entity cache and Update Manager build on. Exact wire layout is the
// implementor's choice — boltstore is the reference implementation.
package store

import (
	"github.com/virtworld/entityd/internal/entity"
	"github.com/virtworld/entityd/internal/id"
)

// EntityMetadata is the compact (id, owner, type, version, name) tuple
// returned by bulk metadata fetches; missing entries are simply omitted
// from the result slice rather than erroring.
type EntityMetadata struct {
	ID      id.Identifier
	Owner   id.Identifier
	Kind    entity.Kind
	Version uint32
	Name    string
}

// Store is the pluggable durable backing for the entity cache. Every
// method that can fail for a reason worth distinguishing returns an error
// wrapping *entity.StoreError so callers can errors.Is/errors.As against
// its Kind.
type Store interface {
	// Init prepares the store for use (opening files, creating buckets).
	Init() error
	// Shutdown releases any resources Init acquired.
	Shutdown() error

	// NewEntity allocates a fresh id, materialises a fresh entity of kind,
	// and hands it back with custody already recorded.
	NewEntity(kind entity.Kind, site uint32, owner id.Identifier, name string) (entity.Entity, error)

	// LoadEntity decodes and returns a fresh entity, or (nil, false) if it
	// does not exist.
	LoadEntity(ident id.Identifier) (entity.Entity, bool, error)

	// SaveEntity encodes and persists e's current state.
	SaveEntity(e entity.Entity) error

	// DeleteEntity removes the durable record for ident. Fails with
	// ErrEntityInUse if any live handle to the entity is still
	// outstanding (custody not yet released).
	DeleteEntity(ident id.Identifier) error

	// EntityTypeOf reports the Kind of a stored entity without decoding
	// its full body.
	EntityTypeOf(ident id.Identifier) (entity.Kind, bool, error)

	// Exists reports whether ident has a durable record.
	Exists(ident id.Identifier) (bool, error)

	// Search finds entities in site matching kind (entity.KindEntity
	// matches any kind), owner (default = any owner), and a name
	// substring (empty = any name, exact controls substring vs. exact
	// match).
	Search(site uint32, kind entity.Kind, owner id.Identifier, namePattern string, exact bool) ([]id.Identifier, error)

	// ListSite returns every entity id in site.
	ListSite(site uint32) ([]id.Identifier, error)

	// FindByProgramRegistrationName performs the reverse lookup the
	// program-registry uses: name -> id.
	FindByProgramRegistrationName(site uint32, name string) (id.Identifier, bool, error)

	// ProgramRegistrationNameOf is the inverse: id -> registration name.
	ProgramRegistrationNameOf(ident id.Identifier) (string, bool, error)

	// Metadata bulk-fetches (id, owner, type, version, name) tuples,
	// omitting any id that does not exist.
	Metadata(idents []id.Identifier) ([]EntityMetadata, error)

	// Site administration.
	CreateSite(site uint32, name string) error
	DeleteSite(site uint32) error
	SiteName(site uint32) (string, error)
	SetSiteName(site uint32, name string) error
	SiteDescription(site uint32) (string, error)
	SetSiteDescription(site uint32, description string) error
	ListSites() ([]uint32, error)

	// CustodyCount reports how many live handles the cache has recorded
	// for ident (0 means purge may proceed).
	CustodyCount(ident id.Identifier) int
	// SetCustodyCount updates the live-handle count the store tracks for
	// ident. Called by the cache on handle acquire/release.
	SetCustodyCount(ident id.Identifier, count int)
}
