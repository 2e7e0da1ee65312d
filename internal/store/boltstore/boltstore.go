package boltstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/virtworld/entityd/internal/entity"
	"github.com/virtworld/entityd/internal/id"
	"github.com/virtworld/entityd/internal/store"
)

var (
	bucketEntities = []byte("entities")
	bucketSites    = []byte("sites")
	bucketProgReg  = []byte("program_registration")
	bucketSeq      = []byte("sequence")

	seqKeyEntity = []byte("next_entity_id")
)

// BoltStore implements store.Store on a single bbolt file, one bucket per
// concern, JSON-encoded envelopes keyed by "site:entity" — a single
// entities bucket rather than one bucket per kind, since entity Kind
// here is a runtime enum, not a separate Go type per bucket.
type BoltStore struct {
	db     *bolt.DB
	limits entity.Limits

	mu      sync.Mutex
	custody map[id.Identifier]int
}

// New opens (creating if absent) a bbolt-backed store under dataDir.
func New(dataDir string, limits entity.Limits) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "entityd.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &BoltStore{db: db, limits: limits, custody: map[id.Identifier]int{}}, nil
}

func (s *BoltStore) Init() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketEntities, bucketSites, bucketProgReg, bucketSeq} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) Shutdown() error {
	return s.db.Close()
}

func entityKey(ident id.Identifier) []byte {
	return []byte(fmt.Sprintf("%010d:%020d", ident.Site, ident.Entity))
}

func siteKey(site uint32) []byte {
	return []byte(fmt.Sprintf("%010d", site))
}

func progRegKey(site uint32, name string) []byte {
	return []byte(fmt.Sprintf("%010d:%s", site, name))
}

func (s *BoltStore) nextEntityID(tx *bolt.Tx, site uint32) (uint64, error) {
	b := tx.Bucket(bucketSeq)
	key := append([]byte("entity:"), siteKey(site)...)
	var next uint64 = 1
	if raw := b.Get(key); raw != nil {
		next = binary.BigEndian.Uint64(raw) + 1
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := b.Put(key, buf); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *BoltStore) NewEntity(kind entity.Kind, site uint32, owner id.Identifier, name string) (entity.Entity, error) {
	if strings.TrimSpace(name) == "" {
		return nil, entity.ErrIsNameEmpty
	}
	var ident id.Identifier
	err := s.db.Update(func(tx *bolt.Tx) error {
		eid, err := s.nextEntityID(tx, site)
		if err != nil {
			return err
		}
		ident = id.New(site, eid)
		return nil
	})
	if err != nil {
		return nil, err
	}

	h := entity.NewHeader(ident, kind, owner, name, s.limits, nowFromHeader())
	e := newVariant(h, kind)

	if err := s.SaveEntity(e); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.custody[ident] = 1
	s.mu.Unlock()
	e.Header().FanOutCreate()
	return e, nil
}

func newVariant(h *entity.Header, kind entity.Kind) entity.Entity {
	switch kind {
	case entity.KindRegion:
		return entity.NewRegion(h)
	case entity.KindRoom:
		return entity.NewRoom(h)
	case entity.KindPlayer:
		return entity.NewPlayer(h)
	case entity.KindGuest:
		return entity.NewGuest(h)
	case entity.KindThing:
		return entity.NewThing(h)
	case entity.KindPuppet:
		return entity.NewPuppet(h)
	case entity.KindVehicle:
		return entity.NewVehicle(h)
	case entity.KindGroup:
		return entity.NewGroup(h)
	case entity.KindCapability:
		return entity.NewCapability(h)
	case entity.KindProgram:
		return entity.NewProgram(h)
	case entity.KindAction:
		return entity.NewAction(h)
	case entity.KindExit:
		return entity.NewExit(h)
	case entity.KindCommand:
		return entity.NewCommand(h)
	default:
		return entity.NewRoom(h)
	}
}

func (s *BoltStore) LoadEntity(ident id.Identifier) (entity.Entity, bool, error) {
	var env envelope
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntities)
		raw := b.Get(entityKey(ident))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &env)
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return decodeEntity(env, s.limits), true, nil
}

func (s *BoltStore) SaveEntity(e entity.Entity) error {
	env := encodeEntity(e)
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntities).Put(entityKey(e.ID()), data)
	})
}

func (s *BoltStore) DeleteEntity(ident id.Identifier) error {
	if s.CustodyCount(ident) > 0 {
		return entity.ErrIsEntityInUse
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntities).Delete(entityKey(ident))
	})
}

func (s *BoltStore) EntityTypeOf(ident id.Identifier) (entity.Kind, bool, error) {
	var env envelope
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketEntities).Get(entityKey(ident))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &env)
	})
	if err != nil || !found {
		return 0, false, err
	}
	return env.Kind, true, nil
}

func (s *BoltStore) Exists(ident id.Identifier) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketEntities).Get(entityKey(ident)) != nil
		return nil
	})
	return found, err
}

func (s *BoltStore) Search(site uint32, kind entity.Kind, owner id.Identifier, namePattern string, exact bool) ([]id.Identifier, error) {
	var out []id.Identifier
	prefix := siteKey(site)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntities).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)+":"); k, v = c.Next() {
			var env envelope
			if err := json.Unmarshal(v, &env); err != nil {
				return err
			}
			if kind != entity.KindEntity && env.Kind != kind {
				continue
			}
			if !owner.IsDefault() && env.Owner != owner {
				continue
			}
			if namePattern != "" {
				if exact && env.Name != namePattern {
					continue
				}
				if !exact && !strings.Contains(strings.ToLower(env.Name), strings.ToLower(namePattern)) {
					continue
				}
			}
			out = append(out, id.New(env.Site, env.Entity))
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) ListSite(site uint32) ([]id.Identifier, error) {
	return s.Search(site, entity.KindEntity, id.Identifier{}, "", false)
}

func (s *BoltStore) FindByProgramRegistrationName(site uint32, name string) (id.Identifier, bool, error) {
	var ident id.Identifier
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketProgReg).Get(progRegKey(site, name))
		if raw == nil {
			return nil
		}
		found = true
		ident = id.New(site, binary.BigEndian.Uint64(raw))
		return nil
	})
	return ident, found, err
}

func (s *BoltStore) ProgramRegistrationNameOf(ident id.Identifier) (string, bool, error) {
	var env envelope
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketEntities).Get(entityKey(ident))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &env)
	})
	if err != nil || !found || env.RegistrationName == "" {
		return "", false, err
	}
	return env.RegistrationName, true, nil
}

func (s *BoltStore) Metadata(idents []id.Identifier) ([]store.EntityMetadata, error) {
	var out []store.EntityMetadata
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntities)
		for _, ident := range idents {
			raw := b.Get(entityKey(ident))
			if raw == nil {
				continue
			}
			var env envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return err
			}
			out = append(out, store.EntityMetadata{
				ID:      ident,
				Owner:   env.Owner,
				Kind:    env.Kind,
				Version: env.Version,
				Name:    env.Name,
			})
		}
		return nil
	})
	return out, err
}

type siteRecord struct {
	Name        string
	Description string
}

func (s *BoltStore) CreateSite(site uint32, name string) error {
	rec := siteRecord{Name: name}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSites).Put(siteKey(site), data)
	})
}

func (s *BoltStore) DeleteSite(site uint32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSites).Delete(siteKey(site)); err != nil {
			return err
		}
		c := tx.Bucket(bucketEntities).Cursor()
		prefix := siteKey(site)
		var stale [][]byte
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)+":"); k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		b := tx.Bucket(bucketEntities)
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) siteRecord(site uint32) (siteRecord, bool, error) {
	var rec siteRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSites).Get(siteKey(site))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &rec)
	})
	return rec, found, err
}

func (s *BoltStore) SiteName(site uint32) (string, error) {
	rec, _, err := s.siteRecord(site)
	return rec.Name, err
}

func (s *BoltStore) SetSiteName(site uint32, name string) error {
	rec, _, err := s.siteRecord(site)
	if err != nil {
		return err
	}
	rec.Name = name
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSites).Put(siteKey(site), data)
	})
}

func (s *BoltStore) SiteDescription(site uint32) (string, error) {
	rec, _, err := s.siteRecord(site)
	return rec.Description, err
}

func (s *BoltStore) SetSiteDescription(site uint32, description string) error {
	rec, _, err := s.siteRecord(site)
	if err != nil {
		return err
	}
	rec.Description = description
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSites).Put(siteKey(site), data)
	})
}

func (s *BoltStore) ListSites() ([]uint32, error) {
	var out []uint32
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSites).ForEach(func(k, _ []byte) error {
			var site uint32
			_, err := fmt.Sscanf(string(k), "%010d", &site)
			if err != nil {
				return err
			}
			out = append(out, site)
			return nil
		})
	})
	return out, err
}

// CustodyCount and SetCustodyCount are pure runtime bookkeeping — the
// cache's live-handle count has no meaning across a restart, so it is
// never written to the bbolt file.
func (s *BoltStore) CustodyCount(ident id.Identifier) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.custody[ident]
}

func (s *BoltStore) SetCustodyCount(ident id.Identifier, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count <= 0 {
		delete(s.custody, ident)
		return
	}
	s.custody[ident] = count
}

func nowFromHeader() time.Time {
	return time.Now()
}
