//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package memory provides an in-memory store.Service used for unit tests
// and for mock mode (AUTHZ_MOCK_ENABLED). It mirrors the validation
// semantics of the Postgres store.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bento-platform/authz/internal/logging"
	"github.com/bento-platform/authz/pkg/common"
	"github.com/bento-platform/authz/pkg/core/model"
	"github.com/bento-platform/authz/pkg/core/store"
	"github.com/mohae/deepcopy"
)

var logger = logging.GetLogger("authz.store.memory")

const agent = "memory"

// Factory creates in-memory stores.
type Factory struct{}

// NewFactory returns a store.Factory for the in-memory implementation.
func NewFactory() store.Factory {
	return &Factory{}
}

// NewStore creates an empty in-memory store.
func (f *Factory) NewStore(_ context.Context) (store.Service, error) {
	logger.Warn(agent, "init", "RUNNING WITH IN-MEMORY STORE. SHOULD NOT BE USED IN PRODUCTION")
	return New(), nil
}

// Store is the in-memory store.Service implementation.
type Store struct {
	mu          sync.RWMutex
	grants      map[int64]model.Grant
	groups      map[int64]model.Group
	subjects    map[string]int64
	resources   map[string]int64
	nextGrantID int64
	nextGroupID int64
	nextRefID   int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		grants:      make(map[int64]model.Grant),
		groups:      make(map[int64]model.Group),
		subjects:    make(map[string]int64),
		resources:   make(map[string]int64),
		nextGrantID: 1,
		nextGroupID: 1,
		nextRefID:   1,
	}
}

// ResolveSubject interns a subject pattern, returning a stable id.
func (s *Store) ResolveSubject(_ context.Context, subject model.Subject) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subject.String()
	if id, ok := s.subjects[key]; ok {
		return id, nil
	}
	id := s.nextRefID
	s.nextRefID++
	s.subjects[key] = id
	return id, nil
}

// ResolveResource interns a resource pattern, returning a stable id.
func (s *Store) ResolveResource(_ context.Context, resource model.Resource) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := resource.String()
	if id, ok := s.resources[key]; ok {
		return id, nil
	}
	id := s.nextRefID
	s.nextRefID++
	s.resources[key] = id
	return id, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() {}

func copyGrant(g model.Grant) model.Grant {
	out := g
	out.Extra = deepcopy.Copy(g.Extra).(json.RawMessage)
	return out
}

// Snapshot returns a copy of all grants and groups.
func (s *Store) Snapshot(_ context.Context) (*store.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grants := make([]model.Grant, 0, len(s.grants))
	for _, g := range s.grants {
		grants = append(grants, copyGrant(g))
	}
	groups := make(map[int64]model.Group, len(s.groups))
	for id, g := range s.groups {
		groups[id] = g
	}

	return &store.Snapshot{Grants: grants, Groups: groups, Taken: time.Now().UTC()}, nil
}

// ListGrants returns all stored grants ordered by id.
func (s *Store) ListGrants(_ context.Context) ([]model.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grants := make([]model.Grant, 0, len(s.grants))
	for id := int64(1); id < s.nextGrantID; id++ {
		if g, ok := s.grants[id]; ok {
			grants = append(grants, copyGrant(g))
		}
	}
	return grants, nil
}

// GetGrant returns a grant by id.
func (s *Store) GetGrant(_ context.Context, id int64) (*model.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grants[id]
	if !ok {
		return nil, common.NewErrorf(common.KindNotFound, "grant '%d' not found", id)
	}
	out := copyGrant(g)
	return &out, nil
}

// CreateGrant validates and stores a grant, assigning a monotonic id.
func (s *Store) CreateGrant(_ context.Context, g model.Grant) (int64, error) {
	if serr := store.ValidateGrant(g); serr != nil {
		return 0, serr
	}
	if g.Extra == nil {
		g.Extra = json.RawMessage(`{}`)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if g.Subject.Kind() == model.SubjectGroup {
		if _, ok := s.groups[g.Subject.GroupID()]; !ok {
			return 0, common.NewErrorf(common.KindValidation,
				"grant references unknown group '%d'", g.Subject.GroupID())
		}
	}

	for _, existing := range s.grants {
		if existing.SameIdentity(g) {
			return 0, common.NewError(common.KindConflict, "an equivalent grant already exists")
		}
	}

	g.ID = s.nextGrantID
	s.nextGrantID++
	g.Created = time.Now().UTC().Truncate(time.Second)
	s.grants[g.ID] = g

	return g.ID, nil
}

// DeleteGrant removes a grant by id.
func (s *Store) DeleteGrant(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.grants[id]; !ok {
		return common.NewErrorf(common.KindNotFound, "grant '%d' not found", id)
	}
	delete(s.grants, id)
	return nil
}

// ListGroups returns all stored groups ordered by id.
func (s *Store) ListGroups(_ context.Context) ([]model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]model.Group, 0, len(s.groups))
	for id := int64(1); id < s.nextGroupID; id++ {
		if g, ok := s.groups[id]; ok {
			groups = append(groups, g)
		}
	}
	return groups, nil
}

// GetGroup returns a group by id.
func (s *Store) GetGroup(_ context.Context, id int64) (*model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, common.NewErrorf(common.KindNotFound, "group '%d' not found", id)
	}
	return &g, nil
}

// CreateGroup validates and stores a group, assigning a monotonic id.
func (s *Store) CreateGroup(_ context.Context, g model.Group) (int64, error) {
	if serr := store.ValidateGroup(g); serr != nil {
		return 0, serr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.groups {
		if existing.Name == g.Name {
			return 0, common.NewErrorf(common.KindConflict, "group name %q already exists", g.Name)
		}
	}

	g.ID = s.nextGroupID
	s.nextGroupID++
	g.Created = time.Now().UTC().Truncate(time.Second)
	s.groups[g.ID] = g

	return g.ID, nil
}

// UpdateGroup renames a group and/or replaces its membership and expiry.
func (s *Store) UpdateGroup(_ context.Context, g model.Group) error {
	if serr := store.ValidateGroup(g); serr != nil {
		return serr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.groups[g.ID]
	if !ok {
		return common.NewErrorf(common.KindNotFound, "group '%d' not found", g.ID)
	}

	for id, other := range s.groups {
		if id != g.ID && other.Name == g.Name {
			return common.NewErrorf(common.KindConflict, "group name %q already exists", g.Name)
		}
	}

	existing.Name = g.Name
	existing.Membership = g.Membership
	existing.Expiry = g.Expiry
	s.groups[g.ID] = existing
	return nil
}

// DeleteGroup removes a group, refusing while any grant references it.
func (s *Store) DeleteGroup(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		return common.NewErrorf(common.KindNotFound, "group '%d' not found", id)
	}

	for _, g := range s.grants {
		if g.Subject.Kind() == model.SubjectGroup && g.Subject.GroupID() == id {
			return common.NewErrorf(common.KindConflict,
				"group '%d' is referenced by one or more grants", id)
		}
	}

	delete(s.groups, id)
	return nil
}
