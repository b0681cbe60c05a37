//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package store defines the interfaces for grant and group persistence.
//
// A store owns the durable state the policy engine evaluates against:
// grants, groups, and the interned subject/resource pattern documents.
// The engine consumes stores through the [Service] interface; the concrete
// Postgres implementation lives in the postgres subpackage and an in-memory
// implementation for tests and mock mode lives under internal/core/store.
//
// # Implementing a Store
//
//  1. Implement [Factory] to create store instances
//  2. Implement [Service] with transactional semantics per method
//  3. Wire it with options.WithStore when constructing the engine
//
// All [Service] methods are safe for concurrent use. Mutations are single
// transactions: a failed call leaves no partial state.
package store

import (
	"context"
	"time"

	"github.com/bento-platform/authz/pkg/common"
	"github.com/bento-platform/authz/pkg/core/model"
	"github.com/bento-platform/authz/pkg/core/permissions"
)

// Factory creates store [Service] instances.
//
// Factory construction happens early (before configuration is fully
// loaded); expensive work such as opening connection pools belongs in
// NewStore.
type Factory interface {
	// NewStore creates a new store service instance.
	NewStore(ctx context.Context) (Service, error)
}

// Snapshot is a read-consistent view of the evaluable state, captured in a
// single transaction. One evaluation reads exactly one snapshot; writes
// committing afterwards are not visible to it.
type Snapshot struct {
	Grants []model.Grant
	Groups map[int64]model.Group
	Taken  time.Time
}

// Service provides typed CRUD over grants and groups plus the snapshot
// read used by policy evaluation.
type Service interface {
	// Snapshot returns all grants and groups from one consistent read.
	Snapshot(ctx context.Context) (*Snapshot, error)

	// ListGrants returns all stored grants, including expired ones.
	ListGrants(ctx context.Context) ([]model.Grant, error)

	// GetGrant returns a grant by id, or a not-found ServiceError.
	GetGrant(ctx context.Context, id int64) (*model.Grant, error)

	// CreateGrant validates and persists a grant, returning the assigned
	// id. Violations of grant uniqueness yield conflict errors; registry
	// violations and references to unknown groups yield validation errors.
	CreateGrant(ctx context.Context, g model.Grant) (int64, error)

	// DeleteGrant removes a grant by id.
	DeleteGrant(ctx context.Context, id int64) error

	// ListGroups returns all stored groups, including expired ones.
	ListGroups(ctx context.Context) ([]model.Group, error)

	// GetGroup returns a group by id, or a not-found ServiceError.
	GetGroup(ctx context.Context, id int64) (*model.Group, error)

	// CreateGroup validates and persists a group, returning the assigned id.
	CreateGroup(ctx context.Context, g model.Group) (int64, error)

	// UpdateGroup renames a group and/or replaces its membership and expiry.
	UpdateGroup(ctx context.Context, g model.Group) error

	// DeleteGroup removes a group. Deletion fails with a conflict error
	// while any grant references the group.
	DeleteGroup(ctx context.Context, id int64) error

	// ResolveSubject interns a subject pattern document, returning its
	// stable id (an upsert: equal documents resolve to the same id).
	ResolveSubject(ctx context.Context, s model.Subject) (int64, error)

	// ResolveResource interns a resource pattern document, returning its
	// stable id.
	ResolveResource(ctx context.Context, r model.Resource) (int64, error)

	// Close releases any resources held by the store.
	Close()
}

// ValidateGrant applies the write-time registry checks shared by all store
// implementations: the permission must be registered and its minimum
// resource specificity respected. Pattern well-formedness is guaranteed by
// the model's unmarshalling; this covers the registry invariants only.
func ValidateGrant(g model.Grant) *common.ServiceError {
	p, ok := permissions.Lookup(g.Permission)
	if !ok {
		return common.NewErrorf(common.KindValidation, "unknown permission %q", g.Permission)
	}
	if !p.ValidForResource(g.Resource) {
		return common.NewErrorf(common.KindValidation,
			"permission %q cannot be granted at resource %s", g.Permission, g.Resource)
	}
	return nil
}

// ValidateGroup applies the write-time checks shared by all store
// implementations.
func ValidateGroup(g model.Group) *common.ServiceError {
	if g.Name == "" {
		return common.NewError(common.KindValidation, "group name must be non-empty")
	}
	if g.Membership.Members() == nil && g.Membership.Expr() == nil {
		return common.NewError(common.KindValidation, "group membership must be defined")
	}
	return nil
}
