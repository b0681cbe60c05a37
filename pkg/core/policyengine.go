//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package core provides the primary interface of the authorization
// decision service: given a bearer-token-identified subject, does that
// subject hold a set of permissions on a set of resources?
//
// The engine evaluates each (resource, permission) cell against a single
// consistent store snapshot using a cascade over the hierarchical resource
// space: grants at coarser scopes propagate to narrower scopes unless
// overridden by a more specific grant of opposite polarity. Every
// top-level call emits one decision record to the configured access log.
//
// # Quick Start
//
// Create an engine with default options (stdout decision log, in-memory
// store):
//
//	pe, err := core.NewPolicyEngine(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pe.Close()
//
// Make a decision:
//
//	result, err := pe.Evaluate(ctx, bearer,
//	    []model.Resource{model.NewResourceProject("p1")},
//	    []string{"query:data"})
//
// # Configuration
//
// The engine supports various configuration options via functional options:
//
//	pe, err := core.NewPolicyEngine(ctx,
//	    options.WithStore(postgres.NewFactory()),
//	    options.WithAccessLog(accesslog.NewStdoutFactory()),
//	)
package core

import (
	"context"
	"sort"
	"time"

	internallog "github.com/bento-platform/authz/internal/core/accesslog"
	memorystore "github.com/bento-platform/authz/internal/core/store/memory"
	"github.com/bento-platform/authz/internal/logging"
	"github.com/bento-platform/authz/pkg/common"
	"github.com/bento-platform/authz/pkg/core/accesslog"
	"github.com/bento-platform/authz/pkg/core/config"
	"github.com/bento-platform/authz/pkg/core/idp"
	"github.com/bento-platform/authz/pkg/core/model"
	"github.com/bento-platform/authz/pkg/core/options"
	"github.com/bento-platform/authz/pkg/core/permissions"
	"github.com/bento-platform/authz/pkg/core/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var logger = logging.GetLogger("authz.engine")
var agent = "engine"

const dispatchDepth = 256

func errDanglingGroup(id int64) error {
	return common.NewErrorf(common.KindInternal, "grant references unknown group '%d'", id)
}

func errMalformedSubject(s model.Subject) error {
	return common.NewErrorf(common.KindInternal, "malformed subject pattern %s", s)
}

// PolicyEngine is the primary interface for making authorization decisions.
//
// The token argument on each operation is the raw bearer string; pass ""
// for an anonymous caller. A present-but-invalid token yields an
// authentication error, never a silent fall back to anonymous.
//
// Implementations are safe for concurrent use by multiple goroutines.
type PolicyEngine interface {
	// Evaluate returns a decision matrix: one row per requested resource,
	// one column per requested permission.
	Evaluate(ctx context.Context, token string, resources []model.Resource, perms []string) ([][]bool, error)

	// EvaluateOne is the scalar form of Evaluate for a single
	// (resource, permission) pair.
	EvaluateOne(ctx context.Context, token string, resource model.Resource, perm string) (bool, error)

	// PermissionsFor returns, per requested resource, the full set of
	// registry permissions the caller holds on it.
	PermissionsFor(ctx context.Context, token string, resources []model.Resource) ([][]string, error)

	// GetStore returns the underlying store service, used by the admin
	// surface for grant and group CRUD.
	GetStore() store.Service

	// Close flushes the decision log and releases the store.
	Close()
}

// engine is the default PolicyEngine implementation.
type engine struct {
	store      store.Service
	verifier   idp.Verifier
	dispatcher *internallog.Dispatcher
	clock      func() time.Time
	superusers []config.Superuser
}

// NewPolicyEngine creates and initializes a new [PolicyEngine] instance.
//
// By default, the engine uses a stdout decision log and an in-memory
// store. Use functional options to configure a production store and log:
//
//	pe, err := core.NewPolicyEngine(ctx,
//	    options.WithStore(postgres.NewFactory()),
//	    options.WithAccessLog(kafkaFactory),
//	)
//
// NewPolicyEngine loads configuration from environment variables and config
// files before initializing. See the [config] package for details.
func NewPolicyEngine(ctx context.Context, engineOptions ...options.EngineOptionsFunc) (PolicyEngine, error) {
	if err := config.Load(); err != nil {
		return nil, errors.Wrap(err, "error loading config")
	}

	opts := &options.EngineOptions{
		AccessLogFactory: accesslog.NewStdoutFactory(),
		StoreFactory:     memorystore.NewFactory(),
		Clock:            time.Now,
	}
	for _, o := range engineOptions {
		o(opts)
	}
	if opts.Verifier == nil {
		opts.Verifier = idp.NewVerifier()
	}

	st, err := opts.StoreFactory.NewStore(ctx)
	if err != nil {
		return nil, err
	}

	stream, err := opts.AccessLogFactory.NewStream()
	if err != nil {
		st.Close()
		return nil, err
	}

	return &engine{
		store:      st,
		verifier:   opts.Verifier,
		dispatcher: internallog.NewDispatcher(stream, dispatchDepth),
		clock:      opts.Clock,
		superusers: config.GetSuperusers(),
	}, nil
}

// GetStore returns the underlying store service.
func (e *engine) GetStore() store.Service {
	return e.store
}

// Close flushes the decision log and releases the store.
func (e *engine) Close() {
	e.dispatcher.Close()
	e.store.Close()
}

// resolve turns a raw bearer string into a resolved subject. An empty
// token is the anonymous caller.
func (e *engine) resolve(ctx context.Context, token string) (ResolvedSubject, error) {
	if token == "" {
		return ResolvedSubject{Anonymous: true}, nil
	}
	td, err := e.verifier.Verify(ctx, token)
	if err != nil {
		return ResolvedSubject{}, err
	}
	return ResolveSubject(td), nil
}

// isSuperuser reports whether the resolved subject is in the configured
// bootstrap superuser list.
func (e *engine) isSuperuser(rs ResolvedSubject) bool {
	if rs.Anonymous {
		return false
	}
	for _, su := range e.superusers {
		if su.Iss == rs.Iss && su.Sub == rs.Sub {
			return true
		}
	}
	return false
}

// Evaluate returns the decision matrix for the given resources and
// permissions.
func (e *engine) Evaluate(ctx context.Context, token string, resources []model.Resource, perms []string) ([][]bool, error) {
	rs, err := e.resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	now := e.clock().UTC()
	result := make([][]bool, len(resources))
	matchedIDs := map[int64]bool{}

	if e.isSuperuser(rs) {
		for i := range resources {
			row := make([]bool, len(perms))
			for j := range row {
				row[j] = true
			}
			result[i] = row
		}
		e.emit(rs, now, resources, perms, result, nil)
		return result, nil
	}

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	for i, resource := range resources {
		matched := matchingGrants(snap, rs, resource, now)
		row := make([]bool, len(perms))
		for j, perm := range perms {
			allow, winners := decideCell(matched, perm)
			row[j] = allow
			for _, id := range winners {
				matchedIDs[id] = true
			}
		}
		result[i] = row
	}

	e.emit(rs, now, resources, perms, result, matchedIDs)
	return result, nil
}

// EvaluateOne is the scalar form of Evaluate.
func (e *engine) EvaluateOne(ctx context.Context, token string, resource model.Resource, perm string) (bool, error) {
	matrix, err := e.Evaluate(ctx, token, []model.Resource{resource}, []string{perm})
	if err != nil {
		return false, err
	}
	return matrix[0][0], nil
}

// PermissionsFor returns the full set of permissions held per resource.
func (e *engine) PermissionsFor(ctx context.Context, token string, resources []model.Resource) ([][]string, error) {
	rs, err := e.resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	now := e.clock().UTC()
	result := make([][]string, len(resources))

	if e.isSuperuser(rs) {
		all := allPermissionIDs()
		allow := make([][]bool, len(resources))
		for i := range resources {
			result[i] = all
			allow[i] = []bool{true}
		}
		e.emit(rs, now, resources, nil, allow, nil)
		return result, nil
	}

	snap, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	matchedIDs := map[int64]bool{}
	decisions := make([][]bool, len(resources))
	for i, resource := range resources {
		matched := matchingGrants(snap, rs, resource, now)
		result[i] = permissionsForCell(matched)
		for _, p := range result[i] {
			_, winners := decideCell(matched, p)
			for _, id := range winners {
				matchedIDs[id] = true
			}
		}
		decisions[i] = []bool{len(result[i]) > 0}
	}

	e.emit(rs, now, resources, nil, decisions, matchedIDs)
	return result, nil
}

// emit queues one decision record for a top-level evaluation call.
// Emission never blocks or fails the request.
func (e *engine) emit(rs ResolvedSubject, now time.Time, resources []model.Resource, perms []string, result [][]bool, matched map[int64]bool) {
	decision := true
	for _, row := range result {
		for _, cell := range row {
			decision = decision && cell
		}
	}

	ids := make([]int64, 0, len(matched))
	for id := range matched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	e.dispatcher.Emit(&accesslog.DecisionRecord{
		ID:              uuid.NewString(),
		Ts:              now,
		CallerIss:       rs.Iss,
		CallerSub:       rs.Sub,
		Resources:       resources,
		Permissions:     perms,
		Decision:        decision,
		MatchedGrantIDs: ids,
	})
}

func allPermissionIDs() []string {
	all := permissions.All()
	out := make([]string, 0, len(all))
	for _, p := range all {
		out = append(out, p.ID())
	}
	return out
}
