//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package postgres implements the store.Service interface over a Postgres
// database using pgx connection pooling.
//
// Subject and resource pattern documents are interned into their own tables
// and referenced by id from grants; uniqueness is structural, enforced by
// JSONB unique constraints. Transient failures are retried twice with
// exponential backoff (200 ms, 800 ms) before surfacing as unavailable.
package postgres

import (
	"context"
	"encoding/json"
	_ "embed"
	"time"

	"github.com/bento-platform/authz/internal/logging"
	"github.com/bento-platform/authz/pkg/common"
	"github.com/bento-platform/authz/pkg/core/config"
	"github.com/bento-platform/authz/pkg/core/model"
	"github.com/bento-platform/authz/pkg/core/store"
	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

//go:embed schema.sql
var schema string

var logger = logging.GetLogger("authz.store.postgres")

const agent = "store"

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"

	pingTimeout = 5 * time.Second

	retryInitialInterval = 200 * time.Millisecond
	retryMultiplier      = 4
	retryMaxAttempts     = 2
)

// Factory creates Postgres-backed stores from the loaded configuration.
type Factory struct{}

// NewFactory returns a store.Factory for the Postgres implementation.
func NewFactory() store.Factory {
	return &Factory{}
}

// NewStore opens the connection pool, pings the database, and applies the
// schema bootstrap.
func (f *Factory) NewStore(ctx context.Context) (store.Service, error) {
	uri := config.VConfig.GetString(config.DatabaseURI)

	poolConfig, err := pgxpool.ParseConfig(uri)
	if err != nil {
		return nil, errors.Wrap(err, "parsing database uri")
	}
	poolConfig.MaxConns = int32(config.VConfig.GetInt(config.DatabaseMaxConns))

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, "creating connection pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, common.WrapError(common.KindUnavailable, err, "store unreachable")
	}

	s := &Store{pool: pool}
	if err := s.bootstrap(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Infof(agent, "init", "connected to store, pool size %d", poolConfig.MaxConns)
	return s, nil
}

// Store is the Postgres store.Service implementation.
type Store struct {
	pool *pgxpool.Pool
}

func (s *Store) bootstrap(ctx context.Context) error {
	return s.withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, schema)
		return err
	})
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// withRetry runs op, retrying transient failures with exponential backoff.
// Classified ServiceErrors (conflict, not-found, validation) are permanent
// and returned immediately.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.Multiplier = retryMultiplier
	bo.RandomizationFactor = 0

	attempt := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if kindIsPermanent(err) {
			return backoff.Permanent(err)
		}
		logger.Warnf(agent, "retry", "transient store failure: %+v", err)
		return err
	}

	err := backoff.Retry(attempt,
		backoff.WithContext(backoff.WithMaxRetries(bo, retryMaxAttempts), ctx))
	if err == nil {
		return nil
	}
	if kindIsPermanent(err) {
		return err
	}
	return common.WrapError(common.KindUnavailable, err, "store unavailable")
}

func kindIsPermanent(err error) bool {
	var se *common.ServiceError
	if !errors.As(err, &se) {
		return false
	}
	return se.Kind != common.KindUnavailable && se.Kind != common.KindInternal
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgCheckViolation
}

// resolveSubject interns a subject pattern document, returning its id.
func resolveSubject(ctx context.Context, tx pgx.Tx, subject model.Subject) (int64, error) {
	doc, err := json.Marshal(subject)
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO subjects (def) VALUES ($1)
		ON CONFLICT (def) DO UPDATE SET def = EXCLUDED.def
		RETURNING id`, doc).Scan(&id)
	return id, err
}

// resolveResource interns a resource pattern document, returning its id.
func resolveResource(ctx context.Context, tx pgx.Tx, resource model.Resource) (int64, error) {
	doc, err := json.Marshal(resource)
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO resources (def) VALUES ($1)
		ON CONFLICT (def) DO UPDATE SET def = EXCLUDED.def
		RETURNING id`, doc).Scan(&id)
	return id, err
}

// ResolveSubject interns a subject pattern document in its own transaction.
func (s *Store) ResolveSubject(ctx context.Context, subject model.Subject) (int64, error) {
	var id int64
	err := s.withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		id, err = resolveSubject(ctx, tx, subject)
		if err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	return id, err
}

// ResolveResource interns a resource pattern document in its own transaction.
func (s *Store) ResolveResource(ctx context.Context, resource model.Resource) (int64, error) {
	var id int64
	err := s.withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		id, err = resolveResource(ctx, tx, resource)
		if err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	return id, err
}

const grantColumns = `
	g.id, s.def, r.def, g.permission, g.negated, g.extra, g.created, g.expiry`

const grantSelect = `
	SELECT ` + grantColumns + `
	FROM grants g
	JOIN subjects s ON g.subject = s.id
	JOIN resources r ON g.resource = r.id`

func scanGrant(row pgx.Row) (*model.Grant, error) {
	var (
		g           model.Grant
		subjectDoc  []byte
		resourceDoc []byte
	)
	if err := row.Scan(&g.ID, &subjectDoc, &resourceDoc, &g.Permission,
		&g.Negated, &g.Extra, &g.Created, &g.Expiry); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(subjectDoc, &g.Subject); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(resourceDoc, &g.Resource); err != nil {
		return nil, err
	}
	return &g, nil
}

func scanGroup(row pgx.Row) (*model.Group, error) {
	var (
		g             model.Group
		membershipDoc []byte
	)
	if err := row.Scan(&g.ID, &g.Name, &membershipDoc, &g.Created, &g.Expiry); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(membershipDoc, &g.Membership); err != nil {
		return nil, err
	}
	return &g, nil
}

func collectGrants(rows pgx.Rows) ([]model.Grant, error) {
	defer rows.Close()
	grants := []model.Grant{}
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			// A malformed stored pattern must not sink the whole read; the
			// evaluation layer treats the grant as absent.
			logger.Errorf(agent, "scan", "skipping malformed grant row: %+v", err)
			continue
		}
		grants = append(grants, *g)
	}
	return grants, rows.Err()
}

func collectGroups(rows pgx.Rows) ([]model.Group, error) {
	defer rows.Close()
	groups := []model.Group{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			logger.Errorf(agent, "scan", "skipping malformed group row: %+v", err)
			continue
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

// Snapshot reads all grants and groups in one repeatable-read transaction.
func (s *Store) Snapshot(ctx context.Context) (*store.Snapshot, error) {
	var snap *store.Snapshot

	err := s.withRetry(ctx, func() error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
			IsoLevel:   pgx.RepeatableRead,
			AccessMode: pgx.ReadOnly,
		})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		rows, err := tx.Query(ctx, grantSelect)
		if err != nil {
			return err
		}
		grants, err := collectGrants(rows)
		if err != nil {
			return err
		}

		rows, err = tx.Query(ctx, `SELECT id, name, membership, created, expiry FROM groups`)
		if err != nil {
			return err
		}
		groupList, err := collectGroups(rows)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		groups := make(map[int64]model.Group, len(groupList))
		for _, g := range groupList {
			groups[g.ID] = g
		}
		snap = &store.Snapshot{Grants: grants, Groups: groups, Taken: time.Now().UTC()}
		return nil
	})

	return snap, err
}

// ListGrants returns all stored grants, including expired ones.
func (s *Store) ListGrants(ctx context.Context) ([]model.Grant, error) {
	var grants []model.Grant
	err := s.withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx, grantSelect+` ORDER BY g.id`)
		if err != nil {
			return err
		}
		grants, err = collectGrants(rows)
		return err
	})
	return grants, err
}

// GetGrant returns a grant by id.
func (s *Store) GetGrant(ctx context.Context, id int64) (*model.Grant, error) {
	var grant *model.Grant
	err := s.withRetry(ctx, func() error {
		g, err := scanGrant(s.pool.QueryRow(ctx, grantSelect+` WHERE g.id = $1`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return common.NewErrorf(common.KindNotFound, "grant '%d' not found", id)
			}
			return err
		}
		grant = g
		return nil
	})
	return grant, err
}

// CreateGrant validates and persists a grant in a single transaction.
func (s *Store) CreateGrant(ctx context.Context, g model.Grant) (int64, error) {
	if serr := store.ValidateGrant(g); serr != nil {
		return 0, serr
	}
	if g.Extra == nil {
		g.Extra = json.RawMessage(`{}`)
	}

	var id int64
	err := s.withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		// Group references must point at an existing group.
		if g.Subject.Kind() == model.SubjectGroup {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM groups WHERE id = $1)`, g.Subject.GroupID()).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return common.NewErrorf(common.KindValidation,
					"grant references unknown group '%d'", g.Subject.GroupID())
			}
		}

		subjectID, err := resolveSubject(ctx, tx, g.Subject)
		if err != nil {
			return err
		}
		resourceID, err := resolveResource(ctx, tx, g.Resource)
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO grants (subject, resource, permission, negated, extra, expiry)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			subjectID, resourceID, g.Permission, g.Negated, g.Extra, g.Expiry).Scan(&id)
		if err != nil {
			if isUniqueViolation(err) {
				return common.NewError(common.KindConflict,
					"an equivalent grant already exists")
			}
			return err
		}

		return tx.Commit(ctx)
	})

	return id, err
}

// DeleteGrant removes a grant by id.
func (s *Store) DeleteGrant(ctx context.Context, id int64) error {
	return s.withRetry(ctx, func() error {
		tag, err := s.pool.Exec(ctx, `DELETE FROM grants WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return common.NewErrorf(common.KindNotFound, "grant '%d' not found", id)
		}
		return nil
	})
}

// ListGroups returns all stored groups, including expired ones.
func (s *Store) ListGroups(ctx context.Context) ([]model.Group, error) {
	var groups []model.Group
	err := s.withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx, `SELECT id, name, membership, created, expiry FROM groups ORDER BY id`)
		if err != nil {
			return err
		}
		groups, err = collectGroups(rows)
		return err
	})
	return groups, err
}

// GetGroup returns a group by id.
func (s *Store) GetGroup(ctx context.Context, id int64) (*model.Group, error) {
	var group *model.Group
	err := s.withRetry(ctx, func() error {
		g, err := scanGroup(s.pool.QueryRow(ctx,
			`SELECT id, name, membership, created, expiry FROM groups WHERE id = $1`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return common.NewErrorf(common.KindNotFound, "group '%d' not found", id)
			}
			return err
		}
		group = g
		return nil
	})
	return group, err
}

// CreateGroup validates and persists a group.
func (s *Store) CreateGroup(ctx context.Context, g model.Group) (int64, error) {
	if serr := store.ValidateGroup(g); serr != nil {
		return 0, serr
	}

	doc, err := json.Marshal(g.Membership)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.withRetry(ctx, func() error {
		err := s.pool.QueryRow(ctx, `
			INSERT INTO groups (name, membership, expiry)
			VALUES ($1, $2, $3)
			RETURNING id`, g.Name, doc, g.Expiry).Scan(&id)
		if err != nil {
			if isUniqueViolation(err) {
				return common.NewErrorf(common.KindConflict, "group name %q already exists", g.Name)
			}
			if isCheckViolation(err) {
				return common.NewError(common.KindValidation, "group name must be non-empty")
			}
			return err
		}
		return nil
	})

	return id, err
}

// UpdateGroup renames a group and/or replaces its membership and expiry.
func (s *Store) UpdateGroup(ctx context.Context, g model.Group) error {
	if serr := store.ValidateGroup(g); serr != nil {
		return serr
	}

	doc, err := json.Marshal(g.Membership)
	if err != nil {
		return err
	}

	return s.withRetry(ctx, func() error {
		tag, err := s.pool.Exec(ctx, `
			UPDATE groups SET name = $2, membership = $3, expiry = $4
			WHERE id = $1`, g.ID, g.Name, doc, g.Expiry)
		if err != nil {
			if isUniqueViolation(err) {
				return common.NewErrorf(common.KindConflict, "group name %q already exists", g.Name)
			}
			return err
		}
		if tag.RowsAffected() == 0 {
			return common.NewErrorf(common.KindNotFound, "group '%d' not found", g.ID)
		}
		return nil
	})
}

// DeleteGroup removes a group, refusing while any grant references it.
func (s *Store) DeleteGroup(ctx context.Context, id int64) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		var referenced bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM grants g
				JOIN subjects s ON g.subject = s.id
				WHERE s.def = jsonb_build_object('group', $1::bigint)
			)`, id).Scan(&referenced)
		if err != nil {
			return err
		}
		if referenced {
			return common.NewErrorf(common.KindConflict,
				"group '%d' is referenced by one or more grants", id)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return common.NewErrorf(common.KindNotFound, "group '%d' not found", id)
		}

		return tx.Commit(ctx)
	})
}
