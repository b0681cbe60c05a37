//
//  Copyright © Manetu Inc. All rights reserved.
//

package postgres

import (
	"testing"

	"github.com/bento-platform/authz/pkg/common"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestPgErrorClassification(t *testing.T) {
	unique := &pgconn.PgError{Code: pgUniqueViolation}
	assert.True(t, isUniqueViolation(unique))
	assert.True(t, isUniqueViolation(errors.Wrap(unique, "insert")))
	assert.False(t, isUniqueViolation(errors.New("plain")))

	check := &pgconn.PgError{Code: pgCheckViolation}
	assert.True(t, isCheckViolation(check))
	assert.False(t, isCheckViolation(unique))
}

func TestKindIsPermanent(t *testing.T) {
	assert.True(t, kindIsPermanent(common.NewError(common.KindConflict, "dup")))
	assert.True(t, kindIsPermanent(common.NewError(common.KindNotFound, "missing")))
	assert.True(t, kindIsPermanent(common.NewError(common.KindValidation, "bad")))

	// Transient classes stay retryable
	assert.False(t, kindIsPermanent(common.NewError(common.KindUnavailable, "down")))
	assert.False(t, kindIsPermanent(errors.New("connection refused")))
}

func TestSchemaIsEmbedded(t *testing.T) {
	assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS grants")
	assert.Contains(t, schema, "uq_grants_identity")
}
