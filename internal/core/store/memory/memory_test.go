//
//  Copyright © Manetu Inc. All rights reserved.
//

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/bento-platform/authz/pkg/common"
	"github.com/bento-platform/authz/pkg/core/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGrant() model.Grant {
	return model.Grant{
		Subject:    model.NewSubjectEveryone(),
		Resource:   model.NewResourceProject("p1"),
		Permission: "query:data",
	}
}

func testGroup(name string) model.Group {
	return model.Group{
		Name: name,
		Membership: model.NewMembershipList(
			model.NewGroupMemberSubject("https://auth.local/realms/bento", "david"),
		),
	}
}

func TestGrantRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, err := s.CreateGrant(ctx, testGrant())
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	got, err := s.GetGrant(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.True(t, got.Subject.Equal(model.NewSubjectEveryone()))
	assert.True(t, got.Resource.Equal(model.NewResourceProject("p1")))
	assert.Equal(t, "query:data", got.Permission)
	assert.False(t, got.Created.IsZero())
	assert.JSONEq(t, `{}`, string(got.Extra))
}

func TestGrantIDsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	s := New()

	g := testGrant()
	id1, err := s.CreateGrant(ctx, g)
	require.NoError(t, err)

	g2 := testGrant()
	g2.Permission = "download:data"
	id2, err := s.CreateGrant(ctx, g2)
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	require.NoError(t, s.DeleteGrant(ctx, id2))

	g3 := testGrant()
	g3.Permission = "ingest:data"
	id3, err := s.CreateGrant(ctx, g3)
	require.NoError(t, err)
	assert.Greater(t, id3, id2, "ids are never reused")
}

func TestGrantUniqueness(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.CreateGrant(ctx, testGrant())
	require.NoError(t, err)

	_, err = s.CreateGrant(ctx, testGrant())
	require.Error(t, err)
	assert.Equal(t, common.KindConflict, common.KindOf(err))

	// Same tuple with a different expiry is a distinct grant
	expiring := testGrant()
	expiry := time.Now().Add(time.Hour).UTC()
	expiring.Expiry = &expiry
	_, err = s.CreateGrant(ctx, expiring)
	assert.NoError(t, err)
}

func TestGrantValidation(t *testing.T) {
	ctx := context.Background()
	s := New()

	unknown := testGrant()
	unknown.Permission = "fly:rocket"
	_, err := s.CreateGrant(ctx, unknown)
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))

	// Below the permission's minimum specificity
	belowMin := testGrant()
	belowMin.Permission = "query:dataset_level_counts"
	belowMin.Resource = model.NewResourceProject("p1")
	_, err = s.CreateGrant(ctx, belowMin)
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))

	// Dangling group reference
	dangling := testGrant()
	dangling.Subject = model.NewSubjectGroup(42)
	_, err = s.CreateGrant(ctx, dangling)
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))
}

func TestGroupLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, err := s.CreateGroup(ctx, testGroup("team"))
	require.NoError(t, err)

	// Name uniqueness
	_, err = s.CreateGroup(ctx, testGroup("team"))
	require.Error(t, err)
	assert.Equal(t, common.KindConflict, common.KindOf(err))

	// Groups are editable
	updated := testGroup("team-renamed")
	updated.ID = id
	require.NoError(t, s.UpdateGroup(ctx, updated))
	got, err := s.GetGroup(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "team-renamed", got.Name)

	// Deletion is blocked while referenced by a grant
	grant := testGrant()
	grant.Subject = model.NewSubjectGroup(id)
	grantID, err := s.CreateGrant(ctx, grant)
	require.NoError(t, err)

	err = s.DeleteGroup(ctx, id)
	require.Error(t, err)
	assert.Equal(t, common.KindConflict, common.KindOf(err))

	require.NoError(t, s.DeleteGrant(ctx, grantID))
	assert.NoError(t, s.DeleteGroup(ctx, id))

	_, err = s.GetGroup(ctx, id)
	assert.Equal(t, common.KindNotFound, common.KindOf(err))
}

func TestGroupValidation(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.CreateGroup(ctx, model.Group{Name: "", Membership: testGroup("x").Membership})
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))

	_, err = s.CreateGroup(ctx, model.Group{Name: "no-membership"})
	require.Error(t, err)
	assert.Equal(t, common.KindValidation, common.KindOf(err))
}

func TestResolveUpserts(t *testing.T) {
	ctx := context.Background()
	s := New()

	id1, err := s.ResolveSubject(ctx, model.NewSubjectEveryone())
	require.NoError(t, err)
	id2, err := s.ResolveSubject(ctx, model.NewSubjectEveryone())
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "equal documents resolve to the same id")

	id3, err := s.ResolveSubject(ctx, model.NewSubjectAnonymous())
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)

	r1, err := s.ResolveResource(ctx, model.NewResourceProject("p1"))
	require.NoError(t, err)
	r2, err := s.ResolveResource(ctx, model.NewResourceProject("p1"))
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestSnapshotIsIsolatedFromLaterWrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.CreateGrant(ctx, testGrant())
	require.NoError(t, err)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Grants, 1)

	later := testGrant()
	later.Permission = "download:data"
	_, err = s.CreateGrant(ctx, later)
	require.NoError(t, err)

	assert.Len(t, snap.Grants, 1, "snapshot must not see writes made after it was taken")
}
