//
//  Copyright © Manetu Inc. All rights reserved.
//

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bento-platform/authz/pkg/common"
	"github.com/bento-platform/authz/pkg/core"
	"github.com/bento-platform/authz/pkg/core/accesslog"
	"github.com/bento-platform/authz/pkg/core/config"
	"github.com/bento-platform/authz/pkg/core/idp"
	"github.com/bento-platform/authz/pkg/core/model"
	"github.com/bento-platform/authz/pkg/core/options"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIss = "https://auth.local/realms/bento"

type stubVerifier struct {
	tokens map[string]*idp.TokenData
}

func (s *stubVerifier) Verify(_ context.Context, bearer string) (*idp.TokenData, error) {
	if td, ok := s.tokens[bearer]; ok {
		return td, nil
	}
	return nil, common.NewError(common.KindAuthentication, "token validation failed")
}

func claimsFor(sub string) *idp.TokenData {
	return &idp.TokenData{
		Iss: testIss, Sub: sub, Azp: "portal",
		Claims: map[string]interface{}{"iss": testIss, "sub": sub, "azp": "portal"},
	}
}

// newTestServer builds an echo router over an engine with an in-memory
// store. The "token-admin" bearer is a configured superuser.
func newTestServer(t *testing.T) (*echo.Echo, core.PolicyEngine) {
	t.Helper()
	t.Setenv("BENTO_SUPERUSERS", `[{"iss": "`+testIss+`", "sub": "admin"}]`)
	config.ResetConfig()

	verifier := &stubVerifier{tokens: map[string]*idp.TokenData{
		"token-admin": claimsFor("admin"),
		"token-david": claimsFor("david"),
	}}

	pe, err := core.NewPolicyEngine(context.Background(),
		options.WithAccessLog(accesslog.NewNullFactory()),
		options.WithVerifier(verifier),
	)
	require.NoError(t, err)
	t.Cleanup(pe.Close)

	return newEcho(pe), pe
}

func doRequest(e *echo.Echo, method, path, bearer, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestPolicyEvaluateEndpoint(t *testing.T) {
	e, pe := newTestServer(t)

	_, err := pe.GetStore().CreateGrant(context.Background(), model.Grant{
		Subject:    model.NewSubjectEveryone(),
		Resource:   model.NewResourceProject("p1"),
		Permission: "query:data",
	})
	require.NoError(t, err)

	rec := doRequest(e, http.MethodPost, "/policy/evaluate", "", `{
		"resources": [{"project": "p1"}, {"project": "p2"}],
		"permissions": ["query:data"]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		Result [][]bool `json:"result"`
	}
	decode(t, rec, &res)
	assert.Equal(t, [][]bool{{true}, {false}}, res.Result)
}

func TestPolicyEvaluateOneEndpoint(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doRequest(e, http.MethodPost, "/policy/evaluate_one", "", `{
		"resource": {"everything": true},
		"permission": "query:data"
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Result bool `json:"result"`
	}
	decode(t, rec, &res)
	assert.False(t, res.Result, "anonymous deny on an empty store")
}

func TestPolicyEvaluateValidation(t *testing.T) {
	e, _ := newTestServer(t)

	// Unknown permission
	rec := doRequest(e, http.MethodPost, "/policy/evaluate", "", `{
		"resources": [{"project": "p1"}],
		"permissions": ["fly:rocket"]
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed resource pattern
	rec = doRequest(e, http.MethodPost, "/policy/evaluate", "", `{
		"resources": [{"bogus": true}],
		"permissions": ["query:data"]
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Empty resources
	rec = doRequest(e, http.MethodPost, "/policy/evaluate", "", `{
		"resources": [],
		"permissions": ["query:data"]
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decode(t, rec, &envelope)
	assert.Equal(t, "validation", envelope.Error.Code)
	assert.NotEmpty(t, envelope.Error.Message)
}

func TestInvalidTokenIs401(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doRequest(e, http.MethodPost, "/policy/evaluate_one", "garbage", `{
		"resource": {"project": "p1"},
		"permission": "query:data"
	}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMalformedAuthorizationHeader(t *testing.T) {
	e, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/grants", nil)
	req.Header.Set(echo.HeaderAuthorization, "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGrantCRUD(t *testing.T) {
	e, _ := newTestServer(t)

	body := `{
		"subject": {"everyone": true},
		"resource": {"project": "p1"},
		"permission": "query:data",
		"extra": {"note": "project-wide read"}
	}`

	// Anonymous callers cannot create grants
	rec := doRequest(e, http.MethodPost, "/grants", "", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Non-superuser without edit:permissions cannot either
	rec = doRequest(e, http.MethodPost, "/grants", "token-david", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Superuser can
	rec = doRequest(e, http.MethodPost, "/grants", "token-admin", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created model.Grant
	decode(t, rec, &created)
	assert.NotZero(t, created.ID)
	assert.False(t, created.Created.IsZero())
	assert.JSONEq(t, `{"note": "project-wide read"}`, string(created.Extra))

	// Round-trip
	rec = doRequest(e, http.MethodGet, "/grants/1", "token-admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched model.Grant
	decode(t, rec, &fetched)
	assert.True(t, fetched.Subject.Equal(model.NewSubjectEveryone()))
	assert.Equal(t, "query:data", fetched.Permission)

	// Duplicate create conflicts
	rec = doRequest(e, http.MethodPost, "/grants", "token-admin", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Delete, then 404
	rec = doRequest(e, http.MethodDelete, "/grants/1", "token-admin", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doRequest(e, http.MethodGet, "/grants/1", "token-admin", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGrantCreateExpiredRejected(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doRequest(e, http.MethodPost, "/grants", "token-admin", `{
		"subject": {"everyone": true},
		"resource": {"project": "p1"},
		"permission": "query:data",
		"expiry": "2020-01-01T00:00:00Z"
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGrantListFiltersByViewPermission(t *testing.T) {
	e, pe := newTestServer(t)
	ctx := context.Background()

	_, err := pe.GetStore().CreateGrant(ctx, model.Grant{
		Subject:    model.NewSubjectEveryone(),
		Resource:   model.NewResourceProject("p1"),
		Permission: "query:data",
	})
	require.NoError(t, err)

	// Give david view:permissions on p1 only
	_, err = pe.GetStore().CreateGrant(ctx, model.Grant{
		Subject:    model.NewSubjectIssuerSubject(testIss, "david"),
		Resource:   model.NewResourceProject("p1"),
		Permission: "view:permissions",
	})
	require.NoError(t, err)

	_, err = pe.GetStore().CreateGrant(ctx, model.Grant{
		Subject:    model.NewSubjectEveryone(),
		Resource:   model.NewResourceProject("p2"),
		Permission: "query:data",
	})
	require.NoError(t, err)

	// The superuser sees all three
	rec := doRequest(e, http.MethodGet, "/grants", "token-admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var grants []model.Grant
	decode(t, rec, &grants)
	assert.Len(t, grants, 3)

	// David sees only the p1 grants
	rec = doRequest(e, http.MethodGet, "/grants", "token-david", "")
	require.Equal(t, http.StatusOK, rec.Code)
	grants = nil
	decode(t, rec, &grants)
	require.Len(t, grants, 2)
	for _, g := range grants {
		assert.Equal(t, "p1", g.Resource.Project())
	}

	// Anonymous callers see none
	rec = doRequest(e, http.MethodGet, "/grants", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	grants = nil
	decode(t, rec, &grants)
	assert.Empty(t, grants)
}

func TestGroupCRUD(t *testing.T) {
	e, _ := newTestServer(t)

	body := `{
		"name": "verified-users",
		"membership": {"expr": {"claim": "email_verified", "op": "eq", "value": true}}
	}`

	rec := doRequest(e, http.MethodPost, "/groups", "token-david", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(e, http.MethodPost, "/groups", "token-admin", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created model.Group
	decode(t, rec, &created)
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, "verified-users", created.Name)

	// Duplicate name conflicts
	rec = doRequest(e, http.MethodPost, "/groups", "token-admin", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Rename via PUT
	rec = doRequest(e, http.MethodPut, "/groups/1", "token-admin", `{
		"name": "verified",
		"membership": {"members": [{"iss": "`+testIss+`", "sub": "david"}]}
	}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(e, http.MethodGet, "/groups/1", "token-admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched model.Group
	decode(t, rec, &fetched)
	assert.Equal(t, "verified", fetched.Name)
	assert.Len(t, fetched.Membership.Members(), 1)

	// Delete while referenced by a grant conflicts
	rec = doRequest(e, http.MethodPost, "/grants", "token-admin", `{
		"subject": {"group": 1},
		"resource": {"everything": true},
		"permission": "view:private_portal"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(e, http.MethodDelete, "/groups/1", "token-admin", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(e, http.MethodDelete, "/grants/1", "token-admin", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = doRequest(e, http.MethodDelete, "/groups/1", "token-admin", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(e, http.MethodGet, "/groups/1", "token-admin", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAllPermissionsEndpoint(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doRequest(e, http.MethodGet, "/all_permissions", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var items []struct {
		ID               string   `json:"id"`
		Verb             string   `json:"verb"`
		Noun             string   `json:"noun"`
		MinLevelRequired string   `json:"min_level_required"`
		Gives            []string `json:"gives"`
	}
	decode(t, rec, &items)
	require.NotEmpty(t, items)

	byID := map[string]int{}
	for i, item := range items {
		byID[item.ID] = i
	}
	require.Contains(t, byID, "edit:permissions")
	assert.Equal(t, []string{"view:permissions"}, items[byID["edit:permissions"]].Gives)
	require.Contains(t, byID, "query:dataset_level_counts")
	assert.Equal(t, "dataset", items[byID["query:dataset_level_counts"]].MinLevelRequired)
}

func TestServiceInfoEndpoint(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doRequest(e, http.MethodGet, "/service-info", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info map[string]interface{}
	decode(t, rec, &info)
	assert.Equal(t, "ca.c3g.bento:authorization", info["id"])
	assert.Equal(t, "Bento Authorization Service", info["name"])

	typ, ok := info["type"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ca.c3g.bento", typ["group"])
	assert.Equal(t, "authorization", typ["artifact"])

	bento, ok := info["bento"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "authorization", bento["serviceKind"])
}

func TestDebugModeLeaksDetailOnlyWhenEnabled(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doRequest(e, http.MethodGet, "/grants/not-a-number", "token-admin", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var envelope struct {
		Error struct {
			Detail string `json:"detail"`
		} `json:"error"`
	}
	decode(t, rec, &envelope)
	assert.Empty(t, envelope.Error.Detail)

	config.VConfig.Set(config.Debug, true)
	defer config.VConfig.Set(config.Debug, false)

	rec = doRequest(e, http.MethodGet, "/grants/not-a-number", "token-admin", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	decode(t, rec, &envelope)
	assert.NotEmpty(t, envelope.Error.Detail)
}
