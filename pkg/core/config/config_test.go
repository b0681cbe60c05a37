//
//  Copyright © Manetu Inc. All rights reserved.
//

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	ResetConfig()

	assert.Equal(t, 10, VConfig.GetInt(DatabaseMaxConns))
	assert.Equal(t, []string{"account"}, GetAudiences())
	assert.Equal(t, []string{"RS256", "ES256"}, GetAlgorithms())
	assert.Equal(t, 30, VConfig.GetInt(TokenLeewaySeconds))
	assert.Equal(t, 600, VConfig.GetInt(JWKSTTLSeconds))
	assert.False(t, VConfig.GetBool(DisableTokenVerification))
	assert.Nil(t, GetSuperusers())
}

func TestDeploymentEnvBindings(t *testing.T) {
	t.Setenv("DATABASE_URI", "postgres://db.internal:5432/authz")
	t.Setenv("OPENID_CONFIG_URL", "https://auth.local/realms/bento/.well-known/openid-configuration")
	t.Setenv("TOKEN_AUDIENCE", "account, authz")
	t.Setenv("CORS_ORIGINS", "https://portal.local,https://admin.local")
	ResetConfig()

	assert.Equal(t, "postgres://db.internal:5432/authz", VConfig.GetString(DatabaseURI))
	assert.Equal(t,
		"https://auth.local/realms/bento/.well-known/openid-configuration",
		VConfig.GetString(OpenIDConfigURL))
	assert.Equal(t, []string{"account", "authz"}, GetAudiences())
	assert.Equal(t, []string{"https://portal.local", "https://admin.local"}, GetCORSOrigins())
}

func TestSuperusersFromJSONEnv(t *testing.T) {
	t.Setenv("BENTO_SUPERUSERS", `[{"iss": "https://auth.local/realms/bento", "sub": "admin"}]`)
	ResetConfig()

	sus := GetSuperusers()
	assert.Len(t, sus, 1)
	assert.Equal(t, "https://auth.local/realms/bento", sus[0].Iss)
	assert.Equal(t, "admin", sus[0].Sub)
}

func TestSuperusersMalformedEntriesDropped(t *testing.T) {
	t.Setenv("BENTO_SUPERUSERS", `[{"iss": "https://auth.local"}, {"iss": "https://auth.local", "sub": "u"}]`)
	ResetConfig()

	sus := GetSuperusers()
	assert.Len(t, sus, 1)
	assert.Equal(t, "u", sus[0].Sub)
}

func TestSuperusersMalformedJSON(t *testing.T) {
	t.Setenv("BENTO_SUPERUSERS", `{not json`)
	ResetConfig()
	assert.Nil(t, GetSuperusers())
}

func TestMain(m *testing.M) {
	// Keep env-bound tests from inheriting a developer's local settings.
	for _, k := range []string{"DATABASE_URI", "OPENID_CONFIG_URL", "TOKEN_AUDIENCE", "CORS_ORIGINS", "BENTO_SUPERUSERS"} {
		_ = os.Unsetenv(k)
	}
	os.Exit(m.Run())
}
