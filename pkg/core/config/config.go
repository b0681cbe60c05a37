//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package config provides configuration management for the authorization
// service using [Viper] for flexible configuration sources.
//
// Configuration can be provided via:
//   - YAML configuration files
//   - Environment variables
//   - Programmatic defaults
//
// # Configuration File
//
// By default, the service looks for authz-config.yaml in the current
// directory. Override the location using environment variables:
//
//	AUTHZ_CONFIG_PATH=/etc/authz
//	AUTHZ_CONFIG_FILENAME=production-config
//
// Example configuration file:
//
//	log:
//	  level: ".:info"
//	database:
//	  uri: "postgres://localhost:5432/authz"
//	openid:
//	  configurl: "https://auth.local/realms/bento/.well-known/openid-configuration"
//	superusers:
//	  - iss: "https://auth.local/realms/bento"
//	    sub: "admin"
//
// # Environment Variables
//
// Keys can be set via environment variables with the AUTHZ_ prefix (dots
// become underscores, e.g. AUTHZ_LOG_LEVEL). The deployment-facing keys are
// additionally bound to their historical un-prefixed names:
//
//	DATABASE_URI               - Postgres connection URI
//	OPENID_CONFIG_URL          - issuer discovery endpoint
//	TOKEN_AUDIENCE             - expected aud (comma-separated allowed)
//	DISABLE_TOKEN_VERIFICATION - dev only; trust decoded claims
//	BENTO_DEBUG                - verbose errors
//	BENTO_AUTHZ_SERVICE_URL    - self URL for service info
//	CORS_ORIGINS               - comma-separated allowed origins
//	BENTO_SUPERUSERS           - JSON list of {"iss": ..., "sub": ...}
//
// [Viper]: https://github.com/spf13/viper
package config

import (
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/bento-platform/authz/internal/logging"
	"github.com/spf13/viper"
)

// Environment variable and default path constants for configuration loading.
const (
	// EnvVarPrefix is the prefix for all service environment variables.
	// For example, the key "log.level" becomes AUTHZ_LOG_LEVEL.
	EnvVarPrefix string = "AUTHZ"

	// ConfigPathEnv is the environment variable that specifies the directory
	// containing the configuration file.
	ConfigPathEnv string = "AUTHZ_CONFIG_PATH"

	// ConfigFileNameEnv is the environment variable that specifies the
	// configuration file name (without extension).
	ConfigFileNameEnv string = "AUTHZ_CONFIG_FILENAME"

	// ConfigDefaultPath is the default directory to search for config files.
	ConfigDefaultPath string = "."

	// ConfigDefaultFilename is the default configuration file name (without extension).
	ConfigDefaultFilename string = "authz-config"
)

// Configuration key constants for use with [VConfig].
const (
	logLevel string = "log.level"

	// DatabaseURI is the Postgres-compatible connection URI.
	// Env: DATABASE_URI
	DatabaseURI string = "database.uri"

	// DatabaseMaxConns bounds the connection pool size. Default: 10.
	DatabaseMaxConns string = "database.maxconns"

	// OpenIDConfigURL is the OpenID discovery endpoint of the trusted issuer.
	// Env: OPENID_CONFIG_URL
	OpenIDConfigURL string = "openid.configurl"

	// TokenAudience is the comma-separated list of acceptable aud values.
	// Env: TOKEN_AUDIENCE. Default: "account" (Keycloak's default).
	TokenAudience string = "token.audience"

	// TokenAlgorithms is the comma-separated signing algorithm allow-list.
	// Default: "RS256,ES256". Symmetric algorithms are never accepted.
	TokenAlgorithms string = "token.algorithms"

	// TokenLeewaySeconds is the clock-skew leeway applied to exp/nbf checks.
	// Default: 30.
	TokenLeewaySeconds string = "token.leewayseconds"

	// DisableTokenVerification, when true, treats decoded claims as trusted
	// without signature verification. Development only.
	// Env: DISABLE_TOKEN_VERIFICATION
	DisableTokenVerification string = "token.verificationdisabled"

	// JWKSTTLSeconds is the JWKS cache lifetime when the issuer does not
	// send Cache-Control: max-age. Default: 600.
	JWKSTTLSeconds string = "openid.jwksttlseconds"

	// Debug enables verbose error responses. Env: BENTO_DEBUG
	Debug string = "debug"

	// ServiceURL is this service's own URL, reported in service-info.
	// Env: BENTO_AUTHZ_SERVICE_URL
	ServiceURL string = "service.url"

	// CORSOrigins is the comma-separated list of allowed origins.
	// Env: CORS_ORIGINS
	CORSOrigins string = "cors.origins"

	// Superusers is a list of {iss, sub} records treated as implicitly
	// holding every permission on every resource. This is the bootstrap
	// path for an empty grants table. Env: BENTO_SUPERUSERS (JSON)
	Superusers string = "superusers"

	// MockEnabled when set to true causes the service to use the in-memory
	// store regardless of DATABASE_URI. Useful for unit testing.
	// Env: AUTHZ_MOCK_ENABLED
	MockEnabled string = "mock.enabled"
)

var (
	once     sync.Once
	loadOnce sync.Once
	loadErr  error

	// VConfig is the global Viper configuration instance for the service.
	//
	// Use the configuration key constants ([DatabaseURI], [OpenIDConfigURL],
	// etc.) to access specific settings:
	//
	//	uri := config.VConfig.GetString(config.DatabaseURI)
	//
	// VConfig is initialized automatically when [Load] or [Init] is called.
	VConfig *viper.Viper
	logger  = logging.GetLogger("authz.config")
)

// Superuser identifies a bootstrap principal that implicitly holds every
// permission on every resource.
type Superuser struct {
	Iss string `json:"iss" mapstructure:"iss"`
	Sub string `json:"sub" mapstructure:"sub"`
}

// Init initializes the configuration system without loading config files.
//
// Init sets up Viper with configuration file paths, environment variable
// handling, and defaults. It is safe to call multiple times; subsequent
// calls are no-ops. Most applications rely on [Load] calling it.
func Init() {
	once.Do(func() {
		doInitialize()
	})
}

func getConfigPath() string {
	if configPath, ok := os.LookupEnv(ConfigPathEnv); ok {
		return configPath
	}
	return ConfigDefaultPath
}

func getConfigFileName() string {
	if configName, ok := os.LookupEnv(ConfigFileNameEnv); ok {
		return configName
	}
	return ConfigDefaultFilename
}

func doInitialize() {
	VConfig = viper.New()

	// set up config-file loading: default is './authz-config.yaml' but can be
	// overridden with $(AUTHZ_CONFIG_PATH)/$(AUTHZ_CONFIG_FILENAME).yaml
	VConfig.AddConfigPath(getConfigPath())
	VConfig.SetConfigName(getConfigFileName())
	VConfig.SetConfigType("yaml")

	// set up envvar handling: keys such as 'log.level' become 'AUTHZ_LOG_LEVEL'
	VConfig.SetEnvPrefix(EnvVarPrefix)
	VConfig.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	VConfig.AutomaticEnv()

	// deployment-facing keys keep their historical un-prefixed names
	_ = VConfig.BindEnv(DatabaseURI, "DATABASE_URI")
	_ = VConfig.BindEnv(OpenIDConfigURL, "OPENID_CONFIG_URL")
	_ = VConfig.BindEnv(TokenAudience, "TOKEN_AUDIENCE")
	_ = VConfig.BindEnv(DisableTokenVerification, "DISABLE_TOKEN_VERIFICATION")
	_ = VConfig.BindEnv(Debug, "BENTO_DEBUG")
	_ = VConfig.BindEnv(ServiceURL, "BENTO_AUTHZ_SERVICE_URL")
	_ = VConfig.BindEnv(CORSOrigins, "CORS_ORIGINS")
	_ = VConfig.BindEnv(Superusers, "BENTO_SUPERUSERS")

	VConfig.SetDefault(logLevel, ".:info")
	VConfig.SetDefault(DatabaseURI, "postgres://localhost:5432/authz")
	VConfig.SetDefault(DatabaseMaxConns, 10)
	VConfig.SetDefault(TokenAudience, "account")
	VConfig.SetDefault(TokenAlgorithms, "RS256,ES256")
	VConfig.SetDefault(TokenLeewaySeconds, 30)
	VConfig.SetDefault(JWKSTTLSeconds, 600)
	VConfig.SetDefault(ServiceURL, "http://127.0.0.1:5000")
}

// Load initializes configuration and loads settings from files and environment.
//
// Load reads the configuration file if present (a missing file is not an
// error), applies environment overrides, and updates log levels. It is safe
// to call concurrently; calls after the first successful load are no-ops.
func Load() error {
	loadOnce.Do(func() {
		Init()

		// Early log level update from environment variable allows us to debug the config loading.
		if earlyLoglevel := os.Getenv("AUTHZ_LOG_LEVEL"); earlyLoglevel != "" {
			if err := logging.UpdateLogLevels(earlyLoglevel); err != nil {
				logger.SysErrorf("Failed updating early log level %s: %+v", earlyLoglevel, err)
				loadErr = err
				return
			}
		}

		logger.SysDebugf("Loading configuration from %s/%s.yaml", getConfigPath(), getConfigFileName())
		if err := VConfig.ReadInConfig(); err != nil {
			// Only log if it's an actual error, not just a missing config file
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				logger.SysWarnf("error reading config; using defaults: %+v", err)
			}
			logger.SysDebugf("No config file found at %s/%s.yaml", getConfigPath(), getConfigFileName())
		}

		loglevel := VConfig.GetString(logLevel)
		if err := logging.UpdateLogLevels(loglevel); err != nil {
			logger.SysErrorf("Failed updating log level %s: %+v", loglevel, err)
			loadErr = err
			return
		}
	})

	return loadErr
}

// ResetConfig clears all configuration and reinitializes with defaults.
//
// WARNING: This function is intended for testing only. It resets the global
// configuration state, which can cause race conditions in concurrent code.
func ResetConfig() {
	VConfig = nil
	once = sync.Once{}
	loadOnce = sync.Once{}
	loadErr = nil
	Init()
	_ = Load()
}

// GetSuperusers returns the configured bootstrap superusers.
//
// The value may come from a YAML list of {iss, sub} records or from the
// BENTO_SUPERUSERS environment variable holding a JSON array. Malformed
// entries are dropped with a warning rather than failing startup.
func GetSuperusers() []Superuser {
	raw := VConfig.Get(Superusers)
	if raw == nil {
		return nil
	}

	var out []Superuser

	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			logger.SysWarnf("ignoring malformed superusers value: %+v", err)
			return nil
		}
	default:
		if err := VConfig.UnmarshalKey(Superusers, &out); err != nil {
			logger.SysWarnf("ignoring malformed superusers config: %+v", err)
			return nil
		}
	}

	filtered := out[:0]
	for _, su := range out {
		if su.Iss == "" || su.Sub == "" {
			logger.SysWarnf("ignoring superuser entry with empty iss/sub")
			continue
		}
		filtered = append(filtered, su)
	}
	return filtered
}

// GetAudiences returns the configured audience allow-list, split and trimmed.
func GetAudiences() []string {
	return splitAndTrim(VConfig.GetString(TokenAudience))
}

// GetAlgorithms returns the configured signing algorithm allow-list.
// Symmetric (HS*) algorithms are dropped with a warning; if nothing is left,
// the default RS256/ES256 list is returned.
func GetAlgorithms() []string {
	var out []string
	for _, alg := range splitAndTrim(VConfig.GetString(TokenAlgorithms)) {
		if strings.HasPrefix(strings.ToUpper(alg), "HS") {
			logger.SysWarnf("ignoring symmetric signing algorithm %s", alg)
			continue
		}
		out = append(out, alg)
	}
	if len(out) == 0 {
		return []string{"RS256", "ES256"}
	}
	return out
}

// GetCORSOrigins returns the configured allowed origins.
func GetCORSOrigins() []string {
	return splitAndTrim(VConfig.GetString(CORSOrigins))
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
