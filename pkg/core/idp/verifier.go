//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package idp verifies bearer tokens against a configured OpenID Connect
// issuer.
//
// Verification follows RFC 9068 access-token conventions: the token's kid
// selects a signing key from the issuer's JWKS (fetched via the discovery
// document and cached with a TTL), the signature is checked against an
// algorithm allow-list, and the iss/aud/exp/nbf claims are validated with a
// configurable leeway. Key rotation is handled by one forced JWKS refresh
// when a token does not verify against the cached key set.
package idp

import (
	"context"
	"strings"
	"time"

	"github.com/bento-platform/authz/internal/logging"
	"github.com/bento-platform/authz/pkg/common"
	"github.com/bento-platform/authz/pkg/core/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/pkg/errors"
)

var logger = logging.GetLogger("authz.idp")

const agent = "idp"

// TokenData is a validated claim set.
type TokenData struct {
	Iss    string
	Sub    string
	Azp    string
	Claims map[string]interface{}
}

// Verifier validates bearer tokens into claim sets.
//
// Implementations are safe for concurrent use.
type Verifier interface {
	// Verify validates the bearer string and returns its claims, or an
	// authentication-kind ServiceError. An invalid token never degrades to
	// anonymous.
	Verify(ctx context.Context, bearer string) (*TokenData, error)
}

// manager is the production Verifier: JWKS-backed signature verification
// plus claim validation.
type manager struct {
	cache     *jwksCache
	audiences []string
	parser    *jwt.Parser
	insecure  bool
}

// NewVerifier constructs a Verifier from the loaded configuration.
func NewVerifier() Verifier {
	insecure := config.VConfig.GetBool(config.DisableTokenVerification)
	if insecure {
		logger.Warn(agent, "init", "TOKEN VERIFICATION IS DISABLED. SHOULD NOT BE USED IN PRODUCTION")
	}

	leeway := time.Duration(config.VConfig.GetInt(config.TokenLeewaySeconds)) * time.Second
	ttl := time.Duration(config.VConfig.GetInt(config.JWKSTTLSeconds)) * time.Second

	return &manager{
		cache:     newJWKSCache(config.VConfig.GetString(config.OpenIDConfigURL), ttl),
		audiences: config.GetAudiences(),
		parser: jwt.NewParser(
			jwt.WithValidMethods(config.GetAlgorithms()),
			jwt.WithLeeway(leeway),
			jwt.WithExpirationRequired(),
		),
		insecure: insecure,
	}
}

func authErr(err error, msg string) error {
	return common.WrapError(common.KindAuthentication, err, msg)
}

// Verify validates a bearer token per the configured issuer and audience.
func (m *manager) Verify(ctx context.Context, bearer string) (*TokenData, error) {
	if bearer == "" {
		return nil, common.NewError(common.KindAuthentication, "empty bearer token")
	}

	if m.insecure {
		return m.decodeUnverified(bearer)
	}

	claims, err := m.verifySignature(ctx, bearer)
	if err != nil {
		return nil, err
	}
	return m.validateClaims(claims)
}

// verifySignature parses the token against the cached key set, forcing one
// JWKS refresh and retry when the cached keys cannot verify it (the
// key-rotation path).
func (m *manager) verifySignature(ctx context.Context, bearer string) (jwt.MapClaims, error) {
	keys, issuer, err := m.cache.get(ctx, false)
	if err != nil {
		return nil, err
	}

	claims, err := m.parseAgainst(bearer, keys, issuer)
	if err == nil {
		return claims, nil
	}
	if !isKeyMaterialFailure(err) {
		return nil, err
	}

	logger.Debug(agent, "verify", "token failed against cached JWKS; forcing one refresh")
	keys, issuer, ferr := m.cache.get(ctx, true)
	if ferr != nil {
		return nil, ferr
	}

	claims, rerr := m.parseAgainst(bearer, keys, issuer)
	if rerr != nil {
		return nil, rerr
	}
	return claims, nil
}

// isKeyMaterialFailure distinguishes failures a key rotation could explain
// (unknown kid, bad signature) from failures it could not (expired, wrong
// issuer, malformed).
func isKeyMaterialFailure(err error) bool {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrTokenUnverifiable) {
		return true
	}
	var se *common.ServiceError
	return errors.As(err, &se) && strings.Contains(se.Message, "signing key")
}

func (m *manager) parseAgainst(bearer string, keys jwk.Set, expectedIss string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}

	keyfunc := func(t *jwt.Token) (interface{}, error) {
		key, err := selectKey(keys, t)
		if err != nil {
			return nil, err
		}
		var raw interface{}
		if err := key.Raw(&raw); err != nil {
			return nil, errors.Wrap(err, "materializing signing key")
		}
		return raw, nil
	}

	if _, err := m.parser.ParseWithClaims(bearer, claims, keyfunc); err != nil {
		return nil, authErr(err, "token validation failed")
	}

	iss, _ := claims["iss"].(string)
	if expectedIss != "" && iss != expectedIss {
		return nil, common.NewErrorf(common.KindAuthentication, "untrusted issuer %q", iss)
	}

	return claims, nil
}

// selectKey picks the signing key for a token header: the key whose kid
// matches, or — when the token has no kid — the set's sole key.
func selectKey(keys jwk.Set, t *jwt.Token) (jwk.Key, error) {
	kid, _ := t.Header["kid"].(string)

	if kid == "" {
		if keys.Len() != 1 {
			return nil, common.NewError(common.KindAuthentication,
				"token has no kid and issuer publishes multiple keys")
		}
		key, _ := keys.Key(0)
		if alg := key.Algorithm().String(); alg != "" && alg != t.Method.Alg() {
			return nil, common.NewError(common.KindAuthentication,
				"sole signing key algorithm mismatch")
		}
		return key, nil
	}

	key, ok := keys.LookupKeyID(kid)
	if !ok {
		return nil, common.NewErrorf(common.KindAuthentication, "no signing key with kid %q", kid)
	}
	if alg := key.Algorithm().String(); alg != "" && alg != t.Method.Alg() {
		return nil, common.NewErrorf(common.KindAuthentication,
			"signing key %q algorithm mismatch", kid)
	}
	return key, nil
}

// validateClaims applies the audience allow-list and shapes the result.
func (m *manager) validateClaims(claims jwt.MapClaims) (*TokenData, error) {
	aud, err := claims.GetAudience()
	if err != nil {
		return nil, authErr(err, "malformed aud claim")
	}
	if len(m.audiences) > 0 && !audienceAllowed(aud, m.audiences) {
		return nil, common.NewErrorf(common.KindAuthentication, "audience %v not accepted", []string(aud))
	}

	iss, _ := claims["iss"].(string)
	sub, _ := claims["sub"].(string)
	azp, _ := claims["azp"].(string)

	return &TokenData{Iss: iss, Sub: sub, Azp: azp, Claims: claims}, nil
}

func audienceAllowed(aud jwt.ClaimStrings, allowed []string) bool {
	for _, a := range aud {
		for _, b := range allowed {
			if a == b {
				return true
			}
		}
	}
	return false
}

// decodeUnverified parses the token without signature verification, for
// development deployments with DISABLE_TOKEN_VERIFICATION set. The claim
// structure is still validated.
func (m *manager) decodeUnverified(bearer string) (*TokenData, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(bearer, claims); err != nil {
		return nil, authErr(err, "token decode failed")
	}
	return m.validateClaims(claims)
}
