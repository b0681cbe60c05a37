//
//  Copyright © Manetu Inc. All rights reserved.
//

package idp

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bento-platform/authz/pkg/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIssuer is an httptest-backed OpenID issuer with rotatable keys and a
// fetch counter.
type fakeIssuer struct {
	t          *testing.T
	server     *httptest.Server
	mu         sync.Mutex
	keys       map[string]*rsa.PrivateKey
	jwksFetch  atomic.Int32
	cacheCtrl  string
	issuerName string
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	fi := &fakeIssuer{t: t, keys: map[string]*rsa.PrivateKey{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   fi.issuerName,
			"jwks_uri": fi.server.URL + "/jwks",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, _ *http.Request) {
		fi.jwksFetch.Add(1)
		if fi.cacheCtrl != "" {
			w.Header().Set("Cache-Control", fi.cacheCtrl)
		}
		_ = json.NewEncoder(w).Encode(fi.jwksDocument())
	})

	fi.server = httptest.NewServer(mux)
	fi.issuerName = fi.server.URL + "/realms/bento"
	t.Cleanup(fi.server.Close)
	return fi
}

func (fi *fakeIssuer) discoveryURL() string {
	return fi.server.URL + "/.well-known/openid-configuration"
}

// rotate replaces the published key set with a single fresh key.
func (fi *fakeIssuer) rotate(kid string) {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(fi.t, err)
	fi.keys = map[string]*rsa.PrivateKey{kid: key}
}

func (fi *fakeIssuer) jwksDocument() map[string]interface{} {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	var keys []interface{}
	for kid, priv := range fi.keys {
		pub, err := jwk.FromRaw(priv.Public())
		require.NoError(fi.t, err)
		require.NoError(fi.t, pub.Set(jwk.KeyIDKey, kid))
		require.NoError(fi.t, pub.Set(jwk.AlgorithmKey, "RS256"))
		keys = append(keys, pub)
	}
	return map[string]interface{}{"keys": keys}
}

// mint signs a token with the named key (which must have been rotated in).
func (fi *fakeIssuer) mint(kid string, mutate func(jwt.MapClaims)) string {
	fi.mu.Lock()
	priv := fi.keys[kid]
	fi.mu.Unlock()
	require.NotNil(fi.t, priv, "unknown kid %s", kid)

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": fi.issuerName,
		"sub": "david",
		"azp": "portal",
		"aud": "account",
		"iat": now.Unix(),
		"exp": now.Add(15 * time.Minute).Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(priv)
	require.NoError(fi.t, err)
	return signed
}

func newTestVerifier(fi *fakeIssuer) *manager {
	return &manager{
		cache:     newJWKSCache(fi.discoveryURL(), 10*time.Minute),
		audiences: []string{"account"},
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "ES256"}),
			jwt.WithLeeway(30*time.Second),
			jwt.WithExpirationRequired(),
		),
	}
}

func TestVerifyHappyPath(t *testing.T) {
	fi := newFakeIssuer(t)
	fi.rotate("k1")
	v := newTestVerifier(fi)

	td, err := v.Verify(context.Background(), fi.mint("k1", nil))
	require.NoError(t, err)
	assert.Equal(t, fi.issuerName, td.Iss)
	assert.Equal(t, "david", td.Sub)
	assert.Equal(t, "portal", td.Azp)
	assert.Equal(t, int32(1), fi.jwksFetch.Load())

	// Second verify hits the cache
	_, err = v.Verify(context.Background(), fi.mint("k1", nil))
	require.NoError(t, err)
	assert.Equal(t, int32(1), fi.jwksFetch.Load())
}

func TestVerifyKeyRotation(t *testing.T) {
	fi := newFakeIssuer(t)
	fi.rotate("k1")
	v := newTestVerifier(fi)

	_, err := v.Verify(context.Background(), fi.mint("k1", nil))
	require.NoError(t, err)
	assert.Equal(t, int32(1), fi.jwksFetch.Load())

	// Issuer rotates to k2; the cached set no longer verifies the token,
	// which forces exactly one refresh and then succeeds.
	fi.rotate("k2")
	td, err := v.Verify(context.Background(), fi.mint("k2", nil))
	require.NoError(t, err)
	assert.Equal(t, "david", td.Sub)
	assert.Equal(t, int32(2), fi.jwksFetch.Load())

	// A token the issuer can never verify causes at most one more refresh.
	orphan := newFakeIssuer(t)
	orphan.rotate("k9")
	orphan.issuerName = fi.issuerName
	_, err = v.Verify(context.Background(), orphan.mint("k9", nil))
	require.Error(t, err)
	assert.Equal(t, common.KindAuthentication, common.KindOf(err))
	assert.Equal(t, int32(3), fi.jwksFetch.Load())
}

func TestVerifyExpired(t *testing.T) {
	fi := newFakeIssuer(t)
	fi.rotate("k1")
	v := newTestVerifier(fi)

	tok := fi.mint("k1", func(c jwt.MapClaims) {
		c["exp"] = time.Now().Add(-time.Hour).Unix()
	})
	_, err := v.Verify(context.Background(), tok)
	require.Error(t, err)
	assert.Equal(t, common.KindAuthentication, common.KindOf(err))
	// Expiry is not a key-material failure; no forced refresh happens
	assert.Equal(t, int32(1), fi.jwksFetch.Load())
}

func TestVerifyLeewayToleratesSmallSkew(t *testing.T) {
	fi := newFakeIssuer(t)
	fi.rotate("k1")
	v := newTestVerifier(fi)

	tok := fi.mint("k1", func(c jwt.MapClaims) {
		c["exp"] = time.Now().Add(-10 * time.Second).Unix()
	})
	_, err := v.Verify(context.Background(), tok)
	assert.NoError(t, err, "10s past expiry is within the 30s leeway")
}

func TestVerifyAudience(t *testing.T) {
	fi := newFakeIssuer(t)
	fi.rotate("k1")
	v := newTestVerifier(fi)

	tok := fi.mint("k1", func(c jwt.MapClaims) {
		c["aud"] = "someone-else"
	})
	_, err := v.Verify(context.Background(), tok)
	require.Error(t, err)
	assert.Equal(t, common.KindAuthentication, common.KindOf(err))

	// Any-of semantics over a list-valued aud
	tok = fi.mint("k1", func(c jwt.MapClaims) {
		c["aud"] = []string{"someone-else", "account"}
	})
	_, err = v.Verify(context.Background(), tok)
	assert.NoError(t, err)
}

func TestVerifyForeignIssuer(t *testing.T) {
	fi := newFakeIssuer(t)
	fi.rotate("k1")
	v := newTestVerifier(fi)

	tok := fi.mint("k1", func(c jwt.MapClaims) {
		c["iss"] = "https://google.com"
	})
	_, err := v.Verify(context.Background(), tok)
	require.Error(t, err)
	assert.Equal(t, common.KindAuthentication, common.KindOf(err))
}

func TestVerifyEmptyToken(t *testing.T) {
	fi := newFakeIssuer(t)
	fi.rotate("k1")
	v := newTestVerifier(fi)

	_, err := v.Verify(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, common.KindAuthentication, common.KindOf(err))
	assert.Equal(t, int32(0), fi.jwksFetch.Load())
}

func TestCacheControlOverridesTTL(t *testing.T) {
	fi := newFakeIssuer(t)
	fi.rotate("k1")
	fi.cacheCtrl = "no-store, max-age=0"
	v := newTestVerifier(fi)

	_, err := v.Verify(context.Background(), fi.mint("k1", nil))
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), fi.mint("k1", nil))
	require.NoError(t, err)
	// max-age=0 expires the entry immediately, so each verify refetches
	assert.Equal(t, int32(2), fi.jwksFetch.Load())
}

func TestParseMaxAge(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
		ok     bool
	}{
		{"max-age=300", 300 * time.Second, true},
		{"public, max-age=60", time.Minute, true},
		{"Max-Age=120, must-revalidate", 2 * time.Minute, true},
		{"no-store", 0, false},
		{"max-age=abc", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseMaxAge(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		if ok {
			assert.Equal(t, tt.want, got, tt.header)
		}
	}
}

func TestDecodeUnverified(t *testing.T) {
	fi := newFakeIssuer(t)
	fi.rotate("k1")

	v := newTestVerifier(fi)
	v.insecure = true

	// Token signed by a key the issuer never published still decodes
	orphan := newFakeIssuer(t)
	orphan.rotate("k9")
	orphan.issuerName = fi.issuerName

	td, err := v.Verify(context.Background(), orphan.mint("k9", nil))
	require.NoError(t, err)
	assert.Equal(t, "david", td.Sub)
	assert.Equal(t, int32(0), fi.jwksFetch.Load(), "no JWKS traffic in insecure mode")
}

func TestConcurrentMissesCoalesce(t *testing.T) {
	fi := newFakeIssuer(t)
	fi.rotate("k1")
	cache := newJWKSCache(fi.discoveryURL(), 10*time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := cache.get(context.Background(), false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fi.jwksFetch.Load(), "concurrent misses must coalesce into one fetch")
}
