//
//  Copyright © Manetu Inc. All rights reserved.
//

package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bento-platform/authz/pkg/common"
	"github.com/cenkalti/backoff/v4"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"
)

const (
	connectTimeout = 5 * time.Second
	fetchTimeout   = 10 * time.Second
)

// discoveryDoc is the subset of the OpenID discovery document we consume.
type discoveryDoc struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// jwksCache holds the signing keys of one issuer, keyed by its discovery
// URL. Entries live for a TTL (issuer Cache-Control max-age wins over the
// configured default) and concurrent misses coalesce into a single
// outbound fetch.
type jwksCache struct {
	discoveryURL string
	defaultTTL   time.Duration
	client       *http.Client

	mu        sync.Mutex
	keys      jwk.Set
	issuer    string
	expiresAt time.Time

	sf singleflight.Group
}

func newJWKSCache(discoveryURL string, defaultTTL time.Duration) *jwksCache {
	return &jwksCache{
		discoveryURL: discoveryURL,
		defaultTTL:   defaultTTL,
		client: &http.Client{
			Timeout: fetchTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
	}
}

// get returns the issuer's key set and canonical issuer identifier,
// fetching if the cache entry is missing, stale, or force is set.
func (c *jwksCache) get(ctx context.Context, force bool) (jwk.Set, string, error) {
	c.mu.Lock()
	if !force && c.keys != nil && time.Now().Before(c.expiresAt) {
		keys, issuer := c.keys, c.issuer
		c.mu.Unlock()
		return keys, issuer, nil
	}
	c.mu.Unlock()

	// Coalesce concurrent refreshes into one outbound fetch per issuer.
	type fetched struct {
		keys   jwk.Set
		issuer string
	}
	v, err, _ := c.sf.Do("jwks", func() (interface{}, error) {
		// A racing caller may have refreshed while we waited on the group.
		c.mu.Lock()
		if !force && c.keys != nil && time.Now().Before(c.expiresAt) {
			f := fetched{keys: c.keys, issuer: c.issuer}
			c.mu.Unlock()
			return f, nil
		}
		c.mu.Unlock()

		keys, issuer, ttl, err := c.fetchWithRetry(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.keys = keys
		c.issuer = issuer
		c.expiresAt = time.Now().Add(ttl)
		c.mu.Unlock()

		return fetched{keys: keys, issuer: issuer}, nil
	})
	if err != nil {
		return nil, "", err
	}

	f := v.(fetched)
	return f.keys, f.issuer, nil
}

// fetchWithRetry retries transient issuer failures twice with exponential
// backoff (200 ms, 800 ms) before surfacing them.
func (c *jwksCache) fetchWithRetry(ctx context.Context) (jwk.Set, string, time.Duration, error) {
	var (
		keys   jwk.Set
		issuer string
		ttl    time.Duration
	)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.Multiplier = 4
	bo.RandomizationFactor = 0

	err := backoff.Retry(func() error {
		var err error
		keys, issuer, ttl, err = c.fetch(ctx)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx))

	return keys, issuer, ttl, err
}

// fetch retrieves the discovery document and then the key set it points at.
func (c *jwksCache) fetch(ctx context.Context) (jwk.Set, string, time.Duration, error) {
	var doc discoveryDoc
	if _, err := c.getJSON(ctx, c.discoveryURL, &doc); err != nil {
		return nil, "", 0, common.WrapError(common.KindUnavailable, err, "issuer discovery failed")
	}
	if doc.JWKSURI == "" {
		return nil, "", 0, common.NewError(common.KindUnavailable, "discovery document lacks jwks_uri")
	}

	body, headers, err := c.getRaw(ctx, doc.JWKSURI)
	if err != nil {
		return nil, "", 0, common.WrapError(common.KindUnavailable, err, "jwks fetch failed")
	}

	keys, err := jwk.Parse(body)
	if err != nil {
		return nil, "", 0, common.WrapError(common.KindUnavailable, err, "jwks parse failed")
	}

	ttl := c.defaultTTL
	if maxAge, ok := parseMaxAge(headers.Get("Cache-Control")); ok {
		ttl = maxAge
	}

	return keys, doc.Issuer, ttl, nil
}

func (c *jwksCache) getJSON(ctx context.Context, url string, out interface{}) (http.Header, error) {
	body, headers, err := c.getRaw(ctx, url)
	if err != nil {
		return nil, err
	}
	return headers, json.Unmarshal(body, out)
}

func (c *jwksCache) getRaw(ctx context.Context, url string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("GET %s: unexpected status %d", url, res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, nil, err
	}
	return body, res.Header, nil
}

// parseMaxAge extracts a max-age directive from a Cache-Control header.
func parseMaxAge(header string) (time.Duration, bool) {
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(strings.ToLower(directive))
		if rest, found := strings.CutPrefix(directive, "max-age="); found {
			secs, err := strconv.Atoi(rest)
			if err != nil || secs < 0 {
				return 0, false
			}
			return time.Duration(secs) * time.Second, true
		}
	}
	return 0, false
}
