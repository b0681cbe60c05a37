//
//  Copyright © Manetu Inc. All rights reserved.
//
// shared between pkg/core and cmd, and thus must be in a separate package to avoid circular dependencies

package options

import (
	"time"

	"github.com/bento-platform/authz/internal/logging"
	"github.com/bento-platform/authz/pkg/core/accesslog"
	"github.com/bento-platform/authz/pkg/core/config"
	"github.com/bento-platform/authz/pkg/core/idp"
	"github.com/bento-platform/authz/pkg/core/store"
)

var logger = logging.GetLogger("authz")
var agent = "options"

// EngineOptions defines the configuration options for initializing a policy
// engine, including factories for decision logs and stores.
type EngineOptions struct {
	AccessLogFactory accesslog.Factory
	StoreFactory     store.Factory
	Verifier         idp.Verifier
	Clock            func() time.Time
}

// EngineOptionsFunc is a function that modifies EngineOptions.
type EngineOptionsFunc func(*EngineOptions)

// WithAccessLog configures the decision log stream for the engine.
func WithAccessLog(factory accesslog.Factory) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.AccessLogFactory = factory
	}
}

// WithStore configures the store factory for the engine.
func WithStore(factory store.Factory) EngineOptionsFunc {
	return func(o *EngineOptions) {
		if config.VConfig.GetBool(config.MockEnabled) {
			logger.Warn(agent, "WithStore", "Ignoring store factory as mock mode is enabled")
		} else {
			o.StoreFactory = factory
		}
	}
}

// WithVerifier configures the token verifier for the engine.
func WithVerifier(v idp.Verifier) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.Verifier = v
	}
}

// WithClock overrides the engine's time source. Evaluation is deterministic
// given (now, snapshot, input); tests pin now with this option.
func WithClock(clock func() time.Time) EngineOptionsFunc {
	return func(o *EngineOptions) {
		o.Clock = clock
	}
}
