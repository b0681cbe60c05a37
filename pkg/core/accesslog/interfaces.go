//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package accesslog provides interfaces and implementations for audit
// logging of authorization decisions.
//
// Every top-level policy evaluation emits one [DecisionRecord] describing
// who asked, what they asked about, and what was decided. Emission is
// fire-and-forget: stream failures are logged but never fail the request
// that produced the record.
//
// # Built-in Implementations
//
// The package provides several stream implementations:
//   - [NewStdoutFactory]: writes JSON records to stdout (the default)
//   - [NewIoWriterFactory]: writes JSON records to any io.Writer
//   - [NewNullFactory]: discards all records (tests, benchmarks)
//
// # Custom Implementations
//
// To deliver records elsewhere (Kafka, a SIEM, a database), implement
// [Factory] and [Stream] and wire the factory with options.WithAccessLog.
package accesslog

import (
	"time"

	"github.com/bento-platform/authz/pkg/core/model"
)

// DecisionRecord is the audit record for one top-level evaluation call.
type DecisionRecord struct {
	// ID uniquely identifies the record.
	ID string `json:"id"`
	// Ts is the evaluation instant, UTC.
	Ts time.Time `json:"ts"`
	// CallerIss is the verified issuer of the caller, empty when anonymous.
	CallerIss string `json:"caller_iss,omitempty"`
	// CallerSub is the verified subject of the caller, empty when anonymous.
	CallerSub string `json:"caller_sub,omitempty"`
	// Resources are the requested resources, row order of the result.
	Resources []model.Resource `json:"requested_resources"`
	// Permissions are the requested permissions, column order of the result.
	// For permissions_for calls this is empty.
	Permissions []string `json:"requested_permissions,omitempty"`
	// Decision is true when every requested cell resolved to allow.
	Decision bool `json:"decision"`
	// MatchedGrantIDs lists the ids of the grants that produced allows.
	// Empty for superuser-backed allows, which match no stored grant.
	MatchedGrantIDs []int64 `json:"matched_grant_ids"`
}

// Factory creates access log [Stream] instances.
//
// Construct factories early; open connections and allocate buffers in
// NewStream, which is called after configuration is fully loaded.
type Factory interface {
	// NewStream creates a new access log stream, ready to receive records.
	NewStream() (Stream, error)
}

// Stream is the interface for sending decision records to an audit
// destination.
//
// Implementations must be safe for concurrent use. Send must not retain
// the record past its return; delivery errors are logged by the engine but
// never retried.
type Stream interface {
	// Send delivers a decision record to the audit destination.
	Send(record *DecisionRecord) error

	// Close flushes buffered records and releases resources. The stream
	// must not be used after Close.
	Close()
}
