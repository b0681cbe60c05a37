//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package common provides helpers shared by the CLI subcommands.
package common

import (
	"context"
	"encoding/json"
	"io"
	"os"

	memorystore "github.com/bento-platform/authz/internal/core/store/memory"
	"github.com/bento-platform/authz/pkg/core/config"
	"github.com/bento-platform/authz/pkg/core/store"
	"github.com/bento-platform/authz/pkg/core/store/postgres"
	"github.com/pkg/errors"
)

// OpenStore loads configuration and opens the configured store. The admin
// subcommands act on the store directly, without the HTTP surface's
// self-authorization; operators gate access to this path by gating access
// to the database credentials.
func OpenStore(ctx context.Context) (store.Service, error) {
	if err := config.Load(); err != nil {
		return nil, errors.Wrap(err, "error loading config")
	}

	var factory store.Factory = postgres.NewFactory()
	if config.VConfig.GetBool(config.MockEnabled) {
		factory = memorystore.NewFactory()
	}

	return factory.NewStore(ctx)
}

// ReadInput reads a JSON document from a file path, or from stdin when the
// path is "-".
func ReadInput(path string, out interface{}) error {
	var data []byte
	var err error

	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}

	return json.Unmarshal(data, out)
}
