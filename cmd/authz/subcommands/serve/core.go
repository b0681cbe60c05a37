//
//  Copyright © Manetu Inc. All rights reserved.
//

package serve

import (
	"context"
	"os"
	"os/signal"

	"github.com/bento-platform/authz/internal/logging"
	"github.com/bento-platform/authz/pkg/core"
	"github.com/bento-platform/authz/pkg/core/options"
	"github.com/bento-platform/authz/pkg/core/store/postgres"
	"github.com/bento-platform/authz/pkg/server"
	"github.com/urfave/cli/v3"
)

var logger = logging.GetLogger("authz")

const agent string = "serve"

// Execute runs the serve command, starting the HTTP decision service and
// gracefully shutting down on interrupt signals.
func Execute(ctx context.Context, cmd *cli.Command) error {
	port := cmd.Int("port")

	pe, err := core.NewPolicyEngine(ctx,
		options.WithStore(postgres.NewFactory()),
	)
	if err != nil {
		return err
	}
	defer pe.Close()

	srv, err := server.CreateServer(pe, port)
	if err != nil {
		return err
	}

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	logger.Info(agent, "shutdown", "Shutting down server...")

	if err := srv.Stop(ctx); err != nil {
		return err
	}

	logger.Info(agent, "shutdown", "Server exited gracefully.")
	return nil
}
