//
//  Copyright © Manetu Inc. All rights reserved.
//

package main

import (
	"context"
	"log"
	"os"

	"github.com/bento-platform/authz/cmd/authz/subcommands/grants"
	"github.com/bento-platform/authz/cmd/authz/subcommands/groups"
	"github.com/bento-platform/authz/cmd/authz/subcommands/permissions"
	"github.com/bento-platform/authz/cmd/authz/subcommands/serve"
	"github.com/bento-platform/authz/internal/version"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:    "authz",
		Usage:   "A CLI application for operating the Bento Authorization Service",
		Version: version.GetVersion(),
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Starts the authorization decision service",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "port",
						Usage: "The TCP port to serve on.",
						Value: 5000,
					},
				},
				Action: serve.Execute,
			},
			{
				Name:  "grants",
				Usage: "Administers grants directly against the configured store",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "Lists all stored grants, including expired ones",
						Action: grants.ExecuteList,
					},
					{
						Name:  "create",
						Usage: "Creates a grant from a JSON document",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "input",
								Aliases: []string{"i"},
								Usage:   "Load the grant document from `FILE`, or use '-' for stdin",
								Value:   "-",
							},
						},
						Action: grants.ExecuteCreate,
					},
					{
						Name:  "delete",
						Usage: "Deletes a grant by id",
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:     "id",
								Usage:    "The grant id to delete",
								Required: true,
							},
						},
						Action: grants.ExecuteDelete,
					},
				},
			},
			{
				Name:  "groups",
				Usage: "Administers groups directly against the configured store",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "Lists all stored groups, including expired ones",
						Action: groups.ExecuteList,
					},
					{
						Name:  "get",
						Usage: "Fetches a group by id",
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:     "id",
								Usage:    "The group id to fetch",
								Required: true,
							},
						},
						Action: groups.ExecuteGet,
					},
					{
						Name:  "create",
						Usage: "Creates a group from a JSON document",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "input",
								Aliases: []string{"i"},
								Usage:   "Load the group document from `FILE`, or use '-' for stdin",
								Value:   "-",
							},
						},
						Action: groups.ExecuteCreate,
					},
					{
						Name:  "delete",
						Usage: "Deletes a group by id; fails while grants reference it",
						Flags: []cli.Flag{
							&cli.IntFlag{
								Name:     "id",
								Usage:    "The group id to delete",
								Required: true,
							},
						},
						Action: groups.ExecuteDelete,
					},
				},
			},
			{
				Name:  "permissions",
				Usage: "Inspects the permission registry",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "Lists every registered permission",
						Action: permissions.ExecuteList,
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
