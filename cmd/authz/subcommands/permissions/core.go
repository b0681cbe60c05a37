//
//  Copyright © Manetu Inc. All rights reserved.
//

package permissions

import (
	"context"

	"github.com/bento-platform/authz/pkg/common"
	"github.com/bento-platform/authz/pkg/core/permissions"
	"github.com/urfave/cli/v3"
)

type entry struct {
	ID                        string   `json:"id"`
	Verb                      string   `json:"verb"`
	Noun                      string   `json:"noun"`
	MinLevelRequired          string   `json:"min_level_required"`
	SupportsDataTypeNarrowing bool     `json:"supports_data_type_narrowing"`
	Gives                     []string `json:"gives"`
}

// ExecuteList prints the permission registry as JSON.
func ExecuteList(_ context.Context, _ *cli.Command) error {
	var entries []entry
	for _, p := range permissions.All() {
		entries = append(entries, entry{
			ID:                        p.ID(),
			Verb:                      p.Verb(),
			Noun:                      p.Noun(),
			MinLevelRequired:          p.MinLevel().String(),
			SupportsDataTypeNarrowing: p.SupportsDataTypeNarrowing(),
			Gives:                     p.Gives(),
		})
	}

	common.PrettyPrint(entries)
	return nil
}
