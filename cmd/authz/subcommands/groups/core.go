//
//  Copyright © Manetu Inc. All rights reserved.
//

package groups

import (
	"context"
	"fmt"

	clicommon "github.com/bento-platform/authz/cmd/authz/common"
	"github.com/bento-platform/authz/pkg/common"
	"github.com/bento-platform/authz/pkg/core/model"
	"github.com/urfave/cli/v3"
)

// ExecuteList prints every stored group as JSON.
func ExecuteList(ctx context.Context, _ *cli.Command) error {
	st, err := clicommon.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	groups, err := st.ListGroups(ctx)
	if err != nil {
		return err
	}

	common.PrettyPrint(groups)
	return nil
}

// ExecuteGet prints one group as JSON.
func ExecuteGet(ctx context.Context, cmd *cli.Command) error {
	st, err := clicommon.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	group, err := st.GetGroup(ctx, int64(cmd.Int("id")))
	if err != nil {
		return err
	}

	common.PrettyPrint(group)
	return nil
}

// ExecuteCreate creates a group from a JSON document.
func ExecuteCreate(ctx context.Context, cmd *cli.Command) error {
	var group model.Group
	if err := clicommon.ReadInput(cmd.String("input"), &group); err != nil {
		return err
	}

	st, err := clicommon.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := st.CreateGroup(ctx, group)
	if err != nil {
		return err
	}

	fmt.Printf("created group %d\n", id)
	return nil
}

// ExecuteDelete deletes a group by id.
func ExecuteDelete(ctx context.Context, cmd *cli.Command) error {
	st, err := clicommon.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	id := int64(cmd.Int("id"))
	if err := st.DeleteGroup(ctx, id); err != nil {
		return err
	}

	fmt.Printf("deleted group %d\n", id)
	return nil
}
