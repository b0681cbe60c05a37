//
//  Copyright © Manetu Inc. All rights reserved.
//

package grants

import (
	"context"
	"fmt"

	clicommon "github.com/bento-platform/authz/cmd/authz/common"
	"github.com/bento-platform/authz/pkg/common"
	"github.com/bento-platform/authz/pkg/core/model"
	"github.com/urfave/cli/v3"
)

// ExecuteList prints every stored grant as JSON.
func ExecuteList(ctx context.Context, _ *cli.Command) error {
	st, err := clicommon.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	grants, err := st.ListGrants(ctx)
	if err != nil {
		return err
	}

	common.PrettyPrint(grants)
	return nil
}

// ExecuteCreate creates a grant from a JSON document.
func ExecuteCreate(ctx context.Context, cmd *cli.Command) error {
	var grant model.Grant
	if err := clicommon.ReadInput(cmd.String("input"), &grant); err != nil {
		return err
	}

	st, err := clicommon.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := st.CreateGrant(ctx, grant)
	if err != nil {
		return err
	}

	fmt.Printf("created grant %d\n", id)
	return nil
}

// ExecuteDelete deletes a grant by id.
func ExecuteDelete(ctx context.Context, cmd *cli.Command) error {
	st, err := clicommon.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	id := int64(cmd.Int("id"))
	if err := st.DeleteGrant(ctx, id); err != nil {
		return err
	}

	fmt.Printf("deleted grant %d\n", id)
	return nil
}
