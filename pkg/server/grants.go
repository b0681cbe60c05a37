//
//  Copyright © Manetu Inc. All rights reserved.
//

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bento-platform/authz/pkg/common"
	"github.com/bento-platform/authz/pkg/core/model"
	"github.com/labstack/echo/v4"
)

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, common.NewErrorf(common.KindValidation, "invalid id %q", c.Param("id"))
	}
	return id, nil
}

// listGrants returns the grants whose resources the caller may view.
// The endpoint itself is public; visibility is filtered per grant by a
// view:permissions evaluation over the grants' resources.
func (h *handlers) listGrants(c echo.Context) error {
	ctx := c.Request().Context()

	all, err := h.pe.GetStore().ListGrants(ctx)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return c.JSON(http.StatusOK, []model.Grant{})
	}

	resources := make([]model.Resource, len(all))
	for i, g := range all {
		resources[i] = g.Resource
	}

	decisions, err := h.pe.Evaluate(ctx, token(c), resources, []string{"view:permissions"})
	if err != nil {
		return err
	}

	visible := []model.Grant{}
	for i, g := range all {
		if decisions[i][0] {
			visible = append(visible, g)
		}
	}

	return c.JSON(http.StatusOK, visible)
}

// createGrant persists a grant after verifying the caller holds
// edit:permissions on the grant's resource.
func (h *handlers) createGrant(c echo.Context) error {
	var grant model.Grant
	if err := bindBody(c, &grant); err != nil {
		return err
	}
	if grant.Subject.Kind() == 0 || grant.Resource.Kind() == 0 {
		return common.NewError(common.KindValidation, "grant requires subject and resource patterns")
	}

	if err := h.requireResourceAccess(c, grant.Resource, "edit:permissions"); err != nil {
		return err
	}

	// Forbid creating a grant which is expired from the get-go
	if grant.Expiry != nil && !grant.Expiry.After(time.Now().UTC()) {
		return common.NewError(common.KindValidation, "grant is already expired")
	}

	// Server-assigned fields
	grant.ID = 0
	grant.Created = time.Time{}

	id, err := h.pe.GetStore().CreateGrant(c.Request().Context(), grant)
	if err != nil {
		return err
	}

	created, err := h.pe.GetStore().GetGrant(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, created)
}

// getGrant returns one grant, requiring view:permissions on its resource.
func (h *handlers) getGrant(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	grant, err := h.pe.GetStore().GetGrant(c.Request().Context(), id)
	if err != nil {
		return err
	}

	if err := h.requireResourceAccess(c, grant.Resource, "view:permissions"); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, grant)
}

// deleteGrant removes one grant, requiring edit:permissions on its
// resource. Grants are immutable; deletion is the only mutation.
func (h *handlers) deleteGrant(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	grant, err := h.pe.GetStore().GetGrant(c.Request().Context(), id)
	if err != nil {
		return err
	}

	if err := h.requireResourceAccess(c, grant.Resource, "edit:permissions"); err != nil {
		return err
	}

	if err := h.pe.GetStore().DeleteGrant(c.Request().Context(), id); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}
