//
//  Copyright © Manetu Inc. All rights reserved.
//

package server

import (
	"net/http"
	"time"

	"github.com/bento-platform/authz/pkg/common"
	"github.com/bento-platform/authz/pkg/core/model"
	"github.com/labstack/echo/v4"
)

// Group admin rights are global: groups are reusable across resources, so
// group endpoints evaluate against the everything resource.
func (h *handlers) requireGroupAccess(c echo.Context, permission string) error {
	return h.requireResourceAccess(c, model.NewResourceEverything(), permission)
}

func (h *handlers) listGroups(c echo.Context) error {
	if err := h.requireGroupAccess(c, "view:groups"); err != nil {
		return err
	}

	groups, err := h.pe.GetStore().ListGroups(c.Request().Context())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, groups)
}

func (h *handlers) createGroup(c echo.Context) error {
	if err := h.requireGroupAccess(c, "edit:groups"); err != nil {
		return err
	}

	var group model.Group
	if err := bindBody(c, &group); err != nil {
		return err
	}

	if group.Expiry != nil && !group.Expiry.After(time.Now().UTC()) {
		return common.NewError(common.KindValidation, "group is already expired")
	}

	// Server-assigned fields
	group.ID = 0
	group.Created = time.Time{}

	id, err := h.pe.GetStore().CreateGroup(c.Request().Context(), group)
	if err != nil {
		return err
	}

	created, err := h.pe.GetStore().GetGroup(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, created)
}

func (h *handlers) getGroup(c echo.Context) error {
	if err := h.requireGroupAccess(c, "view:groups"); err != nil {
		return err
	}

	id, err := pathID(c)
	if err != nil {
		return err
	}

	group, err := h.pe.GetStore().GetGroup(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, group)
}

// updateGroup renames a group and/or replaces its membership and expiry.
// Unlike grants, groups are editable.
func (h *handlers) updateGroup(c echo.Context) error {
	if err := h.requireGroupAccess(c, "edit:groups"); err != nil {
		return err
	}

	id, err := pathID(c)
	if err != nil {
		return err
	}

	var group model.Group
	if err := bindBody(c, &group); err != nil {
		return err
	}
	group.ID = id

	if err := h.pe.GetStore().UpdateGroup(c.Request().Context(), group); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) deleteGroup(c echo.Context) error {
	if err := h.requireGroupAccess(c, "edit:groups"); err != nil {
		return err
	}

	id, err := pathID(c)
	if err != nil {
		return err
	}

	if err := h.pe.GetStore().DeleteGroup(c.Request().Context(), id); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}
