//
//  Copyright © Manetu Inc. All rights reserved.
//

package server

import (
	"net/http"

	"github.com/bento-platform/authz/pkg/common"
	"github.com/bento-platform/authz/pkg/core/model"
	"github.com/bento-platform/authz/pkg/core/permissions"
	"github.com/labstack/echo/v4"
)

type evaluateRequest struct {
	Resources   []model.Resource `json:"resources"`
	Permissions []string         `json:"permissions"`
}

type evaluateOneRequest struct {
	Resource   model.Resource `json:"resource"`
	Permission string         `json:"permission"`
}

type permissionsRequest struct {
	Resources []model.Resource `json:"resources"`
}

type resultResponse struct {
	Result interface{} `json:"result"`
}

func bindBody(c echo.Context, out interface{}) error {
	if err := c.Bind(out); err != nil {
		return common.WrapError(common.KindValidation, err, "malformed request body")
	}
	return nil
}

func validatePermissionIDs(perms []string) error {
	if len(perms) == 0 {
		return common.NewError(common.KindValidation, "permissions must be non-empty")
	}
	for _, p := range perms {
		if _, ok := permissions.Lookup(p); !ok {
			return common.NewErrorf(common.KindValidation, "unknown permission %q", p)
		}
	}
	return nil
}

func validateResources(resources []model.Resource) error {
	if len(resources) == 0 {
		return common.NewError(common.KindValidation, "resources must be non-empty")
	}
	for _, r := range resources {
		if r.Kind() == 0 {
			return common.NewError(common.KindValidation, "missing resource")
		}
	}
	return nil
}

// policyEvaluate returns a full decision matrix: rows follow the request's
// resource order, columns its permission order.
func (h *handlers) policyEvaluate(c echo.Context) error {
	var req evaluateRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if err := validateResources(req.Resources); err != nil {
		return err
	}
	if err := validatePermissionIDs(req.Permissions); err != nil {
		return err
	}

	result, err := h.pe.Evaluate(c.Request().Context(), token(c), req.Resources, req.Permissions)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resultResponse{Result: result})
}

// policyEvaluateOne is the scalar form of policyEvaluate.
func (h *handlers) policyEvaluateOne(c echo.Context) error {
	var req evaluateOneRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if err := validateResources([]model.Resource{req.Resource}); err != nil {
		return err
	}
	if err := validatePermissionIDs([]string{req.Permission}); err != nil {
		return err
	}

	result, err := h.pe.EvaluateOne(c.Request().Context(), token(c), req.Resource, req.Permission)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resultResponse{Result: result})
}

// policyPermissions returns, per requested resource, the full permission
// set the caller holds on it.
func (h *handlers) policyPermissions(c echo.Context) error {
	var req permissionsRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if err := validateResources(req.Resources); err != nil {
		return err
	}

	result, err := h.pe.PermissionsFor(c.Request().Context(), token(c), req.Resources)
	if err != nil {
		return err
	}

	// Shape empty rows as [] rather than null
	for i, row := range result {
		if row == nil {
			result[i] = []string{}
		}
	}

	return c.JSON(http.StatusOK, resultResponse{Result: result})
}
