//
//  Copyright © Manetu Inc. All rights reserved.
//

package server

import (
	"fmt"
	"net/http"

	"github.com/bento-platform/authz/internal/version"
	"github.com/bento-platform/authz/pkg/core/config"
	"github.com/bento-platform/authz/pkg/core/permissions"
	"github.com/labstack/echo/v4"
)

const (
	serviceKind     = "authorization"
	serviceGroup    = "ca.c3g.bento"
	serviceArtifact = serviceKind
	serviceName     = "Bento Authorization Service"
	serviceDesc     = "Authorization decision service for a Bento platform node."
)

// permissionResponseItem is one /all_permissions registry entry.
type permissionResponseItem struct {
	ID                        string   `json:"id"`
	Verb                      string   `json:"verb"`
	Noun                      string   `json:"noun"`
	MinLevelRequired          string   `json:"min_level_required"`
	SupportsDataTypeNarrowing bool     `json:"supports_data_type_narrowing"`
	Gives                     []string `json:"gives"`
}

// allPermissions dumps the permission registry. Public: the registry is
// static service metadata, not policy state.
func (h *handlers) allPermissions(c echo.Context) error {
	all := permissions.All()
	items := make([]permissionResponseItem, 0, len(all))
	for _, p := range all {
		gives := p.Gives()
		if gives == nil {
			gives = []string{}
		}
		items = append(items, permissionResponseItem{
			ID:                        p.ID(),
			Verb:                      p.Verb(),
			Noun:                      p.Noun(),
			MinLevelRequired:          p.MinLevel().String(),
			SupportsDataTypeNarrowing: p.SupportsDataTypeNarrowing(),
			Gives:                     gives,
		})
	}
	return c.JSON(http.StatusOK, items)
}

// serviceInfo reports the GA4GH service-info document.
// Spec: https://github.com/ga4gh-discovery/ga4gh-service-info
func (h *handlers) serviceInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":          fmt.Sprintf("%s:%s", serviceGroup, serviceArtifact),
		"name":        serviceName,
		"description": serviceDesc,
		"type": map[string]interface{}{
			"group":    serviceGroup,
			"artifact": serviceArtifact,
			"version":  version.GetVersion(),
		},
		"organization": map[string]string{
			"name": "C3G",
			"url":  "http://c3g.ca",
		},
		"bento": map[string]interface{}{
			"serviceKind": serviceKind,
			"dataService": false,
		},
		"url":     config.VConfig.GetString(config.ServiceURL),
		"version": version.GetVersion(),
	})
}
