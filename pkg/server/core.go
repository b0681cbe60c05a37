//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package server exposes the authorization engine as a JSON-over-HTTP
// service.
//
// The surface consists of the policy decision endpoints
// (/policy/evaluate, /policy/evaluate_one, /policy/permissions), grant and
// group CRUD, the permission registry dump (/all_permissions), and a GA4GH
// /service-info document.
//
// Every endpoint accepts an optional Authorization: Bearer token; an absent
// token is the anonymous caller, an invalid one is a 401. Admin endpoints
// authorize themselves against the same engine they front.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bento-platform/authz/internal/logging"
	"github.com/bento-platform/authz/pkg/common"
	"github.com/bento-platform/authz/pkg/core"
	"github.com/bento-platform/authz/pkg/core/config"
	"github.com/bento-platform/authz/pkg/core/model"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var logger = logging.GetLogger("authz.server")

const agent = "server"

const requestTimeout = 10 * time.Second

// tokenContextKey is the echo context key carrying the raw bearer string.
const tokenContextKey = "bearer"

// Server represents the HTTP decision point serving the REST API.
type Server struct {
	echo *echo.Echo
}

// CreateServer creates and starts the HTTP server on the given port.
func CreateServer(pe core.PolicyEngine, port int) (*Server, error) {
	e := newEcho(pe)

	// Start server in goroutine since e.Start() blocks
	go func() {
		if err := e.Start(fmt.Sprintf(":%d", port)); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal(err)
		}
	}()

	logger.Infof(agent, "init", "serving on port %d", port)

	return &Server{
		echo: e,
	}, nil
}

// Stop gracefully stops the Server by shutting down the Echo HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// newEcho assembles the router, middleware stack, and handlers.
func newEcho(pe core.PolicyEngine) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if origins := config.GetCORSOrigins(); len(origins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
		}))
	}
	e.Use(timeoutMiddleware(requestTimeout))
	e.Use(bearerMiddleware)

	h := &handlers{pe: pe}

	e.POST("/policy/evaluate", h.policyEvaluate)
	e.POST("/policy/evaluate_one", h.policyEvaluateOne)
	e.POST("/policy/permissions", h.policyPermissions)

	e.GET("/grants", h.listGrants)
	e.POST("/grants", h.createGrant)
	e.GET("/grants/:id", h.getGrant)
	e.DELETE("/grants/:id", h.deleteGrant)

	e.GET("/groups", h.listGroups)
	e.POST("/groups", h.createGroup)
	e.GET("/groups/:id", h.getGroup)
	e.PUT("/groups/:id", h.updateGroup)
	e.DELETE("/groups/:id", h.deleteGroup)

	e.GET("/all_permissions", h.allPermissions)
	e.GET("/service-info", h.serviceInfo)

	return e
}

// handlers carries the engine into the route handlers.
type handlers struct {
	pe core.PolicyEngine
}

// bearerMiddleware extracts the Authorization bearer token into the echo
// context. An absent header resolves to the anonymous caller; a present
// but non-bearer header is malformed.
func bearerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" {
			c.Set(tokenContextKey, "")
			return next(c)
		}

		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			return common.NewError(common.KindAuthentication, "malformed Authorization header")
		}

		c.Set(tokenContextKey, token)
		return next(c)
	}
}

// timeoutMiddleware bounds each request's context; in-flight store and
// JWKS operations observe the cancellation at their next suspension point.
func timeoutMiddleware(d time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), d)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func token(c echo.Context) string {
	tok, _ := c.Get(tokenContextKey).(string)
	return tok
}

// errorEnvelope is the uniform error response shape.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// errorHandler maps classified errors onto HTTP statuses with the
// {"error": {code, message}} envelope. Unclassified errors are 500s whose
// detail is withheld unless debug mode is on.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var (
		status  int
		code    string
		message string
		detail  string
	)

	switch typed := err.(type) {
	case *common.ServiceError:
		status = typed.Kind.HTTPStatus()
		code = typed.Kind.String()
		message = typed.Message
	case *echo.HTTPError:
		status = typed.Code
		code = http.StatusText(typed.Code)
		message = fmt.Sprintf("%v", typed.Message)
	default:
		status = http.StatusInternalServerError
		code = common.KindInternal.String()
		message = "internal server error"
	}

	if status >= http.StatusInternalServerError {
		logger.Errorf(agent, "request", "%s %s failed: %+v",
			c.Request().Method, c.Request().URL.Path, err)
	}

	if config.VConfig.GetBool(config.Debug) {
		detail = err.Error()
	}

	if werr := c.JSON(status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Detail:  detail,
	}}); werr != nil {
		logger.Errorf(agent, "request", "failed writing error response: %+v", werr)
	}
}

// requireResourceAccess self-evaluates the caller against the engine,
// returning an authorization error on deny. The deny is recorded in the
// decision log by the evaluation itself.
func (h *handlers) requireResourceAccess(c echo.Context, resource model.Resource, permission string) error {
	allowed, err := h.pe.EvaluateOne(c.Request().Context(), token(c), resource, permission)
	if err != nil {
		return err
	}
	if !allowed {
		return common.NewError(common.KindAuthorization, "forbidden")
	}
	return nil
}
