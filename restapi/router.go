// Package restapi provides the main router and initialization for REST API endpoints.
package restapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/ortelius/cvefeed-backend/internal/search"
	"github.com/ortelius/cvefeed-backend/restapi/modules/admin"
	"github.com/ortelius/cvefeed-backend/restapi/modules/auth"
	searchapi "github.com/ortelius/cvefeed-backend/restapi/modules/search"
)

// Deps are the services the routes are served from. A nil Resolver
// disables natural language search; the admin routes need both Runner and
// Auth.
type Deps struct {
	Search   *search.Service
	Resolver searchapi.QueryResolver
	Runner   admin.IngestRunner
	Auth     *auth.Verifier
	Schema   graphql.Schema
	Logger   *zap.Logger
}

// SetupRoutes configures all REST API routes and the GraphQL endpoint.
func SetupRoutes(app *fiber.App, deps Deps) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// API Group /api/v1
	api := app.Group("/api/v1")

	api.Post("/graphql", GraphQLHandler(deps.Schema))
	api.Post("/search", searchapi.PostSearch(deps.Search, deps.Resolver, logger))

	switch {
	case deps.Runner == nil:
	case deps.Auth == nil:
		logger.Warn("No JWT secret configured, admin routes disabled")
	default:
		adminGroup := api.Group("/admin", auth.RequireAuth(deps.Auth), auth.RequireRole(auth.RoleAdmin))
		adminGroup.Post("/ingest", admin.PostIngest(deps.Runner))
		adminGroup.Get("/ingest", admin.GetIngestStatus(deps.Runner))
	}

	logger.Info("API routes initialized successfully")
}
