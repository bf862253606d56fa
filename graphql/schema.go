// Package graphql assembles the GraphQL schema served at /api/v1/graphql.
package graphql

import (
	"github.com/graphql-go/graphql"

	"github.com/ortelius/cvefeed-backend/graphql/modules/cves"
	"github.com/ortelius/cvefeed-backend/internal/search"
)

// CreateSchema builds the root schema over svc and store.
func CreateSchema(svc *search.Service, store cves.CVEGetter) (graphql.Schema, error) {
	rootQuery := graphql.NewObject(graphql.ObjectConfig{
		Name:   "Query",
		Fields: cves.GetQueryFields(svc, store),
	})
	return graphql.NewSchema(graphql.SchemaConfig{Query: rootQuery})
}
