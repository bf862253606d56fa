// Package cves defines the GraphQL types and queries for the CVE mirror.
package cves

import (
	"github.com/graphql-go/graphql"
)

// AffectedVersionType represents one version range of an affected product.
var AffectedVersionType = graphql.NewObject(graphql.ObjectConfig{
	Name: "AffectedVersion",
	Fields: graphql.Fields{
		"version":         &graphql.Field{Type: graphql.String},
		"status":          &graphql.Field{Type: graphql.String},
		"lessThan":        &graphql.Field{Type: graphql.String},
		"lessThanOrEqual": &graphql.Field{Type: graphql.String},
		"versionType":     &graphql.Field{Type: graphql.String},
	},
})

// AffectedProductType represents a product a CVE applies to.
var AffectedProductType = graphql.NewObject(graphql.ObjectConfig{
	Name: "AffectedProduct",
	Fields: graphql.Fields{
		"vendor":      &graphql.Field{Type: graphql.String},
		"product":     &graphql.Field{Type: graphql.String},
		"packageName": &graphql.Field{Type: graphql.String},
		"versions":    &graphql.Field{Type: graphql.NewList(AffectedVersionType)},
	},
})

// MetricsType represents the retained CVSS metric.
var MetricsType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Metrics",
	Fields: graphql.Fields{
		"standard":         &graphql.Field{Type: graphql.String},
		"vectorString":     &graphql.Field{Type: graphql.String},
		"baseScore":        &graphql.Field{Type: graphql.Float},
		"baseSeverity":     &graphql.Field{Type: graphql.String},
		"attackVector":     &graphql.Field{Type: graphql.String},
		"attackComplexity": &graphql.Field{Type: graphql.String},
	},
})

// CVEType represents a stored CVE record.
var CVEType = graphql.NewObject(graphql.ObjectConfig{
	Name: "CVE",
	Fields: graphql.Fields{
		"cve_id":            &graphql.Field{Type: graphql.String},
		"description":       &graphql.Field{Type: graphql.String},
		"date_public":       &graphql.Field{Type: graphql.String},
		"affected_products": &graphql.Field{Type: graphql.NewList(AffectedProductType)},
		"metrics":           &graphql.Field{Type: MetricsType},
	},
})

// NestingType describes where a nested parameter lives.
var NestingType = graphql.NewObject(graphql.ObjectConfig{
	Name: "ParameterNesting",
	Fields: graphql.Fields{
		"parent": &graphql.Field{Type: graphql.String},
		"shape":  &graphql.Field{Type: graphql.String},
	},
})

// ParameterType represents one searchable parameter.
var ParameterType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Parameter",
	Fields: graphql.Fields{
		"parameter":           &graphql.Field{Type: graphql.String},
		"data_type":           &graphql.Field{Type: graphql.String},
		"possible_values":     &graphql.Field{Type: graphql.NewList(graphql.String)},
		"accepted_operations": &graphql.Field{Type: graphql.NewList(graphql.String)},
		"nested_in":           &graphql.Field{Type: NestingType},
		"example":             &graphql.Field{Type: graphql.String},
		"description":         &graphql.Field{Type: graphql.String},
	},
})
