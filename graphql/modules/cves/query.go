package cves

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/graphql-go/graphql"

	"github.com/ortelius/cvefeed-backend/internal/search"
	"github.com/ortelius/cvefeed-backend/model"
)

// CVEGetter loads a single record by identity.
type CVEGetter interface {
	GetCVE(ctx context.Context, id string) (*model.CVE, error)
}

func decodeJSONArg(args map[string]interface{}, name string) (interface{}, error) {
	raw, ok := args[name].(string)
	if !ok {
		return nil, nil
	}
	var out interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%s should be a JSON encoded list: %w", name, err)
	}
	return out, nil
}

// GetQueryFields returns the CVE queries to be mounted in the root schema.
func GetQueryFields(svc *search.Service, store CVEGetter) graphql.Fields {
	return graphql.Fields{
		"parameters": &graphql.Field{
			Type: graphql.NewList(ParameterType),
			Resolve: func(_ graphql.ResolveParams) (interface{}, error) {
				defs := svc.Validator().Registry().Definitions()
				out := make([]map[string]interface{}, 0, len(defs))
				for _, def := range defs {
					// round-trip through JSON so fields resolve by their schema names
					data, err := json.Marshal(def)
					if err != nil {
						return nil, err
					}
					var m map[string]interface{}
					if err := json.Unmarshal(data, &m); err != nil {
						return nil, err
					}
					out = append(out, m)
				}
				return out, nil
			},
		},
		"cve": &graphql.Field{
			Type: CVEType,
			Args: graphql.FieldConfigArgument{
				"cve_id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				id := strings.TrimSpace(p.Args["cve_id"].(string))
				cve, err := store.GetCVE(p.Context, id)
				if err != nil || cve == nil {
					return nil, err
				}
				return *cve, nil
			},
		},
		"search": &graphql.Field{
			Type: graphql.NewList(CVEType),
			Args: graphql.FieldConfigArgument{
				"filter_params": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: "[]"},
				"sort_params":   &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: "[]"},
				"return_n":      &graphql.ArgumentConfig{Type: graphql.Int},
				"return_offset": &graphql.ArgumentConfig{Type: graphql.Int},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				filters, err := decodeJSONArg(p.Args, "filter_params")
				if err != nil {
					return nil, err
				}
				sorts, err := decodeJSONArg(p.Args, "sort_params")
				if err != nil {
					return nil, err
				}

				payload, errs := svc.Validator().Validate(filters, sorts)
				page, pageErrs := search.ParsePage(p.Args["return_n"], p.Args["return_offset"])
				if errs = append(errs, pageErrs...); len(errs) > 0 {
					return nil, errors.New(strings.Join(errs, " "))
				}
				return svc.Search(p.Context, payload, page)
			},
		},
	}
}
