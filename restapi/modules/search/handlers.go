// Package search implements the REST handler for structured and natural
// language CVE search.
package search

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ortelius/cvefeed-backend/internal/nlsearch"
	"github.com/ortelius/cvefeed-backend/internal/search"
	"github.com/ortelius/cvefeed-backend/model"
)

// QueryResolver turns a free-text query into a validated payload.
type QueryResolver interface {
	Resolve(ctx context.Context, query string) (nlsearch.Result, error)
}

func errorResponse(c *fiber.Ctx, status int, errs ...string) error {
	return c.Status(status).JSON(model.ErrorResponse{Errors: errs})
}

// PostSearch handles POST /api/v1/search. A nil resolver disables the query
// form.
func PostSearch(svc *search.Service, resolver QueryResolver, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req model.SearchRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "Request body should be a JSON object.")
		}

		structured := req.FilterParams != nil || req.SortParams != nil
		switch {
		case structured && req.Query != nil:
			return errorResponse(c, fiber.StatusUnprocessableEntity,
				"Provide either 'filter_params' and 'sort_params' or 'query', not both.")
		case !structured && req.Query == nil:
			return errorResponse(c, fiber.StatusUnprocessableEntity,
				"Either 'filter_params' and 'sort_params' or 'query' must be provided.")
		case req.Query != nil && *req.Query == "":
			return errorResponse(c, fiber.StatusUnprocessableEntity, "'query' should be a non-empty string.")
		}

		page, pageErrs := search.ParsePage(req.ReturnN, req.ReturnOffset)

		var payload *search.Payload
		if structured {
			var errs []string
			payload, errs = svc.Validator().Validate(req.FilterParams, req.SortParams)
			if errs = append(errs, pageErrs...); len(errs) > 0 {
				return errorResponse(c, fiber.StatusUnprocessableEntity, errs...)
			}
		} else {
			if len(pageErrs) > 0 {
				return errorResponse(c, fiber.StatusUnprocessableEntity, pageErrs...)
			}
			if resolver == nil {
				return errorResponse(c, fiber.StatusServiceUnavailable, "Natural language search is not configured.")
			}
			result, err := resolver.Resolve(c.UserContext(), *req.Query)
			if err != nil {
				logger.Error("Natural language search failed", zap.Error(err))
				status := fiber.StatusInternalServerError
				if errors.Is(err, nlsearch.ErrModelUnavailable) {
					status = fiber.StatusBadGateway
				}
				return errorResponse(c, status, "Language model request failed.")
			}
			if len(result.Errors) > 0 {
				return errorResponse(c, fiber.StatusUnprocessableEntity, result.Errors...)
			}
			payload = result.Payload
		}

		results, err := svc.Search(c.UserContext(), payload, page)
		if err != nil {
			logger.Error("Search failed", zap.Error(err))
			return errorResponse(c, fiber.StatusInternalServerError, "Search failed.")
		}

		return c.JSON(model.SearchResponse{
			Results:      results,
			FilterParams: payload.RawFilters(),
			SortParams:   payload.RawSorts(),
		})
	}
}
