// Package model - API types for search requests/responses
package model

// SearchRequest is the body of POST /api/v1/search. Either the structured form
// (FilterParams and SortParams) or Query must be supplied, never both.
//
// Clause lists and pagination values are decoded loosely and checked by the
// validator so that malformed input is reported as an error list.
type SearchRequest struct {
	FilterParams any     `json:"filter_params"`
	SortParams   any     `json:"sort_params"`
	Query        *string `json:"query"`
	ReturnN      any     `json:"return_n"`
	ReturnOffset any     `json:"return_offset"`
}

// SearchResponse is returned on success.
type SearchResponse struct {
	Results      []CVE `json:"results"`
	FilterParams any   `json:"filter_params"`
	SortParams   any   `json:"sort_params"`
}

// ErrorResponse is returned when a request fails validation.
type ErrorResponse struct {
	Errors []string `json:"errors"`
}
