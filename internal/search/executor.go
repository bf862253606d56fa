package search

import (
	"context"
	"fmt"

	"github.com/ortelius/cvefeed-backend/internal/params"
	"github.com/ortelius/cvefeed-backend/model"
)

// Pagination bounds.
const (
	DefaultLimit = 100
	MaxLimit     = 100
)

// Page selects a window of the ordered result set.
type Page struct {
	Offset int
	Limit  int
}

// Finder runs a plan against storage. Implementations must honour the
// predicates and sort keys exactly and apply Offset/Limit after sorting.
type Finder interface {
	FindCVEs(ctx context.Context, plan Plan, page Page) ([]model.CVE, error)
}

// ParsePage checks the loosely decoded return_n and return_offset values.
// Missing values take their defaults.
func ParsePage(returnN, returnOffset any) (Page, []string) {
	page := Page{Offset: 0, Limit: DefaultLimit}
	var errs []string

	if returnN != nil {
		n, ok := toInt(returnN)
		if !ok || n < 1 || n > MaxLimit {
			errs = append(errs, fmt.Sprintf("return_n should be an integer between 1 and %d.", MaxLimit))
		} else {
			page.Limit = n
		}
	}
	if returnOffset != nil {
		n, ok := toInt(returnOffset)
		if !ok || n < 0 {
			errs = append(errs, "return_offset should be a non-negative integer.")
		} else {
			page.Offset = n
		}
	}
	return page, errs
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// Executor applies default ordering and pagination bounds before handing a
// plan to storage.
type Executor struct {
	finder Finder
}

// NewExecutor returns an executor reading through finder.
func NewExecutor(finder Finder) *Executor {
	return &Executor{finder: finder}
}

// Execute returns the requested page of records. Without sort keys the
// results are ordered newest first by date_public; cve_id is always appended
// as the final tie-breaker so paging is stable.
func (e *Executor) Execute(ctx context.Context, plan Plan, page Page) ([]model.CVE, error) {
	sortKeys := make([]SortKey, 0, len(plan.Sort)+2)
	sortKeys = append(sortKeys, plan.Sort...)
	if len(sortKeys) == 0 {
		sortKeys = append(sortKeys, SortKey{Path: "date_public", Descending: true})
	}
	hasID := false
	for _, k := range sortKeys {
		if k.Path == "cve_id" {
			hasID = true
		}
	}
	if !hasID {
		sortKeys = append(sortKeys, SortKey{Path: "cve_id"})
	}
	plan.Sort = sortKeys

	if page.Limit <= 0 || page.Limit > MaxLimit {
		page.Limit = MaxLimit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}

	results, err := e.finder.FindCVEs(ctx, plan, page)
	if err != nil {
		return nil, fmt.Errorf("failed to query cves: %w", err)
	}
	if results == nil {
		results = []model.CVE{}
	}
	return results, nil
}

// Service is the single search path shared by the REST, GraphQL and
// natural-language front ends.
type Service struct {
	validator *Validator
	compiler  *Compiler
	executor  *Executor
}

// NewService wires a validator, compiler and executor around reg and finder.
func NewService(reg *params.Registry, finder Finder) *Service {
	return &Service{
		validator: NewValidator(reg),
		compiler:  NewCompiler(reg),
		executor:  NewExecutor(finder),
	}
}

// Validator returns the validator used by the service.
func (s *Service) Validator() *Validator { return s.validator }

// Search compiles and executes a validated payload.
func (s *Service) Search(ctx context.Context, payload *Payload, page Page) ([]model.CVE, error) {
	plan, err := s.compiler.Compile(payload)
	if err != nil {
		return nil, err
	}
	return s.executor.Execute(ctx, plan, page)
}
