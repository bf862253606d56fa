package nlsearch

import (
	"encoding/json"
	"regexp"
	"strings"
)

const (
	filterParamsKey = "filter_params"
	sortParamsKey   = "sort_params"
)

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")

// stripFences returns the body of the first fenced code block in text, or
// text itself when it holds none.
func stripFences(text string) string {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return strings.TrimSpace(text)
}

// ParseReply extracts the filter and sort lists from a model reply. Any
// problem is reported in the validator's error-list form so that it feeds
// the same retry path as validation errors.
func ParseReply(text string) (filters, sorts any, errs []string) {
	body := stripFences(text)
	if body == "" {
		return nil, nil, []string{"Function call was empty. Return a JSON object with 'filter_params' and 'sort_params' keys."}
	}

	var call map[string]any
	if err := json.Unmarshal([]byte(body), &call); err != nil {
		return nil, nil, []string{"Function call could not be parsed as a JSON object: " + err.Error() + "."}
	}

	filters, hasFilters := call[filterParamsKey]
	sorts, hasSorts := call[sortParamsKey]
	if !hasFilters {
		errs = append(errs, "Function call should include a 'filter_params' key.")
	}
	if !hasSorts {
		errs = append(errs, "Function call should include a 'sort_params' key.")
	}
	if len(errs) > 0 {
		return nil, nil, errs
	}
	return filters, sorts, nil
}
