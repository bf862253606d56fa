package nlsearch

import (
	"fmt"
	"strings"
	"time"

	"github.com/ortelius/cvefeed-backend/internal/params"
	"github.com/ortelius/cvefeed-backend/internal/search"
)

const promptIntro = "Your job as a helpful AI assistant is to filter a database of CVEs in response to a user's search query. " +
	"To do this you will make a call to the function filter_cves, which shows the user the CVEs that match their query. " +
	"The call has two arguments, filter_params and sort_params, which filter and sort the database by the parameters below. " +
	"Each filter names a parameter and has either an \"included_values\" list or an \"included_range\" object with \"min\" and/or \"max\". " +
	"Each sort names a parameter and a \"direction\" of \"low\" or \"high\". Here are the parameters:\n\n"

const promptOutro = "\nI will now give you the user's query. Return the function call that filters the database for it. " +
	"Here is the user's query:\n"

// describeType explains a parameter's value shape to the model.
func describeType(def params.Definition) string {
	switch def.DataType {
	case params.TypeStringOptions:
		return "A string with possible values of: " + strings.Join(def.PossibleValues, ", ") +
			" (listed from lowest to highest)"
	case params.TypeDateTime:
		return "A timestamp in the format YYYY-MM-DDTHH:MM:SSZ, for example 2024-06-27T16:39:42Z"
	case params.TypeNumeric:
		if def.Example != "" {
			return "A number, for example " + def.Example
		}
		return "A number"
	default:
		if def.Example != "" {
			return "A string, for example " + def.Example
		}
		return "A string"
	}
}

func filterKinds(def params.Definition) string {
	var kinds []string
	if def.Accepts(params.OpFilterByValue) {
		kind := "included_values"
		if def.Accepts(params.OpSubstringSearch) {
			kind += " (matches values containing any given text, ignoring case)"
		}
		kinds = append(kinds, kind)
	}
	if def.Accepts(params.OpFilterByRange) {
		kinds = append(kinds, "included_range")
	}
	if len(kinds) == 0 {
		return "none"
	}
	return strings.Join(kinds, ", ")
}

// BuildPrompt renders the instructions for reg, followed by worked examples
// that only use parameters reg defines.
func BuildPrompt(reg *params.Registry) string {
	var b strings.Builder
	writeInstructions(&b, reg)
	b.WriteString(promptOutro)
	return b.String()
}

func writeInstructions(b *strings.Builder, reg *params.Registry) {
	b.WriteString(promptIntro)
	for _, def := range reg.Definitions() {
		fmt.Fprintf(b, "Parameter: %s\n", def.Name)
		if def.Description != "" {
			fmt.Fprintf(b, "Description: %s\n", def.Description)
		}
		fmt.Fprintf(b, "Datatype: %s\n", describeType(def))
		fmt.Fprintf(b, "Supports Sorting: %t\n", def.Accepts(params.OpSort))
		fmt.Fprintf(b, "Supported Filter Types: %s\n\n", filterKinds(def))
	}

	if examples := workedExamples(reg); len(examples) > 0 {
		b.WriteString("Here are some examples of user queries and the correct function call:\n\n")
		for _, ex := range examples {
			fmt.Fprintf(b, "Query: %q\nFunction Call:\n%s\n\n", ex.query, ex.call)
		}
	}
}

// BuildUserPrompt appends the current date and the user's query to the
// instructions. The date anchors relative ranges such as "last month".
func BuildUserPrompt(reg *params.Registry, query string, now time.Time) string {
	var b strings.Builder
	writeInstructions(&b, reg)
	today := now.UTC().Truncate(24 * time.Hour)
	fmt.Fprintf(&b, "Today's date is %s. Resolve relative dates in the query against it.\n", today.Format(search.DateLayout))
	b.WriteString(promptOutro)
	b.WriteString(query)
	return b.String()
}

// Reprompt asks the model to correct a call the validator rejected.
func Reprompt(errs []string) string {
	return "I just ran your previous function call through a validator and got the following errors:\n\n" +
		strings.Join(errs, "\n") +
		"\n\nPlease return a new function call that corrects these errors."
}

type example struct {
	query    string
	call     string
	requires []string
}

var examples = []example{
	{
		query: "What are some recent security vulnerabilities for Windows",
		call: `{
  "filter_params": [{"parameter": "product", "included_values": ["windows"]}],
  "sort_params": [{"parameter": "date_public", "direction": "high"}]
}`,
		requires: []string{"product", "date_public"},
	},
	{
		query: "Show me high severity vulnerabilities from the first half of 2024",
		call: `{
  "filter_params": [
    {"parameter": "baseSeverity", "included_range": {"min": "HIGH", "max": "CRITICAL"}},
    {"parameter": "date_public", "included_range": {"min": "2024-01-01T00:00:00Z", "max": "2024-06-30T23:59:59Z"}}
  ],
  "sort_params": [{"parameter": "baseScore", "direction": "high"}]
}`,
		requires: []string{"baseSeverity", "date_public", "baseScore"},
	},
	{
		query: "Remote code execution bugs that can be exploited over the network",
		call: `{
  "filter_params": [
    {"parameter": "description", "included_values": ["remote code execution"]},
    {"parameter": "attackVector", "included_values": ["NETWORK"]}
  ],
  "sort_params": []
}`,
		requires: []string{"description", "attackVector"},
	},
}

// workedExamples keeps the examples whose parameters all exist in reg, so a
// custom schema never shows the model a call it would reject.
func workedExamples(reg *params.Registry) []example {
	var out []example
	for _, ex := range examples {
		ok := true
		for _, name := range ex.requires {
			if _, found := reg.Lookup(name); !found {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, ex)
		}
	}
	return out
}
