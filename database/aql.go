package database

import (
	"fmt"
	"strings"

	"github.com/ortelius/cvefeed-backend/internal/search"
)

// BuildSearchQuery renders a compiled plan as an AQL query over the cve
// collection. Field paths come from the parameter registry, which only admits
// identifiers, so they are inlined; every value is a bind variable.
func BuildSearchQuery(plan search.Plan, page search.Page) (string, map[string]interface{}) {
	var b strings.Builder
	bindVars := map[string]interface{}{}

	b.WriteString("FOR doc IN " + CVECollection + "\n")

	for i, pred := range plan.Predicates {
		name := fmt.Sprintf("p%d", i)
		if pred.Within == "" {
			b.WriteString("\tFILTER " + predicateExpr("doc."+pred.Path, name, pred, bindVars) + "\n")
			continue
		}
		inner := predicateExpr("e."+pred.Path, name, pred, bindVars)
		fmt.Fprintf(&b, "\tFILTER LENGTH(FOR e IN (doc.%s || []) FILTER %s LIMIT 1 RETURN 1) > 0\n", pred.Within, inner)
	}

	sortExprs := make([]string, 0, len(plan.Sort))
	for i, key := range plan.Sort {
		dir := "ASC"
		if key.Descending {
			dir = "DESC"
		}
		if len(key.Ranks) == 0 {
			sortExprs = append(sortExprs, "doc."+key.Path+" "+dir)
			continue
		}
		name := fmt.Sprintf("s%d", i)
		bindVars[name+"r"] = key.Ranks
		bindVars[name+"u"] = key.Unknown
		fmt.Fprintf(&b, "\tLET %s = POSITION(@%sr, doc.%s, true)\n", name, name, key.Path)
		sortExprs = append(sortExprs, fmt.Sprintf("(%s < 0 ? @%su : %s + 1) %s", name, name, name, dir))
	}
	if len(sortExprs) > 0 {
		b.WriteString("\tSORT " + strings.Join(sortExprs, ", ") + "\n")
	}

	b.WriteString("\tLIMIT @offset, @limit\n")
	bindVars["offset"] = page.Offset
	bindVars["limit"] = page.Limit

	b.WriteString(`	RETURN UNSET(doc, "_key", "_id", "_rev")`)
	return b.String(), bindVars
}

func predicateExpr(field, name string, pred search.Predicate, bindVars map[string]interface{}) string {
	switch pred.Kind {
	case search.KindRange:
		parts := []string{field + " != null"}
		if pred.Min != nil {
			bindVars[name+"min"] = pred.Min
			parts = append(parts, fmt.Sprintf("%s >= @%smin", field, name))
		}
		if pred.Max != nil {
			bindVars[name+"max"] = pred.Max
			parts = append(parts, fmt.Sprintf("%s <= @%smax", field, name))
		}
		return strings.Join(parts, " AND ")
	case search.KindContains:
		alts := make([]string, 0, len(pred.Values))
		for j, v := range pred.Values {
			bv := fmt.Sprintf("%s_%d", name, j)
			bindVars[bv] = v
			alts = append(alts, fmt.Sprintf("CONTAINS(LOWER(%s), @%s)", field, bv))
		}
		// LOWER(null) is "", which contains any empty needle
		return fmt.Sprintf("(IS_STRING(%s) AND (%s))", field, strings.Join(alts, " OR "))
	default:
		bindVars[name] = pred.Values
		return fmt.Sprintf("%s IN @%s", field, name)
	}
}
