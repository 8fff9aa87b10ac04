package search

import (
	"net/url"
	"sort"
	"strings"

	"github.com/suteetoe/coursecatalog/internal/apperr"
)

// Request parameters with a meaning of their own
const (
	ParamQuery               = "q"
	ParamPartner             = "partner"
	ParamSelectedFacets      = "selected_facets"
	ParamSelectedQueryFacets = "selected_query_facets"
)

// FieldFilter restricts results to documents carrying Value in Field
type FieldFilter struct {
	Field string
	Value string
}

// Query is a backend-neutral search. Filters and QueryFilters are ANDed with
// Text.
type Query struct {
	ContentTypes []string
	Text         string
	Filters      []FieldFilter
	QueryFilters []string
}

// CleanParams drops empty values and then parameters left without values.
// Remaining lists keep their order.
func CleanParams(values url.Values) url.Values {
	out := make(url.Values, len(values))
	for k, vs := range values {
		var kept []string
		for _, v := range vs {
			if strings.TrimSpace(v) != "" {
				kept = append(kept, v)
			}
		}
		if len(kept) > 0 {
			out[k] = kept
		}
	}
	return out
}

// BuildQuery turns request parameters into a query. Only the partner and
// the fields faceted by plan filter; every other parameter is ignored. The
// default partner filter is added when the request names no partner.
// Selected query facets must exist in plan.
func BuildQuery(contentTypes []string, values url.Values, defaultPartner string, plan *AggregationPlan) (Query, error) {
	params := CleanParams(values)
	if _, ok := params[ParamPartner]; !ok && defaultPartner != "" {
		params.Set(ParamPartner, defaultPartner)
	}

	q := Query{ContentTypes: contentTypes, Text: params.Get(ParamQuery)}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k != ParamPartner && !plan.HasField(k) {
			continue
		}
		for _, v := range params[k] {
			q.Filters = append(q.Filters, FieldFilter{Field: k, Value: v})
		}
	}

	for _, sel := range params[ParamSelectedFacets] {
		field, value, ok := strings.Cut(sel, ":")
		if !ok || field == "" || value == "" {
			return Query{}, apperr.Validation("Invalid selected facet %q; expected field:value.", sel)
		}
		q.Filters = append(q.Filters, FieldFilter{Field: strings.TrimSuffix(field, "_exact"), Value: value})
	}
	for _, name := range params[ParamSelectedQueryFacets] {
		qf, ok := plan.FindQuery(name)
		if !ok {
			return Query{}, apperr.Validation("Unknown query facet %q.", name)
		}
		q.QueryFilters = append(q.QueryFilters, qf.Query)
	}
	return q, nil
}

// NarrowURL returns base with one more selected facet value
func NarrowURL(base *url.URL, field, value string) string {
	return withParam(base, ParamSelectedFacets, field+"_exact:"+value)
}

// NarrowQueryURL returns base with one more selected query facet
func NarrowQueryURL(base *url.URL, name string) string {
	return withParam(base, ParamSelectedQueryFacets, name)
}

func withParam(base *url.URL, key, value string) string {
	u := *base
	q := u.Query()
	for _, v := range q[key] {
		if v == value {
			return u.String()
		}
	}
	q.Add(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
