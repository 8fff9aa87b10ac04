package search

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/suteetoe/coursecatalog/internal/apperr"
)

// DistinctPrecision is the cardinality precision threshold, the engine maximum
const DistinctPrecision = 40000

// DefaultTermsSize bounds the buckets of a terms facet without an explicit size
const DefaultTermsSize = 100

const (
	distinctHitsAgg  = "distinct_hits"
	distinctCountAgg = "distinct_count"
	fieldAggPrefix   = "field_"
	queryAggPrefix   = "query_"
)

// FacetConfig is a facet in the engine's aggregation syntax. Two shapes are
// accepted: {"terms": {"field": f, "size": n}} and
// {"query": {"query_string": {"query": q}}}.
type FacetConfig map[string]any

// TermsFacet counts documents per value of a field
type TermsFacet struct {
	Name  string
	Field string
	Size  int
}

// QueryFacet counts documents matching a query string
type QueryFacet struct {
	Name  string
	Query string
}

// AggregationPlan is the rewritten form of a facet set. Every facet it holds
// is answered with a count and a distinct count over aggregation keys.
type AggregationPlan struct {
	Terms   []TermsFacet
	Queries []QueryFacet
}

// Rewrite validates facets and converts them into an aggregation plan.
// Any shape other than the two supported ones is rejected.
func Rewrite(facets map[string]FacetConfig) (*AggregationPlan, error) {
	names := make([]string, 0, len(facets))
	for name := range facets {
		names = append(names, name)
	}
	sort.Strings(names)

	plan := &AggregationPlan{}
	for _, name := range names {
		cfg := facets[name]
		if len(cfg) != 1 {
			return nil, unsupportedFacet(name, cfg)
		}
		if raw, ok := cfg["terms"]; ok {
			tf, err := parseTerms(name, raw)
			if err != nil {
				return nil, err
			}
			plan.Terms = append(plan.Terms, tf)
			continue
		}
		if raw, ok := cfg["query"]; ok {
			qf, err := parseQueryFacet(name, raw)
			if err != nil {
				return nil, err
			}
			plan.Queries = append(plan.Queries, qf)
			continue
		}
		return nil, unsupportedFacet(name, cfg)
	}
	return plan, nil
}

func unsupportedFacet(name string, cfg any) error {
	raw, _ := json.Marshal(cfg)
	return apperr.Validation("unsupported facet configuration for %q: %s", name, raw)
}

func parseTerms(name string, raw any) (TermsFacet, error) {
	body, ok := asMap(raw)
	if !ok {
		return TermsFacet{}, unsupportedFacet(name, raw)
	}
	field, ok := body["field"].(string)
	if !ok || field == "" {
		return TermsFacet{}, unsupportedFacet(name, raw)
	}
	tf := TermsFacet{Name: name, Field: field, Size: DefaultTermsSize}
	for k, v := range body {
		switch k {
		case "field":
		case "size":
			n, ok := asInt(v)
			if !ok || n <= 0 {
				return TermsFacet{}, unsupportedFacet(name, raw)
			}
			tf.Size = n
		default:
			return TermsFacet{}, unsupportedFacet(name, raw)
		}
	}
	return tf, nil
}

func parseQueryFacet(name string, raw any) (QueryFacet, error) {
	body, ok := asMap(raw)
	if !ok || len(body) != 1 {
		return QueryFacet{}, unsupportedFacet(name, raw)
	}
	qs, ok := asMap(body["query_string"])
	if !ok || len(qs) != 1 {
		return QueryFacet{}, unsupportedFacet(name, raw)
	}
	q, ok := qs["query"].(string)
	if !ok {
		return QueryFacet{}, unsupportedFacet(name, raw)
	}
	return QueryFacet{Name: name, Query: q}, nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case FacetConfig:
		return m, true
	}
	return nil, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

// FindQuery returns the named query facet
func (p *AggregationPlan) FindQuery(name string) (QueryFacet, bool) {
	for _, q := range p.Queries {
		if q.Name == name {
			return q, true
		}
	}
	return QueryFacet{}, false
}

// HasField reports whether some terms facet aggregates field
func (p *AggregationPlan) HasField(field string) bool {
	for _, t := range p.Terms {
		if t.Field == field {
			return true
		}
	}
	return false
}

func distinctCardinality() map[string]any {
	return map[string]any{
		"cardinality": map[string]any{
			"field":               FieldAggregationKey,
			"precision_threshold": DistinctPrecision,
		},
	}
}

func queryStringQuery(q string) map[string]any {
	return map[string]any{
		"query_string": map[string]any{
			"query":            q,
			"default_field":    FieldText,
			"default_operator": "AND",
		},
	}
}

// Aggregations renders the plan in the engine's aggregation syntax: terms
// facets become terms buckets and query facets filter aggregations, each with
// a nested cardinality over aggregation_key, plus a top-level distinct_hits
func (p *AggregationPlan) Aggregations() map[string]any {
	aggs := map[string]any{distinctHitsAgg: distinctCardinality()}
	for _, t := range p.Terms {
		aggs[fieldAggPrefix+t.Name] = map[string]any{
			"terms": map[string]any{"field": t.Field, "size": t.Size},
			"aggs":  map[string]any{distinctCountAgg: distinctCardinality()},
		}
	}
	for _, q := range p.Queries {
		aggs[queryAggPrefix+q.Name] = map[string]any{
			"filter": queryStringQuery(q.Query),
			"aggs":   map[string]any{distinctCountAgg: distinctCardinality()},
		}
	}
	return aggs
}

// String is used in log fields
func (p *AggregationPlan) String() string {
	return fmt.Sprintf("terms=%d queries=%d", len(p.Terms), len(p.Queries))
}
