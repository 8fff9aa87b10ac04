package search

import (
	"context"
	"net/url"

	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"go.uber.org/zap"
)

// SearchType names a set of content types searched together
type SearchType struct {
	ContentTypes []string
	Facets       map[string]FacetConfig
}

func termsFacet(field string) FacetConfig {
	return FacetConfig{"terms": map[string]any{"field": field}}
}

func queryFacet(q string) FacetConfig {
	return FacetConfig{"query": map[string]any{"query_string": map[string]any{"query": q}}}
}

// DefaultSearchTypes returns the search types served under /search/<type>/facets
func DefaultSearchTypes() map[string]SearchType {
	runFacets := map[string]FacetConfig{
		FieldPacing:             termsFacet(FieldPacing),
		FieldAvailability:       termsFacet(FieldAvailability),
		FieldLevel:              termsFacet(FieldLevel),
		FieldLanguage:           termsFacet(FieldLanguage),
		FieldSeatTypes:          termsFacet(FieldSeatTypes),
		FieldSubjects:           termsFacet(FieldSubjects),
		FieldOrganizations:      termsFacet(FieldOrganizations),
		FieldPartner:            termsFacet(FieldPartner),
		"marketable":            queryFacet(FieldMarketable + ":true"),
		"availability_current":  queryFacet(FieldAvailability + ":Current"),
		"availability_upcoming": queryFacet(FieldAvailability + `:(Upcoming OR "Starting Soon")`),
		"availability_archived": queryFacet(FieldAvailability + ":Archived"),
	}
	courseFacets := map[string]FacetConfig{
		FieldOrganizations: termsFacet(FieldOrganizations),
		FieldSubjects:      termsFacet(FieldSubjects),
		FieldLevel:         termsFacet(FieldLevel),
		FieldLanguage:      termsFacet(FieldLanguage),
		FieldSeatTypes:     termsFacet(FieldSeatTypes),
		FieldPacing:        termsFacet(FieldPacing),
		FieldPartner:       termsFacet(FieldPartner),
		"marketable":       queryFacet(FieldMarketable + ":true"),
	}
	programFacets := map[string]FacetConfig{
		FieldProgramType:   termsFacet(FieldProgramType),
		FieldStatus:        termsFacet(FieldStatus),
		FieldOrganizations: termsFacet(FieldOrganizations),
		FieldPartner:       termsFacet(FieldPartner),
		"marketable":       queryFacet(FieldMarketable + ":true"),
	}
	return map[string]SearchType{
		"all": {
			ContentTypes: []string{model.TypeCourse, model.TypeCourseRun, model.TypeProgram, model.TypePerson},
			Facets: map[string]FacetConfig{
				FieldContentType: termsFacet(FieldContentType),
				FieldPartner:     termsFacet(FieldPartner),
				FieldLevel:       termsFacet(FieldLevel),
			},
		},
		"courses":     {ContentTypes: []string{model.TypeCourse}, Facets: courseFacets},
		"course_runs": {ContentTypes: []string{model.TypeCourseRun}, Facets: runFacets},
		"programs":    {ContentTypes: []string{model.TypeProgram}, Facets: programFacets},
		"people":      {ContentTypes: []string{model.TypePerson}, Facets: map[string]FacetConfig{FieldPartner: termsFacet(FieldPartner)}},
	}
}

// FieldFacet is one value of a field facet
type FieldFacet struct {
	Text          string `json:"text"`
	Count         int    `json:"count"`
	DistinctCount int    `json:"distinct_count"`
	NarrowURL     string `json:"narrow_url"`
}

// QueryFacetCount is the count of one query facet
type QueryFacetCount struct {
	Count         int    `json:"count"`
	DistinctCount int    `json:"distinct_count"`
	NarrowURL     string `json:"narrow_url"`
}

// FacetResponse is the body of a faceted search
type FacetResponse struct {
	Count         int                        `json:"count"`
	DistinctCount int                        `json:"distinct_count"`
	Next          *string                    `json:"next,omitempty"`
	Previous      *string                    `json:"previous,omitempty"`
	Results       []Item                     `json:"results"`
	Fields        map[string][]FieldFacet    `json:"fields"`
	Queries       map[string]QueryFacetCount `json:"queries"`
}

// Service answers faceted searches
type Service struct {
	backend        Backend
	materializer   *Materializer
	types          map[string]SearchType
	defaultPartner string
	log            *zap.Logger
}

// NewService creates a search service. defaultPartner scopes every request
// that names no partner.
func NewService(backend Backend, materializer *Materializer, types map[string]SearchType, defaultPartner string, log *zap.Logger) *Service {
	if types == nil {
		types = DefaultSearchTypes()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{backend: backend, materializer: materializer, types: types, defaultPartner: defaultPartner, log: log}
}

// Backend returns the index backend
func (s *Service) Backend() Backend {
	return s.backend
}

// Facets runs a faceted search of searchType for the request URL u
func (s *Service) Facets(ctx context.Context, searchType string, u *url.URL, offset, limit int) (*FacetResponse, error) {
	st, ok := s.types[searchType]
	if !ok {
		return nil, apperr.NotFound("Unknown search type %q.", searchType)
	}
	plan, err := Rewrite(st.Facets)
	if err != nil {
		return nil, err
	}
	q, err := BuildQuery(st.ContentTypes, u.Query(), s.defaultPartner, plan)
	if err != nil {
		return nil, err
	}

	res, err := s.backend.Search(ctx, q, plan, offset, limit)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindValidation {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindInternal, err, "Search failed.")
	}
	items, err := s.materializer.Load(ctx, res.Hits)
	if err != nil {
		return nil, err
	}

	out := &FacetResponse{
		Count:         res.Total,
		DistinctCount: res.DistinctHits,
		Results:       items,
		Fields:        make(map[string][]FieldFacet, len(plan.Terms)),
		Queries:       make(map[string]QueryFacetCount, len(plan.Queries)),
	}
	for _, t := range plan.Terms {
		facets := make([]FieldFacet, 0, len(res.Fields[t.Name]))
		for _, b := range res.Fields[t.Name] {
			facets = append(facets, FieldFacet{
				Text:          b.Value,
				Count:         b.Count,
				DistinctCount: b.DistinctCount,
				NarrowURL:     NarrowURL(u, t.Field, b.Value),
			})
		}
		out.Fields[t.Name] = facets
	}
	for _, qf := range plan.Queries {
		b := res.Queries[qf.Name]
		out.Queries[qf.Name] = QueryFacetCount{
			Count:         b.Count,
			DistinctCount: b.DistinctCount,
			NarrowURL:     NarrowQueryURL(u, qf.Name),
		}
	}
	s.log.Debug("Faceted search",
		zap.String("type", searchType),
		zap.String("plan", plan.String()),
		zap.Int("count", out.Count),
		zap.Int("distinct_count", out.DistinctCount))
	return out, nil
}

// MatchingPKs returns the primary keys of contentType documents matching the
// query string text within partner. An empty partner uses the default.
func (s *Service) MatchingPKs(ctx context.Context, contentType, text, partner string) ([]uint, error) {
	if partner == "" {
		partner = s.defaultPartner
	}
	q := Query{ContentTypes: []string{contentType}, Text: text}
	if partner != "" {
		q.Filters = []FieldFilter{{Field: FieldPartner, Value: partner}}
	}
	return s.backend.ScanPKs(ctx, q)
}
