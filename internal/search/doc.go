// Package search maintains the denormalized search projection of courses,
// course runs, programs and people, and answers faceted queries whose counts
// carry a distinct count over each document's aggregation key.
package search

import (
	"fmt"
	"strings"
)

// Facet fields carried by documents
const (
	FieldContentType    = "content_type"
	FieldAggregationKey = "aggregation_key"
	FieldText           = "text"
	FieldPartner        = "partner"
	FieldSubjects       = "subject_uuids"
	FieldOrganizations  = "organization_uuids"
	FieldLanguage       = "language"
	FieldLevel          = "level"
	FieldPacing         = "pacing_type"
	FieldAvailability   = "availability"
	FieldSeatTypes      = "seat_types"
	FieldMarketable     = "marketable"
	FieldStatus         = "status"
	FieldHidden         = "hidden"
	FieldProgramType    = "type"
	FieldKey            = "key"
	FieldStart          = "start"
	FieldEnd            = "end"
)

// Doc is one indexed document. Documents that represent the same logical
// entity share an AggregationKey.
type Doc struct {
	ID             string              `json:"id"`
	ContentType    string              `json:"content_type"`
	PK             uint                `json:"pk"`
	AggregationKey string              `json:"aggregation_key"`
	Text           string              `json:"text"`
	Facets         map[string][]string `json:"facets"`
}

// DocID is the index identity of an entity
func DocID(contentType string, pk uint) string {
	return fmt.Sprintf("%s:%d", contentType, pk)
}

// Values returns the values of field on d; content type, aggregation key and
// text are addressable like facets
func (d *Doc) Values(field string) []string {
	switch field {
	case FieldContentType:
		return []string{d.ContentType}
	case FieldAggregationKey:
		return []string{d.AggregationKey}
	case FieldText:
		return []string{d.Text}
	}
	return d.Facets[field]
}

func (d *Doc) set(field string, values ...string) {
	if d.Facets == nil {
		d.Facets = make(map[string][]string)
	}
	for _, v := range values {
		if v == "" {
			continue
		}
		if !contains(d.Facets[field], v) {
			d.Facets[field] = append(d.Facets[field], v)
		}
	}
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// textBlob joins the non-empty searchable parts of a document
func textBlob(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

func boolValue(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
