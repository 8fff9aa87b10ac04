package search

import (
	"context"

	"github.com/suteetoe/coursecatalog/internal/model"
	"gorm.io/gorm"
)

// Item is one materialized search result
type Item struct {
	ContentType    string `json:"content_type"`
	AggregationKey string `json:"aggregation_key"`
	Object         any    `json:"object"`
}

// Materializer expands hits into canonical entities with one read per
// content type
type Materializer struct {
	db *gorm.DB
}

// NewMaterializer creates a materializer over the canonical database
func NewMaterializer(db *gorm.DB) *Materializer {
	return &Materializer{db: db}
}

// Load returns the entities behind hits in hit order. Hits whose row no
// longer exists are omitted.
func (m *Materializer) Load(ctx context.Context, hits []Doc) ([]Item, error) {
	pks := map[string][]uint{}
	for _, h := range hits {
		pks[h.ContentType] = append(pks[h.ContentType], h.PK)
	}

	objects := map[string]any{}
	db := m.db.WithContext(ctx)
	for ct, ids := range pks {
		var err error
		switch ct {
		case model.TypeCourse:
			err = loadInto(db.Scopes(coursePreloads), ids, ct, objects, func(c *model.Course) uint { return c.ID })
		case model.TypeCourseRun:
			err = loadInto(db.Preload("Seats").Preload("Course"), ids, ct, objects, func(r *model.CourseRun) uint { return r.ID })
		case model.TypeProgram:
			err = loadInto(db.Scopes(programPreloads), ids, ct, objects, func(p *model.Program) uint { return p.ID })
		case model.TypePerson:
			err = loadInto(db.Scopes(personPreloads), ids, ct, objects, func(p *model.Person) uint { return p.ID })
		}
		if err != nil {
			return nil, err
		}
	}

	items := make([]Item, 0, len(hits))
	for _, h := range hits {
		obj, ok := objects[DocID(h.ContentType, h.PK)]
		if !ok {
			continue
		}
		items = append(items, Item{ContentType: h.ContentType, AggregationKey: h.AggregationKey, Object: obj})
	}
	return items, nil
}

func loadInto[T any](db *gorm.DB, ids []uint, contentType string, out map[string]any, id func(*T) uint) error {
	var rows []T
	if err := db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return err
	}
	for i := range rows {
		out[DocID(contentType, id(&rows[i]))] = &rows[i]
	}
	return nil
}
