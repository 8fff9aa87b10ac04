package search

import (
	"context"
	"fmt"
	"time"

	"github.com/suteetoe/coursecatalog/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultReindexBatch is the number of rows read per batch while reindexing
const DefaultReindexBatch = 200

// ReindexSummary counts the documents written per content type
type ReindexSummary map[string]int

// Reindexer rebuilds the whole index from the canonical database
type Reindexer struct {
	db        *gorm.DB
	backend   Backend
	batchSize int
	log       *zap.Logger
	now       func() time.Time
}

// NewReindexer creates a reindexer; batchSize <= 0 selects the default
func NewReindexer(db *gorm.DB, backend Backend, batchSize int, log *zap.Logger) *Reindexer {
	if batchSize <= 0 {
		batchSize = DefaultReindexBatch
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reindexer{db: db, backend: backend, batchSize: batchSize, log: log, now: time.Now}
}

// Run clears the index and rewrites every course, run, program and person
func (r *Reindexer) Run(ctx context.Context) (ReindexSummary, error) {
	start := time.Now()
	if err := r.backend.Clear(ctx); err != nil {
		return nil, err
	}
	partners, err := r.partnerCodes(ctx)
	if err != nil {
		return nil, err
	}

	summary := ReindexSummary{}
	now := r.now()
	db := r.db.WithContext(ctx)

	var courses []model.Course
	if err := r.batches(ctx, db.Scopes(coursePreloads), &courses, model.TypeCourse, summary, func() []Doc {
		docs := make([]Doc, 0, len(courses))
		for i := range courses {
			docs = append(docs, CourseDoc(&courses[i], courses[i].Runs, now))
		}
		return docs
	}); err != nil {
		return nil, err
	}

	var runs []model.CourseRun
	if err := r.batches(ctx, db.Scopes(runPreloads), &runs, model.TypeCourseRun, summary, func() []Doc {
		docs := make([]Doc, 0, len(runs))
		for i := range runs {
			docs = append(docs, CourseRunDoc(&runs[i], now))
		}
		return docs
	}); err != nil {
		return nil, err
	}

	var programs []model.Program
	if err := r.batches(ctx, db.Scopes(programPreloads), &programs, model.TypeProgram, summary, func() []Doc {
		docs := make([]Doc, 0, len(programs))
		for i := range programs {
			docs = append(docs, ProgramDoc(&programs[i], partners[programs[i].PartnerID]))
		}
		return docs
	}); err != nil {
		return nil, err
	}

	var people []model.Person
	if err := r.batches(ctx, db.Scopes(personPreloads), &people, model.TypePerson, summary, func() []Doc {
		docs := make([]Doc, 0, len(people))
		for i := range people {
			docs = append(docs, PersonDoc(&people[i], partners[people[i].PartnerID]))
		}
		return docs
	}); err != nil {
		return nil, err
	}

	r.log.Info("Search index rebuilt",
		zap.Int("courses", summary[model.TypeCourse]),
		zap.Int("course_runs", summary[model.TypeCourseRun]),
		zap.Int("programs", summary[model.TypeProgram]),
		zap.Int("people", summary[model.TypePerson]),
		zap.Duration("duration", time.Since(start)))
	return summary, nil
}

// batches reads dest in batches and indexes what project builds from each one
func (r *Reindexer) batches(ctx context.Context, q *gorm.DB, dest interface{}, contentType string, summary ReindexSummary, project func() []Doc) error {
	res := q.FindInBatches(dest, r.batchSize, func(tx *gorm.DB, batch int) error {
		docs := project()
		if err := r.backend.Index(ctx, docs); err != nil {
			return fmt.Errorf("failed to index %s batch %d: %w", contentType, batch, err)
		}
		summary[contentType] += len(docs)
		return nil
	})
	return res.Error
}

func (r *Reindexer) partnerCodes(ctx context.Context) (map[uint]string, error) {
	var partners []model.Partner
	if err := r.db.WithContext(ctx).Select("id", "short_code").Find(&partners).Error; err != nil {
		return nil, err
	}
	out := make(map[uint]string, len(partners))
	for _, p := range partners {
		out[p.ID] = p.ShortCode
	}
	return out, nil
}
