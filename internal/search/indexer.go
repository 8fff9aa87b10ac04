package search

import (
	"context"
	"errors"

	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/store"
	"github.com/suteetoe/coursecatalog/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Indexer mirrors store signals into the backend. Failures are logged and
// counted but never reach the writer; Reindex repairs missed updates.
type Indexer struct {
	backend   Backend
	projector *Projector
	db        *gorm.DB
	log       *zap.Logger
}

// NewIndexer creates an indexer and subscribes it to st
func NewIndexer(st *store.Store, backend Backend, log *zap.Logger) *Indexer {
	if log == nil {
		log = zap.NewNop()
	}
	ix := &Indexer{backend: backend, projector: NewProjector(st), db: st.DB(), log: log}
	st.Subscribe(ix)
	return ix
}

// OnSaved reindexes the saved entity and the documents that embed it
func (ix *Indexer) OnSaved(ctx context.Context, e model.Entity) {
	switch v := e.(type) {
	case *model.Course:
		ix.indexCourse(ctx, v.ID, true)
	case *model.CourseRun:
		ix.indexRun(ctx, v.ID)
		ix.indexCourse(ctx, v.CourseID, false)
	case *model.Seat:
		ix.refreshRun(ctx, v.CourseRunID)
	case *model.Program:
		ix.index(ctx, model.TypeProgram, v.ID, ix.projector.Program)
	case *model.Person:
		ix.index(ctx, model.TypePerson, v.ID, ix.projector.Person)
	case *model.Organization:
		ix.refreshEmbedding(ctx, model.TypeOrganization, v.ID, &model.CourseOrganization{}, "organization_id")
		ix.refreshPrograms(ctx, v.ID)
	case *model.Subject:
		ix.refreshEmbedding(ctx, model.TypeSubject, v.ID, &model.CourseSubject{}, "subject_id")
	}
}

// OnDeleted removes the entity's document and refreshes its parents
func (ix *Indexer) OnDeleted(ctx context.Context, e model.Entity) {
	switch v := e.(type) {
	case *model.Course:
		ix.remove(ctx, model.TypeCourse, v.ID)
	case *model.CourseRun:
		ix.remove(ctx, model.TypeCourseRun, v.ID)
		ix.indexCourse(ctx, v.CourseID, false)
	case *model.Seat:
		ix.refreshRun(ctx, v.CourseRunID)
	case *model.Program:
		ix.remove(ctx, model.TypeProgram, v.ID)
	case *model.Person:
		ix.remove(ctx, model.TypePerson, v.ID)
	}
}

func (ix *Indexer) indexCourse(ctx context.Context, id uint, withRuns bool) {
	ix.index(ctx, model.TypeCourse, id, ix.projector.Course)
	if !withRuns {
		return
	}
	// run documents carry course facets
	var runIDs []uint
	if err := ix.db.WithContext(ctx).Model(&model.CourseRun{}).Where("course_id = ?", id).Pluck("id", &runIDs).Error; err != nil {
		ix.fail(model.TypeCourse, id, err)
		return
	}
	for _, rid := range runIDs {
		ix.indexRun(ctx, rid)
	}
}

// refreshEmbedding reindexes the courses, and their runs, linked to an
// organization or subject through join
func (ix *Indexer) refreshEmbedding(ctx context.Context, contentType string, id uint, join interface{}, column string) {
	var courseIDs []uint
	if err := ix.db.WithContext(ctx).Model(join).Where(column+" = ?", id).Pluck("course_id", &courseIDs).Error; err != nil {
		ix.fail(contentType, id, err)
		return
	}
	done := make(map[uint]bool, len(courseIDs))
	for _, cid := range courseIDs {
		if done[cid] {
			continue
		}
		done[cid] = true
		ix.indexCourse(ctx, cid, true)
	}
}

func (ix *Indexer) refreshPrograms(ctx context.Context, orgID uint) {
	var programIDs []uint
	if err := ix.db.WithContext(ctx).Model(&model.ProgramOrganization{}).Where("organization_id = ?", orgID).Pluck("program_id", &programIDs).Error; err != nil {
		ix.fail(model.TypeOrganization, orgID, err)
		return
	}
	for _, pid := range programIDs {
		ix.index(ctx, model.TypeProgram, pid, ix.projector.Program)
	}
}

func (ix *Indexer) indexRun(ctx context.Context, id uint) {
	ix.index(ctx, model.TypeCourseRun, id, ix.projector.CourseRun)
}

func (ix *Indexer) refreshRun(ctx context.Context, runID uint) {
	var run model.CourseRun
	err := ix.db.WithContext(ctx).Select("id", "course_id").First(&run, runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return
	}
	if err != nil {
		ix.fail(model.TypeCourseRun, runID, err)
		return
	}
	ix.indexRun(ctx, run.ID)
	ix.indexCourse(ctx, run.CourseID, false)
}

func (ix *Indexer) index(ctx context.Context, contentType string, id uint, project func(uint) (*Doc, error)) {
	doc, err := project(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		ix.remove(ctx, contentType, id)
		return
	}
	if err != nil {
		ix.fail(contentType, id, err)
		return
	}
	if err := ix.backend.Index(ctx, []Doc{*doc}); err != nil {
		ix.fail(contentType, id, err)
	}
}

func (ix *Indexer) remove(ctx context.Context, contentType string, id uint) {
	if err := ix.backend.Delete(ctx, []string{DocID(contentType, id)}); err != nil {
		ix.fail(contentType, id, err)
	}
}

func (ix *Indexer) fail(contentType string, id uint, err error) {
	prometheus.RecordIndexingFailure(contentType)
	ix.log.Error("Failed to update search index",
		zap.String("content_type", contentType),
		zap.Uint("id", id),
		zap.Error(err))
}
