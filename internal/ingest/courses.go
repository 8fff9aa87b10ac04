package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/coursekey"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/store"
	"go.uber.org/zap"
)

type courseRunRecord struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Start            string `json:"start"`
	End              string `json:"end"`
	EnrollmentStart  string `json:"enrollment_start"`
	EnrollmentEnd    string `json:"enrollment_end"`
	Pacing           string `json:"pacing"`
	ShortDescription string `json:"short_description"`
	Media            struct {
		Image struct {
			Raw string `json:"raw"`
		} `json:"image"`
		CourseVideo struct {
			URI string `json:"uri"`
		} `json:"course_video"`
	} `json:"media"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTime accepts the timestamp shapes upstreams emit; empty means unset
func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid timestamp %q", s)
}

// CoursesLoader upserts courses and their runs from the LMS courses API.
// The course is joined on the key derived from the run key.
type CoursesLoader struct {
	base
	seenRuns    map[string]bool
	seenCourses map[string]bool
}

// NewCoursesLoader creates the courses loader
func NewCoursesLoader(o Options) *CoursesLoader {
	return &CoursesLoader{base: newBase("courses", o)}
}

// Ingest pages the courses API and sweeps runs and courses no longer listed
func (l *CoursesLoader) Ingest(ctx context.Context) (*Summary, error) {
	start := time.Now()
	l.seenRuns = map[string]bool{}
	l.seenCourses = map[string]bool{}
	s, err := l.pages(ctx, l.Partner.CoursesAPIURL, l.update)
	if err == nil && l.sweepAllowed(s) {
		err = l.sweep(ctx, s)
	}
	return l.finish(s, start, err)
}

func (l *CoursesLoader) update(ctx context.Context, raw json.RawMessage) (string, error) {
	var rec courseRunRecord
	if err := decodeRecord(raw, &rec); err != nil {
		return "", err
	}
	rk, err := coursekey.Parse(rec.ID)
	if err != nil {
		return rec.ID, apperr.Validation("%s", err.Error())
	}
	runKey, courseKey := rk.String(), rk.CourseKey()
	// listed keys are protected from the sweep even when the record fails
	l.seenRuns[strings.ToLower(runKey)] = true
	l.seenCourses[strings.ToLower(courseKey)] = true

	pacing := model.NormalizePacing(rec.Pacing)
	if !model.ValidPacing(pacing) {
		return runKey, apperr.Validation("invalid pacing %q", rec.Pacing)
	}
	times := make([]*time.Time, 4)
	for i, s := range []string{rec.Start, rec.End, rec.EnrollmentStart, rec.EnrollmentEnd} {
		if times[i], err = parseTime(s); err != nil {
			return runKey, apperr.Validation("%s", err.Error())
		}
	}

	return runKey, l.withTx(ctx, func(tx *store.Tx) error {
		course, err := l.upsertCourse(tx, rk, rec)
		if err != nil {
			return err
		}
		run, err := tx.CourseRunByKey(l.Partner.ID, runKey)
		if apperr.Is(err, apperr.KindNotFound) {
			run = &model.CourseRun{PartnerID: l.Partner.ID, Key: runKey}
		} else if err != nil {
			return err
		}
		run.CourseID = course.ID
		run.Start, run.End, run.EnrollmentStart, run.EnrollmentEnd = times[0], times[1], times[2], times[3]
		run.Pacing = pacing
		run.CardImageURL = rec.Media.Image.Raw
		if rec.Media.CourseVideo.URI != "" {
			run.VideoURL = rec.Media.CourseVideo.URI
		}
		run.Title = ""
		if rec.Name != course.Title {
			run.Title = rec.Name
		}
		if err := tx.Save(run); err != nil {
			return err
		}
		return deriveRunStatus(tx, run.ID)
	})
}

// upsertCourse creates the course of a run or refreshes its LMS-sourced
// fields. Courses under the publisher workflow keep their own metadata.
func (l *CoursesLoader) upsertCourse(tx *store.Tx, rk coursekey.RunKey, rec courseRunRecord) (*model.Course, error) {
	course, err := tx.CourseByKey(l.Partner.ID, rk.CourseKey())
	if apperr.Is(err, apperr.KindNotFound) {
		course = &model.Course{PartnerID: l.Partner.ID, Key: rk.CourseKey(), Number: rk.Number}
		if err := l.fillCourse(tx, course, rec); err != nil {
			return nil, err
		}
		return course, l.linkOrganization(tx, course, rk.Org)
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.CourseStateFor(course.ID, false); err == nil {
		return course, nil
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}
	return course, l.fillCourse(tx, course, rec)
}

func (l *CoursesLoader) fillCourse(tx *store.Tx, course *model.Course, rec courseRunRecord) error {
	course.Title = rec.Name
	if rec.ShortDescription != "" {
		course.ShortDescription = rec.ShortDescription
	}
	if rec.Media.Image.Raw != "" {
		course.ImageURL = rec.Media.Image.Raw
	}
	if rec.Media.CourseVideo.URI != "" {
		course.VideoURL = rec.Media.CourseVideo.URI
	}
	return tx.Save(course)
}

// linkOrganization makes the org segment of the key the primary authoring
// organization when such an organization is known
func (l *CoursesLoader) linkOrganization(tx *store.Tx, course *model.Course, orgKey string) error {
	org, err := tx.OrganizationByKey(l.Partner.ID, orgKey)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return tx.DB().Create(&model.CourseOrganization{
		CourseID:       course.ID,
		OrganizationID: org.ID,
		Relation:       model.RelationAuthoring,
	}).Error
}

// sweep deletes unlisted runs, then unlisted courses left without runs.
// Workflow-owned runs and courses are kept.
func (l *CoursesLoader) sweep(ctx context.Context, s *Summary) error {
	db := l.Store.DB().WithContext(ctx)

	var runs []model.CourseRun
	if err := db.Where("partner_id = ?", l.Partner.ID).Find(&runs).Error; err != nil {
		return err
	}
	for i := range runs {
		run := &runs[i]
		if l.seenRuns[strings.ToLower(run.Key)] {
			continue
		}
		deleted := false
		err := l.withTx(ctx, func(tx *store.Tx) error {
			owned, err := tx.HasRunState(run.ID)
			if err != nil || owned {
				return err
			}
			deleted = true
			return tx.DeleteCourseRun(run)
		})
		if err != nil {
			return err
		}
		if deleted {
			s.Deleted++
			l.Log.Info("Deleted orphan course run", zap.String("course_run", run.Key))
		}
	}

	var courses []model.Course
	if err := db.Where("partner_id = ?", l.Partner.ID).Find(&courses).Error; err != nil {
		return err
	}
	for i := range courses {
		course := &courses[i]
		if l.seenCourses[strings.ToLower(course.Key)] {
			continue
		}
		deleted := false
		err := l.withTx(ctx, func(tx *store.Tx) error {
			if _, err := tx.CourseStateFor(course.ID, false); err == nil {
				return nil
			} else if !apperr.Is(err, apperr.KindNotFound) {
				return err
			}
			remaining, err := tx.RunsOfCourse(course.ID)
			if err != nil || len(remaining) > 0 {
				return err
			}
			deleted = true
			return tx.DeleteCourse(course)
		})
		if err != nil {
			return err
		}
		if deleted {
			s.Deleted++
			l.Log.Info("Deleted orphan course", zap.String("course", course.Key))
		}
	}
	s.Swept = true
	return nil
}
