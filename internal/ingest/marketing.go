package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/store"
)

type marketingRecord struct {
	CourseRunKey string `json:"course_run_key"`
	Slug         string `json:"slug"`
	Title        string `json:"title"`
	Subtitle     string `json:"subtitle"`
	Level        string `json:"level"`
	Subjects     []struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	} `json:"subjects"`
	Language            string   `json:"language"`
	TranscriptLanguages []string `json:"transcript_languages"`
	MinEffort           *int     `json:"min_effort"`
	MaxEffort           *int     `json:"max_effort"`
	VideoLanguage       string   `json:"video_language"`
	Hidden              bool     `json:"hidden"`
	Staff               []struct {
		UUID            string `json:"uuid"`
		GivenName       string `json:"given_name"`
		FamilyName      string `json:"family_name"`
		Bio             string `json:"bio"`
		ProfileImageURL string `json:"profile_image_url"`
	} `json:"staff"`
}

// MarketingLoader writes marketing-site metadata into runs that already
// exist. It never creates runs and never sweeps.
type MarketingLoader struct {
	base
}

// NewMarketingLoader creates the marketing metadata loader
func NewMarketingLoader(o Options) *MarketingLoader {
	return &MarketingLoader{base: newBase("marketing", o)}
}

// Ingest pages the marketing API
func (l *MarketingLoader) Ingest(ctx context.Context) (*Summary, error) {
	start := time.Now()
	s, err := l.pages(ctx, l.Partner.MarketingAPIURL, l.update)
	return l.finish(s, start, err)
}

func (l *MarketingLoader) update(ctx context.Context, raw json.RawMessage) (string, error) {
	var rec marketingRecord
	if err := decodeRecord(raw, &rec); err != nil {
		return "", err
	}
	if rec.Level != "" && rec.Level != model.LevelIntroductory && rec.Level != model.LevelIntermediate && rec.Level != model.LevelAdvanced {
		return rec.CourseRunKey, apperr.Validation("unknown level %q", rec.Level)
	}

	runKey, err := runKeyOf(rec.CourseRunKey)
	if err != nil {
		return rec.CourseRunKey, err
	}

	return runKey, l.withTx(ctx, func(tx *store.Tx) error {
		run, err := tx.CourseRunByKey(l.Partner.ID, runKey)
		if apperr.Is(err, apperr.KindNotFound) {
			return skipf("unknown course run %s", runKey)
		}
		if err != nil {
			return err
		}
		course, err := tx.LoadCourse(run.CourseID)
		if err != nil {
			return err
		}

		run.MarketingSlug = rec.Slug
		if rec.Title != "" && rec.Title != course.Title {
			run.Title = rec.Title
		}
		run.ShortDescriptionOverride = rec.Subtitle
		run.LanguageCode = rec.Language
		run.MinEffort, run.MaxEffort = rec.MinEffort, rec.MaxEffort
		run.VideoLanguage = rec.VideoLanguage
		run.Hidden = rec.Hidden
		if err := tx.Save(run); err != nil {
			return err
		}
		if err := l.replaceTranscripts(tx, run.ID, rec.TranscriptLanguages); err != nil {
			return err
		}
		if err := l.replaceStaff(tx, run.ID, rec); err != nil {
			return err
		}
		if err := l.updateCourse(tx, course, rec); err != nil {
			return err
		}
		return deriveRunStatus(tx, run.ID)
	})
}

func (l *MarketingLoader) replaceTranscripts(tx *store.Tx, runID uint, languages []string) error {
	db := tx.DB()
	if err := db.Where("course_run_id = ?", runID).Delete(&model.CourseRunTranscriptLanguage{}).Error; err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, lang := range languages {
		if lang == "" || seen[lang] {
			continue
		}
		seen[lang] = true
		if err := db.Create(&model.CourseRunTranscriptLanguage{CourseRunID: runID, LanguageCode: lang}).Error; err != nil {
			return err
		}
	}
	return nil
}

// replaceStaff upserts every listed person by uuid and rewrites the run's
// staff in listed order
func (l *MarketingLoader) replaceStaff(tx *store.Tx, runID uint, rec marketingRecord) error {
	db := tx.DB()
	if err := db.Where("course_run_id = ?", runID).Delete(&model.CourseRunStaff{}).Error; err != nil {
		return err
	}
	position := 0
	seen := map[uint]bool{}
	for _, s := range rec.Staff {
		if s.UUID == "" {
			continue
		}
		person, err := tx.PersonByUUID(s.UUID)
		if apperr.Is(err, apperr.KindNotFound) {
			person = &model.Person{UUID: s.UUID, PartnerID: l.Partner.ID}
		} else if err != nil {
			return err
		}
		person.GivenName = s.GivenName
		person.FamilyName = s.FamilyName
		person.Bio = s.Bio
		person.ProfileImageURL = s.ProfileImageURL
		if err := tx.Save(person); err != nil {
			return err
		}
		if seen[person.ID] {
			continue
		}
		seen[person.ID] = true
		if err := db.Create(&model.CourseRunStaff{CourseRunID: runID, PersonID: person.ID, Position: position}).Error; err != nil {
			return err
		}
		position++
	}
	return nil
}

// updateCourse applies the level and the first three subjects to the course
func (l *MarketingLoader) updateCourse(tx *store.Tx, course *model.Course, rec marketingRecord) error {
	db := tx.DB()
	if rec.Level != "" {
		course.Level = rec.Level
	}
	if err := db.Where("course_id = ?", course.ID).Delete(&model.CourseSubject{}).Error; err != nil {
		return err
	}
	position := 0
	seen := map[string]bool{}
	for _, sub := range rec.Subjects {
		if position == model.MaxSubjects {
			break
		}
		if sub.Slug == "" || seen[sub.Slug] {
			continue
		}
		seen[sub.Slug] = true
		subject, err := tx.SubjectBySlug(l.Partner.ID, sub.Slug)
		if apperr.Is(err, apperr.KindNotFound) {
			subject = &model.Subject{PartnerID: l.Partner.ID, Slug: sub.Slug}
		} else if err != nil {
			return err
		}
		if sub.Name != "" {
			subject.Name = sub.Name
		}
		if err := tx.Save(subject); err != nil {
			return err
		}
		if err := db.Create(&model.CourseSubject{CourseID: course.ID, SubjectID: subject.ID, Position: position}).Error; err != nil {
			return err
		}
		position++
	}
	return tx.Save(course)
}
