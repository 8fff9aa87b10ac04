package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/store"
	"go.uber.org/zap"
)

type programRecord struct {
	UUID          string `json:"uuid"`
	Name          string `json:"name"`
	Subtitle      string `json:"subtitle"`
	Category      string `json:"category"`
	MarketingSlug string `json:"marketing_slug"`
	Status        string `json:"status"`
	CourseCodes   []struct {
		RunModes []struct {
			CourseKey string `json:"course_key"`
		} `json:"run_modes"`
	} `json:"course_codes"`
	Organizations []struct {
		Key string `json:"key"`
	} `json:"organizations"`
	BannerImageURLs map[string]string `json:"banner_image_urls"`
}

const bannerImageSize = "w1440h480"

// ProgramsLoader upserts programs by (partner, marketing_slug). Member
// courses come from the referenced run keys; the other runs of those
// courses are excluded.
type ProgramsLoader struct {
	base
	seen map[string]bool
}

// NewProgramsLoader creates the programs loader
func NewProgramsLoader(o Options) *ProgramsLoader {
	return &ProgramsLoader{base: newBase("programs", o)}
}

// Ingest pages the programs API and sweeps programs no longer listed
func (l *ProgramsLoader) Ingest(ctx context.Context) (*Summary, error) {
	start := time.Now()
	l.seen = map[string]bool{}
	s, err := l.pages(ctx, l.Partner.ProgramsAPIURL, l.update)
	if err == nil && l.sweepAllowed(s) {
		err = l.sweep(ctx, s)
	}
	return l.finish(s, start, err)
}

func (l *ProgramsLoader) update(ctx context.Context, raw json.RawMessage) (string, error) {
	var rec programRecord
	if err := decodeRecord(raw, &rec); err != nil {
		return "", err
	}
	if rec.MarketingSlug == "" {
		return rec.UUID, apperr.Validation("program without marketing_slug")
	}
	l.seen[strings.ToLower(rec.MarketingSlug)] = true
	for ci := range rec.CourseCodes {
		modes := rec.CourseCodes[ci].RunModes
		for i := range modes {
			key, err := runKeyOf(modes[i].CourseKey)
			if err != nil {
				return rec.MarketingSlug, err
			}
			modes[i].CourseKey = key
		}
	}

	return rec.MarketingSlug, l.withTx(ctx, func(tx *store.Tx) error {
		program, err := tx.ProgramBySlug(l.Partner.ID, rec.MarketingSlug)
		if apperr.Is(err, apperr.KindNotFound) {
			program = &model.Program{PartnerID: l.Partner.ID, UUID: rec.UUID, MarketingSlug: rec.MarketingSlug}
		} else if err != nil {
			return err
		}
		program.Title = rec.Name
		program.Subtitle = rec.Subtitle
		program.Type = rec.Category
		program.Status = strings.ToLower(rec.Status)
		program.BannerImageURL = rec.BannerImageURLs[bannerImageSize]
		if err := tx.Save(program); err != nil {
			return err
		}
		return l.replaceRelations(tx, program, rec)
	})
}

// replaceRelations rewrites member courses, excluded runs and authoring
// organizations from the record
func (l *ProgramsLoader) replaceRelations(tx *store.Tx, program *model.Program, rec programRecord) error {
	db := tx.DB()
	for _, child := range []interface{}{&model.ProgramCourse{}, &model.ProgramExcludedRun{}, &model.ProgramOrganization{}} {
		if err := db.Where("program_id = ?", program.ID).Delete(child).Error; err != nil {
			return err
		}
	}

	referenced := map[uint]bool{}
	var courseIDs []uint
	members := map[uint]bool{}
	for _, code := range rec.CourseCodes {
		for _, mode := range code.RunModes {
			run, err := tx.CourseRunByKey(l.Partner.ID, mode.CourseKey)
			if apperr.Is(err, apperr.KindNotFound) {
				l.Log.Warn("Program references unknown course run",
					zap.String("program", rec.MarketingSlug),
					zap.String("course_run", mode.CourseKey))
				continue
			}
			if err != nil {
				return err
			}
			referenced[run.ID] = true
			if !members[run.CourseID] {
				members[run.CourseID] = true
				courseIDs = append(courseIDs, run.CourseID)
			}
		}
	}

	for i, courseID := range courseIDs {
		if err := db.Create(&model.ProgramCourse{ProgramID: program.ID, CourseID: courseID, Position: i}).Error; err != nil {
			return err
		}
		runs, err := tx.RunsOfCourse(courseID)
		if err != nil {
			return err
		}
		for _, run := range runs {
			if referenced[run.ID] {
				continue
			}
			if err := db.Create(&model.ProgramExcludedRun{ProgramID: program.ID, CourseRunID: run.ID}).Error; err != nil {
				return err
			}
		}
	}

	position := 0
	linked := map[uint]bool{}
	for _, o := range rec.Organizations {
		org, err := tx.OrganizationByKey(l.Partner.ID, o.Key)
		if apperr.Is(err, apperr.KindNotFound) {
			l.Log.Warn("Program references unknown organization",
				zap.String("program", rec.MarketingSlug),
				zap.String("organization", o.Key))
			continue
		}
		if err != nil {
			return err
		}
		if linked[org.ID] {
			continue
		}
		linked[org.ID] = true
		if err := db.Create(&model.ProgramOrganization{ProgramID: program.ID, OrganizationID: org.ID, Position: position}).Error; err != nil {
			return err
		}
		position++
	}
	return nil
}

func (l *ProgramsLoader) sweep(ctx context.Context, s *Summary) error {
	var programs []model.Program
	if err := l.Store.DB().WithContext(ctx).Where("partner_id = ?", l.Partner.ID).Find(&programs).Error; err != nil {
		return err
	}
	for i := range programs {
		p := &programs[i]
		if l.seen[strings.ToLower(p.MarketingSlug)] {
			continue
		}
		if err := l.withTx(ctx, func(tx *store.Tx) error { return tx.DeleteProgram(p) }); err != nil {
			return err
		}
		s.Deleted++
		l.Log.Info("Deleted orphan program", zap.String("program", p.MarketingSlug))
	}
	s.Swept = true
	return nil
}
