// Package dedupe merges duplicate person records
package dedupe

import (
	"context"
	"fmt"

	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Result counts the rows moved from the duplicate to the target
type Result struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Staff          int    `json:"staff"`
	Endorsements   int    `json:"endorsements"`
	Instructors    int    `json:"instructors"`
	SocialNetworks int    `json:"social_networks"`
	Expertise      int    `json:"areas_of_expertise"`
	Position       bool   `json:"position"`
}

// Merger re-points every reference of a duplicate person at a target person
type Merger struct {
	store *store.Store
	log   *zap.Logger
}

// NewMerger creates a merger
func NewMerger(st *store.Store, log *zap.Logger) *Merger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Merger{store: st, log: log}
}

// MergePeople moves run staff, endorsements, instructor ordering, social
// networks, expertise and position from the person fromUUID to toUUID, then
// deletes fromUUID. Ordered lists keep their order and the target is never
// inserted twice into the same list. Everything happens in one transaction.
func (m *Merger) MergePeople(ctx context.Context, actor, fromUUID, toUUID string) (*Result, error) {
	if fromUUID == toUUID {
		return nil, apperr.Validation("cannot merge a person into itself")
	}
	res := &Result{From: fromUUID, To: toUUID}
	err := m.store.WithTx(ctx, actor, nil, func(tx *store.Tx) error {
		from, err := tx.PersonByUUID(fromUUID)
		if err != nil {
			return err
		}
		to, err := tx.PersonByUUID(toUUID)
		if err != nil {
			return err
		}
		if from.PartnerID != to.PartnerID {
			return apperr.Validation("people %s and %s belong to different partners", fromUUID, toUUID)
		}

		if res.Staff, err = m.mergeStaff(tx, from.ID, to.ID); err != nil {
			return err
		}
		if res.Instructors, err = m.mergeInstructors(tx, from.ID, to.ID); err != nil {
			return err
		}
		if res.Endorsements, err = m.mergeEndorsements(tx, from.ID, to.ID); err != nil {
			return err
		}
		if res.SocialNetworks, err = m.mergeSocialNetworks(tx.DB(), from.ID, to.ID); err != nil {
			return err
		}
		if res.Expertise, err = m.mergeExpertise(tx.DB(), from.ID, to.ID); err != nil {
			return err
		}
		if res.Position, err = m.mergePosition(tx.DB(), from.ID, to.ID); err != nil {
			return err
		}

		tx.Touch(to)
		return tx.DeletePerson(from)
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("Merged duplicate person",
		zap.String("from", fromUUID),
		zap.String("to", toUUID),
		zap.Int("staff", res.Staff),
		zap.Int("endorsements", res.Endorsements),
		zap.Int("instructors", res.Instructors))
	return res, nil
}

// mergeStaff swaps the duplicate for the target in each run's staff list.
// Runs already listing the target just lose the duplicate.
func (m *Merger) mergeStaff(tx *store.Tx, fromID, toID uint) (int, error) {
	db := tx.DB()
	var rows []model.CourseRunStaff
	if err := db.Where("person_id = ?", fromID).Find(&rows).Error; err != nil {
		return 0, err
	}
	moved := 0
	for _, row := range rows {
		var n int64
		if err := db.Model(&model.CourseRunStaff{}).Where("course_run_id = ? AND person_id = ?", row.CourseRunID, toID).Count(&n).Error; err != nil {
			return 0, err
		}
		if n > 0 {
			if err := db.Delete(&row).Error; err != nil {
				return 0, err
			}
		} else {
			if err := db.Model(&row).Update("person_id", toID).Error; err != nil {
				return 0, err
			}
			moved++
		}
		run, err := tx.LoadCourseRun(row.CourseRunID)
		if err != nil {
			return 0, err
		}
		tx.Touch(run)
	}
	return moved, nil
}

func (m *Merger) mergeInstructors(tx *store.Tx, fromID, toID uint) (int, error) {
	db := tx.DB()
	var rows []model.ProgramInstructor
	if err := db.Where("person_id = ?", fromID).Find(&rows).Error; err != nil {
		return 0, err
	}
	moved := 0
	for _, row := range rows {
		var n int64
		if err := db.Model(&model.ProgramInstructor{}).Where("program_id = ? AND person_id = ?", row.ProgramID, toID).Count(&n).Error; err != nil {
			return 0, err
		}
		if n > 0 {
			if err := db.Delete(&row).Error; err != nil {
				return 0, err
			}
		} else {
			if err := db.Model(&row).Update("person_id", toID).Error; err != nil {
				return 0, err
			}
			moved++
		}
		if err := touchProgram(tx, row.ProgramID); err != nil {
			return 0, err
		}
	}
	return moved, nil
}

func (m *Merger) mergeEndorsements(tx *store.Tx, fromID, toID uint) (int, error) {
	db := tx.DB()
	var rows []model.ProgramEndorsement
	if err := db.Where("person_id = ?", fromID).Find(&rows).Error; err != nil {
		return 0, err
	}
	moved := 0
	for _, row := range rows {
		var n int64
		if err := db.Model(&model.ProgramEndorsement{}).Where("program_id = ? AND person_id = ?", row.ProgramID, toID).Count(&n).Error; err != nil {
			return 0, err
		}
		if n > 0 {
			if err := db.Delete(&row).Error; err != nil {
				return 0, err
			}
		} else {
			if err := db.Model(&row).Update("person_id", toID).Error; err != nil {
				return 0, err
			}
			moved++
		}
		if err := touchProgram(tx, row.ProgramID); err != nil {
			return 0, err
		}
	}
	return moved, nil
}

func touchProgram(tx *store.Tx, id uint) error {
	var p model.Program
	if err := tx.DB().First(&p, id).Error; err != nil {
		return fmt.Errorf("failed to load program %d: %w", id, err)
	}
	tx.Touch(&p)
	return nil
}

// mergeSocialNetworks appends the duplicate's links the target lacks after
// the target's own links
func (m *Merger) mergeSocialNetworks(db *gorm.DB, fromID, toID uint) (int, error) {
	var have []model.PersonSocialNetwork
	if err := db.Where("person_id = ?", toID).Order("position").Find(&have).Error; err != nil {
		return 0, err
	}
	urls := map[string]bool{}
	next := 0
	for _, s := range have {
		urls[s.URL] = true
		if s.Position >= next {
			next = s.Position + 1
		}
	}

	var rows []model.PersonSocialNetwork
	if err := db.Where("person_id = ?", fromID).Order("position").Find(&rows).Error; err != nil {
		return 0, err
	}
	moved := 0
	for _, row := range rows {
		if urls[row.URL] {
			continue
		}
		urls[row.URL] = true
		if err := db.Model(&row).Updates(map[string]any{"person_id": toID, "position": next}).Error; err != nil {
			return 0, err
		}
		next++
		moved++
	}
	return moved, nil
}

func (m *Merger) mergeExpertise(db *gorm.DB, fromID, toID uint) (int, error) {
	var have []model.PersonAreaOfExpertise
	if err := db.Where("person_id = ?", toID).Find(&have).Error; err != nil {
		return 0, err
	}
	values := map[string]bool{}
	next := 0
	for _, a := range have {
		values[a.Value] = true
		if a.Position >= next {
			next = a.Position + 1
		}
	}

	var rows []model.PersonAreaOfExpertise
	if err := db.Where("person_id = ?", fromID).Order("position").Find(&rows).Error; err != nil {
		return 0, err
	}
	moved := 0
	for _, row := range rows {
		if values[row.Value] {
			continue
		}
		values[row.Value] = true
		if err := db.Model(&row).Updates(map[string]any{"person_id": toID, "position": next}).Error; err != nil {
			return 0, err
		}
		next++
		moved++
	}
	return moved, nil
}

// mergePosition hands the duplicate's position over only when the target has none
func (m *Merger) mergePosition(db *gorm.DB, fromID, toID uint) (bool, error) {
	var n int64
	if err := db.Model(&model.PersonPosition{}).Where("person_id = ?", toID).Count(&n).Error; err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	res := db.Model(&model.PersonPosition{}).Where("person_id = ?", fromID).Update("person_id", toID)
	return res.RowsAffected > 0, res.Error
}
