// Package publisher runs the course and course-run review workflow.
//
// Every transition runs in one serializable transaction that locks the state
// row, the course row and, for runs, the parent course's state row. The state
// version read at the start must still be current when the update lands,
// otherwise the transition fails with a state conflict. Notifications are
// enqueued in the same transaction and delivered after commit.
package publisher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/notify"
	"github.com/suteetoe/coursecatalog/internal/permission"
	"github.com/suteetoe/coursecatalog/internal/store"
	"github.com/suteetoe/coursecatalog/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	machineCourse = "course"
	machineRun    = "course_run"
)

var roleNames = map[string]string{
	model.RoleCourseTeam:         "Course Team",
	model.RolePublisher:          "Publisher",
	model.RoleProjectCoordinator: "Project Coordinator",
	model.RoleMarketingReviewer:  "Marketing Reviewer",
}

// Service performs workflow transitions
type Service struct {
	store    *store.Store
	notifier *notify.Notifier
	perms    *permission.Checker
	log      *zap.Logger
	now      func() time.Time

	// TxOptions is used for every transition transaction
	TxOptions *sql.TxOptions
	// BaseURL prefixes links in notification bodies
	BaseURL string
}

// NewService creates a workflow service
func NewService(st *store.Store, notifier *notify.Notifier, perms *permission.Checker, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:     st,
		notifier:  notifier,
		perms:     perms,
		log:       log,
		now:       time.Now,
		TxOptions: &sql.TxOptions{Isolation: sql.LevelSerializable},
	}
}

// pendingNotification is built inside the transaction and enqueued before commit
type pendingNotification struct {
	key        string
	entity     model.Entity
	recipients []notify.Recipient
	data       map[string]any
}

func (s *Service) transact(ctx context.Context, actor *model.User, machine, to string, fn func(tx *store.Tx) ([]pendingNotification, error)) error {
	var ids []uint
	err := s.store.WithTx(ctx, actor.Username, s.TxOptions, func(tx *store.Tx) error {
		notes, err := fn(tx)
		if err != nil {
			return err
		}
		for _, n := range notes {
			got, err := s.notifier.Enqueue(tx.DB(), n.key, n.entity, n.recipients, n.data)
			if err != nil {
				return err
			}
			ids = append(ids, got...)
		}
		return nil
	})
	if err != nil {
		prometheus.RecordTransition(machine, to, apperr.KindOf(err).String())
		return err
	}
	prometheus.RecordTransition(machine, to, "ok")

	// Delivery is best-effort and never undoes the committed transition
	s.notifier.Deliver(ctx, ids)
	return nil
}

func lockCourse(tx *store.Tx, courseID uint) (*model.Course, error) {
	var c model.Course
	err := tx.DB().Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, courseID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("course %d not found", courseID)
		}
		return nil, err
	}
	return &c, nil
}

// actingRole returns the role the actor exercises as owner of the entity
func actingRole(actor *model.User, owner string, roles map[string]model.User) (string, error) {
	if u, ok := roles[owner]; ok && u.ID == actor.ID {
		return owner, nil
	}
	if actor.IsStaff || actor.IsSuperuser {
		return owner, nil
	}
	return "", apperr.PermissionDenied("Only the %s can change this state.", roleNames[owner])
}

func recipient(roles map[string]model.User, role string) (notify.Recipient, error) {
	u, ok := roles[role]
	if !ok {
		return notify.Recipient{}, apperr.Validation("No user is assigned to the %s role.", roleNames[role])
	}
	return notify.Recipient{User: u, Role: role}, nil
}

func recipients(roles map[string]model.User, wanted ...string) ([]notify.Recipient, error) {
	out := make([]notify.Recipient, 0, len(wanted))
	for _, role := range wanted {
		r, err := recipient(roles, role)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func checkVersion(expected *int, current int) error {
	if expected != nil && *expected != current {
		return apperr.StateConflict("State has changed since version %d; reload and retry.", *expected)
	}
	return nil
}

func missingFields(entity string, missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return apperr.Validation("%s is missing required fields: %s", entity, strings.Join(missing, ", ")).
		WithDetails(map[string]any{"missing": missing})
}

// guardedUpdate applies updates only if the row still carries version
func guardedUpdate(tx *store.Tx, m interface{}, id uint, version int, updates map[string]interface{}) error {
	updates["version"] = version + 1
	res := tx.DB().Model(m).Where("id = ? AND version = ?", id, version).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.StateConflict("State was changed by another request; reload and retry.")
	}
	return nil
}

// AssignRole sets the user holding role on a course
func (s *Service) AssignRole(ctx context.Context, actor *model.User, courseID uint, role, username string) (*model.CourseUserRole, error) {
	if !model.ValidRole(role) {
		return nil, apperr.Validation("Unknown role %q.", role)
	}
	if err := s.perms.RequireCourseEdit(ctx, actor, courseID); err != nil {
		return nil, err
	}
	target, err := s.store.UserByUsername(username)
	if err != nil {
		return nil, err
	}

	var assignment model.CourseUserRole
	err = s.store.WithTx(ctx, actor.Username, nil, func(tx *store.Tx) error {
		err := tx.DB().Where("course_id = ? AND role = ?", courseID, role).First(&assignment).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		assignment.CourseID = courseID
		assignment.Role = role
		assignment.UserID = target.ID
		return tx.Save(&assignment)
	})
	if err != nil {
		return nil, err
	}
	assignment.User = *target
	return &assignment, nil
}

// Roles returns the role assignments of a course
func (s *Service) Roles(courseID uint) (map[string]model.User, error) {
	return s.store.RoleAssignments(courseID)
}

// EnsureCourseState creates the draft state of a course owned by the course team
func EnsureCourseState(tx *store.Tx, courseID uint) (*model.CourseState, error) {
	st, err := tx.CourseStateFor(courseID, true)
	if err == nil {
		return st, nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}
	st = &model.CourseState{CourseID: courseID, Name: model.StateDraft, OwnerRole: model.RoleCourseTeam, Version: 1}
	if err := tx.Save(st); err != nil {
		return nil, err
	}
	return st, nil
}

// EnsureRunState creates the draft state of a run owned by the course team
func EnsureRunState(tx *store.Tx, runID uint) (*model.CourseRunState, error) {
	st, err := tx.CourseRunStateFor(runID, true)
	if err == nil {
		return st, nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}
	st = &model.CourseRunState{CourseRunID: runID, Name: model.StateDraft, OwnerRole: model.RoleCourseTeam, Version: 1}
	if err := tx.Save(st); err != nil {
		return nil, err
	}
	return st, nil
}
