package publisher

import (
	"context"
	"fmt"

	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/notify"
	"github.com/suteetoe/coursecatalog/internal/store"
	"go.uber.org/zap"
)

// runCounterpart is the role ownership moves to when a run changes hands
var runCounterpart = map[string]string{
	model.RoleCourseTeam:         model.RoleProjectCoordinator,
	model.RoleProjectCoordinator: model.RoleCourseTeam,
}

// RunReviewGaps lists what a run lacks before it may enter review.
// run must carry Seats, Staff.Person and TranscriptLanguages.
func RunReviewGaps(run *model.CourseRun) []string {
	var missing []string
	check := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}
	check(run.HasValidSeat(), "seats")
	check(run.Start != nil, "start")
	check(run.End != nil, "end")
	check(run.Pacing == model.PacingInstructor || run.Pacing == model.PacingSelf, "pacing_type")
	check(len(run.Staff) > 0, "staff")
	for _, st := range run.Staff {
		if st.Person.Bio == "" || st.Person.ProfileImageURL == "" {
			missing = append(missing, fmt.Sprintf("staff %s bio and image", st.Person.FullName()))
		}
	}
	check(run.LanguageCode != "", "content_language")
	check(len(run.TranscriptLanguages) > 0, "transcript_languages")
	check(run.MinEffort != nil && run.MaxEffort != nil, "effort")
	check(run.LMSCourseID != nil && *run.LMSCourseID != "", "lms_course_id")
	check(run.VideoLanguage != "", "video_language")
	return missing
}

// TransitionCourseRun moves a run state to name
func (s *Service) TransitionCourseRun(ctx context.Context, actor *model.User, runID uint, name string, expectedVersion *int) (*model.CourseRunState, error) {
	var result model.CourseRunState
	err := s.transact(ctx, actor, machineRun, name, func(tx *store.Tx) ([]pendingNotification, error) {
		state, err := EnsureRunState(tx, runID)
		if err != nil {
			return nil, err
		}
		run, err := tx.LoadCourseRun(runID)
		if err != nil {
			return nil, err
		}
		if _, err := lockCourse(tx, run.CourseID); err != nil {
			return nil, err
		}
		courseState, err := EnsureCourseState(tx, run.CourseID)
		if err != nil {
			return nil, err
		}
		if err := checkVersion(expectedVersion, state.Version); err != nil {
			return nil, err
		}
		course, err := tx.LoadCourse(run.CourseID)
		if err != nil {
			return nil, err
		}
		roles, err := tx.RoleAssignments(run.CourseID)
		if err != nil {
			return nil, err
		}

		var (
			note     pendingNotification
			runWrite bool
		)
		updates := map[string]interface{}{}
		now := s.now()
		data := s.runData(course, run)

		switch {
		case name == model.StateReview && (state.Name == model.StateDraft || state.Name == model.StateReview):
			if courseState.Name != model.StateApproved {
				return nil, apperr.Validation("The course must be approved before its runs can be reviewed.")
			}
			role, err := actingRole(actor, state.OwnerRole, roles)
			if err != nil {
				return nil, err
			}
			if err := missingFields("Course run", RunReviewGaps(run)); err != nil {
				return nil, err
			}
			next, ok := runCounterpart[role]
			if !ok {
				return nil, apperr.Validation("The %s cannot send a course run for review.", roleNames[role])
			}
			to, err := recipient(roles, next)
			if err != nil {
				return nil, err
			}
			updates["name"] = model.StateReview
			updates["owner_role"] = next
			updates["owner_role_modified"] = now
			data["sender_role"] = roleNames[role]
			note = pendingNotification{key: notify.KeyRunSendForReview, recipients: []notify.Recipient{to}}

		case name == model.StateApproved && state.Name == model.StateReview:
			role, err := actingRole(actor, state.OwnerRole, roles)
			if err != nil {
				return nil, err
			}
			if err := missingFields("Course run", run.ReviewedGaps()); err != nil {
				return nil, err
			}
			to, err := recipients(roles, model.RoleProjectCoordinator, model.RolePublisher)
			if err != nil {
				return nil, err
			}
			updates["name"] = model.StateApproved
			updates["approved_by_role"] = role
			if other, ok := runCounterpart[role]; ok {
				updates["owner_role"] = other
				updates["owner_role_modified"] = now
			}
			run.Status = model.RunStatusReviewed
			runWrite = true
			note = pendingNotification{key: notify.KeyRunMarkAsReviewed, recipients: to}

		case name == model.StatePublished && state.Name == model.StateApproved:
			if err := requireRole(actor, model.RolePublisher, roles); err != nil {
				return nil, err
			}
			if !state.PreviewAccepted {
				return nil, apperr.Validation("The course team must accept the preview before the run is published.")
			}
			if err := missingFields("Course run", run.ReviewedGaps()); err != nil {
				return nil, err
			}
			to, err := recipients(roles, model.RoleCourseTeam, model.RoleProjectCoordinator)
			if err != nil {
				return nil, err
			}
			updates["name"] = model.StatePublished
			run.Status = model.RunStatusPublished
			runWrite = true
			note = pendingNotification{key: notify.KeyRunGoLive, recipients: to}

		default:
			return nil, apperr.Validation("Cannot change course run state from %s to %s.", state.Name, name)
		}

		if err := guardedUpdate(tx, &model.CourseRunState{}, state.ID, state.Version, updates); err != nil {
			return nil, err
		}
		if runWrite {
			if err := tx.Save(run); err != nil {
				return nil, err
			}
		}
		if err := tx.DB().First(&result, state.ID).Error; err != nil {
			return nil, err
		}
		if err := tx.Record(&result); err != nil {
			return nil, err
		}
		tx.Touch(run)
		note.entity = run
		note.data = data

		s.log.Info("Course run state changed",
			zap.String("run_key", run.Key),
			zap.String("from", state.Name),
			zap.String("to", result.Name),
			zap.String("owner_role", result.OwnerRole),
			zap.String("actor", actor.Username))
		return []pendingNotification{note}, nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AcceptPreview records the course team's acceptance of an approved run's preview
func (s *Service) AcceptPreview(ctx context.Context, actor *model.User, runID uint, expectedVersion *int) (*model.CourseRunState, error) {
	var result model.CourseRunState
	err := s.transact(ctx, actor, machineRun, "preview_accepted", func(tx *store.Tx) ([]pendingNotification, error) {
		state, err := EnsureRunState(tx, runID)
		if err != nil {
			return nil, err
		}
		run, err := tx.LoadCourseRun(runID)
		if err != nil {
			return nil, err
		}
		if _, err := lockCourse(tx, run.CourseID); err != nil {
			return nil, err
		}
		if err := checkVersion(expectedVersion, state.Version); err != nil {
			return nil, err
		}
		if state.Name != model.StateApproved {
			return nil, apperr.Validation("Only an approved course run preview can be accepted.")
		}
		roles, err := tx.RoleAssignments(run.CourseID)
		if err != nil {
			return nil, err
		}
		if err := requireRole(actor, model.RoleCourseTeam, roles); err != nil {
			return nil, err
		}
		if err := guardedUpdate(tx, &model.CourseRunState{}, state.ID, state.Version, map[string]interface{}{
			"preview_accepted": true,
		}); err != nil {
			return nil, err
		}
		if err := tx.DB().First(&result, state.ID).Error; err != nil {
			return nil, err
		}
		return nil, tx.Record(&result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func requireRole(actor *model.User, role string, roles map[string]model.User) error {
	if u, ok := roles[role]; ok && u.ID == actor.ID {
		return nil
	}
	if actor.IsStaff || actor.IsSuperuser {
		if _, ok := roles[role]; !ok {
			return apperr.Validation("No user is assigned to the %s role.", roleNames[role])
		}
		return nil
	}
	return apperr.PermissionDenied("Only the %s can perform this action.", roleNames[role])
}

func (s *Service) runData(course *model.Course, run *model.CourseRun) map[string]any {
	return map[string]any{
		"course_title": course.Title,
		"course_key":   course.Key,
		"run_key":      run.Key,
		"sender_role":  "",
		"page_url":     fmt.Sprintf("%s/course_runs/%s", s.BaseURL, run.UUID),
	}
}
