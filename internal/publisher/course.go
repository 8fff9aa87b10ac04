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

// courseCounterpart is the role ownership moves to when a course changes hands
var courseCounterpart = map[string]string{
	model.RoleCourseTeam:        model.RoleMarketingReviewer,
	model.RoleMarketingReviewer: model.RoleCourseTeam,
}

// CourseReviewGaps lists what a course lacks before it may enter review.
// course must carry Organizations and Subjects.
func CourseReviewGaps(course *model.Course, roles map[string]model.User) []string {
	var missing []string
	check := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}
	check(course.Title != "", "title")
	check(course.Number != "", "number")
	check(course.ShortDescription != "", "short_description")
	check(course.FullDescription != "", "full_description")
	check(len(course.AuthoringOrganizations()) > 0, "organizations")
	check(course.Level != "", "level")
	check(course.LearningOutcomes != "", "learning_outcomes")
	check(course.PrimarySubject() != nil, "primary_subject")
	check(course.ImageURL != "", "image")
	_, hasTeam := roles[model.RoleCourseTeam]
	check(hasTeam, "course_team_admin")
	return missing
}

// TransitionCourse moves a course state to name. expectedVersion, when set,
// must match the version the caller last read.
func (s *Service) TransitionCourse(ctx context.Context, actor *model.User, courseID uint, name string, expectedVersion *int) (*model.CourseState, error) {
	var result model.CourseState
	err := s.transact(ctx, actor, machineCourse, name, func(tx *store.Tx) ([]pendingNotification, error) {
		state, err := EnsureCourseState(tx, courseID)
		if err != nil {
			return nil, err
		}
		if _, err := lockCourse(tx, courseID); err != nil {
			return nil, err
		}
		if err := checkVersion(expectedVersion, state.Version); err != nil {
			return nil, err
		}
		course, err := tx.LoadCourse(courseID)
		if err != nil {
			return nil, err
		}
		roles, err := tx.RoleAssignments(courseID)
		if err != nil {
			return nil, err
		}

		var note *pendingNotification
		updates := map[string]interface{}{}
		now := s.now()

		switch {
		case name == model.StateReview && (state.Name == model.StateDraft || state.Name == model.StateReview):
			role, err := actingRole(actor, state.OwnerRole, roles)
			if err != nil {
				return nil, err
			}
			if err := missingFields("Course", CourseReviewGaps(course, roles)); err != nil {
				return nil, err
			}
			next := courseCounterpart[role]
			to, err := recipient(roles, next)
			if err != nil {
				return nil, err
			}
			updates["name"] = model.StateReview
			updates["owner_role"] = next
			updates["owner_role_modified"] = now
			note = &pendingNotification{
				key:        notify.KeyCourseSendForReview,
				recipients: []notify.Recipient{to},
				data:       s.courseData(course, role),
			}

		case name == model.StateApproved && state.Name == model.StateReview:
			role, err := actingRole(actor, state.OwnerRole, roles)
			if err != nil {
				return nil, err
			}
			other := courseCounterpart[role]
			to, err := recipient(roles, other)
			if err != nil {
				return nil, err
			}
			updates["name"] = model.StateApproved
			updates["approved_by_role"] = role
			updates["owner_role"] = other
			updates["owner_role_modified"] = now
			if role == model.RoleMarketingReviewer {
				updates["marketing_reviewed"] = true
			}
			note = &pendingNotification{
				key:        notify.KeyCourseMarkAsReviewed,
				recipients: []notify.Recipient{to},
				data:       s.courseData(course, role),
			}

		default:
			return nil, apperr.Validation("Cannot change course state from %s to %s.", state.Name, name)
		}

		if err := guardedUpdate(tx, &model.CourseState{}, state.ID, state.Version, updates); err != nil {
			return nil, err
		}
		if err := tx.DB().First(&result, state.ID).Error; err != nil {
			return nil, err
		}
		if err := tx.Record(&result); err != nil {
			return nil, err
		}
		tx.Touch(course)
		note.entity = course

		s.log.Info("Course state changed",
			zap.String("course_key", course.Key),
			zap.String("from", state.Name),
			zap.String("to", result.Name),
			zap.String("owner_role", result.OwnerRole),
			zap.String("actor", actor.Username))
		return []pendingNotification{*note}, nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Service) courseData(course *model.Course, senderRole string) map[string]any {
	return map[string]any{
		"course_title": course.Title,
		"course_key":   course.Key,
		"sender_role":  roleNames[senderRole],
		"page_url":     fmt.Sprintf("%s/courses/%s", s.BaseURL, course.UUID),
	}
}
