package permission

import (
	"context"

	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/prometheus"
	"go.uber.org/zap"
)

// CanEditCourse reports whether user may write the course: staff, holders of
// the change_course model permission, explicit editors, and members of an
// authoring organization's group under the org default rule
func (c *Checker) CanEditCourse(ctx context.Context, user *model.User, courseID uint) (bool, error) {
	if user.IsStaff || user.IsSuperuser {
		return true, nil
	}
	if ok, err := c.HasModelPermission(ctx, user, model.PermEditCourse); err != nil || ok {
		return ok, err
	}

	db := c.db.WithContext(ctx)
	var explicit int64
	if err := db.Model(&model.CourseEditor{}).
		Where("course_id = ? AND user_id = ?", courseID, user.ID).
		Count(&explicit).Error; err != nil {
		return false, err
	}
	if explicit > 0 {
		return true, nil
	}

	return c.isOrgDefaultEditor(ctx, user, courseID)
}

// isOrgDefaultEditor applies the implicit rule: a member of an authoring
// organization's group edits a course of that organization while the course
// has no editor rows and the user has no editor rows on that organization's courses
func (c *Checker) isOrgDefaultEditor(ctx context.Context, user *model.User, courseID uint) (bool, error) {
	db := c.db.WithContext(ctx)

	var courseEditors int64
	if err := db.Model(&model.CourseEditor{}).Where("course_id = ?", courseID).Count(&courseEditors).Error; err != nil {
		return false, err
	}
	if courseEditors > 0 {
		return false, nil
	}

	groups, err := c.GroupIDs(ctx, user.ID)
	if err != nil || len(groups) == 0 {
		return false, err
	}

	var orgIDs []uint
	if err := db.Model(&model.Organization{}).
		Joins("JOIN course_organizations ON course_organizations.organization_id = organizations.id").
		Where("course_organizations.course_id = ? AND course_organizations.relation = ?", courseID, model.RelationAuthoring).
		Where("organizations.group_id IN ?", groups).
		Pluck("organizations.id", &orgIDs).Error; err != nil {
		return false, err
	}

	for _, orgID := range orgIDs {
		var own int64
		err := db.Model(&model.CourseEditor{}).
			Joins("JOIN course_organizations ON course_organizations.course_id = course_editors.course_id").
			Where("course_editors.user_id = ?", user.ID).
			Where("course_organizations.organization_id = ? AND course_organizations.relation = ?", orgID, model.RelationAuthoring).
			Count(&own).Error
		if err != nil {
			return false, err
		}
		if own == 0 {
			return true, nil
		}
	}
	return false, nil
}

// CanEditCourseRun delegates to the run's course
func (c *Checker) CanEditCourseRun(ctx context.Context, user *model.User, run *model.CourseRun) (bool, error) {
	return c.CanEditCourse(ctx, user, run.CourseID)
}

// RequireCourseEdit returns PermissionDenied unless user may write the course
func (c *Checker) RequireCourseEdit(ctx context.Context, user *model.User, courseID uint) error {
	ok, err := c.CanEditCourse(ctx, user, courseID)
	if err != nil {
		return err
	}
	if !ok {
		prometheus.RecordPermissionDenied("course_edit")
		c.log.Info("Course edit denied", zap.String("username", user.Username), zap.Uint("course_id", courseID))
		return apperr.PermissionDenied("You do not have permission to edit this course.")
	}
	return nil
}
