// Package permission answers object-level read and course edit questions.
package permission

import (
	"context"
	"errors"

	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Checker resolves permissions against the canonical database
type Checker struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewChecker creates a permission checker
func NewChecker(db *gorm.DB, log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{db: db, log: log}
}

// GroupIDs returns the ids of the groups user belongs to
func (c *Checker) GroupIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := c.db.WithContext(ctx).Model(&model.UserGroup{}).
		Where("user_id = ?", userID).
		Pluck("group_id", &ids).Error
	return ids, err
}

// AccessibleObjectIDs returns the union of the user's direct grants and the
// grants of every group the user is in, for one object type and permission
func (c *Checker) AccessibleObjectIDs(ctx context.Context, user *model.User, objectType, perm string) ([]uint, error) {
	groups, err := c.GroupIDs(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	q := c.db.WithContext(ctx).Model(&model.ObjectGrant{}).
		Where("object_type = ? AND permission = ?", objectType, perm)
	if len(groups) > 0 {
		q = q.Where("(user_id = ? OR group_id IN ?)", user.ID, groups)
	} else {
		q = q.Where("user_id = ?", user.ID)
	}

	var ids []uint
	if err := q.Distinct().Order("object_id").Pluck("object_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// HasObjectPermission reports whether user holds perm on one object
func (c *Checker) HasObjectPermission(ctx context.Context, user *model.User, objectType string, objectID uint, perm string) (bool, error) {
	ids, err := c.AccessibleObjectIDs(ctx, user, objectType, perm)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == objectID {
			return true, nil
		}
	}
	return false, nil
}

// Grant gives a user perm on one object
func (c *Checker) Grant(ctx context.Context, userID uint, objectType string, objectID uint, perm string) error {
	g := model.ObjectGrant{UserID: &userID, ObjectType: objectType, ObjectID: objectID, Permission: perm}
	return c.db.WithContext(ctx).Create(&g).Error
}

// ResolveSubject returns the user whose access set a request should use.
// Only staff may name another user through the username parameter.
func (c *Checker) ResolveSubject(ctx context.Context, caller *model.User, username string) (*model.User, error) {
	if username == "" || username == caller.Username {
		return caller, nil
	}
	if !caller.IsStaff && !caller.IsSuperuser {
		prometheus.RecordPermissionDenied("impersonation")
		c.log.Info("Non-staff user attempted to filter by username",
			zap.String("caller", caller.Username),
			zap.String("username", username))
		return nil, apperr.PermissionDenied("Only staff users are permitted to filter by username.")
	}

	var target model.User
	err := c.db.WithContext(ctx).Where("username = ?", username).First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("No user with the username [%s] exists.", username)
	}
	if err != nil {
		return nil, err
	}
	return &target, nil
}

// HasModelPermission reports whether user or one of user's groups holds codename
func (c *Checker) HasModelPermission(ctx context.Context, user *model.User, codename string) (bool, error) {
	if user.IsSuperuser {
		return true, nil
	}
	groups, err := c.GroupIDs(ctx, user.ID)
	if err != nil {
		return false, err
	}
	q := c.db.WithContext(ctx).Model(&model.ModelPermission{}).Where("codename = ?", codename)
	if len(groups) > 0 {
		q = q.Where("(user_id = ? OR group_id IN ?)", user.ID, groups)
	} else {
		q = q.Where("user_id = ?", user.ID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
