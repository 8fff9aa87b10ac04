package model

import (
	"time"
)

// Workflow roles
const (
	RoleCourseTeam         = "course_team"
	RolePublisher          = "publisher"
	RoleProjectCoordinator = "project_coordinator"
	RoleMarketingReviewer  = "marketing_reviewer"
)

// ValidRole reports whether r is one of the workflow roles
func ValidRole(r string) bool {
	switch r {
	case RoleCourseTeam, RolePublisher, RoleProjectCoordinator, RoleMarketingReviewer:
		return true
	}
	return false
}

// Workflow state names
const (
	StateDraft     = "draft"
	StateReview    = "review"
	StateApproved  = "approved"
	StatePublished = "published"
)

// CourseState is the workflow companion of a course
type CourseState struct {
	ID                uint       `json:"id" gorm:"primarykey"`
	CourseID          uint       `json:"course_id" gorm:"not null;uniqueIndex"`
	Name              string     `json:"name" gorm:"type:varchar(20);not null"`
	OwnerRole         string     `json:"owner_role" gorm:"type:varchar(30);not null"`
	ApprovedByRole    string     `json:"approved_by_role" gorm:"type:varchar(30)"`
	OwnerRoleModified *time.Time `json:"owner_role_modified"`
	MarketingReviewed bool       `json:"marketing_reviewed"`
	// Version increments on every change and guards against lost updates
	Version   int       `json:"version" gorm:"not null;default:1"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *CourseState) EntityType() string { return TypeCourseState }
func (s *CourseState) EntityID() uint     { return s.ID }

// CourseRunState is the workflow companion of a course run
type CourseRunState struct {
	ID                uint       `json:"id" gorm:"primarykey"`
	CourseRunID       uint       `json:"course_run_id" gorm:"not null;uniqueIndex"`
	Name              string     `json:"name" gorm:"type:varchar(20);not null"`
	OwnerRole         string     `json:"owner_role" gorm:"type:varchar(30);not null"`
	ApprovedByRole    string     `json:"approved_by_role" gorm:"type:varchar(30)"`
	OwnerRoleModified *time.Time `json:"owner_role_modified"`
	PreviewAccepted   bool       `json:"preview_accepted"`
	Version           int        `json:"version" gorm:"not null;default:1"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (s *CourseRunState) EntityType() string { return TypeCourseRunState }
func (s *CourseRunState) EntityID() uint     { return s.ID }

// CourseUserRole assigns one user to one workflow role of a course
type CourseUserRole struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CourseID  uint      `json:"course_id" gorm:"not null;uniqueIndex:idx_course_role"`
	Role      string    `json:"role" gorm:"type:varchar(30);not null;uniqueIndex:idx_course_role"`
	UserID    uint      `json:"user_id" gorm:"not null;index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User User `json:"user" gorm:"foreignKey:UserID"`
}

func (r *CourseUserRole) EntityType() string { return TypeCourseUserRole }
func (r *CourseUserRole) EntityID() uint     { return r.ID }

// CourseEditor grants a user edit rights on one course
type CourseEditor struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	UserID    uint      `json:"user_id" gorm:"not null;uniqueIndex:idx_course_editor"`
	CourseID  uint      `json:"course_id" gorm:"not null;uniqueIndex:idx_course_editor;index"`
	CreatedAt time.Time `json:"created_at"`

	User User `json:"user" gorm:"foreignKey:UserID"`
}

func (e *CourseEditor) EntityType() string { return TypeCourseEditor }
func (e *CourseEditor) EntityID() uint     { return e.ID }

// UserThrottleRate overrides the default request rate for one user
type UserThrottleRate struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	UserID    uint      `json:"user_id" gorm:"not null;uniqueIndex"`
	Rate      string    `json:"rate" gorm:"type:varchar(50);not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *UserThrottleRate) EntityType() string { return TypeThrottleRate }
func (r *UserThrottleRate) EntityID() uint     { return r.ID }
