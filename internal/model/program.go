package model

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Program statuses
const (
	ProgramStatusUnpublished = "unpublished"
	ProgramStatusActive      = "active"
	ProgramStatusRetired     = "retired"
	ProgramStatusDeleted     = "deleted"
)

// Program is a bundle of courses, e.g. a MicroMasters or XSeries
type Program struct {
	ID             uint      `json:"id" gorm:"primarykey"`
	UUID           string    `json:"uuid" gorm:"type:varchar(36);uniqueIndex;not null"`
	PartnerID      uint      `json:"partner_id" gorm:"not null;index;uniqueIndex:idx_program_partner_slug"`
	Type           string    `json:"type" gorm:"type:varchar(50)"`
	Status         string    `json:"status" gorm:"type:varchar(20)"`
	Title          string    `json:"title" gorm:"type:varchar(255)"`
	Subtitle       string    `json:"subtitle" gorm:"type:varchar(255)"`
	MarketingSlug  string    `json:"marketing_slug" gorm:"type:varchar(255);not null;uniqueIndex:idx_program_partner_slug"`
	BannerImageURL string    `json:"banner_image_url" gorm:"type:varchar(255)"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Courses       []ProgramCourse       `json:"courses,omitempty" gorm:"foreignKey:ProgramID"`
	ExcludedRuns  []ProgramExcludedRun  `json:"excluded_course_runs,omitempty" gorm:"foreignKey:ProgramID"`
	Organizations []ProgramOrganization `json:"authoring_organizations,omitempty" gorm:"foreignKey:ProgramID"`
	Endorsements  []ProgramEndorsement  `json:"corporate_endorsements,omitempty" gorm:"foreignKey:ProgramID"`
	Instructors   []ProgramInstructor   `json:"instructor_ordering,omitempty" gorm:"foreignKey:ProgramID"`
}

func (p *Program) EntityType() string { return TypeProgram }
func (p *Program) EntityID() uint     { return p.ID }

// BeforeCreate hook assigns a UUID when none was supplied
func (p *Program) BeforeCreate(tx *gorm.DB) error {
	if p.UUID == "" {
		p.UUID = newUUID()
	}
	return nil
}

// IsMarketable reports whether the program can be advertised
func (p *Program) IsMarketable() bool {
	return p.MarketingSlug != "" && p.Status == ProgramStatusActive
}

// ValidateExcludedRuns checks that every excluded run belongs to a member course.
// Requires Courses and ExcludedRuns.CourseRun to be loaded.
func (p *Program) ValidateExcludedRuns() error {
	members := make(map[uint]bool, len(p.Courses))
	for _, pc := range p.Courses {
		members[pc.CourseID] = true
	}
	for _, ex := range p.ExcludedRuns {
		if !members[ex.CourseRun.CourseID] {
			return fmt.Errorf("excluded course run %s does not belong to a program course", ex.CourseRun.Key)
		}
	}
	return nil
}

// ProgramCourse is one ordered course of a program
type ProgramCourse struct {
	ID        uint `json:"-" gorm:"primarykey"`
	ProgramID uint `json:"-" gorm:"not null;uniqueIndex:idx_program_course"`
	CourseID  uint `json:"-" gorm:"not null;uniqueIndex:idx_program_course;index"`
	Position  int  `json:"position"`

	Course Course `json:"course" gorm:"foreignKey:CourseID"`
}

// ProgramExcludedRun is a run of a member course that does not count toward the program
type ProgramExcludedRun struct {
	ID          uint `json:"-" gorm:"primarykey"`
	ProgramID   uint `json:"-" gorm:"not null;uniqueIndex:idx_program_excluded"`
	CourseRunID uint `json:"-" gorm:"not null;uniqueIndex:idx_program_excluded;index"`

	CourseRun CourseRun `json:"course_run" gorm:"foreignKey:CourseRunID"`
}

// ProgramOrganization is an authoring organization of a program
type ProgramOrganization struct {
	ID             uint `json:"-" gorm:"primarykey"`
	ProgramID      uint `json:"-" gorm:"not null;uniqueIndex:idx_program_org"`
	OrganizationID uint `json:"-" gorm:"not null;uniqueIndex:idx_program_org;index"`
	Position       int  `json:"position"`

	Organization Organization `json:"organization" gorm:"foreignKey:OrganizationID"`
}

// ProgramEndorsement is an endorsement of a program by a person
type ProgramEndorsement struct {
	ID        uint   `json:"-" gorm:"primarykey"`
	ProgramID uint   `json:"-" gorm:"not null;index"`
	PersonID  uint   `json:"-" gorm:"not null;index"`
	Quote     string `json:"quote" gorm:"type:text"`
	Position  int    `json:"position"`

	Person Person `json:"endorser" gorm:"foreignKey:PersonID"`
}

// ProgramInstructor is one entry of a program's instructor ordering
type ProgramInstructor struct {
	ID        uint `json:"-" gorm:"primarykey"`
	ProgramID uint `json:"-" gorm:"not null;uniqueIndex:idx_program_instructor"`
	PersonID  uint `json:"-" gorm:"not null;uniqueIndex:idx_program_instructor;index"`
	Position  int  `json:"position"`

	Person Person `json:"person" gorm:"foreignKey:PersonID"`
}
