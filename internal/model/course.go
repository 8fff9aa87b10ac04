package model

import (
	"time"

	"gorm.io/gorm"
)

// Course organization relations
const (
	RelationAuthoring  = "authoring"
	RelationSponsoring = "sponsoring"
)

// MaxSubjects is the number of ordered subjects a course may carry
const MaxSubjects = 3

// Course levels
const (
	LevelIntroductory = "introductory"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
)

// Course is a partner-scoped course identified by its org+number key
type Course struct {
	ID               uint   `json:"id" gorm:"primarykey"`
	UUID             string `json:"uuid" gorm:"type:varchar(36);uniqueIndex;not null"`
	PartnerID        uint   `json:"partner_id" gorm:"not null;uniqueIndex:idx_course_partner_key"`
	Key              string `json:"key" gorm:"type:varchar(255);not null;uniqueIndex:idx_course_partner_key"`
	Number           string `json:"number" gorm:"type:varchar(255)"`
	Title            string `json:"title" gorm:"type:varchar(255)"`
	ShortDescription string `json:"short_description" gorm:"type:text"`
	FullDescription  string `json:"full_description" gorm:"type:text"`
	LearningOutcomes string `json:"learning_outcomes" gorm:"type:text"`
	Level            string `json:"level" gorm:"type:varchar(50)"`
	MarketingSlug    string `json:"marketing_slug" gorm:"type:varchar(255)"`
	MarketingURL     string `json:"marketing_url" gorm:"type:varchar(255)"`
	ImageURL         string `json:"image_url" gorm:"type:varchar(255)"`
	VideoURL         string `json:"video_url" gorm:"type:varchar(255)"`
	Prerequisites    string `json:"prerequisites" gorm:"type:text"`
	// CanonicalRunKey names the exemplar run; follow it by lookup
	CanonicalRunKey *string   `json:"canonical_course_run_key" gorm:"type:varchar(255)"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Partner       Partner              `json:"-" gorm:"foreignKey:PartnerID"`
	Organizations []CourseOrganization `json:"organizations,omitempty" gorm:"foreignKey:CourseID"`
	Subjects      []CourseSubject      `json:"subjects,omitempty" gorm:"foreignKey:CourseID"`
	Runs          []CourseRun          `json:"course_runs,omitempty" gorm:"foreignKey:CourseID"`
}

func (c *Course) EntityType() string { return TypeCourse }
func (c *Course) EntityID() uint     { return c.ID }

// BeforeCreate hook assigns a UUID when none was supplied
func (c *Course) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == "" {
		c.UUID = newUUID()
	}
	return nil
}

// AuthoringOrganizations returns the authoring organizations in position order.
// Requires Organizations.Organization to be preloaded.
func (c *Course) AuthoringOrganizations() []Organization {
	var orgs []Organization
	for _, co := range c.Organizations {
		if co.Relation == RelationAuthoring {
			orgs = append(orgs, co.Organization)
		}
	}
	return orgs
}

// PrimarySubject returns the first subject, if any
func (c *Course) PrimarySubject() *Subject {
	for i := range c.Subjects {
		if c.Subjects[i].Position == 0 {
			return &c.Subjects[i].Subject
		}
	}
	if len(c.Subjects) > 0 {
		return &c.Subjects[0].Subject
	}
	return nil
}

// CourseOrganization links a course to an authoring or sponsoring organization.
// The first authoring organization by position is the primary owner.
type CourseOrganization struct {
	ID             uint   `json:"-" gorm:"primarykey"`
	CourseID       uint   `json:"-" gorm:"not null;uniqueIndex:idx_course_org_relation"`
	OrganizationID uint   `json:"-" gorm:"not null;uniqueIndex:idx_course_org_relation"`
	Relation       string `json:"relation" gorm:"type:varchar(20);not null;uniqueIndex:idx_course_org_relation"`
	Position       int    `json:"position"`

	Organization Organization `json:"organization" gorm:"foreignKey:OrganizationID"`
}

// CourseSubject is one of a course's ordered subjects
type CourseSubject struct {
	ID        uint `json:"-" gorm:"primarykey"`
	CourseID  uint `json:"-" gorm:"not null;uniqueIndex:idx_course_subject"`
	SubjectID uint `json:"-" gorm:"not null;uniqueIndex:idx_course_subject"`
	Position  int  `json:"position"`

	Subject Subject `json:"subject" gorm:"foreignKey:SubjectID"`
}
