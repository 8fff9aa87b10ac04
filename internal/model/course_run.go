package model

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Pacing types
const (
	PacingInstructor = "instructor"
	PacingSelf       = "self"
)

// Course run catalog statuses, in lifecycle order
const (
	RunStatusDraft          = "draft"
	RunStatusInternalReview = "internal review"
	RunStatusLegalReview    = "legal review"
	RunStatusReviewed       = "reviewed"
	RunStatusPublished      = "published"
)

var runStatusRank = map[string]int{
	RunStatusDraft:          0,
	RunStatusInternalReview: 1,
	RunStatusLegalReview:    2,
	RunStatusReviewed:       3,
	RunStatusPublished:      4,
}

// ValidRunStatus reports whether s is a known catalog status
func ValidRunStatus(s string) bool {
	_, ok := runStatusRank[s]
	return ok
}

// AtLeastReviewed reports whether status is reviewed or later
func AtLeastReviewed(status string) bool {
	return runStatusRank[status] >= runStatusRank[RunStatusReviewed]
}

// CourseRun is a scheduled instance of a course
type CourseRun struct {
	ID                       uint       `json:"id" gorm:"primarykey"`
	UUID                     string     `json:"uuid" gorm:"type:varchar(36);uniqueIndex;not null"`
	PartnerID                uint       `json:"partner_id" gorm:"not null;uniqueIndex:idx_run_partner_key"`
	CourseID                 uint       `json:"course_id" gorm:"not null;index"`
	Key                      string     `json:"key" gorm:"type:varchar(255);not null;uniqueIndex:idx_run_partner_key"`
	LMSCourseID              *string    `json:"lms_course_id" gorm:"type:varchar(255)"`
	Title                    string     `json:"title_override,omitempty" gorm:"type:varchar(255)"`
	ShortDescriptionOverride string     `json:"short_description_override,omitempty" gorm:"type:text"`
	FullDescriptionOverride  string     `json:"full_description_override,omitempty" gorm:"type:text"`
	Start                    *time.Time `json:"start"`
	End                      *time.Time `json:"end"`
	EnrollmentStart          *time.Time `json:"enrollment_start"`
	EnrollmentEnd            *time.Time `json:"enrollment_end"`
	Pacing                   string     `json:"pacing_type" gorm:"type:varchar(20)"`
	MinEffort                *int       `json:"min_effort"`
	MaxEffort                *int       `json:"max_effort"`
	LanguageCode             string     `json:"content_language" gorm:"type:varchar(50)"`
	VideoURL                 string     `json:"video_url" gorm:"type:varchar(255)"`
	VideoLanguage            string     `json:"video_language" gorm:"type:varchar(50)"`
	CardImageURL             string     `json:"card_image_url" gorm:"type:varchar(255)"`
	MarketingSlug            string     `json:"marketing_slug" gorm:"type:varchar(255)"`
	Hidden                   bool       `json:"hidden"`
	Status                   string     `json:"status" gorm:"type:varchar(20);not null;default:'draft'"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`

	Course              Course                        `json:"-" gorm:"foreignKey:CourseID"`
	Seats               []Seat                        `json:"seats,omitempty" gorm:"foreignKey:CourseRunID"`
	Staff               []CourseRunStaff              `json:"staff,omitempty" gorm:"foreignKey:CourseRunID"`
	TranscriptLanguages []CourseRunTranscriptLanguage `json:"transcript_languages,omitempty" gorm:"foreignKey:CourseRunID"`
}

func (r *CourseRun) EntityType() string { return TypeCourseRun }
func (r *CourseRun) EntityID() uint     { return r.ID }

// BeforeCreate hook assigns a UUID and the draft status when none was supplied
func (r *CourseRun) BeforeCreate(tx *gorm.DB) error {
	if r.UUID == "" {
		r.UUID = newUUID()
	}
	if r.Status == "" {
		r.Status = RunStatusDraft
	}
	return nil
}

// ValidPacing reports whether p is an accepted pacing value; empty means unset
func ValidPacing(p string) bool {
	return p == "" || p == PacingInstructor || p == PacingSelf
}

// NormalizePacing lowercases an upstream pacing value
func NormalizePacing(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// HasValidSeat reports whether at least one attached seat satisfies the seat invariants
func (r *CourseRun) HasValidSeat() bool {
	for i := range r.Seats {
		if r.Seats[i].IsValid() {
			return true
		}
	}
	return false
}

// ReviewedGaps lists the fields that must be present before the run may be
// reviewed or published. Requires Seats and Staff to be loaded.
func (r *CourseRun) ReviewedGaps() []string {
	var missing []string
	if r.Start == nil {
		missing = append(missing, "start")
	}
	if r.End == nil {
		missing = append(missing, "end")
	}
	if r.Pacing != PacingInstructor && r.Pacing != PacingSelf {
		missing = append(missing, "pacing_type")
	}
	if r.LanguageCode == "" {
		missing = append(missing, "content_language")
	}
	if len(r.Staff) == 0 {
		missing = append(missing, "staff")
	}
	if !r.HasValidSeat() {
		missing = append(missing, "seats")
	}
	return missing
}

// IsMarketable reports whether the run can be advertised on the marketing site
func (r *CourseRun) IsMarketable() bool {
	return r.MarketingSlug != "" && len(r.Seats) > 0 && r.Status == RunStatusPublished
}

// Availability buckets a run by its dates relative to now
func (r *CourseRun) Availability(now time.Time) string {
	switch {
	case r.End != nil && r.End.Before(now):
		return "Archived"
	case r.Start != nil && r.Start.After(now):
		if r.Start.Sub(now) <= 60*24*time.Hour {
			return "Starting Soon"
		}
		return "Upcoming"
	default:
		return "Current"
	}
}

// CourseRunStaff is one ordered staff member of a run
type CourseRunStaff struct {
	ID          uint `json:"-" gorm:"primarykey"`
	CourseRunID uint `json:"-" gorm:"not null;uniqueIndex:idx_run_staff"`
	PersonID    uint `json:"-" gorm:"not null;uniqueIndex:idx_run_staff;index"`
	Position    int  `json:"position"`

	Person Person `json:"person" gorm:"foreignKey:PersonID"`
}

// CourseRunTranscriptLanguage is one transcript language of a run
type CourseRunTranscriptLanguage struct {
	ID           uint   `json:"-" gorm:"primarykey"`
	CourseRunID  uint   `json:"-" gorm:"not null;uniqueIndex:idx_run_transcript"`
	LanguageCode string `json:"language" gorm:"type:varchar(50);not null;uniqueIndex:idx_run_transcript"`
}
