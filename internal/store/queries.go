package store

import (
	"errors"
	"time"

	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/prometheus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Queries holds the finders shared by Store and Tx
type Queries struct {
	db *gorm.DB
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(format, args...)
	}
	return err
}

// Partners returns every partner ordered by id
func (q Queries) Partners() ([]model.Partner, error) {
	var partners []model.Partner
	err := q.db.Order("id").Find(&partners).Error
	return partners, err
}

// PartnerByShortCode finds a partner by its short code
func (q Queries) PartnerByShortCode(code string) (*model.Partner, error) {
	var p model.Partner
	if err := q.db.Where("short_code = ?", code).First(&p).Error; err != nil {
		return nil, notFound(err, "partner %s not found", code)
	}
	return &p, nil
}

// OrganizationByKey finds an organization by key, ignoring case
func (q Queries) OrganizationByKey(partnerID uint, key string) (*model.Organization, error) {
	var o model.Organization
	err := q.db.Where("partner_id = ? AND LOWER(key) = LOWER(?)", partnerID, key).First(&o).Error
	if err != nil {
		return nil, notFound(err, "organization %s not found", key)
	}
	return &o, nil
}

// CourseByKey finds a course by key, ignoring case
func (q Queries) CourseByKey(partnerID uint, key string) (*model.Course, error) {
	defer prometheus.TrackDBOperation("course_by_key")(time.Now())
	var c model.Course
	err := q.db.Where("partner_id = ? AND LOWER(key) = LOWER(?)", partnerID, key).First(&c).Error
	if err != nil {
		return nil, notFound(err, "course %s not found", key)
	}
	return &c, nil
}

// CourseByUUIDOrKey finds a course by its uuid or, failing that, its key
func (q Queries) CourseByUUIDOrKey(partnerID uint, ref string) (*model.Course, error) {
	var c model.Course
	err := q.db.Where("partner_id = ? AND (uuid = ? OR LOWER(key) = LOWER(?))", partnerID, ref, ref).First(&c).Error
	if err != nil {
		return nil, notFound(err, "course %s not found", ref)
	}
	return &c, nil
}

// CourseRunByKey finds a run by key, ignoring case
func (q Queries) CourseRunByKey(partnerID uint, key string) (*model.CourseRun, error) {
	defer prometheus.TrackDBOperation("course_run_by_key")(time.Now())
	var r model.CourseRun
	err := q.db.Where("partner_id = ? AND LOWER(key) = LOWER(?)", partnerID, key).First(&r).Error
	if err != nil {
		return nil, notFound(err, "course run %s not found", key)
	}
	return &r, nil
}

// ProgramBySlug finds a program by marketing slug, case-insensitively
func (q Queries) ProgramBySlug(partnerID uint, slug string) (*model.Program, error) {
	var p model.Program
	err := q.db.Where("partner_id = ? AND LOWER(marketing_slug) = LOWER(?)", partnerID, slug).First(&p).Error
	if err != nil {
		return nil, notFound(err, "program %s not found", slug)
	}
	return &p, nil
}

// PersonByUUID finds a person by uuid
func (q Queries) PersonByUUID(uuid string) (*model.Person, error) {
	var p model.Person
	if err := q.db.Where("uuid = ?", uuid).First(&p).Error; err != nil {
		return nil, notFound(err, "person %s not found", uuid)
	}
	return &p, nil
}

// SubjectBySlug finds a subject by slug
func (q Queries) SubjectBySlug(partnerID uint, slug string) (*model.Subject, error) {
	var s model.Subject
	if err := q.db.Where("partner_id = ? AND slug = ?", partnerID, slug).First(&s).Error; err != nil {
		return nil, notFound(err, "subject %s not found", slug)
	}
	return &s, nil
}

// UserByUsername finds a user by username
func (q Queries) UserByUsername(username string) (*model.User, error) {
	var u model.User
	if err := q.db.Where("username = ?", username).First(&u).Error; err != nil {
		return nil, notFound(err, "user %s not found", username)
	}
	return &u, nil
}

// UserByID finds a user by primary key
func (q Queries) UserByID(id uint) (*model.User, error) {
	var u model.User
	if err := q.db.First(&u, id).Error; err != nil {
		return nil, notFound(err, "user %d not found", id)
	}
	return &u, nil
}

// LoadCourse reads a course with organizations, subjects and partner
func (q Queries) LoadCourse(id uint) (*model.Course, error) {
	var c model.Course
	err := q.db.
		Preload("Partner").
		Preload("Organizations", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Organizations.Organization").
		Preload("Subjects", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Subjects.Subject").
		First(&c, id).Error
	if err != nil {
		return nil, notFound(err, "course %d not found", id)
	}
	return &c, nil
}

// LoadCourseRun reads a run with seats, ordered staff and transcript languages
func (q Queries) LoadCourseRun(id uint) (*model.CourseRun, error) {
	var r model.CourseRun
	err := q.db.
		Preload("Seats").
		Preload("Staff", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Staff.Person").
		Preload("TranscriptLanguages").
		First(&r, id).Error
	if err != nil {
		return nil, notFound(err, "course run %d not found", id)
	}
	return &r, nil
}

// LoadProgram reads a program with its ordered relations
func (q Queries) LoadProgram(id uint) (*model.Program, error) {
	var p model.Program
	byPosition := func(db *gorm.DB) *gorm.DB { return db.Order("position") }
	err := q.db.
		Preload("Courses", byPosition).
		Preload("Courses.Course").
		Preload("ExcludedRuns").
		Preload("ExcludedRuns.CourseRun").
		Preload("Organizations", byPosition).
		Preload("Organizations.Organization").
		Preload("Endorsements", byPosition).
		Preload("Endorsements.Person").
		Preload("Instructors", byPosition).
		Preload("Instructors.Person").
		First(&p, id).Error
	if err != nil {
		return nil, notFound(err, "program %d not found", id)
	}
	return &p, nil
}

// LoadPerson reads a person with position, social networks and expertise
func (q Queries) LoadPerson(id uint) (*model.Person, error) {
	var p model.Person
	byPosition := func(db *gorm.DB) *gorm.DB { return db.Order("position") }
	err := q.db.
		Preload("Position").
		Preload("SocialNetworks", byPosition).
		Preload("AreasOfExpertise", byPosition).
		First(&p, id).Error
	if err != nil {
		return nil, notFound(err, "person %d not found", id)
	}
	return &p, nil
}

// RunsOfCourse returns the runs of a course ordered by key
func (q Queries) RunsOfCourse(courseID uint) ([]model.CourseRun, error) {
	var runs []model.CourseRun
	err := q.db.Where("course_id = ?", courseID).Order("key").Find(&runs).Error
	return runs, err
}

// CourseStateFor returns the workflow state of a course, if any
func (q Queries) CourseStateFor(courseID uint, lock bool) (*model.CourseState, error) {
	var s model.CourseState
	db := q.db
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := db.Where("course_id = ?", courseID).First(&s).Error; err != nil {
		return nil, notFound(err, "course state not found")
	}
	return &s, nil
}

// CourseRunStateFor returns the workflow state of a run, if any
func (q Queries) CourseRunStateFor(runID uint, lock bool) (*model.CourseRunState, error) {
	var s model.CourseRunState
	db := q.db
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := db.Where("course_run_id = ?", runID).First(&s).Error; err != nil {
		return nil, notFound(err, "course run state not found")
	}
	return &s, nil
}

// HasRunState reports whether the run is owned by the publisher workflow
func (q Queries) HasRunState(runID uint) (bool, error) {
	var n int64
	err := q.db.Model(&model.CourseRunState{}).Where("course_run_id = ?", runID).Count(&n).Error
	return n > 0, err
}

// RoleAssignments returns the role to user mapping of a course
func (q Queries) RoleAssignments(courseID uint) (map[string]model.User, error) {
	var rows []model.CourseUserRole
	if err := q.db.Preload("User").Where("course_id = ?", courseID).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]model.User, len(rows))
	for _, r := range rows {
		out[r.Role] = r.User
	}
	return out, nil
}
