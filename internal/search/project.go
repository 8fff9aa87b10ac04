package search

import (
	"time"

	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/store"
	"gorm.io/gorm"
)

// CourseDoc projects a course. course must carry Partner,
// Organizations.Organization and Subjects.Subject; runs must carry Seats.
func CourseDoc(course *model.Course, runs []model.CourseRun, now time.Time) Doc {
	d := Doc{
		ID:             DocID(model.TypeCourse, course.ID),
		ContentType:    model.TypeCourse,
		PK:             course.ID,
		AggregationKey: course.Key,
	}
	d.Text = textBlob(append([]string{course.Key, course.Title, course.ShortDescription, course.FullDescription},
		courseNames(course)...)...)
	addCourseFacets(&d, course)

	marketable := false
	for i := range runs {
		r := &runs[i]
		if r.Hidden {
			continue
		}
		d.set(FieldLanguage, r.LanguageCode)
		d.set(FieldPacing, r.Pacing)
		d.set(FieldAvailability, r.Availability(now))
		for _, s := range r.Seats {
			d.set(FieldSeatTypes, s.Type)
		}
		marketable = marketable || r.IsMarketable()
	}
	d.set(FieldMarketable, boolValue(marketable))
	return d
}

// CourseRunDoc projects a course run. run must carry Seats and its Course the
// same relations CourseDoc needs.
func CourseRunDoc(run *model.CourseRun, now time.Time) Doc {
	course := &run.Course
	title := run.Title
	if title == "" {
		title = course.Title
	}
	d := Doc{
		ID:             DocID(model.TypeCourseRun, run.ID),
		ContentType:    model.TypeCourseRun,
		PK:             run.ID,
		AggregationKey: course.Key,
	}
	d.Text = textBlob(append([]string{run.Key, title, run.ShortDescriptionOverride, course.ShortDescription, course.FullDescription},
		courseNames(course)...)...)
	addCourseFacets(&d, course)
	d.set(FieldKey, run.Key)
	d.set(FieldLanguage, run.LanguageCode)
	d.set(FieldPacing, run.Pacing)
	d.set(FieldAvailability, run.Availability(now))
	d.set(FieldStatus, run.Status)
	d.set(FieldHidden, boolValue(run.Hidden))
	d.set(FieldMarketable, boolValue(run.IsMarketable()))
	for _, s := range run.Seats {
		d.set(FieldSeatTypes, s.Type)
	}
	if run.Start != nil {
		d.set(FieldStart, run.Start.UTC().Format(time.RFC3339))
	}
	if run.End != nil {
		d.set(FieldEnd, run.End.UTC().Format(time.RFC3339))
	}
	return d
}

// ProgramDoc projects a program. program must carry Courses.Course and
// Organizations.Organization.
func ProgramDoc(program *model.Program, partner string) Doc {
	d := Doc{
		ID:             DocID(model.TypeProgram, program.ID),
		ContentType:    model.TypeProgram,
		PK:             program.ID,
		AggregationKey: "program:" + program.UUID,
	}
	parts := []string{program.Title, program.Subtitle, program.Type}
	for _, pc := range program.Courses {
		parts = append(parts, pc.Course.Key, pc.Course.Title)
	}
	for _, po := range program.Organizations {
		parts = append(parts, po.Organization.Key, po.Organization.Name)
		d.set(FieldOrganizations, po.Organization.UUID)
	}
	d.Text = textBlob(parts...)
	d.set(FieldPartner, partner)
	d.set(FieldProgramType, program.Type)
	d.set(FieldStatus, program.Status)
	d.set(FieldMarketable, boolValue(program.IsMarketable()))
	return d
}

// PersonDoc projects a person. person must carry Position.
func PersonDoc(person *model.Person, partner string) Doc {
	d := Doc{
		ID:             DocID(model.TypePerson, person.ID),
		ContentType:    model.TypePerson,
		PK:             person.ID,
		AggregationKey: "person:" + person.UUID,
	}
	parts := []string{person.FullName(), person.Bio}
	if person.Position != nil {
		parts = append(parts, person.Position.Title, person.Position.OrganizationName)
	}
	d.Text = textBlob(parts...)
	d.set(FieldPartner, partner)
	return d
}

func courseNames(course *model.Course) []string {
	var names []string
	for _, co := range course.Organizations {
		names = append(names, co.Organization.Key, co.Organization.Name)
	}
	for _, cs := range course.Subjects {
		names = append(names, cs.Subject.Name)
	}
	return names
}

func addCourseFacets(d *Doc, course *model.Course) {
	d.set(FieldPartner, course.Partner.ShortCode)
	d.set(FieldLevel, course.Level)
	for _, org := range course.AuthoringOrganizations() {
		d.set(FieldOrganizations, org.UUID)
	}
	for _, cs := range course.Subjects {
		d.set(FieldSubjects, cs.Subject.UUID)
	}
}

// Preload scopes shared by single-entity projection and batch reindexing

func coursePreloads(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Partner").
		Preload("Organizations", byPosition).
		Preload("Organizations.Organization").
		Preload("Subjects", byPosition).
		Preload("Subjects.Subject").
		Preload("Runs").
		Preload("Runs.Seats")
}

func runPreloads(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Seats").
		Preload("Course").
		Preload("Course.Partner").
		Preload("Course.Organizations", byPosition).
		Preload("Course.Organizations.Organization").
		Preload("Course.Subjects", byPosition).
		Preload("Course.Subjects.Subject")
}

func programPreloads(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Courses", byPosition).
		Preload("Courses.Course").
		Preload("Organizations", byPosition).
		Preload("Organizations.Organization")
}

func personPreloads(db *gorm.DB) *gorm.DB {
	return db.Preload("Position")
}

func byPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}

// Projector builds documents for single entities read from the canonical store
type Projector struct {
	store *store.Store
	now   func() time.Time
}

// NewProjector creates a projector over st
func NewProjector(st *store.Store) *Projector {
	return &Projector{store: st, now: time.Now}
}

// Course projects the course with id
func (p *Projector) Course(id uint) (*Doc, error) {
	var course model.Course
	if err := p.store.DB().Scopes(coursePreloads).First(&course, id).Error; err != nil {
		return nil, err
	}
	d := CourseDoc(&course, course.Runs, p.now())
	return &d, nil
}

// CourseRun projects the run with id
func (p *Projector) CourseRun(id uint) (*Doc, error) {
	var run model.CourseRun
	if err := p.store.DB().Scopes(runPreloads).First(&run, id).Error; err != nil {
		return nil, err
	}
	d := CourseRunDoc(&run, p.now())
	return &d, nil
}

// Program projects the program with id
func (p *Projector) Program(id uint) (*Doc, error) {
	var program model.Program
	if err := p.store.DB().Scopes(programPreloads).First(&program, id).Error; err != nil {
		return nil, err
	}
	partner, err := p.partnerCode(program.PartnerID)
	if err != nil {
		return nil, err
	}
	d := ProgramDoc(&program, partner)
	return &d, nil
}

// Person projects the person with id
func (p *Projector) Person(id uint) (*Doc, error) {
	var person model.Person
	if err := p.store.DB().Scopes(personPreloads).First(&person, id).Error; err != nil {
		return nil, err
	}
	partner, err := p.partnerCode(person.PartnerID)
	if err != nil {
		return nil, err
	}
	d := PersonDoc(&person, partner)
	return &d, nil
}

func (p *Projector) partnerCode(id uint) (string, error) {
	var partner model.Partner
	if err := p.store.DB().Select("short_code").First(&partner, id).Error; err != nil {
		return "", err
	}
	return partner.ShortCode, nil
}
