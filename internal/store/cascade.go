package store

import (
	"fmt"

	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
)

// DeleteCourseRun removes a run with its seats, staff, transcript languages,
// workflow state and program exclusions
func (t *Tx) DeleteCourseRun(run *model.CourseRun) error {
	var seats []model.Seat
	if err := t.db.Where("course_run_id = ?", run.ID).Find(&seats).Error; err != nil {
		return err
	}
	for i := range seats {
		if err := t.Delete(&seats[i]); err != nil {
			return err
		}
	}
	for _, child := range []interface{}{
		&model.CourseRunStaff{},
		&model.CourseRunTranscriptLanguage{},
		&model.ProgramExcludedRun{},
		&model.CourseRunState{},
	} {
		if err := t.db.Where("course_run_id = ?", run.ID).Delete(child).Error; err != nil {
			return fmt.Errorf("failed to delete run dependents: %w", err)
		}
	}
	return t.Delete(run)
}

// DeleteCourse removes a course with its runs and every course-scoped row
func (t *Tx) DeleteCourse(course *model.Course) error {
	runs, err := t.RunsOfCourse(course.ID)
	if err != nil {
		return err
	}
	for i := range runs {
		if err := t.DeleteCourseRun(&runs[i]); err != nil {
			return err
		}
	}
	for _, child := range []interface{}{
		&model.CourseOrganization{},
		&model.CourseSubject{},
		&model.CourseState{},
		&model.CourseUserRole{},
		&model.CourseEditor{},
		&model.ProgramCourse{},
	} {
		if err := t.db.Where("course_id = ?", course.ID).Delete(child).Error; err != nil {
			return fmt.Errorf("failed to delete course dependents: %w", err)
		}
	}
	return t.Delete(course)
}

// DeleteProgram removes a program and its relation rows
func (t *Tx) DeleteProgram(program *model.Program) error {
	for _, child := range []interface{}{
		&model.ProgramCourse{},
		&model.ProgramExcludedRun{},
		&model.ProgramOrganization{},
		&model.ProgramEndorsement{},
		&model.ProgramInstructor{},
	} {
		if err := t.db.Where("program_id = ?", program.ID).Delete(child).Error; err != nil {
			return fmt.Errorf("failed to delete program dependents: %w", err)
		}
	}
	return t.Delete(program)
}

// DeleteOrganization removes an organization that no course or program references
func (t *Tx) DeleteOrganization(org *model.Organization) error {
	refs, err := t.OrganizationReferences(org.ID)
	if err != nil {
		return err
	}
	if refs > 0 {
		return apperr.Conflict("organization %s is still referenced", org.Key)
	}
	return t.Delete(org)
}

// OrganizationReferences counts course and program rows pointing at an organization
func (q Queries) OrganizationReferences(orgID uint) (int64, error) {
	var courses, programs int64
	if err := q.db.Model(&model.CourseOrganization{}).Where("organization_id = ?", orgID).Count(&courses).Error; err != nil {
		return 0, err
	}
	if err := q.db.Model(&model.ProgramOrganization{}).Where("organization_id = ?", orgID).Count(&programs).Error; err != nil {
		return 0, err
	}
	return courses + programs, nil
}

// PersonReferences counts the rows that point at a person from outside its own record
func (q Queries) PersonReferences(personID uint) (int64, error) {
	var total int64
	for _, m := range []interface{}{
		&model.CourseRunStaff{},
		&model.ProgramEndorsement{},
		&model.ProgramInstructor{},
	} {
		var n int64
		if err := q.db.Model(m).Where("person_id = ?", personID).Count(&n).Error; err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// DeletePerson removes a person; it fails while any run or program references it
func (t *Tx) DeletePerson(person *model.Person) error {
	refs, err := t.PersonReferences(person.ID)
	if err != nil {
		return err
	}
	if refs > 0 {
		return apperr.Conflict("person %s is still referenced", person.UUID)
	}
	for _, child := range []interface{}{
		&model.PersonPosition{},
		&model.PersonSocialNetwork{},
		&model.PersonAreaOfExpertise{},
	} {
		if err := t.db.Where("person_id = ?", person.ID).Delete(child).Error; err != nil {
			return fmt.Errorf("failed to delete person dependents: %w", err)
		}
	}
	return t.Delete(person)
}
