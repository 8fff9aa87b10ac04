package model

import (
	"github.com/google/uuid"
)

// Entity is implemented by every model that is tracked in the history log
// and mirrored to the search index
type Entity interface {
	EntityType() string
	EntityID() uint
}

// Entity type names, also used as search document content types
const (
	TypePartner        = "partner"
	TypeOrganization   = "organization"
	TypeCourse         = "course"
	TypeCourseRun      = "courserun"
	TypeSeat           = "seat"
	TypeProgram        = "program"
	TypePerson         = "person"
	TypeSubject        = "subject"
	TypeCatalog        = "catalog"
	TypeCourseState    = "coursestate"
	TypeCourseRunState = "courserunstate"
	TypeThrottleRate   = "userthrottlerate"
	TypeCourseEditor   = "courseeditor"
	TypeCourseUserRole = "courseuserrole"
)

// All returns every model for migration, parents before children
func All() []interface{} {
	return []interface{}{
		&Partner{},
		&User{},
		&Group{},
		&UserGroup{},
		&ObjectGrant{},
		&ModelPermission{},
		&Organization{},
		&Subject{},
		&Course{},
		&CourseOrganization{},
		&CourseSubject{},
		&Person{},
		&PersonPosition{},
		&PersonSocialNetwork{},
		&PersonAreaOfExpertise{},
		&CourseRun{},
		&CourseRunStaff{},
		&CourseRunTranscriptLanguage{},
		&Seat{},
		&Program{},
		&ProgramCourse{},
		&ProgramExcludedRun{},
		&ProgramOrganization{},
		&ProgramEndorsement{},
		&ProgramInstructor{},
		&Catalog{},
		&CourseState{},
		&CourseRunState{},
		&CourseUserRole{},
		&CourseEditor{},
		&UserThrottleRate{},
		&History{},
		&Notification{},
	}
}

func newUUID() string {
	return uuid.NewString()
}
