package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/notify"
	"github.com/suteetoe/coursecatalog/internal/permission"
	"github.com/suteetoe/coursecatalog/internal/store"
	"github.com/suteetoe/coursecatalog/internal/store/storetest"
	"gorm.io/gorm"
)

type fakeMailer struct {
	sent []notify.Message
}

func (f *fakeMailer) Send(_ context.Context, msg notify.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

type fixture struct {
	db      *gorm.DB
	svc     *Service
	mailer  *fakeMailer
	now     time.Time
	course  *model.Course
	run     *model.CourseRun
	team    *model.User
	mkt     *model.User
	pc      *model.User
	pub     *model.User
	staff   *model.User
	partner *model.Partner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storetest.NewDB(t)
	f := &fixture{db: db, mailer: &fakeMailer{}, now: time.Date(2017, 3, 1, 12, 0, 0, 0, time.UTC)}

	st := store.New(db, nil)
	f.svc = NewService(st, notify.New(db, f.mailer, nil), permission.NewChecker(db, nil), nil)
	f.svc.now = func() time.Time { return f.now }
	f.svc.BaseURL = "https://publisher.example.com"

	f.partner = storetest.Partner(t, db, "edx")
	org := &model.Organization{PartnerID: f.partner.ID, Key: "MITx", Name: "MIT"}
	subject := &model.Subject{PartnerID: f.partner.ID, Slug: "physics", Name: "Physics"}
	mustCreate(t, db, org, subject)

	f.course = &model.Course{
		PartnerID:        f.partner.ID,
		Key:              "MITx+8.01x",
		Number:           "8.01x",
		Title:            "Mechanics",
		ShortDescription: "Forces",
		FullDescription:  "Forces and motion",
		LearningOutcomes: "Newton",
		Level:            model.LevelIntroductory,
		ImageURL:         "https://img.example.com/8.01x.png",
	}
	mustCreate(t, db, f.course)
	mustCreate(t, db,
		&model.CourseOrganization{CourseID: f.course.ID, OrganizationID: org.ID, Relation: model.RelationAuthoring},
		&model.CourseSubject{CourseID: f.course.ID, SubjectID: subject.ID},
	)

	f.team = storetest.User(t, db, "team", false)
	f.mkt = storetest.User(t, db, "marketing", false)
	f.pc = storetest.User(t, db, "coordinator", false)
	f.pub = storetest.User(t, db, "publisher", false)
	f.staff = storetest.User(t, db, "admin", true)
	f.assign(t, model.RoleCourseTeam, f.team)
	f.assign(t, model.RoleMarketingReviewer, f.mkt)
	f.assign(t, model.RoleProjectCoordinator, f.pc)
	f.assign(t, model.RolePublisher, f.pub)

	f.run = f.completeRun(t)
	return f
}

func mustCreate(t *testing.T, db *gorm.DB, rows ...interface{}) {
	t.Helper()
	for _, r := range rows {
		if err := db.Create(r).Error; err != nil {
			t.Fatalf("failed to create %T: %v", r, err)
		}
	}
}

func (f *fixture) assign(t *testing.T, role string, u *model.User) {
	t.Helper()
	mustCreate(t, f.db, &model.CourseUserRole{CourseID: f.course.ID, Role: role, UserID: u.ID})
}

func (f *fixture) completeRun(t *testing.T) *model.CourseRun {
	t.Helper()
	start := f.now.AddDate(0, 1, 0)
	end := start.AddDate(0, 3, 0)
	minEffort, maxEffort := 4, 6
	lms := "course-v1:MITx+8.01x+1T2017"
	run := &model.CourseRun{
		PartnerID:     f.partner.ID,
		CourseID:      f.course.ID,
		Key:           "MITx+8.01x+1T2017",
		LMSCourseID:   &lms,
		Start:         &start,
		End:           &end,
		Pacing:        model.PacingInstructor,
		MinEffort:     &minEffort,
		MaxEffort:     &maxEffort,
		LanguageCode:  "en-us",
		VideoLanguage: "en-us",
	}
	mustCreate(t, f.db, run)
	person := &model.Person{PartnerID: f.partner.ID, GivenName: "Walter", FamilyName: "Lewin", Bio: "Physicist", ProfileImageURL: "https://img.example.com/wl.png"}
	mustCreate(t, f.db, person)
	mustCreate(t, f.db,
		&model.CourseRunStaff{CourseRunID: run.ID, PersonID: person.ID},
		&model.CourseRunTranscriptLanguage{CourseRunID: run.ID, LanguageCode: "en-us"},
		&model.Seat{CourseRunID: run.ID, Type: model.SeatVerified, Price: decimal.NewFromInt(49), Currency: model.DefaultCurrency},
	)
	return run
}

func (f *fixture) notifications(t *testing.T, key string) []model.Notification {
	t.Helper()
	var rows []model.Notification
	if err := f.db.Where("key = ?", key).Order("id").Find(&rows).Error; err != nil {
		t.Fatalf("failed to list notifications: %v", err)
	}
	return rows
}

func (f *fixture) approveCourse(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.svc.TransitionCourse(ctx, f.team, f.course.ID, model.StateReview, nil); err != nil {
		t.Fatalf("send course for review: %v", err)
	}
	if _, err := f.svc.TransitionCourse(ctx, f.mkt, f.course.ID, model.StateApproved, nil); err != nil {
		t.Fatalf("approve course: %v", err)
	}
}

func TestCourseSendForReviewHandsOwnershipToMarketing(t *testing.T) {
	f := newFixture(t)

	state, err := f.svc.TransitionCourse(context.Background(), f.team, f.course.ID, model.StateReview, nil)
	if err != nil {
		t.Fatalf("TransitionCourse() error = %v", err)
	}
	if state.Name != model.StateReview || state.OwnerRole != model.RoleMarketingReviewer {
		t.Errorf("unexpected state %+v", state)
	}
	if state.OwnerRoleModified == nil || !state.OwnerRoleModified.Equal(f.now) {
		t.Errorf("owner_role_modified = %v, want %v", state.OwnerRoleModified, f.now)
	}
	if state.Version != 2 {
		t.Errorf("version = %d, want 2", state.Version)
	}

	rows := f.notifications(t, notify.KeyCourseSendForReview)
	if len(rows) != 1 || rows[0].RecipientID != f.mkt.ID {
		t.Fatalf("expected one notification to the marketing reviewer, got %+v", rows)
	}
	if rows[0].Status != model.NotificationSent {
		t.Errorf("notification status = %s", rows[0].Status)
	}
	if len(f.mailer.sent) != 1 || f.mailer.sent[0].To[0] != f.mkt.Email {
		t.Errorf("unexpected mail %+v", f.mailer.sent)
	}

	var history int64
	f.db.Model(&model.History{}).Where("entity_type = ?", model.TypeCourseState).Count(&history)
	if history < 2 {
		t.Errorf("expected create and update history rows, got %d", history)
	}
}

func TestCourseApprovalByMarketingSetsReviewed(t *testing.T) {
	f := newFixture(t)
	f.approveCourse(t)

	var state model.CourseState
	f.db.Where("course_id = ?", f.course.ID).First(&state)
	if state.Name != model.StateApproved || state.ApprovedByRole != model.RoleMarketingReviewer {
		t.Errorf("unexpected state %+v", state)
	}
	if !state.MarketingReviewed || state.OwnerRole != model.RoleCourseTeam {
		t.Errorf("expected marketing reviewed and ownership back with the team, got %+v", state)
	}
	if rows := f.notifications(t, notify.KeyCourseMarkAsReviewed); len(rows) != 1 || rows[0].RecipientID != f.team.ID {
		t.Errorf("unexpected approval notifications %+v", rows)
	}
}

func TestStaleVersionIsAStateConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	read := 1

	if _, err := f.svc.TransitionCourse(ctx, f.team, f.course.ID, model.StateReview, &read); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	// A second writer that read the same version loses
	_, err := f.svc.TransitionCourse(ctx, f.mkt, f.course.ID, model.StateReview, &read)
	if !apperr.Is(err, apperr.KindStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if apperr.HTTPStatus(err) != 409 {
		t.Errorf("status = %d", apperr.HTTPStatus(err))
	}
	if rows := f.notifications(t, notify.KeyCourseSendForReview); len(rows) != 1 {
		t.Errorf("losing transition must not enqueue, got %d rows", len(rows))
	}
}

func TestOnlyTheOwnerMayTransition(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.TransitionCourse(context.Background(), f.mkt, f.course.ID, model.StateReview, nil)
	if !apperr.Is(err, apperr.KindPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}

	state, err := f.svc.TransitionCourse(context.Background(), f.staff, f.course.ID, model.StateReview, nil)
	if err != nil {
		t.Fatalf("staff transition: %v", err)
	}
	if state.OwnerRole != model.RoleMarketingReviewer {
		t.Errorf("owner = %s", state.OwnerRole)
	}
}

func TestCourseReviewRequiresFields(t *testing.T) {
	f := newFixture(t)
	f.db.Model(f.course).Updates(map[string]interface{}{"image_url": "", "level": ""})

	_, err := f.svc.TransitionCourse(context.Background(), f.team, f.course.ID, model.StateReview, nil)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var ae *apperr.Error
	if e, ok := err.(*apperr.Error); ok {
		ae = e
	}
	if ae == nil {
		t.Fatalf("expected *apperr.Error, got %T", err)
	}
	missing, _ := ae.Details["missing"].([]string)
	if len(missing) != 2 || missing[0] != "level" || missing[1] != "image" {
		t.Errorf("missing = %v", missing)
	}
}

func TestMissingCounterpartIsAValidationError(t *testing.T) {
	f := newFixture(t)
	f.db.Where("course_id = ? AND role = ?", f.course.ID, model.RoleMarketingReviewer).Delete(&model.CourseUserRole{})

	_, err := f.svc.TransitionCourse(context.Background(), f.team, f.course.ID, model.StateReview, nil)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var count int64
	f.db.Model(&model.CourseState{}).Count(&count)
	if count != 0 {
		t.Errorf("rolled back transition left %d state rows", count)
	}
}

func TestUnknownTransitionRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.TransitionCourse(context.Background(), f.team, f.course.ID, model.StateApproved, nil)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunReviewNeedsApprovedCourse(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.TransitionCourseRun(context.Background(), f.team, f.run.ID, model.StateReview, nil)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunWorkflowToPublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.approveCourse(t)

	state, err := f.svc.TransitionCourseRun(ctx, f.team, f.run.ID, model.StateReview, nil)
	if err != nil {
		t.Fatalf("send run for review: %v", err)
	}
	if state.OwnerRole != model.RoleProjectCoordinator {
		t.Errorf("owner = %s", state.OwnerRole)
	}

	state, err = f.svc.TransitionCourseRun(ctx, f.pc, f.run.ID, model.StateApproved, nil)
	if err != nil {
		t.Fatalf("approve run: %v", err)
	}
	if state.ApprovedByRole != model.RoleProjectCoordinator || state.OwnerRole != model.RoleCourseTeam {
		t.Errorf("unexpected approved state %+v", state)
	}
	var run model.CourseRun
	f.db.First(&run, f.run.ID)
	if run.Status != model.RunStatusReviewed {
		t.Errorf("run status = %s, want reviewed", run.Status)
	}
	if rows := f.notifications(t, notify.KeyRunMarkAsReviewed); len(rows) != 2 {
		t.Errorf("expected coordinator and publisher notified, got %d", len(rows))
	}

	if _, err := f.svc.TransitionCourseRun(ctx, f.pub, f.run.ID, model.StatePublished, nil); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("publish before preview acceptance: expected validation error, got %v", err)
	}
	if _, err := f.svc.AcceptPreview(ctx, f.pc, f.run.ID, nil); !apperr.Is(err, apperr.KindPermissionDenied) {
		t.Fatalf("preview accepted by non team member: expected permission denied, got %v", err)
	}
	if _, err := f.svc.AcceptPreview(ctx, f.team, f.run.ID, nil); err != nil {
		t.Fatalf("AcceptPreview() error = %v", err)
	}
	if _, err := f.svc.TransitionCourseRun(ctx, f.team, f.run.ID, model.StatePublished, nil); !apperr.Is(err, apperr.KindPermissionDenied) {
		t.Fatalf("publish by course team: expected permission denied, got %v", err)
	}

	state, err = f.svc.TransitionCourseRun(ctx, f.pub, f.run.ID, model.StatePublished, nil)
	if err != nil {
		t.Fatalf("publish run: %v", err)
	}
	if state.Name != model.StatePublished {
		t.Errorf("state = %s", state.Name)
	}
	f.db.First(&run, f.run.ID)
	if run.Status != model.RunStatusPublished {
		t.Errorf("run status = %s, want published", run.Status)
	}
	rows := f.notifications(t, notify.KeyRunGoLive)
	if len(rows) != 2 || rows[0].RecipientID != f.team.ID || rows[1].RecipientID != f.pc.ID {
		t.Errorf("unexpected go-live notifications %+v", rows)
	}
}

func TestRunReviewListsGaps(t *testing.T) {
	f := newFixture(t)
	f.approveCourse(t)
	f.db.Where("course_run_id = ?", f.run.ID).Delete(&model.CourseRunTranscriptLanguage{})
	f.db.Model(f.run).Update("video_language", "")

	_, err := f.svc.TransitionCourseRun(context.Background(), f.team, f.run.ID, model.StateReview, nil)
	ae, ok := err.(*apperr.Error)
	if !ok || ae.Kind != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	missing, _ := ae.Details["missing"].([]string)
	if len(missing) != 2 || missing[0] != "transcript_languages" || missing[1] != "video_language" {
		t.Errorf("missing = %v", missing)
	}
}

func TestAssignRole(t *testing.T) {
	f := newFixture(t)
	other := storetest.User(t, f.db, "newteam", false)

	if _, err := f.svc.AssignRole(context.Background(), f.team, f.course.ID, model.RoleCourseTeam, other.Username); !apperr.Is(err, apperr.KindPermissionDenied) {
		t.Fatalf("expected permission denied for non editor, got %v", err)
	}
	if _, err := f.svc.AssignRole(context.Background(), f.staff, f.course.ID, "janitor", other.Username); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for unknown role, got %v", err)
	}
	got, err := f.svc.AssignRole(context.Background(), f.staff, f.course.ID, model.RoleCourseTeam, other.Username)
	if err != nil {
		t.Fatalf("AssignRole() error = %v", err)
	}
	if got.User.ID != other.ID {
		t.Errorf("assigned %d, want %d", got.User.ID, other.ID)
	}
	roles, _ := f.svc.Roles(f.course.ID)
	if roles[model.RoleCourseTeam].ID != other.ID {
		t.Errorf("roles = %+v", roles)
	}
}
