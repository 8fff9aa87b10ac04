package permission

import (
	"context"
	"testing"

	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/store/storetest"
	"gorm.io/gorm"
)

func addToGroup(t *testing.T, db *gorm.DB, user *model.User, name string) *model.Group {
	t.Helper()
	g := &model.Group{Name: name}
	if err := db.Where(model.Group{Name: name}).FirstOrCreate(g).Error; err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	db.Create(&model.UserGroup{UserID: user.ID, GroupID: g.ID})
	return g
}

func TestAccessibleObjectIDsUnionsUserAndGroupGrants(t *testing.T) {
	db := storetest.NewDB(t)
	c := NewChecker(db, nil)
	ctx := context.Background()
	u := storetest.User(t, db, "u1", false)
	other := storetest.User(t, db, "u2", false)
	g := addToGroup(t, db, u, "partners")

	db.Create(&model.ObjectGrant{UserID: &u.ID, ObjectType: model.TypeCatalog, ObjectID: 1, Permission: model.PermViewCatalog})
	db.Create(&model.ObjectGrant{GroupID: &g.ID, ObjectType: model.TypeCatalog, ObjectID: 2, Permission: model.PermViewCatalog})
	db.Create(&model.ObjectGrant{GroupID: &g.ID, ObjectType: model.TypeCatalog, ObjectID: 1, Permission: model.PermViewCatalog})
	db.Create(&model.ObjectGrant{UserID: &other.ID, ObjectType: model.TypeCatalog, ObjectID: 3, Permission: model.PermViewCatalog})
	db.Create(&model.ObjectGrant{UserID: &u.ID, ObjectType: model.TypeCourse, ObjectID: 4, Permission: model.PermViewCourse})

	ids, err := c.AccessibleObjectIDs(ctx, u, model.TypeCatalog, model.PermViewCatalog)
	if err != nil {
		t.Fatalf("AccessibleObjectIDs() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("AccessibleObjectIDs() = %v, want [1 2]", ids)
	}

	ids, _ = c.AccessibleObjectIDs(ctx, other, model.TypeCatalog, model.PermViewCatalog)
	if len(ids) != 1 || ids[0] != 3 {
		t.Errorf("AccessibleObjectIDs() for other = %v", ids)
	}
}

func TestResolveSubject(t *testing.T) {
	db := storetest.NewDB(t)
	c := NewChecker(db, nil)
	ctx := context.Background()
	u1 := storetest.User(t, db, "u1", false)
	u2 := storetest.User(t, db, "u2", false)
	staff := storetest.User(t, db, "staff", true)

	if got, err := c.ResolveSubject(ctx, u1, ""); err != nil || got.ID != u1.ID {
		t.Errorf("ResolveSubject() without username = %v, %v", got, err)
	}
	if _, err := c.ResolveSubject(ctx, u1, "u2"); !apperr.Is(err, apperr.KindPermissionDenied) {
		t.Errorf("expected permission denied for non-staff, got %v", err)
	}
	if got, err := c.ResolveSubject(ctx, staff, "u2"); err != nil || got.ID != u2.ID {
		t.Errorf("ResolveSubject() for staff = %v, %v", got, err)
	}
	if _, err := c.ResolveSubject(ctx, staff, "ghost"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

type editorFixture struct {
	db      *gorm.DB
	checker *Checker
	org     *model.Organization
	course1 *model.Course
	course2 *model.Course
	member  *model.User
}

func newEditorFixture(t *testing.T) *editorFixture {
	t.Helper()
	db := storetest.NewDB(t)
	p := storetest.Partner(t, db, "edx")
	member := storetest.User(t, db, "member", false)
	g := addToGroup(t, db, member, "org-publishers")

	org := &model.Organization{PartnerID: p.ID, Key: "MITx", GroupID: &g.ID}
	db.Create(org)
	c1 := storetest.Course(t, db, p.ID, "MITx+1", "One")
	c2 := storetest.Course(t, db, p.ID, "MITx+2", "Two")
	for _, c := range []*model.Course{c1, c2} {
		db.Create(&model.CourseOrganization{CourseID: c.ID, OrganizationID: org.ID, Relation: model.RelationAuthoring})
	}
	return &editorFixture{db: db, checker: NewChecker(db, nil), org: org, course1: c1, course2: c2, member: member}
}

func TestOrgDefaultEditorRule(t *testing.T) {
	f := newEditorFixture(t)
	ctx := context.Background()

	for _, c := range []*model.Course{f.course1, f.course2} {
		ok, err := f.checker.CanEditCourse(ctx, f.member, c.ID)
		if err != nil || !ok {
			t.Fatalf("expected implicit editor rights on %s, got %v %v", c.Key, ok, err)
		}
	}

	// An explicit editor on course1 ends the implicit rule for course1 only
	other := storetest.User(t, f.db, "other", false)
	f.db.Create(&model.CourseEditor{UserID: other.ID, CourseID: f.course1.ID})
	if ok, _ := f.checker.CanEditCourse(ctx, f.member, f.course1.ID); ok {
		t.Error("expected member to lose implicit rights once course1 has editors")
	}
	if ok, _ := f.checker.CanEditCourse(ctx, f.member, f.course2.ID); !ok {
		t.Error("expected member to keep implicit rights on course2")
	}
	if ok, _ := f.checker.CanEditCourse(ctx, other, f.course1.ID); !ok {
		t.Error("expected explicit editor rights")
	}
}

func TestMemberWithOwnEditorRowsLosesImplicitRights(t *testing.T) {
	f := newEditorFixture(t)
	ctx := context.Background()
	f.db.Create(&model.CourseEditor{UserID: f.member.ID, CourseID: f.course1.ID})

	if ok, _ := f.checker.CanEditCourse(ctx, f.member, f.course1.ID); !ok {
		t.Error("expected explicit rights on course1")
	}
	if ok, _ := f.checker.CanEditCourse(ctx, f.member, f.course2.ID); ok {
		t.Error("expected no implicit rights on course2 once the member has editor rows in the org")
	}
}

func TestStaffAndModelPermissionEdit(t *testing.T) {
	f := newEditorFixture(t)
	ctx := context.Background()
	staff := storetest.User(t, f.db, "staff", true)
	outsider := storetest.User(t, f.db, "outsider", false)

	if ok, _ := f.checker.CanEditCourse(ctx, staff, f.course1.ID); !ok {
		t.Error("expected staff to edit")
	}
	if err := f.checker.RequireCourseEdit(ctx, outsider, f.course1.ID); !apperr.Is(err, apperr.KindPermissionDenied) {
		t.Errorf("expected permission denied, got %v", err)
	}
	f.db.Create(&model.ModelPermission{UserID: &outsider.ID, Codename: model.PermEditCourse})
	if ok, _ := f.checker.CanEditCourse(ctx, outsider, f.course1.ID); !ok {
		t.Error("expected model permission to grant edit")
	}
}

func TestCanEditCourseRunDelegatesToCourse(t *testing.T) {
	f := newEditorFixture(t)
	run := storetest.Run(t, f.db, f.course2, "MITx+2+1T2020")
	if ok, _ := f.checker.CanEditCourseRun(context.Background(), f.member, run); !ok {
		t.Error("expected run edit to follow course edit")
	}
}
