package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/store"
	"github.com/suteetoe/coursecatalog/internal/store/storetest"
	"gorm.io/gorm"
)

type searchFixture struct {
	db      *gorm.DB
	store   *store.Store
	backend *MemoryBackend
	svc     *Service
	course  *model.Course
	runs    []*model.CourseRun
	other   *model.CourseRun
}

func newSearchFixture(t *testing.T) *searchFixture {
	t.Helper()
	ctx := context.Background()
	db := storetest.NewDB(t)
	st := store.New(db, nil)
	backend, err := NewMemoryBackend()
	if err != nil {
		t.Fatalf("NewMemoryBackend() error = %v", err)
	}
	NewIndexer(st, backend, nil)

	edx := storetest.Partner(t, db, "edx")
	mitx := storetest.Partner(t, db, "mitx")

	f := &searchFixture{db: db, store: st, backend: backend}
	f.course = &model.Course{PartnerID: edx.ID, Key: "MITx+6.002x", Title: "Circuits and Electronics", Level: model.LevelIntroductory}
	if err := st.Save(ctx, "test", f.course); err != nil {
		t.Fatalf("Save(course) error = %v", err)
	}
	for _, key := range []string{"MITx+6.002x+1T2017", "MITx+6.002x+2T2017"} {
		run := &model.CourseRun{PartnerID: edx.ID, CourseID: f.course.ID, Key: key, Pacing: model.PacingSelf}
		if err := st.Save(ctx, "test", run); err != nil {
			t.Fatalf("Save(run) error = %v", err)
		}
		f.runs = append(f.runs, run)
	}

	bio := &model.Course{PartnerID: mitx.ID, Key: "HarvardX+Bio1", Title: "Circuits of the Cell"}
	if err := st.Save(ctx, "test", bio); err != nil {
		t.Fatalf("Save(course) error = %v", err)
	}
	f.other = &model.CourseRun{PartnerID: mitx.ID, CourseID: bio.ID, Key: "HarvardX+Bio1+1T2018", Pacing: model.PacingInstructor}
	if err := st.Save(ctx, "test", f.other); err != nil {
		t.Fatalf("Save(run) error = %v", err)
	}

	f.svc = NewService(backend, NewMaterializer(db), nil, "edx", nil)
	return f
}

func facetURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestFacetsDefaultPartnerAndDistinctCounts(t *testing.T) {
	f := newSearchFixture(t)

	res, err := f.svc.Facets(context.Background(), "course_runs", facetURL(t, "/api/v1/search/course_runs/facets?q=circuits"), 0, 20)
	if err != nil {
		t.Fatalf("Facets() error = %v", err)
	}
	if res.Count != 2 || res.DistinctCount != 1 {
		t.Errorf("count = %d distinct = %d, want 2 and 1", res.Count, res.DistinctCount)
	}
	if len(res.Results) != 2 {
		t.Fatalf("results = %+v", res.Results)
	}
	run, ok := res.Results[0].Object.(*model.CourseRun)
	if !ok || run.Key != "MITx+6.002x+1T2017" {
		t.Errorf("first result = %#v", res.Results[0].Object)
	}

	pacing := res.Fields[FieldPacing]
	if len(pacing) != 1 || pacing[0].Text != model.PacingSelf || pacing[0].Count != 2 || pacing[0].DistinctCount != 1 {
		t.Fatalf("pacing facet = %+v", pacing)
	}
	if !strings.Contains(pacing[0].NarrowURL, "selected_facets=pacing_type_exact%3Aself") {
		t.Errorf("narrow_url = %s", pacing[0].NarrowURL)
	}
	if _, ok := res.Queries["marketable"]; !ok {
		t.Error("missing marketable query facet")
	}
}

func TestFacetsExplicitPartner(t *testing.T) {
	f := newSearchFixture(t)

	res, err := f.svc.Facets(context.Background(), "course_runs", facetURL(t, "/facets?q=circuits&partner=mitx"), 0, 20)
	if err != nil {
		t.Fatalf("Facets() error = %v", err)
	}
	if res.Count != 1 || res.Results[0].AggregationKey != "HarvardX+Bio1" {
		t.Errorf("results = %+v", res.Results)
	}
}

func TestFacetsSelectedFacetNarrows(t *testing.T) {
	f := newSearchFixture(t)

	res, err := f.svc.Facets(context.Background(), "courses", facetURL(t, "/facets?selected_facets=level_exact:introductory"), 0, 20)
	if err != nil {
		t.Fatalf("Facets() error = %v", err)
	}
	if res.Count != 1 || res.Results[0].Object.(*model.Course).ID != f.course.ID {
		t.Errorf("results = %+v", res.Results)
	}
}

func TestFacetsRejectsUnknownInputs(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Facets(ctx, "widgets", facetURL(t, "/facets"), 0, 20); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("unknown type error = %v", err)
	}
	if _, err := f.svc.Facets(ctx, "course_runs", facetURL(t, "/facets?selected_query_facets=nope"), 0, 20); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("unknown query facet error = %v", err)
	}
	if _, err := f.svc.Facets(ctx, "course_runs", facetURL(t, "/facets?q=(circuits"), 0, 20); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("malformed query error = %v", err)
	}
}

func TestDeletedRunsLeaveTheIndex(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()

	if err := f.store.Delete(ctx, "test", f.runs[1]); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	res, err := f.svc.Facets(ctx, "course_runs", facetURL(t, "/facets"), 0, 20)
	if err != nil {
		t.Fatalf("Facets() error = %v", err)
	}
	if res.Count != 1 {
		t.Errorf("count = %d, want 1", res.Count)
	}
}

func TestMaterializerOmitsMissingRows(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()

	// bypass the store so the index keeps the document
	if err := f.db.Delete(&model.CourseRun{}, f.runs[0].ID).Error; err != nil {
		t.Fatal(err)
	}
	res, err := f.svc.Facets(ctx, "course_runs", facetURL(t, "/facets"), 0, 20)
	if err != nil {
		t.Fatalf("Facets() error = %v", err)
	}
	if res.Count != 2 || len(res.Results) != 1 {
		t.Errorf("count = %d results = %d, want 2 and 1", res.Count, len(res.Results))
	}
}

func TestReindexRebuildsFromDatabase(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()

	if err := f.backend.Index(ctx, []Doc{{ID: "course:999", ContentType: model.TypeCourse, PK: 999}}); err != nil {
		t.Fatal(err)
	}
	summary, err := NewReindexer(f.db, f.backend, 1, nil).Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary[model.TypeCourse] != 2 || summary[model.TypeCourseRun] != 3 {
		t.Errorf("summary = %v", summary)
	}
	res, _ := f.backend.Search(ctx, Query{ContentTypes: []string{model.TypeCourse}}, &AggregationPlan{}, 0, 10)
	if res.Total != 2 {
		t.Errorf("courses indexed = %d, want 2", res.Total)
	}
}

func TestMatchingPKs(t *testing.T) {
	f := newSearchFixture(t)

	pks, err := f.svc.MatchingPKs(context.Background(), model.TypeCourseRun, "circuits", "")
	if err != nil {
		t.Fatalf("MatchingPKs() error = %v", err)
	}
	if len(pks) != 2 || pks[0] != f.runs[0].ID || pks[1] != f.runs[1].ID {
		t.Errorf("pks = %v", pks)
	}
	pks, _ = f.svc.MatchingPKs(context.Background(), model.TypeCourseRun, "circuits", "mitx")
	if len(pks) != 1 || pks[0] != f.other.ID {
		t.Errorf("mitx pks = %v", pks)
	}
}

func TestMatchingPKsReturnsEveryMatch(t *testing.T) {
	const n = 10001
	docs := make([]Doc, n)
	for i := range docs {
		pk := uint(i + 1)
		docs[i] = Doc{
			ID:             DocID(model.TypeCourse, pk),
			ContentType:    model.TypeCourse,
			PK:             pk,
			AggregationKey: fmt.Sprintf("X+%d", pk),
			Text:           "physics",
			Facets:         map[string][]string{FieldPartner: {"edx"}},
		}
	}
	svc := NewService(newMemory(t, docs...), nil, nil, "edx", nil)

	pks, err := svc.MatchingPKs(context.Background(), model.TypeCourse, "physics", "")
	if err != nil {
		t.Fatalf("MatchingPKs() error = %v", err)
	}
	if len(pks) != n || pks[n-1] != n {
		t.Errorf("got %d pks ending %v, want %d", len(pks), pks[len(pks)-1:], n)
	}
}

func TestFacetsIgnoreUndeclaredParams(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()

	tests := []struct {
		query string
		want  int
	}{
		{"?q=circuits", 2},
		{"?q=circuits&exclude_utm=1&_=1700000000", 2},
		{"?q=circuits&format=json&page_size=5", 2},
		{"?q=circuits&pacing_type=instructor", 0},
		{"?q=circuits&partner=mitx&pacing_type=instructor", 1},
	}
	for _, tt := range tests {
		res, err := f.svc.Facets(ctx, "course_runs", facetURL(t, "/facets"+tt.query), 0, 20)
		if err != nil {
			t.Fatalf("%s: Facets() error = %v", tt.query, err)
		}
		if res.Count != tt.want {
			t.Errorf("%s: count = %d, want %d", tt.query, res.Count, tt.want)
		}
	}
}

func TestRenamingOrganizationOrSubjectRefreshesCourses(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()

	org := &model.Organization{PartnerID: f.course.PartnerID, Key: "MITx", Name: "MIT"}
	subject := &model.Subject{PartnerID: f.course.PartnerID, Slug: "engineering", Name: "Engineering"}
	for _, e := range []model.Entity{org, subject} {
		if err := f.store.Save(ctx, "test", e); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.db.Create(&model.CourseOrganization{CourseID: f.course.ID, OrganizationID: org.ID, Relation: model.RelationAuthoring}).Error; err != nil {
		t.Fatal(err)
	}
	if err := f.db.Create(&model.CourseSubject{CourseID: f.course.ID, SubjectID: subject.ID}).Error; err != nil {
		t.Fatal(err)
	}

	org.Name = "Massachusetts Institute of Technology"
	subject.Name = "Electrical Engineering"
	for _, e := range []model.Entity{org, subject} {
		if err := f.store.Save(ctx, "test", e); err != nil {
			t.Fatal(err)
		}
	}

	for _, text := range []string{"massachusetts", "electrical"} {
		courses, err := f.svc.MatchingPKs(ctx, model.TypeCourse, text, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(courses) != 1 || courses[0] != f.course.ID {
			t.Errorf("%s: course pks = %v", text, courses)
		}
		runs, _ := f.svc.MatchingPKs(ctx, model.TypeCourseRun, text, "")
		if len(runs) != 2 {
			t.Errorf("%s: run pks = %v, want both runs", text, runs)
		}
	}
}
