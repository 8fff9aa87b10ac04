package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/coursecatalog/internal/ingest"
	"github.com/suteetoe/coursecatalog/internal/middleware"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/notify"
	"github.com/suteetoe/coursecatalog/internal/permission"
	"github.com/suteetoe/coursecatalog/internal/publisher"
	"github.com/suteetoe/coursecatalog/internal/search"
	"github.com/suteetoe/coursecatalog/internal/store"
	"github.com/suteetoe/coursecatalog/internal/store/storetest"
	"github.com/suteetoe/coursecatalog/pkg/config"
	"gorm.io/gorm"
)

type nopMailer struct{}

func (nopMailer) Send(context.Context, notify.Message) error { return nil }

type fixture struct {
	db       *gorm.DB
	st       *store.Store
	perms    *permission.Checker
	pipeline *ingest.Pipeline
	partner  *model.Partner
	e        *echo.Echo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storetest.NewDB(t)
	st := store.New(db, nil)
	backend, err := search.NewMemoryBackend()
	if err != nil {
		t.Fatal(err)
	}
	search.NewIndexer(st, backend, nil)

	f := &fixture{
		db:      db,
		st:      st,
		perms:   permission.NewChecker(db, nil),
		partner: storetest.Partner(t, db, "edx"),
		e:       echo.New(),
	}
	f.pipeline = ingest.NewPipeline(st, config.IngestConfig{PageSize: 10}, func(*model.Partner) ingest.Fetcher { return nil }, nil)
	h := New(Deps{
		Store:          st,
		Perms:          f.perms,
		Search:         search.NewService(backend, search.NewMaterializer(db), nil, "edx", nil),
		Publisher:      publisher.NewService(st, notify.New(db, nopMailer{}, nil), f.perms, nil),
		Pipeline:       f.pipeline,
		DefaultPartner: "edx",
	})
	h.Register(f.e.Group("/api/v1", f.auth))
	return f
}

// auth authenticates the user named by X-Test-User
func (f *fixture) auth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		u, err := f.st.UserByUsername(c.Request().Header.Get("X-Test-User"))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unknown test user"})
		}
		middleware.SetCurrentUser(c, u)
		return next(c)
	}
}

func (f *fixture) do(t *testing.T, method, target, username string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-Test-User", username)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) course(t *testing.T, key, title, slug string) *model.Course {
	t.Helper()
	c := &model.Course{PartnerID: f.partner.ID, Key: key, Title: title, MarketingSlug: slug}
	if err := f.st.Save(context.Background(), "test", c); err != nil {
		t.Fatal(err)
	}
	return c
}

type page struct {
	Count   int              `json:"count"`
	Results []map[string]any `json:"results"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestCatalogUsernameFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := storetest.User(t, f.db, "u1", false)
	u2 := storetest.User(t, f.db, "u2", false)
	storetest.User(t, f.db, "staff", true)

	var cats []*model.Catalog
	for _, name := range []string{"Shared with u2", "Shared with u1", "Private"} {
		cat := &model.Catalog{Name: name, Query: "*"}
		if err := f.db.Create(cat).Error; err != nil {
			t.Fatal(err)
		}
		cats = append(cats, cat)
	}
	if err := f.perms.Grant(ctx, u2.ID, model.TypeCatalog, cats[0].ID, model.PermViewCatalog); err != nil {
		t.Fatal(err)
	}
	if err := f.perms.Grant(ctx, u1.ID, model.TypeCatalog, cats[1].ID, model.PermViewCatalog); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/catalogs/?username=u2", "u1", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-staff impersonation status = %d, want 403", rec.Code)
	}

	tests := []struct {
		name   string
		target string
		caller string
		want   []string
	}{
		{"staff filters by username", "/api/v1/catalogs/?username=u2", "staff", []string{"Shared with u2"}},
		{"staff sees everything", "/api/v1/catalogs/", "staff", []string{"Shared with u2", "Shared with u1", "Private"}},
		{"user sees own grants", "/api/v1/catalogs/", "u1", []string{"Shared with u1"}},
		{"user names self", "/api/v1/catalogs/?username=u1", "u1", []string{"Shared with u1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.target, tt.caller, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			var p page
			decode(t, rec, &p)
			if p.Count != len(tt.want) || len(p.Results) != len(tt.want) {
				t.Fatalf("count = %d, want %d", p.Count, len(tt.want))
			}
			for i, name := range tt.want {
				if p.Results[i]["name"] != name {
					t.Errorf("result %d = %v, want %s", i, p.Results[i]["name"], name)
				}
			}
		})
	}

	rec = f.do(t, http.MethodGet, "/api/v1/catalogs/?username=ghost", "staff", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown username status = %d, want 404", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/v1/catalogs/1/", "u1", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign catalog status = %d, want 403", rec.Code)
	}
}

func TestCatalogWritesAreStaffOnly(t *testing.T) {
	f := newFixture(t)
	storetest.User(t, f.db, "u1", false)
	storetest.User(t, f.db, "staff", true)
	body := map[string]any{"name": "Physics", "query": "physics", "viewers": []string{"u1", "newcomer"}}

	if rec := f.do(t, http.MethodPost, "/api/v1/catalogs/", "u1", body); rec.Code != http.StatusForbidden {
		t.Fatalf("non-staff create status = %d, want 403", rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/api/v1/catalogs/", "staff", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created map[string]any
	decode(t, rec, &created)
	viewers, _ := created["viewers"].([]any)
	if len(viewers) != 2 || viewers[0] != "newcomer" || viewers[1] != "u1" {
		t.Errorf("viewers = %v", created["viewers"])
	}

	rec = f.do(t, http.MethodPost, "/api/v1/catalogs/", "staff", map[string]any{"name": "Broken", "query": "(physics"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid query status = %d, want 400", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/v1/catalogs/", "staff", map[string]any{"name": "No query"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing query status = %d, want 400", rec.Code)
	}
}

func TestCatalogContainsAndCourses(t *testing.T) {
	f := newFixture(t)
	storetest.User(t, f.db, "staff", true)
	f.course(t, "A+P", "Introduction to Physics", "physics")
	f.course(t, "A+C", "Chemistry", "")
	cat := &model.Catalog{Name: "Physics", Query: "physics"}
	if err := f.db.Create(cat).Error; err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/catalogs/1/contains/?course_id=A%2BP,A%2BC,Z%2BZ", "staff", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("contains status = %d, body %s", rec.Code, rec.Body.String())
	}
	var contains struct {
		Courses map[string]bool `json:"courses"`
	}
	decode(t, rec, &contains)
	want := map[string]bool{"A+P": true, "A+C": false, "Z+Z": false}
	for k, v := range want {
		if got, ok := contains.Courses[k]; !ok || got != v {
			t.Errorf("contains[%s] = %v, want %v", k, got, v)
		}
	}

	rec = f.do(t, http.MethodGet, "/api/v1/catalogs/1/courses/", "staff", nil)
	var p page
	decode(t, rec, &p)
	if p.Count != 1 || p.Results[0]["key"] != "A+P" {
		t.Fatalf("catalog courses = %+v", p)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/catalogs/1/csv/?exclude_utm=1", "staff", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csv status = %d", rec.Code)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 || lines[0] != "key,title,course_run_keys,marketing_url,seat_types" {
		t.Fatalf("csv = %q", rec.Body.String())
	}
	if !strings.HasPrefix(lines[1], "A+P,Introduction to Physics,,https://www.example.com/course/physics,") {
		t.Errorf("csv row = %q", lines[1])
	}
}

func TestCourseListVisibility(t *testing.T) {
	f := newFixture(t)
	u := storetest.User(t, f.db, "u1", false)
	storetest.User(t, f.db, "staff", true)
	physics := f.course(t, "A+P", "Physics", "physics")
	f.course(t, "A+C", "Chemistry", "")
	if err := f.perms.Grant(context.Background(), u.ID, model.TypeCourse, physics.ID, model.PermViewCourse); err != nil {
		t.Fatal(err)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/courses/", "u1", nil)
	var p page
	decode(t, rec, &p)
	if p.Count != 1 || p.Results[0]["key"] != "A+P" {
		t.Fatalf("visible courses = %+v", p)
	}
	if got := p.Results[0]["marketing_url"]; got != "https://www.example.com/course/physics?utm_medium=affiliate_partner&utm_source=u1" {
		t.Errorf("marketing_url = %v", got)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/courses/?exclude_utm=1", "u1", nil)
	decode(t, rec, &p)
	if got := p.Results[0]["marketing_url"]; got != "https://www.example.com/course/physics" {
		t.Errorf("marketing_url without utm = %v", got)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/courses/?q=chemistry", "staff", nil)
	decode(t, rec, &p)
	if p.Count != 1 || p.Results[0]["key"] != "A+C" {
		t.Errorf("staff search = %+v", p)
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/courses/A+C/", "u1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("hidden course status = %d, want 404", rec.Code)
	}
}

func TestCreateCourseAndRuns(t *testing.T) {
	f := newFixture(t)
	member := storetest.User(t, f.db, "member", false)
	storetest.User(t, f.db, "outsider", false)
	group := &model.Group{Name: "MITx publishers"}
	if err := f.db.Create(group).Error; err != nil {
		t.Fatal(err)
	}
	if err := f.db.Create(&model.UserGroup{UserID: member.ID, GroupID: group.ID}).Error; err != nil {
		t.Fatal(err)
	}
	if err := f.db.Create(&model.Organization{PartnerID: f.partner.ID, Key: "MITx", Name: "MIT", GroupID: &group.ID}).Error; err != nil {
		t.Fatal(err)
	}

	body := map[string]any{"org": "mitx", "number": "6.002x", "title": "Circuits"}
	if rec := f.do(t, http.MethodPost, "/api/v1/courses/", "outsider", body); rec.Code != http.StatusForbidden {
		t.Fatalf("outsider create status = %d, want 403", rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/api/v1/courses/", "member", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/courses/", "member", body); rec.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", rec.Code)
	}

	course, err := f.st.CourseByKey(f.partner.ID, "MITx+6.002x")
	if err != nil {
		t.Fatal(err)
	}
	state, err := f.st.CourseStateFor(course.ID, false)
	if err != nil || state.Name != model.StateDraft || state.OwnerRole != model.RoleCourseTeam {
		t.Errorf("course state = %+v, %v", state, err)
	}
	roles, err := f.st.RoleAssignments(course.ID)
	if err != nil || roles[model.RoleCourseTeam].Username != "member" {
		t.Errorf("roles = %+v, %v", roles, err)
	}

	runBody := map[string]any{"course": "MITx+6.002x", "start": "2017-02-01T00:00:00Z", "pacing_type": "Self"}
	for _, want := range []string{"MITx+6.002x+1T2017", "MITx+6.002x+1T2017a"} {
		rec := f.do(t, http.MethodPost, "/api/v1/course_runs/", "member", runBody)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create run status = %d, body %s", rec.Code, rec.Body.String())
		}
		var run map[string]any
		decode(t, rec, &run)
		if run["key"] != want || run["pacing_type"] != model.PacingSelf || run["status"] != model.RunStatusDraft {
			t.Errorf("run = %v, want key %s", run, want)
		}
	}

	rec = f.do(t, http.MethodPost, "/api/v1/course_runs/", "member", map[string]any{"course": "MITx+6.002x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("run without start status = %d, want 400", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/v1/course_runs/", "outsider", runBody)
	if rec.Code != http.StatusForbidden {
		t.Errorf("outsider run status = %d, want 403", rec.Code)
	}

	rec = f.do(t, http.MethodPatch, "/api/v1/courses/MITx+6.002x/", "member", map[string]any{"level": "advanced"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPatch, "/api/v1/courses/MITx+6.002x/", "member", map[string]any{"level": "expert"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad level status = %d, want 400", rec.Code)
	}
}

func TestThrottleRateAdmin(t *testing.T) {
	f := newFixture(t)
	storetest.User(t, f.db, "u1", false)
	storetest.User(t, f.db, "staff", true)
	target := "/api/v1/admin/throttle_rates/u1"

	if rec := f.do(t, http.MethodPut, target, "u1", map[string]any{"rate": "10/minute"}); rec.Code != http.StatusForbidden {
		t.Fatalf("non-staff status = %d, want 403", rec.Code)
	}

	rec := f.do(t, http.MethodPut, target, "staff", map[string]any{"rate": "lots"}, "Accept-Language", "es-ES,es;q=0.9")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid rate status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Introduzca") {
		t.Errorf("message not localized: %s", rec.Body.String())
	}

	if rec := f.do(t, http.MethodPut, target, "staff", map[string]any{"rate": "10/minute"}); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPut, target, "staff", map[string]any{"rate": "20/hour"}); rec.Code != http.StatusOK {
		t.Fatalf("replace status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, target, "staff", nil)
	var row model.UserThrottleRate
	decode(t, rec, &row)
	if row.Rate != "20/hour" {
		t.Errorf("rate = %q, want 20/hour", row.Rate)
	}
	if rec := f.do(t, http.MethodDelete, target, "staff", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, target, "staff", nil); rec.Code != http.StatusNotFound {
		t.Errorf("after delete status = %d, want 404", rec.Code)
	}
}

func TestRefreshCourseMetadata(t *testing.T) {
	f := newFixture(t)
	storetest.User(t, f.db, "staff", true)
	admin := storetest.User(t, f.db, "admin", true)
	admin.IsSuperuser = true
	if err := f.db.Save(admin).Error; err != nil {
		t.Fatal(err)
	}

	if rec := f.do(t, http.MethodPost, "/api/v1/management/refresh_course_metadata", "staff", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("staff status = %d, want 403", rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/api/v1/management/refresh_course_metadata", "admin", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("superuser status = %d, body %s", rec.Code, rec.Body.String())
	}
	f.pipeline.Stop()
	if f.pipeline.Running() {
		t.Error("refresh still running after Stop")
	}
}

func TestSearchFacetsUnknownType(t *testing.T) {
	f := newFixture(t)
	storetest.User(t, f.db, "u1", false)
	if rec := f.do(t, http.MethodGet, "/api/v1/search/nope/facets", "u1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/search/nope/facets?limit=0", "u1", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestProgramListing(t *testing.T) {
	f := newFixture(t)
	storetest.User(t, f.db, "u1", false)
	programs := []*model.Program{
		{PartnerID: f.partner.ID, Title: "Alpha", Type: "XSeries", Status: model.ProgramStatusActive, MarketingSlug: "alpha"},
		{PartnerID: f.partner.ID, Title: "Beta", Type: "MicroMasters", Status: model.ProgramStatusUnpublished, MarketingSlug: "beta"},
		{PartnerID: f.partner.ID, Title: "Gamma", Type: "XSeries", Status: model.ProgramStatusDeleted, MarketingSlug: "gamma"},
	}
	for _, p := range programs {
		if err := f.db.Create(p).Error; err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"Alpha", "Beta"}},
		{"?status=deleted", []string{"Gamma"}},
		{"?types=xseries", []string{"Alpha"}},
		{"?types=xseries&status=active,deleted", []string{"Alpha", "Gamma"}},
		{"?marketable=1", []string{"Alpha"}},
	}
	for _, tt := range tests {
		rec := f.do(t, http.MethodGet, "/api/v1/programs/"+tt.query, "u1", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%q: status = %d, body %s", tt.query, rec.Code, rec.Body.String())
		}
		var p page
		decode(t, rec, &p)
		var got []string
		for _, r := range p.Results {
			got = append(got, r["title"].(string))
		}
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("%q: titles = %v, want %v", tt.query, got, tt.want)
		}
	}

	rec := f.do(t, http.MethodGet, "/api/v1/programs/?marketable=1", "u1", nil)
	var p page
	decode(t, rec, &p)
	want := "https://www.example.com/xseries/alpha?utm_medium=affiliate_partner&utm_source=u1"
	if len(p.Results) != 1 || p.Results[0]["marketing_url"] != want {
		t.Errorf("marketing_url = %v, want %s", p.Results, want)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/programs/?uuids_only=1", "u1", nil)
	var uuids []string
	decode(t, rec, &uuids)
	if len(uuids) != 2 || uuids[0] != programs[0].UUID {
		t.Errorf("uuids_only = %v", uuids)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/programs/"+programs[1].UUID+"/", "u1", nil)
	var one map[string]any
	decode(t, rec, &one)
	if rec.Code != http.StatusOK || one["title"] != "Beta" {
		t.Errorf("get program: %d %v", rec.Code, one)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/programs/missing/", "u1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing program status = %d, want 404", rec.Code)
	}
}
