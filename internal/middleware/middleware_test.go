package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/store/storetest"
	"github.com/suteetoe/coursecatalog/internal/throttle"
	"github.com/suteetoe/coursecatalog/pkg/jwtutil"
	"gorm.io/gorm"
)

func newJWT() *jwtutil.JWTUtil {
	return jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "test-key", Issuer: "catalog-test"})
}

func serve(e *echo.Echo, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthMirrorsUser(t *testing.T) {
	db := storetest.NewDB(t)
	j := newJWT()
	e := echo.New()
	e.Use(RequestIDMiddleware())
	var seen *model.User
	e.GET("/me", func(c echo.Context) error {
		seen = CurrentUser(c)
		return c.NoContent(http.StatusOK)
	}, JWTAuthMiddleware(j, db))

	if rec := serve(e, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", rec.Code)
	}
	if rec := serve(e, "garbage"); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d", rec.Code)
	}

	token, err := j.GenerateToken("alice", "alice@example.com", true, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	rec := serve(e, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
	if seen == nil || seen.ID == 0 || !seen.IsStaff || !seen.IsSuperuser {
		t.Fatalf("user = %+v", seen)
	}

	// a second request reuses the row
	serve(e, token)
	var n int64
	db.Model(&model.User{}).Where("username = ?", "alice").Count(&n)
	if n != 1 {
		t.Errorf("users named alice = %d", n)
	}
}

func TestJWTAuthFirstLoginLosesCreateRace(t *testing.T) {
	db := storetest.NewDB(t)
	j := newJWT()

	// a parallel request inserts carol between the lookup and the create
	var winner *model.User
	err := db.Callback().Create().Before("gorm:create").Register("test:parallel_first_login", func(tx *gorm.DB) {
		if winner != nil || tx.Statement.Table != "users" {
			return
		}
		winner = model.NewUser("carol", "carol@example.com")
		if err := tx.Session(&gorm.Session{NewDB: true}).Create(winner).Error; err != nil {
			tx.AddError(err)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	e := echo.New()
	var seen *model.User
	e.GET("/me", func(c echo.Context) error {
		seen = CurrentUser(c)
		return c.NoContent(http.StatusOK)
	}, JWTAuthMiddleware(j, db))

	token, _ := j.GenerateToken("carol", "carol@example.com", true, time.Hour)
	rec := serve(e, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if winner == nil || seen == nil || seen.ID != winner.ID {
		t.Fatalf("user = %+v, want the row created by the parallel request", seen)
	}
	if !seen.IsSuperuser {
		t.Error("administrator claim not applied to the existing row")
	}
	var n int64
	db.Model(&model.User{}).Where("username = ?", "carol").Count(&n)
	if n != 1 {
		t.Errorf("users named carol = %d", n)
	}
}

func TestRequireSuperuser(t *testing.T) {
	db := storetest.NewDB(t)
	j := newJWT()
	e := echo.New()
	e.GET("/me", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, JWTAuthMiddleware(j, db), RequireSuperuser)

	plain, _ := j.GenerateToken("bob", "bob@example.com", false, time.Hour)
	if rec := serve(e, plain); rec.Code != http.StatusForbidden {
		t.Errorf("non-superuser status = %d", rec.Code)
	}
	admin, _ := j.GenerateToken("root", "root@example.com", true, time.Hour)
	if rec := serve(e, admin); rec.Code != http.StatusOK {
		t.Errorf("superuser status = %d", rec.Code)
	}
}

func TestThrottleUsesCurrentUser(t *testing.T) {
	db := storetest.NewDB(t)
	j := newJWT()
	th, err := throttle.New(throttle.NewMemoryStore(), throttle.DBOverrides{DB: db}, "2/minute", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	e := echo.New()
	e.GET("/me", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, JWTAuthMiddleware(j, db), Throttle(th, "api"))

	token, _ := j.GenerateToken("carol", "carol@example.com", false, time.Hour)
	for i := 0; i < 2; i++ {
		if rec := serve(e, token); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}
	rec := serve(e, token)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Errorf("third request status = %d retry-after %q", rec.Code, rec.Header().Get("Retry-After"))
	}

	admin, _ := j.GenerateToken("root", "root@example.com", true, time.Hour)
	for i := 0; i < 3; i++ {
		if rec := serve(e, admin); rec.Code != http.StatusOK {
			t.Fatalf("staff request %d status = %d", i+1, rec.Code)
		}
	}
}
