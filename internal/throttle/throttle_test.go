package throttle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
)

type fakeOverrides map[uint]string

func (f fakeOverrides) RateFor(_ context.Context, userID uint) (string, bool, error) {
	r, ok := f[userID]
	return r, ok, nil
}

func TestParseRateRoundTrip(t *testing.T) {
	for _, spec := range []string{"100/hour", "1/second", "5/minute", "1000/day"} {
		r, err := ParseRate(spec)
		if err != nil {
			t.Fatalf("ParseRate(%q) error = %v", spec, err)
		}
		if r.String() != spec {
			t.Errorf("format(parse(%q)) = %q", spec, r.String())
		}
	}
}

func TestParseRateRejects(t *testing.T) {
	for _, spec := range []string{"100/fortnight", "hour", "x/hour", "-1/hour", "0/day", "", "100/"} {
		if _, err := ParseRate(spec); err == nil {
			t.Errorf("ParseRate(%q) expected error", spec)
		}
	}
}

func TestValidateRateLocalizesMessage(t *testing.T) {
	if err := ValidateRate("10/minute", "es"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	err := ValidateRate("10/fortnight", "es")
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if msg := apperr.Message(err); msg != invalidRateMessages["es"] {
		t.Errorf("expected spanish message, got %q", msg)
	}
	if msg := apperr.Message(ValidateRate("bad", "fr")); msg != invalidRateMessages["en"] {
		t.Errorf("expected english fallback, got %q", msg)
	}
}

func TestPreferredLanguage(t *testing.T) {
	for header, want := range map[string]string{
		"":                      "en",
		"es-MX,es;q=0.9":        "es",
		"fr-FR, es;q=0.5":       "es",
		"de":                    "en",
		"en-US,en;q=0.9,es;q=1": "en",
	} {
		if got := PreferredLanguage(header); got != want {
			t.Errorf("PreferredLanguage(%q) = %q, want %q", header, got, want)
		}
	}
}

func newTestThrottler(t *testing.T, overrides Overrides) (*Throttler, *time.Time) {
	t.Helper()
	th, err := New(NewMemoryStore(), overrides, "100/hour", nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }
	return th, &now
}

func TestUserOverrideScenario(t *testing.T) {
	user := &model.User{ID: 7, Username: "u"}
	overrides := fakeOverrides{7: "1000/day"}
	th, now := newTestThrottler(t, overrides)
	ctx := context.Background()

	for i := 0; i < 101; i++ {
		d, err := th.Allow(ctx, "api", user, "")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d throttled under 1000/day", i+1)
		}
		*now = now.Add(10 * time.Second)
	}

	overrides[7] = "5/minute"
	*now = now.Add(2 * time.Minute)
	for i := 0; i < 5; i++ {
		d, _ := th.Allow(ctx, "api", user, "")
		if !d.Allowed {
			t.Fatalf("request %d throttled under 5/minute", i+1)
		}
		*now = now.Add(time.Second)
	}
	d, _ := th.Allow(ctx, "api", user, "")
	if d.Allowed {
		t.Fatal("expected 6th request in a minute to be throttled")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("unexpected retry after %v", d.RetryAfter)
	}
}

func TestDefaultRateApplies(t *testing.T) {
	th, _ := newTestThrottler(t, fakeOverrides{})
	user := &model.User{ID: 1}
	for i := 0; i < 100; i++ {
		if d, _ := th.Allow(context.Background(), "api", user, ""); !d.Allowed {
			t.Fatalf("request %d throttled", i+1)
		}
	}
	if d, _ := th.Allow(context.Background(), "api", user, ""); d.Allowed {
		t.Fatal("expected 101st request to be throttled")
	}
}

func TestStaffAndSuperusersAreExempt(t *testing.T) {
	th, _ := newTestThrottler(t, fakeOverrides{1: "1/day", 2: "1/day"})
	staff := &model.User{ID: 1, IsStaff: true}
	super := &model.User{ID: 2, IsSuperuser: true}
	for i := 0; i < 5; i++ {
		for _, u := range []*model.User{staff, super} {
			if d, _ := th.Allow(context.Background(), "api", u, ""); !d.Allowed {
				t.Fatalf("user %d throttled", u.ID)
			}
		}
	}
}

func TestMalformedOverrideFallsBackToDefault(t *testing.T) {
	th, _ := newTestThrottler(t, fakeOverrides{3: "12/fortnight"})
	if r := th.RateFor(context.Background(), "api", &model.User{ID: 3}); r.String() != "100/hour" {
		t.Errorf("RateFor() = %s", r)
	}
}

func TestScopeRateOverridesDefault(t *testing.T) {
	th, err := New(NewMemoryStore(), nil, "100/hour", map[string]string{"search": "10/minute"}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if r := th.RateFor(context.Background(), "search", nil); r.String() != "10/minute" {
		t.Errorf("RateFor() = %s", r)
	}
	if _, err := New(NewMemoryStore(), nil, "100/fortnight", nil, nil); err == nil {
		t.Error("expected invalid default rate to be rejected")
	}
}

func TestMiddlewareReturns429(t *testing.T) {
	th, err := New(NewMemoryStore(), fakeOverrides{9: "1/hour"}, "100/hour", nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	user := &model.User{ID: 9}
	e := echo.New()
	h := Middleware(th, "api", func(echo.Context) *model.User { return user })(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		if err := h(c); err != nil {
			t.Fatalf("handler error = %v", err)
		}
		if rec.Code != want {
			t.Errorf("request %d: status = %d, want %d", i+1, rec.Code, want)
		}
		if want == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
			t.Error("expected Retry-After header")
		}
	}
}
