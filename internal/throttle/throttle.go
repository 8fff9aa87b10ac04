// Package throttle limits request rates per user with optional per-user overrides.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/pkg/logger"
	"github.com/suteetoe/coursecatalog/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Overrides looks up a user's stored rate spec
type Overrides interface {
	RateFor(ctx context.Context, userID uint) (string, bool, error)
}

// DBOverrides reads UserThrottleRate rows
type DBOverrides struct {
	DB *gorm.DB
}

// RateFor implements Overrides
func (o DBOverrides) RateFor(ctx context.Context, userID uint) (string, bool, error) {
	var row model.UserThrottleRate
	err := o.DB.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.Rate, true, nil
}

// Decision is the outcome of a throttle check
type Decision struct {
	Allowed    bool
	Rate       Rate
	RetryAfter time.Duration
}

// Throttler applies per-scope default rates and per-user overrides
type Throttler struct {
	store       Store
	overrides   Overrides
	defaultRate Rate
	scopeRates  map[string]Rate
	log         *zap.Logger
	now         func() time.Time
}

// New builds a throttler. scopeRates overrides defaultRate for named views.
func New(store Store, overrides Overrides, defaultRate string, scopeRates map[string]string, log *zap.Logger) (*Throttler, error) {
	def, err := ParseRate(defaultRate)
	if err != nil {
		return nil, fmt.Errorf("default throttle rate: %w", err)
	}
	scopes := make(map[string]Rate, len(scopeRates))
	for scope, spec := range scopeRates {
		r, err := ParseRate(spec)
		if err != nil {
			return nil, fmt.Errorf("throttle rate for scope %s: %w", scope, err)
		}
		scopes[scope] = r
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Throttler{
		store:       store,
		overrides:   overrides,
		defaultRate: def,
		scopeRates:  scopes,
		log:         log,
		now:         time.Now,
	}, nil
}

// RateFor resolves the effective rate of a user for a scope. A stored
// override that no longer parses falls back to the scope default.
func (t *Throttler) RateFor(ctx context.Context, scope string, user *model.User) Rate {
	rate := t.defaultRate
	if r, ok := t.scopeRates[scope]; ok {
		rate = r
	}
	if user == nil || t.overrides == nil {
		return rate
	}
	spec, ok, err := t.overrides.RateFor(ctx, user.ID)
	if err != nil {
		t.log.Error("Failed to read throttle override", zap.Uint("user_id", user.ID), zap.Error(err))
		return rate
	}
	if !ok {
		return rate
	}
	override, err := ParseRate(spec)
	if err != nil {
		t.log.Warn("Ignoring malformed throttle override",
			zap.Uint("user_id", user.ID),
			zap.String("rate", spec),
			zap.Error(err))
		return rate
	}
	return override
}

// Allow checks and records one request. ident identifies anonymous callers.
func (t *Throttler) Allow(ctx context.Context, scope string, user *model.User, ident string) (Decision, error) {
	if user != nil && (user.IsStaff || user.IsSuperuser) {
		return Decision{Allowed: true}, nil
	}

	rate := t.RateFor(ctx, scope, user)
	key := scope + ":anon:" + ident
	if user != nil {
		key = scope + ":user:" + strconv.FormatUint(uint64(user.ID), 10)
	}

	allowed, wait, err := t.store.Hit(ctx, key, rate, t.now())
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: allowed, Rate: rate, RetryAfter: wait}, nil
}

// Middleware rejects throttled requests with 429. currentUser returns nil
// for anonymous callers. A store failure lets the request through.
func Middleware(t *Throttler, scope string, currentUser func(c echo.Context) *model.User) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)
			user := currentUser(c)

			d, err := t.Allow(c.Request().Context(), scope, user, c.RealIP())
			if err != nil {
				log.Error("Throttle check failed", zap.String("scope", scope), zap.Error(err))
				return next(c)
			}
			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				prometheus.RecordThrottled(scope)
				log.Info("Request throttled",
					zap.String("scope", scope),
					zap.String("rate", d.Rate.String()),
					zap.Int("retry_after", secs))
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error": fmt.Sprintf("Request was throttled. Expected available in %d seconds.", secs),
				})
			}
			return next(c)
		}
	}
}
