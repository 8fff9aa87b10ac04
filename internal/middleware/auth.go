package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/pkg/jwtutil"
	"github.com/suteetoe/coursecatalog/pkg/logger"
	"github.com/suteetoe/coursecatalog/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const userKey = "user"

// CurrentUser returns the authenticated user, or nil for anonymous requests
func CurrentUser(c echo.Context) *model.User {
	u, _ := c.Get(userKey).(*model.User)
	return u
}

// SetCurrentUser stores the authenticated user on the echo context
func SetCurrentUser(c echo.Context, u *model.User) {
	c.Set(userKey, u)
}

// JWTAuthMiddleware validates the bearer token and mirrors the token's
// identity into a local user row. Administrators become staff superusers.
func JWTAuthMiddleware(jwtUtil *jwtutil.JWTUtil, db *gorm.DB) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				log.Warn("Missing authorization header")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication credentials were not provided."})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				log.Warn("Invalid authorization header format")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid authorization header format"})
			}

			claims, err := jwtUtil.ValidateToken(parts[1])
			if err != nil {
				log.Warn("Invalid or expired token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid or expired token"})
			}

			user, err := syncUser(db.WithContext(c.Request().Context()), claims)
			if err != nil {
				log.Error("Failed to sync user from token", zap.String("username", claims.Username), zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Internal server error"})
			}
			if !user.IsActive {
				log.Info("Inactive user rejected", zap.String("username", user.Username))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "User inactive or deleted."})
			}

			SetCurrentUser(c, user)
			c.Set("logger", log.With(zap.String("username", user.Username)))
			return next(c)
		}
	}
}

// syncUser creates the user on first sight and refreshes the mirrored fields.
// Concurrent first requests for one username all resolve to the same row.
func syncUser(db *gorm.DB, claims *jwtutil.UserClaims) (*model.User, error) {
	defer prometheus.TrackDBOperation("sync_user")(time.Now())

	var user model.User
	err := db.Where("username = ?", claims.Username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		u := model.NewUser(claims.Username, claims.Email)
		u.FullName = claims.Name
		u.IsStaff = claims.Administrator
		u.IsSuperuser = claims.Administrator
		res := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "username"}}, DoNothing: true}).Create(u)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return u, nil
		}
		// another request created the row first
		err = db.Where("username = ?", claims.Username).First(&user).Error
	}
	if err != nil {
		return nil, err
	}

	changed := user.Email != claims.Email || (claims.Name != "" && user.FullName != claims.Name)
	// the claim only ever promotes; staff granted locally stays staff
	if claims.Administrator && (!user.IsStaff || !user.IsSuperuser) {
		user.IsStaff, user.IsSuperuser = true, true
		changed = true
	}
	if !changed {
		return &user, nil
	}
	user.Email = claims.Email
	if claims.Name != "" {
		user.FullName = claims.Name
	}
	if err := db.Save(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// RequireSuperuser rejects callers that are not superusers with 403
func RequireSuperuser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		u := CurrentUser(c)
		if u == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication credentials were not provided."})
		}
		if !u.IsSuperuser {
			prometheus.RecordPermissionDenied("superuser")
			logger.FromContext(c).Info("Superuser required", zap.String("username", u.Username), zap.String("path", c.Path()))
			return c.JSON(http.StatusForbidden, echo.Map{"error": "You do not have permission to perform this action."})
		}
		return next(c)
	}
}

// RequireStaff rejects callers that are neither staff nor superusers with 403
func RequireStaff(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		u := CurrentUser(c)
		if u == nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication credentials were not provided."})
		}
		if !u.IsStaff && !u.IsSuperuser {
			prometheus.RecordPermissionDenied("staff")
			logger.FromContext(c).Info("Staff required", zap.String("username", u.Username), zap.String("path", c.Path()))
			return c.JSON(http.StatusForbidden, echo.Map{"error": "You do not have permission to perform this action."})
		}
		return next(c)
	}
}
