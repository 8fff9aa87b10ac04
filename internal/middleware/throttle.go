package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/suteetoe/coursecatalog/internal/throttle"
)

// Throttle limits authenticated callers per scope. Mount it after
// JWTAuthMiddleware so the user override applies.
func Throttle(t *throttle.Throttler, scope string) echo.MiddlewareFunc {
	return throttle.Middleware(t, scope, CurrentUser)
}
