package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/coursecatalog/pkg/logger"
	"go.uber.org/zap"
)

// RefreshCourseMetadata starts a background refresh of every partner.
// Only one refresh runs at a time.
func (h *Handler) RefreshCourseMetadata(c echo.Context) error {
	// the refresh outlives the request
	if err := h.pipeline.Start(context.Background()); err != nil {
		return respondError(c, err)
	}
	logger.FromContext(c).Info("Catalog refresh started", zap.String("username", currentUser(c).Username))
	return c.JSON(http.StatusAccepted, echo.Map{"status": "started"})
}
