package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/throttle"
	"gorm.io/gorm"
)

type throttleRateRequest struct {
	Rate string `json:"rate"`
}

func (h *Handler) throttleRate(c echo.Context) (*model.User, *model.UserThrottleRate, error) {
	user, err := h.store.UserByUsername(c.Param("username"))
	if err != nil {
		return nil, nil, err
	}
	var row model.UserThrottleRate
	err = h.store.DB().WithContext(ctxOf(c)).Where("user_id = ?", user.ID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return user, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return user, &row, nil
}

// GetThrottleRate returns a user's rate override
func (h *Handler) GetThrottleRate(c echo.Context) error {
	user, row, err := h.throttleRate(c)
	if err != nil {
		return respondError(c, err)
	}
	if row == nil {
		return respondError(c, apperr.NotFound("User %s has no throttle rate override.", user.Username))
	}
	return c.JSON(http.StatusOK, row)
}

// SetThrottleRate creates or replaces a user's rate override. Invalid rates
// are rejected in the caller's preferred language.
func (h *Handler) SetThrottleRate(c echo.Context) error {
	var req throttleRateRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	req.Rate = strings.TrimSpace(req.Rate)
	lang := throttle.PreferredLanguage(c.Request().Header.Get("Accept-Language"))
	if err := throttle.ValidateRate(req.Rate, lang); err != nil {
		return respondError(c, err)
	}

	user, row, err := h.throttleRate(c)
	if err != nil {
		return respondError(c, err)
	}
	status := http.StatusOK
	if row == nil {
		row = &model.UserThrottleRate{UserID: user.ID}
		status = http.StatusCreated
	}
	row.Rate = req.Rate
	if err := h.store.Save(ctxOf(c), currentUser(c).Username, row); err != nil {
		return respondError(c, err)
	}
	return c.JSON(status, row)
}

// DeleteThrottleRate removes a user's rate override
func (h *Handler) DeleteThrottleRate(c echo.Context) error {
	user, row, err := h.throttleRate(c)
	if err != nil {
		return respondError(c, err)
	}
	if row == nil {
		return respondError(c, apperr.NotFound("User %s has no throttle rate override.", user.Username))
	}
	if err := h.store.Delete(ctxOf(c), currentUser(c).Username, row); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
