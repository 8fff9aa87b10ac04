package handler

import (
	"errors"
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"gorm.io/gorm"
)

type transitionRequest struct {
	Name            string `json:"name"`
	PreviewAccepted *bool  `json:"preview_accepted"`
	Version         *int   `json:"version"`
}

type roleRequest struct {
	Role     string `json:"role"`
	Username string `json:"username"`
}

type roleView struct {
	Role string     `json:"role"`
	User model.User `json:"user"`
}

type editorRequest struct {
	Username string `json:"username"`
}

// TransitionCourse moves a course's workflow state
func (h *Handler) TransitionCourse(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req transitionRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	if req.Name == "" {
		return respondError(c, apperr.Validation("name is required."))
	}
	st, err := h.publisher.TransitionCourse(ctxOf(c), currentUser(c), id, req.Name, req.Version)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// TransitionCourseRun moves a run's workflow state, or records preview
// acceptance when preview_accepted is true
func (h *Handler) TransitionCourseRun(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req transitionRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	ctx := ctxOf(c)
	switch {
	case req.PreviewAccepted != nil && *req.PreviewAccepted:
		st, err := h.publisher.AcceptPreview(ctx, currentUser(c), id, req.Version)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, st)
	case req.Name != "":
		st, err := h.publisher.TransitionCourseRun(ctx, currentUser(c), id, req.Name, req.Version)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, st)
	default:
		return respondError(c, apperr.Validation("name or preview_accepted is required."))
	}
}

// ListRoles returns the workflow role assignments of a course
func (h *Handler) ListRoles(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := h.canViewCourse(ctxOf(c), currentUser(c), id); err != nil {
		return respondError(c, err)
	}
	roles, err := h.publisher.Roles(id)
	if err != nil {
		return respondError(c, err)
	}
	out := make([]roleView, 0, len(roles))
	for role, u := range roles {
		out = append(out, roleView{Role: role, User: u})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return c.JSON(http.StatusOK, out)
}

// AssignRole sets the user holding a workflow role
func (h *Handler) AssignRole(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req roleRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	assignment, err := h.publisher.AssignRole(ctxOf(c), currentUser(c), id, req.Role, req.Username)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, assignment)
}

// ListEditors returns the explicit editors of a course
func (h *Handler) ListEditors(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := h.canViewCourse(ctxOf(c), currentUser(c), id); err != nil {
		return respondError(c, err)
	}
	editors := []model.CourseEditor{}
	if err := h.store.DB().WithContext(ctxOf(c)).
		Preload("User").
		Where("course_id = ?", id).
		Order("id").
		Find(&editors).Error; err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, editors)
}

// AddEditor grants a user explicit edit rights on a course
func (h *Handler) AddEditor(c echo.Context) error {
	ctx := ctxOf(c)
	user := currentUser(c)
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := h.perms.RequireCourseEdit(ctx, user, id); err != nil {
		return respondError(c, err)
	}
	var req editorRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	target, err := h.store.UserByUsername(req.Username)
	if err != nil {
		return respondError(c, err)
	}

	var existing model.CourseEditor
	err = h.store.DB().WithContext(ctx).Where("course_id = ? AND user_id = ?", id, target.ID).First(&existing).Error
	if err == nil {
		existing.User = *target
		return c.JSON(http.StatusOK, existing)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return respondError(c, err)
	}

	editor := &model.CourseEditor{CourseID: id, UserID: target.ID}
	if err := h.store.Save(ctx, user.Username, editor); err != nil {
		return respondError(c, err)
	}
	editor.User = *target
	return c.JSON(http.StatusCreated, editor)
}

// RemoveEditor revokes an explicit editor row
func (h *Handler) RemoveEditor(c echo.Context) error {
	ctx := ctxOf(c)
	user := currentUser(c)
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	editorID, err := idParam(c, "editor_id")
	if err != nil {
		return respondError(c, err)
	}
	if err := h.perms.RequireCourseEdit(ctx, user, id); err != nil {
		return respondError(c, err)
	}
	var editor model.CourseEditor
	err = h.store.DB().WithContext(ctx).Where("id = ? AND course_id = ?", editorID, id).First(&editor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return respondError(c, apperr.NotFound("Editor %d not found.", editorID))
	}
	if err != nil {
		return respondError(c, err)
	}
	if err := h.store.Delete(ctx, user.Username, &editor); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
