// Package handler serves the catalog HTTP API
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/ingest"
	"github.com/suteetoe/coursecatalog/internal/middleware"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/pagination"
	"github.com/suteetoe/coursecatalog/internal/permission"
	"github.com/suteetoe/coursecatalog/internal/publisher"
	"github.com/suteetoe/coursecatalog/internal/search"
	"github.com/suteetoe/coursecatalog/internal/store"
	"github.com/suteetoe/coursecatalog/pkg/logger"
	"go.uber.org/zap"
)

// Deps are the collaborators of the API handlers
type Deps struct {
	Store          *store.Store
	Perms          *permission.Checker
	Search         *search.Service
	Pager          *pagination.Proxy
	Publisher      *publisher.Service
	Pipeline       *ingest.Pipeline
	DefaultPartner string
}

// Handler serves every API route
type Handler struct {
	store          *store.Store
	perms          *permission.Checker
	search         *search.Service
	pager          *pagination.Proxy
	publisher      *publisher.Service
	pipeline       *ingest.Pipeline
	defaultPartner string
	now            func() time.Time
}

// New creates the API handler
func New(d Deps) *Handler {
	pager := d.Pager
	if pager == nil {
		pager = pagination.NewProxy(20, 100)
	}
	return &Handler{
		store:          d.Store,
		perms:          d.Perms,
		search:         d.Search,
		pager:          pager,
		publisher:      d.Publisher,
		pipeline:       d.Pipeline,
		defaultPartner: d.DefaultPartner,
		now:            time.Now,
	}
}

// Register mounts the API on g. g must already authenticate callers.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/courses/", h.ListCourses)
	g.POST("/courses/", h.CreateCourse)
	g.GET("/courses/:key/", h.GetCourse)
	g.PATCH("/courses/:key/", h.UpdateCourse)

	g.GET("/course_runs/", h.ListCourseRuns)
	g.POST("/course_runs/", h.CreateCourseRun)
	g.GET("/course_runs/:key/", h.GetCourseRun)

	g.GET("/programs/", h.ListPrograms)
	g.GET("/programs/:uuid/", h.GetProgram)

	g.GET("/catalogs/", h.ListCatalogs)
	g.POST("/catalogs/", h.CreateCatalog)
	g.GET("/catalogs/:id/", h.GetCatalog)
	g.PUT("/catalogs/:id/", h.UpdateCatalog)
	g.PATCH("/catalogs/:id/", h.UpdateCatalog)
	g.DELETE("/catalogs/:id/", h.DeleteCatalog)
	g.GET("/catalogs/:id/courses/", h.CatalogCourses)
	g.GET("/catalogs/:id/contains/", h.CatalogContains)
	g.GET("/catalogs/:id/csv/", h.CatalogCSV)

	g.GET("/search/:type/facets", h.SearchFacets)

	pub := g.Group("/publisher")
	pub.PATCH("/courses/:id/state", h.TransitionCourse)
	pub.PATCH("/course_runs/:id/state", h.TransitionCourseRun)
	pub.GET("/courses/:id/roles", h.ListRoles)
	pub.PUT("/courses/:id/roles", h.AssignRole)
	pub.GET("/courses/:id/editors", h.ListEditors)
	pub.POST("/courses/:id/editors", h.AddEditor)
	pub.DELETE("/courses/:id/editors/:editor_id", h.RemoveEditor)

	g.POST("/management/refresh_course_metadata", h.RefreshCourseMetadata, middleware.RequireSuperuser)

	admin := g.Group("/admin", middleware.RequireStaff)
	admin.GET("/throttle_rates/:username", h.GetThrottleRate)
	admin.PUT("/throttle_rates/:username", h.SetThrottleRate)
	admin.DELETE("/throttle_rates/:username", h.DeleteThrottleRate)
}

// respondError writes err with the status its kind maps to
func respondError(c echo.Context, err error) error {
	log := logger.FromContext(c)
	status := apperr.HTTPStatus(err)
	switch {
	case status >= http.StatusInternalServerError:
		log.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	case status == http.StatusForbidden:
		log.Info("Permission denied", zap.String("path", c.Path()), zap.String("reason", apperr.Message(err)))
	case status == http.StatusNotFound:
	default:
		log.Warn("Request rejected", zap.String("path", c.Path()), zap.Int("status", status), zap.Error(err))
	}

	body := echo.Map{"error": apperr.Message(err)}
	var e *apperr.Error
	if errors.As(err, &e) && len(e.Details) > 0 {
		for k, v := range e.Details {
			body[k] = v
		}
	}
	return c.JSON(status, body)
}

func currentUser(c echo.Context) *model.User {
	return middleware.CurrentUser(c)
}

func ctxOf(c echo.Context) context.Context {
	return c.Request().Context()
}

// boolParam accepts 1 and any casing of true
func boolParam(c echo.Context, name string) bool {
	v := strings.ToLower(c.QueryParam(name))
	return v == "1" || v == "true"
}

// listParam splits a comma separated parameter, dropping empty items
func listParam(c echo.Context, name string) []string {
	var out []string
	for _, raw := range c.QueryParams()[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func idParam(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation("Invalid %s %q.", name, c.Param(name))
	}
	return uint(id), nil
}

// partner resolves the partner query parameter, falling back to the default partner
func (h *Handler) partner(c echo.Context) (*model.Partner, error) {
	return h.partnerByCode(c.QueryParam("partner"))
}

func (h *Handler) partnerByCode(code string) (*model.Partner, error) {
	if code == "" {
		code = h.defaultPartner
	}
	return h.store.PartnerByShortCode(code)
}

func isStaff(u *model.User) bool {
	return u.IsStaff || u.IsSuperuser
}

func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "Invalid request body.")
	}
	return nil
}
