package handler

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/pagination"
	"github.com/suteetoe/coursecatalog/internal/search"
	"github.com/suteetoe/coursecatalog/internal/store"
	"github.com/suteetoe/coursecatalog/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type catalogRequest struct {
	Name    *string   `json:"name"`
	Query   *string   `json:"query"`
	Viewers *[]string `json:"viewers"`
}

type catalogView struct {
	model.Catalog
	Viewers []string `json:"viewers"`
}

// ListCatalogs lists the catalogs the subject may view. Staff see every
// catalog unless they name another user through username.
func (h *Handler) ListCatalogs(c echo.Context) error {
	ctx := ctxOf(c)
	caller := currentUser(c)
	subject, err := h.perms.ResolveSubject(ctx, caller, c.QueryParam("username"))
	if err != nil {
		return respondError(c, err)
	}

	q := h.store.DB().WithContext(ctx).Model(&model.Catalog{}).Order("id")
	if subject != caller || !isStaff(caller) {
		ids, err := h.perms.AccessibleObjectIDs(ctx, subject, model.TypeCatalog, model.PermViewCatalog)
		if err != nil {
			return respondError(c, err)
		}
		q = q.Where("id IN ?", ids)
	}

	var rows []model.Catalog
	page, err := pagination.Query(c, h.pager, q, &rows)
	if err != nil {
		return respondError(c, err)
	}
	views, err := h.catalogViews(ctx, rows)
	if err != nil {
		return respondError(c, err)
	}
	page.Results = views
	return c.JSON(http.StatusOK, page)
}

func (h *Handler) catalogViews(ctx context.Context, rows []model.Catalog) ([]catalogView, error) {
	views := make([]catalogView, 0, len(rows))
	for _, r := range rows {
		viewers, err := h.catalogViewers(ctx, h.store.DB(), r.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, catalogView{Catalog: r, Viewers: viewers})
	}
	return views, nil
}

// catalogViewers returns the usernames holding a direct view grant
func (h *Handler) catalogViewers(ctx context.Context, db *gorm.DB, catalogID uint) ([]string, error) {
	names := []string{}
	err := db.WithContext(ctx).Model(&model.User{}).
		Joins("JOIN object_grants ON object_grants.user_id = users.id").
		Where("object_grants.object_type = ? AND object_grants.object_id = ? AND object_grants.permission = ?",
			model.TypeCatalog, catalogID, model.PermViewCatalog).
		Order("users.username").
		Pluck("users.username", &names).Error
	return names, err
}

// catalog loads a catalog the caller may view
func (h *Handler) catalog(c echo.Context) (*model.Catalog, error) {
	ctx := ctxOf(c)
	id, err := idParam(c, "id")
	if err != nil {
		return nil, err
	}
	var cat model.Catalog
	err = h.store.DB().WithContext(ctx).First(&cat, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Catalog %d not found.", id)
	}
	if err != nil {
		return nil, err
	}
	user := currentUser(c)
	if isStaff(user) {
		return &cat, nil
	}
	ok, err := h.perms.HasObjectPermission(ctx, user, model.TypeCatalog, cat.ID, model.PermViewCatalog)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.PermissionDenied("You do not have permission to view this catalog.")
	}
	return &cat, nil
}

func requireStaff(c echo.Context) error {
	if !isStaff(currentUser(c)) {
		return apperr.PermissionDenied("You do not have permission to perform this action.")
	}
	return nil
}

// GetCatalog returns one catalog with its viewers
func (h *Handler) GetCatalog(c echo.Context) error {
	cat, err := h.catalog(c)
	if err != nil {
		return respondError(c, err)
	}
	views, err := h.catalogViews(ctxOf(c), []model.Catalog{*cat})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, views[0])
}

// CreateCatalog stores a new catalog. Viewers that do not exist yet are created.
func (h *Handler) CreateCatalog(c echo.Context) error {
	if err := requireStaff(c); err != nil {
		return respondError(c, err)
	}
	var req catalogRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	if req.Name == nil || req.Query == nil {
		fields := map[string]any{}
		if req.Name == nil {
			fields["name"] = []string{"This field is required."}
		}
		if req.Query == nil {
			fields["query"] = []string{"This field is required."}
		}
		return respondError(c, apperr.Validation("Invalid catalog.").WithDetails(fields))
	}
	cat := &model.Catalog{}
	return h.saveCatalog(c, cat, req, http.StatusCreated)
}

// UpdateCatalog replaces the given fields of a catalog. A viewers list
// replaces the catalog's direct viewer grants.
func (h *Handler) UpdateCatalog(c echo.Context) error {
	if err := requireStaff(c); err != nil {
		return respondError(c, err)
	}
	cat, err := h.catalog(c)
	if err != nil {
		return respondError(c, err)
	}
	var req catalogRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	return h.saveCatalog(c, cat, req, http.StatusOK)
}

func (h *Handler) saveCatalog(c echo.Context, cat *model.Catalog, req catalogRequest, status int) error {
	ctx := ctxOf(c)
	user := currentUser(c)
	if req.Name != nil {
		cat.Name = strings.TrimSpace(*req.Name)
	}
	if req.Query != nil {
		cat.Query = strings.TrimSpace(*req.Query)
	}
	if cat.Name == "" {
		return respondError(c, apperr.Validation("Invalid catalog.").WithDetails(map[string]any{"name": []string{"This field may not be blank."}}))
	}
	if cat.Query == "" {
		return respondError(c, apperr.Validation("Invalid catalog.").WithDetails(map[string]any{"query": []string{"This field may not be blank."}}))
	}
	if _, err := search.ParseQueryString(cat.Query); err != nil {
		return respondError(c, apperr.Validation("Invalid catalog.").WithDetails(map[string]any{"query": []string{apperr.Message(err)}}))
	}

	err := h.store.WithTx(ctx, user.Username, nil, func(tx *store.Tx) error {
		if err := tx.Save(cat); err != nil {
			return err
		}
		if req.Viewers == nil {
			return nil
		}
		return setViewers(tx, cat.ID, *req.Viewers)
	})
	if err != nil {
		return respondError(c, err)
	}

	logger.FromContext(c).Info("Catalog saved", zap.Uint("catalog_id", cat.ID), zap.String("name", cat.Name))
	views, err := h.catalogViews(ctx, []model.Catalog{*cat})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(status, views[0])
}

// setViewers replaces the direct view grants of a catalog
func setViewers(tx *store.Tx, catalogID uint, usernames []string) error {
	db := tx.DB()
	if err := db.Where("object_type = ? AND object_id = ? AND permission = ? AND user_id IS NOT NULL",
		model.TypeCatalog, catalogID, model.PermViewCatalog).
		Delete(&model.ObjectGrant{}).Error; err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, name := range usernames {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		u, err := tx.UserByUsername(name)
		if apperr.Is(err, apperr.KindNotFound) {
			u = model.NewUser(name, "")
			err = db.Create(u).Error
		}
		if err != nil {
			return err
		}
		uid := u.ID
		grant := model.ObjectGrant{UserID: &uid, ObjectType: model.TypeCatalog, ObjectID: catalogID, Permission: model.PermViewCatalog}
		if err := db.Create(&grant).Error; err != nil {
			return err
		}
	}
	return nil
}

// DeleteCatalog removes a catalog and every grant on it
func (h *Handler) DeleteCatalog(c echo.Context) error {
	if err := requireStaff(c); err != nil {
		return respondError(c, err)
	}
	cat, err := h.catalog(c)
	if err != nil {
		return respondError(c, err)
	}
	err = h.store.WithTx(ctxOf(c), currentUser(c).Username, nil, func(tx *store.Tx) error {
		if err := tx.DB().Where("object_type = ? AND object_id = ?", model.TypeCatalog, cat.ID).
			Delete(&model.ObjectGrant{}).Error; err != nil {
			return err
		}
		return tx.Delete(cat)
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// catalogCourseIDs evaluates the catalog query against the course index
func (h *Handler) catalogCourseIDs(c echo.Context, cat *model.Catalog, partner *model.Partner) ([]uint, error) {
	return h.search.MatchingPKs(ctxOf(c), model.TypeCourse, cat.Query, partner.ShortCode)
}

// CatalogCourses lists the courses matched by the catalog query
func (h *Handler) CatalogCourses(c echo.Context) error {
	cat, err := h.catalog(c)
	if err != nil {
		return respondError(c, err)
	}
	partner, err := h.partner(c)
	if err != nil {
		return respondError(c, err)
	}
	pks, err := h.catalogCourseIDs(c, cat, partner)
	if err != nil {
		return respondError(c, err)
	}
	q := h.store.DB().WithContext(ctxOf(c)).Model(&model.Course{}).
		Where("partner_id = ? AND id IN ?", partner.ID, pks).
		Order("key")
	return h.respondCourses(c, q, partner)
}

// CatalogContains reports, per requested course and run, whether the
// catalog includes it. Unknown ids report false.
func (h *Handler) CatalogContains(c echo.Context) error {
	ctx := ctxOf(c)
	cat, err := h.catalog(c)
	if err != nil {
		return respondError(c, err)
	}
	partner, err := h.partner(c)
	if err != nil {
		return respondError(c, err)
	}
	courseRefs := listParam(c, "course_id")
	runRefs := listParam(c, "course_run_id")
	if len(courseRefs) == 0 && len(runRefs) == 0 {
		return respondError(c, apperr.Validation("course_id or course_run_id is required."))
	}

	body := echo.Map{}
	if len(courseRefs) > 0 {
		pks, err := h.catalogCourseIDs(c, cat, partner)
		if err != nil {
			return respondError(c, err)
		}
		in := idSet(pks)
		courses := map[string]bool{}
		for _, ref := range courseRefs {
			course, err := h.store.CourseByUUIDOrKey(partner.ID, ref)
			if err != nil && !apperr.Is(err, apperr.KindNotFound) {
				return respondError(c, err)
			}
			courses[ref] = course != nil && in[course.ID]
		}
		body["courses"] = courses
	}
	if len(runRefs) > 0 {
		pks, err := h.search.MatchingPKs(ctx, model.TypeCourseRun, cat.Query, partner.ShortCode)
		if err != nil {
			return respondError(c, err)
		}
		in := idSet(pks)
		runs := map[string]bool{}
		for _, ref := range runRefs {
			run, err := h.store.CourseRunByKey(partner.ID, ref)
			if err != nil && !apperr.Is(err, apperr.KindNotFound) {
				return respondError(c, err)
			}
			runs[ref] = run != nil && in[run.ID]
		}
		body["course_runs"] = runs
	}
	return c.JSON(http.StatusOK, body)
}

func idSet(ids []uint) map[uint]bool {
	set := make(map[uint]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

var csvHeader = []string{"key", "title", "course_run_keys", "marketing_url", "seat_types"}

// CatalogCSV exports the catalog's courses with their published runs
func (h *Handler) CatalogCSV(c echo.Context) error {
	cat, err := h.catalog(c)
	if err != nil {
		return respondError(c, err)
	}
	partner, err := h.partner(c)
	if err != nil {
		return respondError(c, err)
	}
	pks, err := h.catalogCourseIDs(c, cat, partner)
	if err != nil {
		return respondError(c, err)
	}

	var courses []model.Course
	err = h.store.DB().WithContext(ctxOf(c)).
		Preload("Runs", runFilter{publishedOnly: true}.scope).
		Preload("Runs.Seats").
		Where("partner_id = ? AND id IN ?", partner.ID, pks).
		Order("key").
		Find(&courses).Error
	if err != nil {
		return respondError(c, err)
	}

	user := currentUser(c)
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	res.Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="catalog_%d_%s.csv"`, cat.ID, h.now().UTC().Format("2006-01-02")))
	res.WriteHeader(http.StatusOK)

	w := csv.NewWriter(res)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for i := range courses {
		course := &courses[i]
		var runKeys []string
		seatTypes := map[string]bool{}
		for _, r := range course.Runs {
			runKeys = append(runKeys, r.Key)
			for _, s := range r.Seats {
				seatTypes[s.Type] = true
			}
		}
		types := make([]string, 0, len(seatTypes))
		for t := range seatTypes {
			types = append(types, t)
		}
		sort.Strings(types)
		row := []string{
			course.Key,
			course.Title,
			strings.Join(runKeys, ","),
			withUTM(courseMarketingURL(partner, course), user, boolParam(c, "exclude_utm")),
			strings.Join(types, ","),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
