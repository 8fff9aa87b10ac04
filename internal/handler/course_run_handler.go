package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/coursekey"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/pagination"
	"github.com/suteetoe/coursecatalog/internal/publisher"
	"github.com/suteetoe/coursecatalog/internal/store"
	"github.com/suteetoe/coursecatalog/pkg/logger"
	"go.uber.org/zap"
)

type createRunRequest struct {
	Course       string     `json:"course"`
	Run          string     `json:"run"`
	Start        *time.Time `json:"start"`
	End          *time.Time `json:"end"`
	Pacing       string     `json:"pacing_type"`
	MinEffort    *int       `json:"min_effort"`
	MaxEffort    *int       `json:"max_effort"`
	LanguageCode string     `json:"content_language"`
}

// ListCourseRuns lists the runs of courses the caller may read
func (h *Handler) ListCourseRuns(c echo.Context) error {
	ctx := ctxOf(c)
	subject, err := h.perms.ResolveSubject(ctx, currentUser(c), c.QueryParam("username"))
	if err != nil {
		return respondError(c, err)
	}
	partner, err := h.partner(c)
	if err != nil {
		return respondError(c, err)
	}

	q := h.store.DB().WithContext(ctx).Model(&model.CourseRun{}).Where("partner_id = ?", partner.ID)
	if q, err = h.scopeCourses(ctx, q, "course_id", subject); err != nil {
		return respondError(c, err)
	}
	if text := c.QueryParam("q"); text != "" {
		pks, err := h.search.MatchingPKs(ctx, model.TypeCourseRun, text, partner.ShortCode)
		if err != nil {
			return respondError(c, err)
		}
		q = q.Where("id IN ?", pks)
	}
	if keys := listParam(c, "keys"); len(keys) > 0 {
		q = q.Where("key IN ?", keys)
	}
	if !boolParam(c, "include_hidden_course_runs") {
		q = q.Where("hidden = ?", false)
	}

	var rows []model.CourseRun
	page, err := pagination.Query(c, h.pager, q.Order("key"), &rows)
	if err != nil {
		return respondError(c, err)
	}
	runs := make([]model.CourseRun, 0, len(rows))
	for _, r := range rows {
		full, err := h.store.LoadCourseRun(r.ID)
		if err != nil {
			return respondError(c, err)
		}
		if boolParam(c, "marketable_course_runs_only") && !full.IsMarketable() {
			continue
		}
		runs = append(runs, *full)
	}
	page.Results = runs
	return c.JSON(http.StatusOK, page)
}

// GetCourseRun returns one run by key
func (h *Handler) GetCourseRun(c echo.Context) error {
	partner, err := h.partner(c)
	if err != nil {
		return respondError(c, err)
	}
	run, err := h.store.CourseRunByKey(partner.ID, c.Param("key"))
	if err != nil {
		return respondError(c, err)
	}
	if err := h.canViewCourse(ctxOf(c), currentUser(c), run.CourseID); err != nil {
		return respondError(c, err)
	}
	full, err := h.store.LoadCourseRun(run.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, full)
}

// CreateCourseRun adds a draft run to a course the caller may edit. Without
// an explicit run segment the key is derived from the start date.
func (h *Handler) CreateCourseRun(c echo.Context) error {
	ctx := ctxOf(c)
	log := logger.FromContext(c)
	user := currentUser(c)

	var req createRunRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	fields := map[string]any{}
	if req.Course == "" {
		fields["course"] = []string{"This field is required."}
	}
	if req.Start == nil {
		fields["start"] = []string{"This field is required."}
	}
	pacing := model.NormalizePacing(req.Pacing)
	if !model.ValidPacing(pacing) {
		fields["pacing_type"] = []string{"Must be instructor or self."}
	}
	if req.Start != nil && req.End != nil && !req.End.After(*req.Start) {
		fields["end"] = []string{"End must be after start."}
	}
	if req.MinEffort != nil && req.MaxEffort != nil && *req.MinEffort > *req.MaxEffort {
		fields["max_effort"] = []string{"Max effort must not be less than min effort."}
	}
	if req.Run != "" && !coursekey.ValidRun(req.Run) {
		fields["run"] = []string{"Invalid run segment."}
	}
	if len(fields) > 0 {
		return respondError(c, apperr.Validation("Invalid course run.").WithDetails(fields))
	}

	partner, err := h.partner(c)
	if err != nil {
		return respondError(c, err)
	}
	course, err := h.store.CourseByUUIDOrKey(partner.ID, req.Course)
	if err != nil {
		return respondError(c, err)
	}
	if err := h.perms.RequireCourseEdit(ctx, user, course.ID); err != nil {
		return respondError(c, err)
	}

	run := &model.CourseRun{
		PartnerID:    partner.ID,
		CourseID:     course.ID,
		Start:        req.Start,
		End:          req.End,
		Pacing:       pacing,
		MinEffort:    req.MinEffort,
		MaxEffort:    req.MaxEffort,
		LanguageCode: req.LanguageCode,
		Status:       model.RunStatusDraft,
	}
	err = h.store.WithTx(ctx, user.Username, nil, func(tx *store.Tx) error {
		existing, err := tx.RunsOfCourse(course.ID)
		if err != nil {
			return err
		}
		keys := make([]string, len(existing))
		for i, r := range existing {
			keys[i] = r.Key
		}
		segment := req.Run
		if segment == "" {
			if segment, err = coursekey.ComputeRun(*req.Start, keys); err != nil {
				return apperr.Wrap(apperr.KindConflict, err, "No free run key is left for this start date.")
			}
		}
		run.Key = course.Key + "+" + segment
		for _, k := range keys {
			if k == run.Key {
				return apperr.Conflict("Course run %s already exists.", run.Key)
			}
		}
		if err := tx.Save(run); err != nil {
			return err
		}
		_, err = publisher.EnsureRunState(tx, run.ID)
		return err
	})
	if err != nil {
		return respondError(c, err)
	}

	log.Info("Course run created", zap.String("key", run.Key), zap.String("username", user.Username))
	full, err := h.store.LoadCourseRun(run.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, full)
}
