package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/pagination"
	"github.com/suteetoe/coursecatalog/internal/publisher"
	"github.com/suteetoe/coursecatalog/internal/store"
	"github.com/suteetoe/coursecatalog/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type createCourseRequest struct {
	Partner          string `json:"partner"`
	Org              string `json:"org"`
	Number           string `json:"number"`
	Title            string `json:"title"`
	ShortDescription string `json:"short_description"`
	FullDescription  string `json:"full_description"`
	Level            string `json:"level"`
}

type updateCourseRequest struct {
	Title            *string `json:"title"`
	ShortDescription *string `json:"short_description"`
	FullDescription  *string `json:"full_description"`
	LearningOutcomes *string `json:"learning_outcomes"`
	Level            *string `json:"level"`
	Prerequisites    *string `json:"prerequisites"`
	ImageURL         *string `json:"image_url"`
	VideoURL         *string `json:"video_url"`
	MarketingSlug    *string `json:"marketing_slug"`
}

func validLevel(level string) bool {
	switch level {
	case "", model.LevelIntroductory, model.LevelIntermediate, model.LevelAdvanced:
		return true
	}
	return false
}

// runFilter narrows the runs embedded in course responses
type runFilter struct {
	includeHidden  bool
	publishedOnly  bool
	marketableOnly bool
}

func runFilterOf(c echo.Context) runFilter {
	return runFilter{
		includeHidden:  boolParam(c, "include_hidden_course_runs"),
		publishedOnly:  boolParam(c, "published_course_runs_only"),
		marketableOnly: boolParam(c, "marketable_course_runs_only"),
	}
}

func (f runFilter) scope(db *gorm.DB) *gorm.DB {
	db = db.Order("start").Order("key")
	if !f.includeHidden {
		db = db.Where("hidden = ?", false)
	}
	if f.publishedOnly || f.marketableOnly {
		db = db.Where("status = ?", model.RunStatusPublished)
	}
	return db
}

// visibleCourseIDs returns the courses subject may read. all is true for
// staff, who read every course.
func (h *Handler) visibleCourseIDs(ctx context.Context, subject *model.User) (ids []uint, all bool, err error) {
	if isStaff(subject) {
		return nil, true, nil
	}
	ids, err = h.perms.AccessibleObjectIDs(ctx, subject, model.TypeCourse, model.PermViewCourse)
	if err != nil {
		return nil, false, err
	}
	var edited []uint
	if err := h.store.DB().WithContext(ctx).Model(&model.CourseEditor{}).
		Where("user_id = ?", subject.ID).
		Pluck("course_id", &edited).Error; err != nil {
		return nil, false, err
	}
	return append(ids, edited...), false, nil
}

func (h *Handler) scopeCourses(ctx context.Context, q *gorm.DB, column string, subject *model.User) (*gorm.DB, error) {
	ids, all, err := h.visibleCourseIDs(ctx, subject)
	if err != nil {
		return nil, err
	}
	if all {
		return q, nil
	}
	return q.Where(column+" IN ?", ids), nil
}

func (h *Handler) canViewCourse(ctx context.Context, subject *model.User, courseID uint) error {
	ids, all, err := h.visibleCourseIDs(ctx, subject)
	if err != nil || all {
		return err
	}
	for _, id := range ids {
		if id == courseID {
			return nil
		}
	}
	return apperr.NotFound("Course not found.")
}

// ListCourses lists the partner's courses the caller may read
func (h *Handler) ListCourses(c echo.Context) error {
	ctx := ctxOf(c)
	subject, err := h.perms.ResolveSubject(ctx, currentUser(c), c.QueryParam("username"))
	if err != nil {
		return respondError(c, err)
	}
	partner, err := h.partner(c)
	if err != nil {
		return respondError(c, err)
	}

	q := h.store.DB().WithContext(ctx).Model(&model.Course{}).Where("partner_id = ?", partner.ID)
	if q, err = h.scopeCourses(ctx, q, "id", subject); err != nil {
		return respondError(c, err)
	}
	if text := c.QueryParam("q"); text != "" {
		pks, err := h.search.MatchingPKs(ctx, model.TypeCourse, text, partner.ShortCode)
		if err != nil {
			return respondError(c, err)
		}
		q = q.Where("id IN ?", pks)
	}
	if keys := listParam(c, "keys"); len(keys) > 0 {
		q = q.Where("key IN ?", keys)
	}
	return h.respondCourses(c, q.Order("key"), partner)
}

// respondCourses paginates q and renders each course with its runs
func (h *Handler) respondCourses(c echo.Context, q *gorm.DB, partner *model.Partner) error {
	var rows []model.Course
	page, err := pagination.Query(c, h.pager, q, &rows)
	if err != nil {
		return respondError(c, err)
	}
	ids := make([]uint, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	courses, err := h.loadCourses(c, ids, partner)
	if err != nil {
		return respondError(c, err)
	}
	page.Results = courses
	return c.JSON(http.StatusOK, page)
}

// loadCourses reads courses with their relations, keeping the order of ids
func (h *Handler) loadCourses(c echo.Context, ids []uint, partner *model.Partner) ([]model.Course, error) {
	out := []model.Course{}
	if len(ids) == 0 {
		return out, nil
	}
	filter := runFilterOf(c)
	byPosition := func(db *gorm.DB) *gorm.DB { return db.Order("position") }

	var courses []model.Course
	err := h.store.DB().WithContext(ctxOf(c)).
		Preload("Runs", filter.scope).
		Preload("Runs.Seats").
		Preload("Organizations", byPosition).
		Preload("Organizations.Organization").
		Preload("Subjects", byPosition).
		Preload("Subjects.Subject").
		Where("id IN ?", ids).
		Find(&courses).Error
	if err != nil {
		return nil, err
	}

	byID := make(map[uint]*model.Course, len(courses))
	for i := range courses {
		byID[courses[i].ID] = &courses[i]
	}
	user := currentUser(c)
	excludeUTM := boolParam(c, "exclude_utm")
	for _, id := range ids {
		course, ok := byID[id]
		if !ok {
			continue
		}
		if filter.marketableOnly {
			runs := course.Runs[:0]
			for _, r := range course.Runs {
				if r.IsMarketable() {
					runs = append(runs, r)
				}
			}
			course.Runs = runs
		}
		course.MarketingURL = withUTM(courseMarketingURL(partner, course), user, excludeUTM)
		out = append(out, *course)
	}
	return out, nil
}

func courseMarketingURL(p *model.Partner, course *model.Course) string {
	if course.MarketingSlug != "" && p.MarketingSiteURLRoot != "" {
		return strings.TrimRight(p.MarketingSiteURLRoot, "/") + "/course/" + course.MarketingSlug
	}
	return course.MarketingURL
}

func programMarketingURL(p *model.Partner, program *model.Program) string {
	if program.MarketingSlug == "" || p.MarketingSiteURLRoot == "" {
		return ""
	}
	return strings.TrimRight(p.MarketingSiteURLRoot, "/") + "/" + strings.ToLower(program.Type) + "/" + program.MarketingSlug
}

// withUTM tags a marketing URL with the requesting user as the referral source
func withUTM(raw string, user *model.User, exclude bool) string {
	if raw == "" || exclude || user == nil {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("utm_source", user.Username)
	q.Set("utm_medium", "affiliate_partner")
	u.RawQuery = q.Encode()
	return u.String()
}

// GetCourse returns one course by key or UUID
func (h *Handler) GetCourse(c echo.Context) error {
	ctx := ctxOf(c)
	partner, err := h.partner(c)
	if err != nil {
		return respondError(c, err)
	}
	course, err := h.store.CourseByUUIDOrKey(partner.ID, c.Param("key"))
	if err != nil {
		return respondError(c, err)
	}
	if err := h.canViewCourse(ctx, currentUser(c), course.ID); err != nil {
		return respondError(c, err)
	}
	courses, err := h.loadCourses(c, []uint{course.ID}, partner)
	if err != nil {
		return respondError(c, err)
	}
	if len(courses) == 0 {
		return respondError(c, apperr.NotFound("Course not found."))
	}
	return c.JSON(http.StatusOK, courses[0])
}

// CreateCourse creates a course under one of the caller's organizations and
// puts it in the draft workflow state with the caller as its course team
func (h *Handler) CreateCourse(c echo.Context) error {
	ctx := ctxOf(c)
	log := logger.FromContext(c)
	user := currentUser(c)

	var req createCourseRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	req.Org = strings.TrimSpace(req.Org)
	req.Number = strings.TrimSpace(req.Number)
	req.Title = strings.TrimSpace(req.Title)
	fields := map[string]any{}
	if req.Org == "" {
		fields["org"] = []string{"This field is required."}
	}
	if req.Number == "" {
		fields["number"] = []string{"This field is required."}
	}
	if req.Title == "" {
		fields["title"] = []string{"This field is required."}
	}
	if !validLevel(req.Level) {
		fields["level"] = []string{"Unknown level."}
	}
	if len(fields) > 0 {
		return respondError(c, apperr.Validation("Invalid course.").WithDetails(fields))
	}

	if req.Partner == "" {
		req.Partner = c.QueryParam("partner")
	}
	partner, err := h.partnerByCode(req.Partner)
	if err != nil {
		return respondError(c, err)
	}
	org, err := h.store.OrganizationByKey(partner.ID, req.Org)
	if err != nil {
		return respondError(c, err)
	}
	if err := h.requireOrgMember(ctx, user, org); err != nil {
		return respondError(c, err)
	}

	key := org.Key + "+" + req.Number
	if _, err := h.store.CourseByKey(partner.ID, key); err == nil {
		return respondError(c, apperr.Conflict("A course with key %s already exists.", key))
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return respondError(c, err)
	}

	course := &model.Course{
		PartnerID:        partner.ID,
		Key:              key,
		Number:           req.Number,
		Title:            req.Title,
		ShortDescription: req.ShortDescription,
		FullDescription:  req.FullDescription,
		Level:            req.Level,
	}
	err = h.store.WithTx(ctx, user.Username, nil, func(tx *store.Tx) error {
		if err := tx.Save(course); err != nil {
			return err
		}
		link := model.CourseOrganization{CourseID: course.ID, OrganizationID: org.ID, Relation: model.RelationAuthoring}
		if err := tx.DB().Create(&link).Error; err != nil {
			return err
		}
		if _, err := publisher.EnsureCourseState(tx, course.ID); err != nil {
			return err
		}
		if err := tx.Save(&model.CourseEditor{UserID: user.ID, CourseID: course.ID}); err != nil {
			return err
		}
		return tx.Save(&model.CourseUserRole{CourseID: course.ID, Role: model.RoleCourseTeam, UserID: user.ID})
	})
	if err != nil {
		return respondError(c, err)
	}

	log.Info("Course created", zap.String("key", key), zap.String("username", user.Username))
	created, err := h.store.LoadCourse(course.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// requireOrgMember allows staff and members of the organization's publisher group
func (h *Handler) requireOrgMember(ctx context.Context, user *model.User, org *model.Organization) error {
	if isStaff(user) {
		return nil
	}
	if org.GroupID != nil {
		groups, err := h.perms.GroupIDs(ctx, user.ID)
		if err != nil {
			return err
		}
		for _, g := range groups {
			if g == *org.GroupID {
				return nil
			}
		}
	}
	return apperr.PermissionDenied("You are not a member of organization %s.", org.Key)
}

// UpdateCourse applies a partial update to a course the caller may edit
func (h *Handler) UpdateCourse(c echo.Context) error {
	ctx := ctxOf(c)
	user := currentUser(c)
	partner, err := h.partner(c)
	if err != nil {
		return respondError(c, err)
	}
	course, err := h.store.CourseByUUIDOrKey(partner.ID, c.Param("key"))
	if err != nil {
		return respondError(c, err)
	}
	if err := h.perms.RequireCourseEdit(ctx, user, course.ID); err != nil {
		return respondError(c, err)
	}

	var req updateCourseRequest
	if err := bind(c, &req); err != nil {
		return respondError(c, err)
	}
	if req.Level != nil && !validLevel(*req.Level) {
		return respondError(c, apperr.Validation("Invalid course.").WithDetails(map[string]any{"level": []string{"Unknown level."}}))
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return respondError(c, apperr.Validation("Invalid course.").WithDetails(map[string]any{"title": []string{"This field may not be blank."}}))
	}

	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&course.Title, req.Title)
	set(&course.ShortDescription, req.ShortDescription)
	set(&course.FullDescription, req.FullDescription)
	set(&course.LearningOutcomes, req.LearningOutcomes)
	set(&course.Level, req.Level)
	set(&course.Prerequisites, req.Prerequisites)
	set(&course.ImageURL, req.ImageURL)
	set(&course.VideoURL, req.VideoURL)
	set(&course.MarketingSlug, req.MarketingSlug)

	if err := h.store.Save(ctx, user.Username, course); err != nil {
		return respondError(c, err)
	}
	updated, err := h.store.LoadCourse(course.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}
