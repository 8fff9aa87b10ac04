package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/pagination"
	"gorm.io/gorm"
)

type programView struct {
	model.Program
	MarketingURL string `json:"marketing_url"`
}

// ListPrograms lists the partner's programs. Deleted programs are hidden
// unless asked for through the status parameter.
func (h *Handler) ListPrograms(c echo.Context) error {
	ctx := ctxOf(c)
	partner, err := h.partner(c)
	if err != nil {
		return respondError(c, err)
	}

	q := h.store.DB().WithContext(ctx).Model(&model.Program{}).Where("partner_id = ?", partner.ID)
	if text := c.QueryParam("q"); text != "" {
		pks, err := h.search.MatchingPKs(ctx, model.TypeProgram, text, partner.ShortCode)
		if err != nil {
			return respondError(c, err)
		}
		q = q.Where("id IN ?", pks)
	}
	if statuses := listParam(c, "status"); len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	} else {
		q = q.Where("status <> ?", model.ProgramStatusDeleted)
	}
	if types := listParam(c, "types"); len(types) > 0 {
		for i := range types {
			types[i] = strings.ToLower(types[i])
		}
		q = q.Where("LOWER(type) IN ?", types)
	}
	if uuids := listParam(c, "uuids"); len(uuids) > 0 {
		q = q.Where("uuid IN ?", uuids)
	}
	if boolParam(c, "marketable") {
		q = q.Where("marketing_slug <> '' AND status = ?", model.ProgramStatusActive)
	}
	q = q.Order("title").Order("id")

	if boolParam(c, "uuids_only") {
		uuids := []string{}
		if err := q.Pluck("uuid", &uuids).Error; err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, uuids)
	}

	var rows []model.Program
	page, err := pagination.Query(c, h.pager, q, &rows)
	if err != nil {
		return respondError(c, err)
	}
	views := make([]programView, 0, len(rows))
	for _, r := range rows {
		v, err := h.programView(c, partner, r.ID)
		if err != nil {
			return respondError(c, err)
		}
		views = append(views, *v)
	}
	page.Results = views
	return c.JSON(http.StatusOK, page)
}

// GetProgram returns one program by UUID
func (h *Handler) GetProgram(c echo.Context) error {
	partner, err := h.partner(c)
	if err != nil {
		return respondError(c, err)
	}
	var p model.Program
	err = h.store.DB().WithContext(ctxOf(c)).
		Where("partner_id = ? AND uuid = ?", partner.ID, c.Param("uuid")).
		Select("id").
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return respondError(c, apperr.NotFound("Program not found."))
	}
	if err != nil {
		return respondError(c, err)
	}
	v, err := h.programView(c, partner, p.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) programView(c echo.Context, partner *model.Partner, id uint) (*programView, error) {
	p, err := h.store.LoadProgram(id)
	if err != nil {
		return nil, err
	}
	return &programView{
		Program:      *p,
		MarketingURL: withUTM(programMarketingURL(partner, p), currentUser(c), boolParam(c, "exclude_utm")),
	}, nil
}
