package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// SearchFacets runs a faceted search of the search type in the path
func (h *Handler) SearchFacets(c echo.Context) error {
	pg, err := h.pager.For(c)
	if err != nil {
		return respondError(c, err)
	}
	offset, limit := pg.Window()
	res, err := h.search.Facets(ctxOf(c), c.Param("type"), c.Request().URL, offset, limit)
	if err != nil {
		return respondError(c, err)
	}
	res.Next, res.Previous = pg.Links(res.Count)
	return c.JSON(http.StatusOK, res)
}
