// Package pagination selects page-number or limit/offset pagination per
// request and keeps that choice for the rest of the request.
package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/coursecatalog/internal/apperr"
	"gorm.io/gorm"
)

// Mode is the pagination style in effect for a request
type Mode int

const (
	LimitOffset Mode = iota
	PageNumber
)

func (m Mode) String() string {
	if m == PageNumber {
		return "page_number"
	}
	return "limit_offset"
}

const memoKey = "pagination.paginator"

// Page is the paginated response envelope
type Page struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  any     `json:"results"`
}

// Paginator is the contract both styles share
type Paginator interface {
	Mode() Mode
	// Window returns the offset and limit to read
	Window() (offset, limit int)
	// Links returns the next and previous page URLs, nil at either end
	Links(total int) (next, previous *string)
	// Respond wraps a page of results
	Respond(total int, results any) Page
}

// Proxy picks a paginator from the query string
type Proxy struct {
	DefaultPageSize int
	MaxPageSize     int
}

// NewProxy creates a proxy with the given page size bounds
func NewProxy(defaultSize, maxSize int) *Proxy {
	return &Proxy{DefaultPageSize: defaultSize, MaxPageSize: maxSize}
}

// For returns the paginator for the request, building it on first use
func (p *Proxy) For(c echo.Context) (Paginator, error) {
	if pg, ok := c.Get(memoKey).(Paginator); ok {
		return pg, nil
	}
	pg, err := p.build(c.Request().URL)
	if err != nil {
		return nil, err
	}
	c.Set(memoKey, pg)
	return pg, nil
}

func (p *Proxy) build(u *url.URL) (Paginator, error) {
	q := u.Query()
	if q.Has("page") || q.Has("page_size") {
		page, err := positiveParam(q, "page", 1)
		if err != nil {
			return nil, err
		}
		size, err := positiveParam(q, "page_size", p.DefaultPageSize)
		if err != nil {
			return nil, err
		}
		return &pageNumber{base: *u, page: page, size: p.clamp(size)}, nil
	}

	limit, err := positiveParam(q, "limit", p.DefaultPageSize)
	if err != nil {
		return nil, err
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return nil, apperr.Validation("offset must be a non-negative integer")
		}
	}
	return &limitOffset{base: *u, limit: p.clamp(limit), offset: offset}, nil
}

func (p *Proxy) clamp(n int) int {
	if p.MaxPageSize > 0 && n > p.MaxPageSize {
		return p.MaxPageSize
	}
	return n
}

func positiveParam(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, apperr.Validation("%s must be a positive integer", name)
	}
	return n, nil
}

func withParams(base url.URL, set map[string]int, drop ...string) *string {
	q := base.Query()
	for k, v := range set {
		q.Set(k, strconv.Itoa(v))
	}
	for _, k := range drop {
		q.Del(k)
	}
	base.RawQuery = q.Encode()
	s := base.String()
	return &s
}

type pageNumber struct {
	base url.URL
	page int
	size int
}

func (p *pageNumber) Mode() Mode { return PageNumber }

func (p *pageNumber) Window() (int, int) {
	return (p.page - 1) * p.size, p.size
}

func (p *pageNumber) Links(total int) (*string, *string) {
	var next, prev *string
	if p.page*p.size < total {
		next = withParams(p.base, map[string]int{"page": p.page + 1})
	}
	if p.page > 1 {
		if p.page == 2 {
			prev = withParams(p.base, nil, "page")
		} else {
			prev = withParams(p.base, map[string]int{"page": p.page - 1})
		}
	}
	return next, prev
}

func (p *pageNumber) Respond(total int, results any) Page {
	next, prev := p.Links(total)
	return Page{Count: total, Next: next, Previous: prev, Results: results}
}

type limitOffset struct {
	base   url.URL
	limit  int
	offset int
}

func (l *limitOffset) Mode() Mode { return LimitOffset }

func (l *limitOffset) Window() (int, int) {
	return l.offset, l.limit
}

func (l *limitOffset) Links(total int) (*string, *string) {
	var next, prev *string
	if l.offset+l.limit < total {
		next = withParams(l.base, map[string]int{"limit": l.limit, "offset": l.offset + l.limit})
	}
	if l.offset > 0 {
		if l.offset-l.limit <= 0 {
			prev = withParams(l.base, map[string]int{"limit": l.limit}, "offset")
		} else {
			prev = withParams(l.base, map[string]int{"limit": l.limit, "offset": l.offset - l.limit})
		}
	}
	return next, prev
}

func (l *limitOffset) Respond(total int, results any) Page {
	next, prev := l.Links(total)
	return Page{Count: total, Next: next, Previous: prev, Results: results}
}

// Query counts q, reads the request's window into out and wraps it in a Page
func Query[T any](c echo.Context, p *Proxy, q *gorm.DB, out *[]T) (Page, error) {
	pg, err := p.For(c)
	if err != nil {
		return Page{}, err
	}
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return Page{}, err
	}
	offset, limit := pg.Window()
	if err := q.Session(&gorm.Session{}).Offset(offset).Limit(limit).Find(out).Error; err != nil {
		return Page{}, err
	}
	if *out == nil {
		*out = []T{}
	}
	return pg.Respond(int(total), *out), nil
}
