package pagination

import (
	"math"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds offset-based pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext extracts pagination parameters from the echo context. It
// accepts page/page_size as well as limit/offset; page wins when both are set.
func FromContext(c echo.Context) Params {
	return FromContextMax(c, MaxLimit)
}

// FromContextMax is FromContext with a caller-chosen upper bound on the page size.
func FromContextMax(c echo.Context, max int) Params {
	if page, err := strconv.Atoi(c.QueryParam("page")); err == nil && page > 0 {
		size, _ := strconv.Atoi(c.QueryParam("page_size"))
		return FromPage(page, size, max)
	}

	limit, _ := strconv.Atoi(c.QueryParam("page_size"))
	if limit <= 0 {
		limit, _ = strconv.Atoi(c.QueryParam("limit"))
	}
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	return New(limit, offset, max)
}

// New clamps limit into [1, max] (DefaultLimit when unset) and offset into
// [0, math.MaxInt-limit] so Offset+Limit never overflows.
func New(limit, offset, max int) Params {
	if max <= 0 {
		max = MaxLimit
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > max {
		limit = max
	}
	if offset < 0 {
		offset = 0
	}
	if offset > math.MaxInt-limit {
		offset = math.MaxInt - limit
	}
	return Params{Limit: limit, Offset: offset}
}

// FromPage converts a 1-based page number and page size into Params.
func FromPage(page, pageSize, max int) Params {
	if page < 1 {
		page = 1
	}
	p := New(pageSize, 0, max)
	if last := math.MaxInt/p.Limit - 1; page-1 > last {
		page = last + 1
	}
	p.Offset = (page - 1) * p.Limit
	return p
}

// Page returns the 1-based page number the params point at.
func (p Params) Page() int {
	if p.Limit <= 0 {
		return 1
	}
	return p.Offset/p.Limit + 1
}

// Response wraps a paginated API response.
type Response struct {
	Data     interface{} `json:"data"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Offset   int         `json:"offset"`
	HasMore  bool        `json:"has_more"`
}

func NewResponse(data interface{}, total int, p Params) *Response {
	return &Response{
		Data:     data,
		Total:    total,
		Page:     p.Page(),
		PageSize: p.Limit,
		Offset:   p.Offset,
		HasMore:  p.HasNext(total),
	}
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}
