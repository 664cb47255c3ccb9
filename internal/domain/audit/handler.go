package audit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/chartlog/internal/platform/auth"
)

type Handler struct {
	svc   *Service
	audit *Logger
}

func NewHandler(svc *Service, audit *Logger) *Handler {
	return &Handler{svc: svc, audit: audit}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/audit-logs", auth.RequireRole("admin"))
	read.GET("", h.ListAuditLogs)
	read.GET("/:id", h.GetAuditLog)

	api.POST("/sessions/login", h.RecordLogin)
	api.POST("/sessions/logout", h.RecordLogout)
}

// RecordLogin is called by the front end once the identity provider has
// signed the user in.
func (h *Handler) RecordLogin(c echo.Context) error {
	ctx := c.Request().Context()
	h.audit.Login(ctx, auth.UserIDFromContext(ctx))
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RecordLogout(c echo.Context) error {
	ctx := c.Request().Context()
	h.audit.Logout(ctx, auth.UserIDFromContext(ctx))
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetAuditLog(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.Detail(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "audit log not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

type listResponse struct {
	Data     []*Event `json:"data"`
	Total    int      `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}

func (h *Handler) ListAuditLogs(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(c.QueryParam("page_size"))
	if size <= 0 {
		size = h.svc.Options().DefaultPageSize
	}
	if size > h.svc.Options().MaxPageSize {
		size = h.svc.Options().MaxPageSize
	}

	items, total, err := h.svc.List(c.Request().Context(), f, page, size)
	if errors.Is(err, ErrInvalidFilter) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listResponse{Data: items, Total: total, Page: page, PageSize: size})
}

func filterFromQuery(c echo.Context) (Filter, error) {
	f := Filter{
		ResourceType: c.QueryParam("resource_type"),
		ResourceID:   c.QueryParam("resource_id"),
		ActorID:      c.QueryParam("actor_id"),
	}
	if v := c.QueryParam("action"); v != "" {
		a, err := ParseAction(v)
		if err != nil {
			return f, err
		}
		f.Action = a
	}
	var err error
	if f.From, err = parseBound(c.QueryParam("from"), false); err != nil {
		return f, err
	}
	if f.To, err = parseBound(c.QueryParam("to"), true); err != nil {
		return f, err
	}
	return f, nil
}

// parseBound accepts RFC 3339 timestamps or plain dates. A plain date used as
// an upper bound covers the whole day.
func parseBound(v string, upper bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, errors.New("from/to must be RFC 3339 timestamps or YYYY-MM-DD dates")
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
