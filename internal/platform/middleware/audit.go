package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/chartlog/internal/platform/auth"
)

type metaKey struct{}

// RequestMeta is the request provenance attached to audit events.
type RequestMeta struct {
	RequestID string
	IPAddress string
	UserAgent string
}

func WithRequestMeta(ctx context.Context, m RequestMeta) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

// RequestMetaFromContext returns the provenance stored by AccessLog, or the
// zero value for contexts that did not come through HTTP.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	m, _ := ctx.Value(metaKey{}).(RequestMeta)
	return m
}

// AccessLog stores request provenance on the request context, so services can
// stamp it on audit events, and emits one structured access line per API call.
func AccessLog(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			meta := RequestMeta{IPAddress: c.RealIP(), UserAgent: req.UserAgent()}
			meta.RequestID, _ = c.Get("request_id").(string)
			c.SetRequest(req.WithContext(WithRequestMeta(req.Context(), meta)))

			err := next(c)
			if err != nil {
				// render now so the logged status is the one the client sees;
				// the error handler skips committed responses, so outer
				// middleware may still see err
				c.Error(err)
			}

			ctx := c.Request().Context()
			logger.Info().
				Str("type", "access").
				Str("request_id", meta.RequestID).
				Str("user_id", auth.UserIDFromContext(ctx)).
				Strs("user_roles", auth.RolesFromContext(ctx)).
				Str("resource_type", extractResourceType(path)).
				Str("patient_id", extractPatientID(c)).
				Str("action", httpMethodToAction(req.Method)).
				Str("path", path).
				Str("remote_ip", meta.IPAddress).
				Int("status", c.Response().Status).
				Msg("api_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "view"
	}
}

// extractResourceType returns the first path segment after /api/v1/, e.g.
// "lab-results" for /api/v1/lab-results/123.
func extractResourceType(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/")
	if seg, _, _ := strings.Cut(rest, "/"); seg != "" && rest != path {
		return seg
	}
	return "unknown"
}

// extractPatientID looks for /api/v1/patients/<uuid> or a patient_id query param.
func extractPatientID(c echo.Context) string {
	path := c.Request().URL.Path
	if rest, ok := strings.CutPrefix(path, "/api/v1/patients/"); ok {
		seg, _, _ := strings.Cut(rest, "/")
		if _, err := uuid.Parse(seg); err == nil {
			return seg
		}
	}
	return c.QueryParam("patient_id")
}
