// Package middleware provides echo middleware for the node agent's HTTP API.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/bnema/zerowrap"
	"github.com/labstack/echo/v4"

	"github.com/bnema/flotilla/internal/adapters/dto"
)

// APIKeyHeader carries the shared secret on every agent request.
const APIKeyHeader = "X-API-Key"

// APIKey rejects requests whose X-API-Key does not match key. Rejected
// requests never reach the handler.
func APIKey(key string, log zerowrap.Logger) echo.MiddlewareFunc {
	expected := []byte(key)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			provided := []byte(c.Request().Header.Get(APIKeyHeader))

			// Use constant-time comparison to prevent timing attacks
			if len(expected) == 0 || subtle.ConstantTimeCompare(provided, expected) != 1 {
				log.Warn().
					Str(zerowrap.FieldLayer, "adapter").
					Str(zerowrap.FieldAdapter, "http").
					Str(zerowrap.FieldMethod, c.Request().Method).
					Str(zerowrap.FieldPath, c.Request().URL.Path).
					Str(zerowrap.FieldClientIP, c.RealIP()).
					Bool("has_key", len(provided) > 0).
					Msg("unauthorized agent request")
				return c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "unauthorized"})
			}
			return next(c)
		}
	}
}
