package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, e *echo.Echo, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/containers", nil)
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAPIKey(t *testing.T) {
	log := zerowrap.Default()
	called := 0
	e := echo.New()
	e.Use(APIKey("s3cret", log))
	e.GET("/containers", func(c echo.Context) error {
		called++
		return c.NoContent(http.StatusOK)
	})

	rec := serve(t, e, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())

	rec = serve(t, e, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, called)

	rec = serve(t, e, "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, called)
}

func TestAPIKey_EmptyKeyRejectsEverything(t *testing.T) {
	e := echo.New()
	e.Use(APIKey("", zerowrap.Default()))
	e.GET("/containers", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	assert.Equal(t, http.StatusUnauthorized, serve(t, e, "").Code)
}

func TestRequestLogger_AttachesLogger(t *testing.T) {
	e := echo.New()
	e.Use(RequestLogger(zerowrap.Default()))
	e.GET("/containers", func(c echo.Context) error {
		log := zerowrap.FromCtx(c.Request().Context())
		log.Debug().Msg("inside handler")
		return c.NoContent(http.StatusOK)
	})

	rec := serve(t, e, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestRecover(t *testing.T) {
	e := echo.New()
	e.Use(Recover(zerowrap.Default()))
	e.GET("/containers", func(echo.Context) error { panic(errors.New("boom")) })

	assert.Equal(t, http.StatusInternalServerError, serve(t, e, "").Code)
}
