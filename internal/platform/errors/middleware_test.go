package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/PalachSHAXA/kamizo-sub004/internal/adapter/metrics"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext() (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestMiddleware_StructuredError(t *testing.T) {
	m := metrics.NewHTTPMetrics(prometheus.NewRegistry())
	c, rec := newTestContext()

	handler := Middleware(m)(func(c echo.Context) error {
		return ValidationError("invalid input")
	})

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid input", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("validation")))
}

func TestMiddleware_PlainErrorHidesDetail(t *testing.T) {
	m := metrics.NewHTTPMetrics(prometheus.NewRegistry())
	c, rec := newTestContext()

	handler := Middleware(m)(func(c echo.Context) error {
		return errors.New("pq: password authentication failed")
	})

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("internal")))
}

func TestMiddleware_NoError(t *testing.T) {
	c, rec := newTestContext()

	handler := Middleware(nil)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_EchoHTTPErrorPassesThrough(t *testing.T) {
	m := metrics.NewHTTPMetrics(prometheus.NewRegistry())
	c, _ := newTestContext()
	httpErr := echo.NewHTTPError(http.StatusUnauthorized, "missing token")

	handler := Middleware(m)(func(c echo.Context) error {
		return httpErr
	})

	assert.Equal(t, httpErr, handler(c))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("unauthorized")))
}

func TestHandleError(t *testing.T) {
	c, rec := newTestContext()

	require.NoError(t, HandleError(c, nil, ForbiddenError("management role required")))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.NoError(t, HandleError(c, nil, nil))
}

func TestWrapHTTPError(t *testing.T) {
	tests := []struct {
		code     int
		wantType ErrorType
	}{
		{http.StatusBadRequest, TypeValidation},
		{http.StatusUnauthorized, TypeUnauthorized},
		{http.StatusForbidden, TypeForbidden},
		{http.StatusNotFound, TypeNotFound},
		{http.StatusConflict, TypeConflict},
		{http.StatusTooManyRequests, TypeUnavailable},
		{http.StatusBadGateway, TypeExternal},
		{http.StatusTeapot, TypeInternal},
	}

	for _, tt := range tests {
		got := WrapHTTPError(echo.NewHTTPError(tt.code))
		assert.Equal(t, tt.wantType, got.Type, "status %d", tt.code)
	}

	assert.Equal(t, "Not Found", WrapHTTPError(echo.NewHTTPError(http.StatusNotFound)).Message)
}
