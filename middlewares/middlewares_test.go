package middlewares

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ClinicQueue/apperr"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestValidateProfileSecret(t *testing.T) {
	r := newEngine(ValidateProfileSecret("s3cret"))

	tests := []struct {
		name   string
		secret string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"prefix of secret", "s3c", http.StatusUnauthorized},
		{"valid", "s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tt.secret != "" {
				req.Header.Set(ProfileSecretHeader, tt.secret)
			}
			w := serve(r, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestLoggingMiddlewareSetsRequestID(t *testing.T) {
	r := newEngine(LoggingMiddleware(nil))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = serve(r, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestCorsPreflight(t *testing.T) {
	r := newEngine(CorsMiddleware(DefaultCorsConfig([]string{"http://localhost:3000"})))

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), ProfileSecretHeader)

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{apperr.New(apperr.Conflict, "dup"), http.StatusConflict},
		{apperr.New(apperr.CapacityExceeded, "full"), http.StatusConflict},
		{apperr.New(apperr.InvalidTransition, "no"), http.StatusConflict},
		{apperr.New(apperr.NotFound, "gone"), http.StatusNotFound},
		{apperr.New(apperr.MalformedInput, "bad"), http.StatusBadRequest},
		{apperr.Storage(errors.New("db down"), "read"), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, StatusOf(tt.err), "%v", tt.err)
	}
}

func TestHttpErrorBody(t *testing.T) {
	r := gin.New()
	r.GET("/fail", func(c *gin.Context) {
		HttpError(c, nil, apperr.Storage(errors.New("connection refused"), "failed to load day"))
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "storage_failure", body.Error.Code)
	assert.Equal(t, "failed to load day", body.Error.Message)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestStreamAdmissionOnlyCountsStreams(t *testing.T) {
	isStream := func(c *gin.Context) bool { return c.Query("stream") == "true" }
	r := newEngine(NewStreamAdmission(RateLimiterConfig{RequestsPerSecond: 0.001, Burst: 2}, isStream))

	for i := 0; i < 2; i++ {
		w := serve(r, httptest.NewRequest(http.MethodGet, "/ping?stream=true", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := serve(r, httptest.NewRequest(http.MethodGet, "/ping?stream=true", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	w = serve(r, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
