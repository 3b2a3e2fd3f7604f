package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"siplink/internal/config"
	"siplink/pkg/logger"
)

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Audio: config.DefaultAudioConfig()}
	s := NewServer(cfg, logger.NewNop())

	r := gin.New()
	s.RegisterRoutes(r)
	return r
}

func TestHealthEndpoint(t *testing.T) {
	r := testRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), `"active_calls":0`)
}

func TestUnknownCallReturns404(t *testing.T) {
	r := testRouter()

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/calls/nope", nil),
		httptest.NewRequest(http.MethodDelete, "/calls/nope", nil),
		httptest.NewRequest(http.MethodPost, "/calls/nope/answered", nil),
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code, req.URL.Path)
	}
}
