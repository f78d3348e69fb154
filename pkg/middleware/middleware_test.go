package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"clobex.com/pkg/common"
	"clobex.com/pkg/ratelimit"
)

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/ok", func(c *gin.Context) { common.Success(c, common.RequestIDFromGin(c)) })
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReqId_EchoesHeader(t *testing.T) {
	r := newEngine(ReqId())

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(common.HeaderRequestID, "rid-1")
	w := serve(r, req)
	assert.Equal(t, "rid-1", w.Header().Get(common.HeaderRequestID))
	assert.Contains(t, w.Body.String(), "rid-1")

	w = serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.NotEmpty(t, w.Header().Get(common.HeaderRequestID))
}

func TestRecover_Returns500(t *testing.T) {
	r := newEngine(ReqId(), Recover())
	w := serve(r, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_Blocks(t *testing.T) {
	store := ratelimit.NewStore(1, 2, time.Minute)
	r := newEngine(RateLimit(store))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil)).Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestAdminToken(t *testing.T) {
	token := "s3cret"
	r := newEngine(AdminToken(func() string { return token }))

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(common.HeaderAdminToken, "s3cret")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)

	token = ""
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)
}
