package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"clobex.com/pkg/common"
	"clobex.com/pkg/logger"
	"clobex.com/pkg/metrics"
	"clobex.com/pkg/xerr"
)

// AdminToken 管理接口鉴权；token 为空时管理接口整体关闭
func AdminToken(token func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		want := token()
		got := c.GetHeader(common.HeaderAdminToken)
		reason := ""
		switch {
		case want == "":
			reason = "disabled"
		case subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1:
			reason = "bad_token"
		}
		if reason != "" {
			logger.Warn(c.Request.Context(), "admin request rejected",
				zap.String("request_id", common.RequestIDFromGin(c)),
				zap.String("path", c.Request.URL.Path),
				zap.String("reason", reason),
			)
			metrics.AdminRejectTotal.WithLabelValues(c.Request.Method, reason).Inc()
			common.Fail(c, http.StatusForbidden, xerr.AdminDenied, xerr.MapErrMsg(xerr.AdminDenied))
			c.Abort()
			return
		}
		c.Next()
	}
}
