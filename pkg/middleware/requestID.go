package middleware

import (
	"github.com/gin-gonic/gin"

	"clobex.com/pkg/common"
	"clobex.com/pkg/logger"
)

func ReqId() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(common.HeaderRequestID)
		if rid == "" {
			rid = common.New()
		}
		c.Set(common.CtxKeyRequestID, rid)
		c.Header(common.HeaderRequestID, rid)
		// 之后用请求 ctx 打的日志都带 req_id，命令也会带着它进引擎
		c.Request = c.Request.WithContext(logger.WithReqID(c.Request.Context(), rid))
		c.Next()
	}
}
