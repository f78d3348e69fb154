package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"golang.org/x/time/rate"

	"clobex.com/internal/engine"
	"clobex.com/internal/kline"
	"clobex.com/internal/ws"
	"clobex.com/pkg/middleware"
	"clobex.com/pkg/ratelimit"
)

type Options struct {
	Addr string
	// 每个 IP+路由 的限流；<=0 不限流
	RateLimit float64
	Burst     int
	// 管理口令，热更新时每次请求重新读取
	AdminToken func() string
	// 单个写请求等待撮合结果的超时
	Timeout time.Duration

	// 行情：K 线历史和 websocket 推送，都可以为 nil
	Klines *kline.History
	WS     *ws.Server
}

// NewRouter 注册所有路由；ctx 结束时停止限流器的清理协程
func NewRouter(ctx context.Context, eng *engine.Engine, opt Options) *gin.Engine {
	r := gin.New()
	// 自带 /metrics，引擎指标注册在默认 registry 上一起暴露
	p := ginprom.NewPrometheus("clobex")
	// 按路由模板打标签，避免订单 id 撑爆维度
	p.ReqCntURLLabelMappingFn = func(c *gin.Context) string { return c.FullPath() }
	p.Use(r)
	r.Use(
		middleware.ReqId(),
		cors.Default(),
		middleware.Recover(),
	)
	if opt.RateLimit > 0 {
		burst := opt.Burst
		if burst <= 0 {
			burst = int(opt.RateLimit) * 2
		}
		store := ratelimit.NewStore(rate.Limit(opt.RateLimit), burst, 10*time.Minute)
		store.StartJanitor(ctx, time.Minute)
		r.Use(middleware.RateLimit(store))
	}
	token := opt.AdminToken
	if token == nil {
		token = func() string { return "" }
	}

	if opt.WS != nil {
		r.GET("/ws", gin.WrapF(opt.WS.ServeWS))
	}

	h := NewHandler(eng, opt.Timeout).WithKlines(opt.Klines)
	api := r.Group("/api")
	Markets(api, h)
	Balances(api, h)
	Admin(api.Group("/admin", middleware.AdminToken(token)), h)
	return r
}

func NewServer(ctx context.Context, eng *engine.Engine, opt Options) *http.Server {
	return &http.Server{
		Addr:           opt.Addr,
		Handler:        NewRouter(ctx, eng, opt),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}
