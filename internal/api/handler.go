package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"clobex.com/internal/clob"
	"clobex.com/internal/engine"
	"clobex.com/internal/kline"
	"clobex.com/pkg/common"
	"clobex.com/pkg/logger"
)

const (
	defaultDepth   = 20
	maxDepth       = 500
	defaultTimeout = 3 * time.Second
)

// Handler 查询直接读市场（读锁），写操作全部经过引擎的定序器
type Handler struct {
	eng     *engine.Engine
	timeout time.Duration
	// 资产精度，余额接口格式化用；未知资产按 18 位
	decimals map[string]int32
	klines   *kline.History
}

func NewHandler(eng *engine.Engine, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	h := &Handler{eng: eng, timeout: timeout, decimals: make(map[string]int32)}
	for _, m := range eng.Markets() {
		info := m.Info()
		h.decimals[info.Base] = info.BaseDecimals
		h.decimals[info.Quote] = info.QuoteDecimals
	}
	return h
}

// WithKlines 挂上 K 线历史，nil 表示不提供
func (h *Handler) WithKlines(k *kline.History) *Handler {
	h.klines = k
	return h
}

func (h *Handler) assetDecimals(asset string) int32 {
	if d, ok := h.decimals[asset]; ok {
		return d
	}
	return 18
}

// do 提交命令并等待执行结果
func (h *Handler) do(c *gin.Context, cmd engine.Command) (engine.Result, error) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	cmd.ReqID = common.RequestIDFromGin(c)
	res, err := h.eng.Do(ctx, cmd)
	if errors.Is(err, engine.ErrEngineBusy) || errors.Is(err, engine.ErrStopped) || errors.Is(err, context.DeadlineExceeded) {
		// ctx 上带着 req_id
		logger.Warn(c.Request.Context(), "engine unavailable", zap.Stringer("cmd", cmd.Type), zap.Error(err))
	}
	return res, bizErr(err)
}

func (h *Handler) market(c *gin.Context) (*clob.Market, bool) {
	m, err := h.eng.Market(c.Param("market"))
	if err != nil {
		common.FailErr(c, bizErr(err))
		return nil, false
	}
	return m, true
}

func uintParam(c *gin.Context, name string) (uint64, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		common.FailErr(c, paramErr(err))
		return 0, false
	}
	return v, true
}

func intQuery(c *gin.Context, name string, def, max int) (int, bool) {
	s := c.Query(name)
	if s == "" {
		return def, true
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		common.FailErr(c, paramErr(strconv.ErrSyntax))
		return 0, false
	}
	if max > 0 && v > max {
		v = max
	}
	return v, true
}
