package api

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"clobex.com/internal/kline"
	"clobex.com/pkg/common"
)

const (
	defaultKlines = 100
	maxKlines     = 1000
)

// Klines 最近收盘的 K 线，按时间升序；没开行情聚合时返回空列表
func (h *Handler) Klines(c *gin.Context) {
	m, ok := h.market(c)
	if !ok {
		return
	}
	tf := c.DefaultQuery("interval", "1m")
	d, ok := kline.ParseTF(tf)
	if !ok {
		common.FailErr(c, paramErr(fmt.Errorf("unsupported interval %q", tf)))
		return
	}
	limit, ok := intQuery(c, "limit", defaultKlines, maxKlines)
	if !ok {
		return
	}
	out := []kline.BarDTO{}
	if h.klines != nil {
		info := m.Info()
		dec := kline.Decimals{Base: info.BaseDecimals, Quote: info.QuoteDecimals}
		for _, b := range h.klines.Recent(info.Name, d, limit) {
			out = append(out, kline.ToDTO(b, dec))
		}
	}
	common.Success(c, out)
}
