package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"clobex.com/internal/config"
	"clobex.com/internal/engine"
	"clobex.com/pkg/common"
)

// SetFees body 只有 maker_bps/taker_bps 时调整当前固定费率；带 mode 时整体替换费率表
func (h *Handler) SetFees(c *gin.Context) {
	m, ok := h.market(c)
	if !ok {
		return
	}
	var req config.FeeConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, paramErr(err))
		return
	}
	cmd := engine.Command{Type: engine.CmdSetFees, Market: m.Name(), MakerBps: req.MakerBps, TakerBps: req.TakerBps}
	if req.Mode != "" {
		s, err := req.Schedule(m.Info().QuoteDecimals)
		if err != nil {
			common.FailErr(c, bizErr(err))
			return
		}
		cmd = engine.Command{Type: engine.CmdSetFeeSchedule, Market: m.Name(), Schedule: &s}
	}
	if _, err := h.do(c, cmd); err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, marketView(m))
}

type RecipientReq struct {
	Address string `json:"address" binding:"required"`
}

func (h *Handler) SetFeeRecipient(c *gin.Context) {
	m, ok := h.market(c)
	if !ok {
		return
	}
	var req RecipientReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, paramErr(err))
		return
	}
	if _, err := h.do(c, engine.Command{Type: engine.CmdSetFeeRecipient, Market: m.Name(), Address: req.Address}); err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, marketView(m))
}

type MarketMakerReq struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) SetMarketMaker(c *gin.Context) {
	m, ok := h.market(c)
	if !ok {
		return
	}
	var req MarketMakerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, paramErr(err))
		return
	}
	if req.Enabled == nil {
		common.FailErr(c, paramErr(errors.New("enabled is required")))
		return
	}
	cmd := engine.Command{Type: engine.CmdSetMarketMaker, Market: m.Name(), Address: c.Param("trader"), Flag: *req.Enabled}
	if _, err := h.do(c, cmd); err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, marketView(m))
}
