package api

import (
	"github.com/gin-gonic/gin"

	"clobex.com/internal/engine"
	"clobex.com/internal/fixed"
	"clobex.com/pkg/common"
)

func (h *Handler) Balance(c *gin.Context) {
	trader, asset := c.Param("trader"), c.Param("asset")
	avail, locked := h.eng.Ledger().Balance(trader, asset)
	d := h.assetDecimals(asset)
	common.Success(c, BalanceView{
		Trader:    trader,
		Asset:     asset,
		Available: fixed.FormatUnits(avail, d),
		Locked:    fixed.FormatUnits(locked, d),
	})
}

type TransferReq struct {
	Trader string `json:"trader" binding:"required"`
	Asset  string `json:"asset" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

func (h *Handler) Deposit(c *gin.Context)  { h.transfer(c, engine.CmdDeposit) }
func (h *Handler) Withdraw(c *gin.Context) { h.transfer(c, engine.CmdWithdraw) }

// transfer 充值/提现只记账，链上托管由外部系统负责
func (h *Handler) transfer(c *gin.Context, typ engine.CmdType) {
	var req TransferReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, paramErr(err))
		return
	}
	d := h.assetDecimals(req.Asset)
	amount, err := fixed.ParseUnits(req.Amount, d)
	if err != nil {
		common.FailErr(c, bizErr(err))
		return
	}
	res, err := h.do(c, engine.Command{Type: typ, Trader: req.Trader, Asset: req.Asset, Amount: amount})
	if err != nil {
		common.FailErr(c, err)
		return
	}
	avail, locked := h.eng.Ledger().Balance(req.Trader, req.Asset)
	bv := BalanceView{
		Trader:    req.Trader,
		Asset:     req.Asset,
		Available: fixed.FormatUnits(avail, d),
		Locked:    fixed.FormatUnits(locked, d),
	}
	common.Success(c, gin.H{"seq": res.Seq, "balance": bv})
}
