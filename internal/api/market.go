package api

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"

	"clobex.com/internal/engine"
	"clobex.com/internal/order"
	"clobex.com/pkg/common"
	"clobex.com/pkg/xerr"
)

func (h *Handler) Markets(c *gin.Context) {
	ms := h.eng.Markets()
	out := make([]MarketView, 0, len(ms))
	for _, m := range ms {
		out = append(out, marketView(m))
	}
	common.Success(c, out)
}

func (h *Handler) Market(c *gin.Context) {
	m, ok := h.market(c)
	if !ok {
		return
	}
	common.Success(c, marketView(m))
}

func (h *Handler) Book(c *gin.Context) {
	m, ok := h.market(c)
	if !ok {
		return
	}
	depth, ok := intQuery(c, "depth", defaultDepth, maxDepth)
	if !ok {
		return
	}
	common.Success(c, bookView(m, depth))
}

func (h *Handler) Order(c *gin.Context) {
	m, ok := h.market(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	o, err := m.Order(id)
	if err != nil {
		common.FailErr(c, bizErr(err))
		return
	}
	common.Success(c, unitsOf(m.Info()).order(o))
}

func (h *Handler) TraderOrders(c *gin.Context) {
	m, ok := h.market(c)
	if !ok {
		return
	}
	u := unitsOf(m.Info())
	list := m.OrdersOf(c.Param("trader"), c.Query("open") == "true")
	out := make([]OrderView, 0, len(list))
	for _, o := range list {
		out = append(out, u.order(o))
	}
	common.Success(c, out)
}

type SubmitReq struct {
	Trader   string `json:"trader" binding:"required"`
	Side     string `json:"side" binding:"required"`
	Kind     string `json:"kind"`
	Price    string `json:"price"`
	Amount   string `json:"amount" binding:"required"`
	MaxQuote string `json:"max_quote"`
}

type SubmitResp struct {
	Seq   uint64    `json:"seq"`
	Order OrderView `json:"order"`
}

func (h *Handler) Submit(c *gin.Context) {
	m, ok := h.market(c)
	if !ok {
		return
	}
	var req SubmitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, paramErr(err))
		return
	}
	u := unitsOf(m.Info())
	cmd := engine.Command{Type: engine.CmdSubmit, Market: m.Name(), Trader: req.Trader}
	if cmd.Side, ok = order.ParseSide(req.Side); !ok {
		common.FailErr(c, paramErr(fmt.Errorf("side %q", req.Side)))
		return
	}
	if cmd.Kind, ok = order.ParseKind(req.Kind); !ok {
		common.FailErr(c, paramErr(fmt.Errorf("kind %q", req.Kind)))
		return
	}
	var err error
	if cmd.Amount, err = u.parseAmount(req.Amount); err != nil {
		common.FailErr(c, bizErr(fmt.Errorf("amount: %w", err)))
		return
	}
	if cmd.Kind == order.Limit {
		if cmd.Price, err = u.parsePrice(req.Price); err != nil {
			common.FailErr(c, xerr.Wrap(err, xerr.InvalidPrice, ""))
			return
		}
	}
	if req.MaxQuote != "" {
		if cmd.MaxQuote, err = u.parseQuote(req.MaxQuote); err != nil {
			common.FailErr(c, bizErr(fmt.Errorf("max_quote: %w", err)))
			return
		}
	}

	res, err := h.do(c, cmd)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	o, err := m.Order(res.OrderID)
	if err != nil {
		common.FailErr(c, bizErr(err))
		return
	}
	common.Success(c, SubmitResp{Seq: res.Seq, Order: u.order(o)})
}

func (h *Handler) Cancel(c *gin.Context) {
	m, ok := h.market(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	trader := c.Query("trader")
	if trader == "" {
		common.FailErr(c, paramErr(errors.New("trader is required")))
		return
	}
	if _, err := h.do(c, engine.Command{Type: engine.CmdCancel, Market: m.Name(), Trader: trader, OrderID: id}); err != nil {
		common.FailErr(c, err)
		return
	}
	o, err := m.Order(id)
	if err != nil {
		common.FailErr(c, bizErr(err))
		return
	}
	common.Success(c, unitsOf(m.Info()).order(o))
}

func (h *Handler) Match(c *gin.Context) {
	m, ok := h.market(c)
	if !ok {
		return
	}
	// max=0 用市场默认上限
	n, ok := intQuery(c, "max", 0, 0)
	if !ok {
		return
	}
	res, err := h.do(c, engine.Command{Type: engine.CmdMatchBatch, Market: m.Name(), MaxMatches: n})
	if err != nil {
		common.FailErr(c, err)
		return
	}
	common.Success(c, gin.H{"seq": res.Seq, "matches": res.Matches})
}
