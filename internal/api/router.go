package api

import "github.com/gin-gonic/gin"

func Markets(api *gin.RouterGroup, h *Handler) {
	api.GET("/markets", h.Markets)
	m := api.Group("/markets/:market")
	{
		m.GET("", h.Market)
		m.GET("/book", h.Book)
		m.GET("/klines", h.Klines)
		m.GET("/orders/:id", h.Order)
		m.GET("/traders/:trader/orders", h.TraderOrders)
		m.POST("/orders", h.Submit)
		m.DELETE("/orders/:id", h.Cancel)
		m.POST("/match", h.Match)
	}
}

func Balances(api *gin.RouterGroup, h *Handler) {
	b := api.Group("/balances")
	{
		b.GET("/:trader/:asset", h.Balance)
		b.POST("/deposit", h.Deposit)
		b.POST("/withdraw", h.Withdraw)
	}
}

func Admin(admin *gin.RouterGroup, h *Handler) {
	m := admin.Group("/markets/:market")
	{
		m.PUT("/fees", h.SetFees)
		m.PUT("/fee-recipient", h.SetFeeRecipient)
		m.PUT("/market-makers/:trader", h.SetMarketMaker)
	}
}
