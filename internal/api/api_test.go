package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clobex.com/internal/clob"
	"clobex.com/internal/engine"
	"clobex.com/internal/kline"
	"clobex.com/pkg/common"
	"clobex.com/pkg/xerr"
)

const adminToken = "secret"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t   *testing.T
	r   *gin.Engine
	eng *engine.Engine
	// 测试直接往里灌 bar
	klines *kline.History
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	eng, err := engine.New(engine.Config{Markets: []clob.Config{
		{Name: "ETH-USDC", Base: "ETH", Quote: "USDC", QuoteDecimals: 6},
		{Name: "BTC-USDC", Base: "BTC", Quote: "USDC", BaseDecimals: 8, QuoteDecimals: 6, DeferMatching: true},
	}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)
	t.Cleanup(func() {
		cancel()
		eng.Stop()
	})
	hist := kline.NewHistory(16)
	r := NewRouter(ctx, eng, Options{AdminToken: func() string { return adminToken }, Klines: hist})
	return &testServer{t: t, r: r, eng: eng, klines: hist}
}

func (s *testServer) call(method, path string, body any, hdr ...string) (int, envelope) {
	s.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	var env envelope
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (s *testServer) ok(method, path string, body any, out any, hdr ...string) {
	s.t.Helper()
	code, env := s.call(method, path, body, hdr...)
	require.Equal(s.t, http.StatusOK, code, env.Message)
	if out != nil {
		require.NoError(s.t, json.Unmarshal(env.Data, out))
	}
}

func (s *testServer) deposit(trader, asset, amount string) {
	s.t.Helper()
	s.ok(http.MethodPost, "/api/balances/deposit", TransferReq{Trader: trader, Asset: asset, Amount: amount}, nil)
}

func (s *testServer) balance(trader, asset string) BalanceView {
	s.t.Helper()
	var b BalanceView
	s.ok(http.MethodGet, "/api/balances/"+trader+"/"+asset, nil, &b)
	return b
}

func (s *testServer) submit(market string, req SubmitReq) OrderView {
	s.t.Helper()
	var resp SubmitResp
	s.ok(http.MethodPost, "/api/markets/"+market+"/orders", req, &resp)
	assert.NotZero(s.t, resp.Seq)
	return resp.Order
}

func TestTradeFlow(t *testing.T) {
	s := newTestServer(t)
	s.deposit("alice", "USDC", "1000")
	s.deposit("bob", "ETH", "5")

	buy := s.submit("ETH-USDC", SubmitReq{Trader: "alice", Side: "buy", Price: "100", Amount: "2"})
	assert.Equal(t, "ACTIVE", buy.Status)
	assert.Equal(t, "200", buy.Reserved)
	assert.Equal(t, "100", buy.Price)

	var book BookView
	s.ok(http.MethodGet, "/api/markets/ETH-USDC/book?depth=5", nil, &book)
	assert.Equal(t, "100", book.BestBid)
	assert.Equal(t, buy.ID, book.BestBidID)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, "2", book.Bids[0].Amount)
	assert.Empty(t, book.Asks)
	assert.Equal(t, []uint64{buy.ID}, book.BidIDs)

	sell := s.submit("ETH-USDC", SubmitReq{Trader: "bob", Side: "sell", Kind: "limit", Price: "99", Amount: "1"})
	assert.Equal(t, "FILLED", sell.Status)
	assert.Equal(t, "100", sell.FilledQuote)

	var o OrderView
	s.ok(http.MethodGet, fmt.Sprintf("/api/markets/ETH-USDC/orders/%d", buy.ID), nil, &o)
	assert.Equal(t, "PARTIALLY_FILLED", o.Status)
	assert.Equal(t, "1", o.Remaining)
	assert.Equal(t, "1", o.Filled)
	assert.Equal(t, "100", o.Reserved)

	assert.Equal(t, BalanceView{Trader: "alice", Asset: "USDC", Available: "800", Locked: "100"}, s.balance("alice", "USDC"))
	assert.Equal(t, "1", s.balance("alice", "ETH").Available)
	assert.Equal(t, "100", s.balance("bob", "USDC").Available)
	assert.Equal(t, "4", s.balance("bob", "ETH").Available)

	var open []OrderView
	s.ok(http.MethodGet, "/api/markets/ETH-USDC/traders/alice/orders?open=true", nil, &open)
	require.Len(t, open, 1)
	s.ok(http.MethodGet, "/api/markets/ETH-USDC/traders/bob/orders?open=true", nil, &open)
	assert.Empty(t, open)

	require.NoError(t, s.eng.CheckInvariants())
}

func TestCancel(t *testing.T) {
	s := newTestServer(t)
	s.deposit("alice", "USDC", "1000")
	buy := s.submit("ETH-USDC", SubmitReq{Trader: "alice", Side: "buy", Price: "100", Amount: "2"})
	path := fmt.Sprintf("/api/markets/ETH-USDC/orders/%d", buy.ID)

	code, env := s.call(http.MethodDelete, path+"?trader=bob", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, xerr.NotOwner, env.Code)

	code, _ = s.call(http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var o OrderView
	s.ok(http.MethodDelete, path+"?trader=alice", nil, &o)
	assert.Equal(t, "CANCELLED", o.Status)
	assert.Equal(t, "0", o.Reserved)
	assert.Equal(t, BalanceView{Trader: "alice", Asset: "USDC", Available: "1000", Locked: "0"}, s.balance("alice", "USDC"))

	code, env = s.call(http.MethodDelete, path+"?trader=alice", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, xerr.AlreadyTerminal, env.Code)

	code, env = s.call(http.MethodDelete, "/api/markets/ETH-USDC/orders/999?trader=alice", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, xerr.OrderNotFound, env.Code)
}

func TestSubmitRejects(t *testing.T) {
	s := newTestServer(t)
	s.deposit("alice", "USDC", "10")

	cases := []struct {
		name   string
		market string
		req    SubmitReq
		status int
		code   int
	}{
		{"unknown market", "DOGE-USDC", SubmitReq{Trader: "alice", Side: "buy", Price: "1", Amount: "1"}, http.StatusNotFound, xerr.MarketNotFound},
		{"insufficient", "ETH-USDC", SubmitReq{Trader: "alice", Side: "buy", Price: "100", Amount: "1"}, http.StatusBadRequest, xerr.InsufficientBalance},
		{"bad side", "ETH-USDC", SubmitReq{Trader: "alice", Side: "hold", Price: "1", Amount: "1"}, http.StatusBadRequest, xerr.RequestParamsError},
		{"bad amount", "ETH-USDC", SubmitReq{Trader: "alice", Side: "buy", Price: "1", Amount: "1.2.3"}, http.StatusBadRequest, xerr.InvalidAmount},
		{"price too precise", "ETH-USDC", SubmitReq{Trader: "alice", Side: "buy", Price: "1.0000001", Amount: "1"}, http.StatusBadRequest, xerr.InvalidPrice},
		{"zero price", "ETH-USDC", SubmitReq{Trader: "alice", Side: "buy", Price: "0", Amount: "1"}, http.StatusBadRequest, xerr.InvalidPrice},
		{"market buy without cap", "ETH-USDC", SubmitReq{Trader: "alice", Side: "buy", Kind: "market", Amount: "1"}, http.StatusBadRequest, xerr.InvalidAmount},
		{"missing trader", "ETH-USDC", SubmitReq{Side: "buy", Price: "1", Amount: "1"}, http.StatusBadRequest, xerr.RequestParamsError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, env := s.call(http.MethodPost, "/api/markets/"+tc.market+"/orders", tc.req)
			assert.Equal(t, tc.status, code)
			assert.Equal(t, tc.code, env.Code)
		})
	}
	assert.Equal(t, BalanceView{Trader: "alice", Asset: "USDC", Available: "10", Locked: "0"}, s.balance("alice", "USDC"))
}

func TestWithdraw(t *testing.T) {
	s := newTestServer(t)
	s.deposit("alice", "ETH", "1.5")

	code, env := s.call(http.MethodPost, "/api/balances/withdraw", TransferReq{Trader: "alice", Asset: "ETH", Amount: "2"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, xerr.InsufficientBalance, env.Code)

	s.ok(http.MethodPost, "/api/balances/withdraw", TransferReq{Trader: "alice", Asset: "ETH", Amount: "0.5"}, nil)
	assert.Equal(t, "1", s.balance("alice", "ETH").Available)
}

func TestMatchDeferred(t *testing.T) {
	s := newTestServer(t)
	s.deposit("alice", "USDC", "100000")
	s.deposit("bob", "BTC", "2")

	buy := s.submit("BTC-USDC", SubmitReq{Trader: "alice", Side: "buy", Price: "50000", Amount: "1"})
	sell := s.submit("BTC-USDC", SubmitReq{Trader: "bob", Side: "sell", Price: "50000", Amount: "1"})
	assert.Equal(t, "ACTIVE", buy.Status)
	assert.Equal(t, "ACTIVE", sell.Status)
	assert.Equal(t, "50000", buy.Reserved)

	var out struct {
		Seq     uint64 `json:"seq"`
		Matches int    `json:"matches"`
	}
	s.ok(http.MethodPost, "/api/markets/BTC-USDC/match?max=10", nil, &out)
	assert.Equal(t, 1, out.Matches)

	assert.Equal(t, "1", s.balance("alice", "BTC").Available)
	assert.Equal(t, "50000", s.balance("bob", "USDC").Available)

	code, _ := s.call(http.MethodPost, "/api/markets/BTC-USDC/match?max=-1", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAdmin(t *testing.T) {
	s := newTestServer(t)
	auth := []string{common.HeaderAdminToken, adminToken}

	code, env := s.call(http.MethodPut, "/api/admin/markets/ETH-USDC/fees", map[string]any{"maker_bps": 10, "taker_bps": 20})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, xerr.AdminDenied, env.Code)

	var mv MarketView
	s.ok(http.MethodPut, "/api/admin/markets/ETH-USDC/fees", map[string]any{"maker_bps": 10, "taker_bps": 20}, &mv, auth...)
	assert.Equal(t, uint32(10), mv.Fees.MakerBps)
	assert.Equal(t, uint32(20), mv.Fees.TakerBps)

	code, env = s.call(http.MethodPut, "/api/admin/markets/ETH-USDC/fees", map[string]any{"maker_bps": 10, "taker_bps": 5000}, auth...)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, xerr.FeeTooHigh, env.Code)

	code, env = s.call(http.MethodPut, "/api/admin/markets/ETH-USDC/market-makers/mm", map[string]any{"enabled": true}, auth...)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, xerr.UnsupportedFeeMode, env.Code)

	tiered := map[string]any{
		"mode":       "tiered",
		"rebate_bps": 1,
		"tiers": []map[string]any{
			{"min_volume": "0", "maker_bps": 10, "taker_bps": 20},
			{"min_volume": "1000", "maker_bps": 5, "taker_bps": 10},
		},
	}
	s.ok(http.MethodPut, "/api/admin/markets/ETH-USDC/fees", tiered, &mv, auth...)
	assert.Equal(t, "tiered", mv.Fees.Mode)
	require.Len(t, mv.Fees.Tiers, 2)
	assert.Equal(t, uint64(1000_000000), mv.Fees.Tiers[1].MinVolume.Uint64())

	s.ok(http.MethodPut, "/api/admin/markets/ETH-USDC/market-makers/mm", map[string]any{"enabled": true}, &mv, auth...)
	assert.Equal(t, []string{"mm"}, mv.Fees.MarketMakers)

	code, _ = s.call(http.MethodPut, "/api/admin/markets/ETH-USDC/market-makers/mm", map[string]any{}, auth...)
	assert.Equal(t, http.StatusBadRequest, code)

	s.ok(http.MethodPut, "/api/admin/markets/ETH-USDC/fee-recipient", RecipientReq{Address: "0xtreasury"}, &mv, auth...)
	assert.Equal(t, "0xtreasury", mv.FeeRecipient)

	var list []MarketView
	s.ok(http.MethodGet, "/api/markets", nil, &list)
	require.Len(t, list, 2)
}

func TestBizErr(t *testing.T) {
	cases := map[error]int{
		engine.ErrEngineBusy:          xerr.EngineBusy,
		engine.ErrStopped:             xerr.ServiceBusy,
		engine.ErrUnknownMarket:       xerr.MarketNotFound,
		clob.ErrInsufficientBalance:   xerr.InsufficientBalance,
		clob.ErrInvalidAmount:         xerr.InvalidAmount,
		clob.ErrInvalidPrice:          xerr.InvalidPrice,
		clob.ErrFeeTooHigh:            xerr.FeeTooHigh,
		clob.ErrOverflow:              xerr.Overflow,
		clob.ErrNotOwner:              xerr.NotOwner,
		clob.ErrOrderNotFound:         xerr.OrderNotFound,
		clob.ErrAlreadyTerminal:       xerr.AlreadyTerminal,
		clob.ErrUnsupportedFeeMode:    xerr.UnsupportedFeeMode,
		context.DeadlineExceeded:      xerr.ServiceBusy,
		clob.ErrInvalidSide:           xerr.InvalidOrder,
	}
	for in, want := range cases {
		err := bizErr(in)
		assert.Equal(t, want, xerr.FromError(err).Code, in.Error())
		assert.True(t, errors.Is(err, in))
	}

	wrapped := fmt.Errorf("cancel 7: %w", clob.ErrNotOwner)
	assert.Equal(t, xerr.NotOwner, xerr.FromError(bizErr(wrapped)).Code)

	assert.Nil(t, bizErr(nil))
	plain := errors.New("disk on fire")
	assert.Equal(t, xerr.ServerCommonError, xerr.FromError(bizErr(plain)).Code)
}

func TestKlines(t *testing.T) {
	s := newTestServer(t)
	for i := int64(0); i < 3; i++ {
		b := kline.Bar{Market: "ETH-USDC", Interval: time.Minute, StartMs: i * 60_000, EndMs: (i + 1) * 60_000, Count: 1}
		b.Open.SetUint64(uint64(100+i) * 1_000_000)
		b.Close.SetUint64(uint64(100+i) * 1_000_000)
		s.klines.Add(b)
	}

	var bars []kline.BarDTO
	s.ok(http.MethodGet, "/api/markets/ETH-USDC/klines?interval=1m&limit=2", nil, &bars)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(60_000), bars[0].StartMs)
	assert.Equal(t, "102", bars[1].Close)
	assert.Equal(t, "1m", bars[1].Interval)

	s.ok(http.MethodGet, "/api/markets/ETH-USDC/klines?interval=1h", nil, &bars)
	assert.Empty(t, bars)

	code, _ := s.call(http.MethodGet, "/api/markets/ETH-USDC/klines?interval=5m", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = s.call(http.MethodGet, "/api/markets/DOGE-USDC/klines", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRequestIDReachesEvents(t *testing.T) {
	s := newTestServer(t)
	s.ok(http.MethodPost, "/api/balances/deposit", TransferReq{Trader: "carol", Asset: "ETH", Amount: "1"}, nil,
		common.HeaderRequestID, "req-abc")

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-s.eng.Events():
			if ev.Type == engine.EvBalance && ev.Trader == "carol" {
				assert.Equal(t, "req-abc", ev.ReqID)
				return
			}
		case <-deadline:
			t.Fatal("no balance event")
		}
	}
}
