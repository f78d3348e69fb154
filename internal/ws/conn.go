package ws

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"clobex.com/pkg/logger"
	"clobex.com/pkg/metrics"
)

// Conn 每个 topic 只保留最新一条（LatestOnly），notify 缓冲 1 合并唤醒
type Conn struct {
	id string

	ws     *websocket.Conn
	hub    *Hub
	mu     sync.Mutex
	latest map[string][]byte
	order  []string // 按到达顺序输出
	notify chan struct{}
	done   chan struct{}
	closed atomic.Bool
}

func NewConn(h *Hub, ws *websocket.Conn) *Conn {
	return &Conn{
		id:     uuid.NewString(),
		ws:     ws,
		hub:    h,
		latest: make(map[string][]byte, 64),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Offer(topic string, payload []byte) bool {
	if c.closed.Load() {
		return false
	}
	c.mu.Lock()
	if _, ok := c.latest[topic]; ok {
		metrics.WsDroppedTotal.WithLabelValues("superseded").Inc()
	} else {
		c.order = append(c.order, topic)
	}
	c.latest[topic] = payload
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

func (c *Conn) flushLatest(max int) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := min(len(c.order), max)
	if n == 0 {
		return nil
	}
	out := make([][]byte, 0, n)
	for _, t := range c.order[:n] {
		out = append(out, c.latest[t])
		delete(c.latest, t)
	}
	c.order = c.order[n:]
	if len(c.order) > 0 {
		// 还有剩余，再唤醒一次
		select {
		case c.notify <- struct{}{}:
		default:
		}
	}
	return out
}

type Server struct {
	Hub      *Hub
	Upgrader websocket.Upgrader
	ctx      context.Context

	PongWait   time.Duration
	PingPeriod time.Duration
	PingJitter time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
}

func NewServer(ctx context.Context, h *Hub) *Server {
	return &Server{
		Hub: h,
		ctx: ctx,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // 只读行情，跨域放开
		},
		PongWait:   60 * time.Second,
		PingPeriod: 30 * time.Second,
		PingJitter: 100 * time.Millisecond,
		WriteWait:  5 * time.Second,
		ReadLimit:  1 << 10,
	}
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := NewConn(s.Hub, wsConn)
	metrics.WsOnOpen()
	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) close(c *Conn, code int, reason string) {
	if c.closed.Swap(true) {
		return
	}
	close(c.done)
	s.Hub.RemoveConn(c)
	_ = c.ws.Close()
	metrics.WsOnClose(code, reason)
}

func (s *Server) readPump(c *Conn) {
	var (
		code   int
		reason string
	)
	defer func() { s.close(c, code, reason) }()

	c.ws.SetReadLimit(s.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	})

	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			switch {
			case errors.As(err, &ce):
				code, reason = ce.Code, "client"
			case s.ctx.Err() != nil:
				code, reason = websocket.CloseGoingAway, "shutdown"
			default:
				code, reason = websocket.CloseAbnormalClosure, "read_error"
				logger.Debug(s.ctx, "ws read failed", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}
		var msg ClientMsg
		if json.Unmarshal(b, &msg) != nil {
			continue
		}
		switch msg.Type {
		case OpSub:
			s.Hub.Subscribe(c, msg.Topics)
		case OpUnsub:
			s.Hub.Unsubscribe(c, msg.Topics)
		default:
			continue
		}
		metrics.WsSubOpsTotal.WithLabelValues(msg.Type).Inc()
	}
}

// 单次最多写多少条，防止订阅 topic 极多时一次写爆
const maxFlush = 256

func (s *Server) writePump(c *Conn) {
	if s.PingJitter > 0 {
		t := time.NewTimer(rand.N(s.PingJitter))
		select {
		case <-t.C:
		case <-c.done:
			t.Stop()
			return
		case <-s.ctx.Done():
			t.Stop()
			s.close(c, websocket.CloseGoingAway, "shutdown")
			return
		}
	}

	ticker := time.NewTicker(s.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.notify:
			if err := s.writeBatch(c, c.flushLatest(maxFlush)); err != nil {
				s.close(c, websocket.CloseAbnormalClosure, "write_error")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.WriteWait)); err != nil {
				s.close(c, websocket.CloseAbnormalClosure, "ping_error")
				return
			}
		case <-s.ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(s.WriteWait))
			s.close(c, websocket.CloseGoingAway, "shutdown")
			return
		}
	}
}

// writeBatch 一条 ws 消息写一条 JSON
func (s *Server) writeBatch(c *Conn, batch [][]byte) error {
	if len(batch) == 0 {
		return nil
	}
	start := time.Now()
	var (
		bytes int
		err   error
	)
	for _, payload := range batch {
		_ = c.ws.SetWriteDeadline(time.Now().Add(s.WriteWait))
		if err = c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			break
		}
		bytes += len(payload)
	}
	metrics.WsObserveWrite(len(batch), bytes, time.Since(start), err)
	return err
}
