package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hako/durafmt"
	"golang.org/x/time/rate"

	"kekofshadows/protocol"
)

// connOptions 单连接的收发参数
type connOptions struct {
	queueSize  int
	writeWait  time.Duration
	pongWait   time.Duration
	maxMessage int64
	limit      rate.Limit
	burst      int
}

// ClientConn 一个玩家连接：读协程解析 update，写协程从 send 队列写出
type ClientConn struct {
	ws      *websocket.Conn
	wallet  protocol.Identity
	session string
	started time.Time
	opts    connOptions
	limiter *rate.Limiter

	mu        sync.Mutex
	send      chan []byte
	closed    bool
	closeCode int
	closeText string
	closing   chan struct{}
	written   chan struct{} // 写协程退出后关闭
}

func NewClientConn(ws *websocket.Conn, wallet protocol.Identity, opts connOptions) *ClientConn {
	if opts.queueSize <= 0 {
		opts.queueSize = 16
	}
	return &ClientConn{
		ws:        ws,
		wallet:    wallet,
		session:   uuid.NewString(),
		started:   time.Now(),
		opts:      opts,
		limiter:   rate.NewLimiter(opts.limit, opts.burst),
		send:      make(chan []byte, opts.queueSize),
		closeCode: websocket.CloseNormalClosure,
		closing:   make(chan struct{}),
		written:   make(chan struct{}),
	}
}

func (c *ClientConn) Identity() protocol.Identity { return c.wallet }
func (c *ClientConn) SessionID() string           { return c.session }

// Enqueue 将要发送的消息压入队列（非阻塞）；队列满时挤掉最旧的一条，保证最新快照送达
func (c *ClientConn) Enqueue(b []byte) (evicted bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, false
	}
	for {
		select {
		case c.send <- b:
			return evicted, true
		default:
		}
		select {
		case <-c.send:
			evicted = true
		default:
		}
	}
}

// Close 关闭发送队列，写协程写出关闭帧后断开底层连接；可重复调用
func (c *ClientConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeText = reason
	close(c.send)
	close(c.closing)
}

// Drain 以 going-away 关闭连接并等待写协程退出，最多等到 ctx 结束
func (c *ClientConn) Drain(ctx context.Context) {
	c.Close(websocket.CloseGoingAway, "server shutting down")
	select {
	case <-c.written:
	case <-ctx.Done():
		_ = c.ws.Close()
	}
}

// SetRate 热更新该连接的 update 限速
func (c *ClientConn) SetRate(limit rate.Limit, burst int) {
	c.limiter.SetLimit(limit)
	c.limiter.SetBurst(burst)
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(c.opts.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.written)
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeWait))
			if !ok {
				// Close 在关闭 send 前已写入 closeCode/closeText
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeText))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				Log.Debugf("write to %s failed: %v", c.wallet, err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取客户端 update，解析后交给注册表；退出即视为断开
func (c *ClientConn) readPump(reg *Registry) {
	defer func() {
		// 读泵退出时，通知注册表移除该连接（异常断开同样走这里）
		if err := reg.Disconnect(context.Background(), c); err != nil && !errors.Is(err, ErrRegistryClosed) {
			Log.Warnf("disconnect %s: %v", c.wallet, err)
		}
		c.Close(websocket.CloseNormalClosure, "")
		Log.Infof("player disconnected: %s after %s", c.wallet, durafmt.Parse(time.Since(c.started)).LimitFirstN(2))
	}()
	c.ws.SetReadLimit(c.opts.maxMessage)
	c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait))
	c.ws.SetPongHandler(func(string) error { c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait)); return nil })

	metrics := reg.Metrics()
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				Log.Debugf("read from %s: %v", c.wallet, err)
			}
			return
		}
		snap, err := protocol.DecodeUpdate(payload, c.wallet)
		if err != nil {
			metrics.IncMalformedDropped()
			Log.Debugf("discarding message from %s: %v", c.wallet, err)
			continue
		}
		if !c.throttle(metrics) {
			return
		}
		if err := reg.ApplyUpdate(context.Background(), c, snap); err != nil {
			if errors.Is(err, ErrRegistryClosed) || errors.Is(err, ErrStaleConnection) {
				return
			}
			Log.Warnf("apply update from %s: %v", c.wallet, err)
		}
	}
}

// throttle 按限速等待；连接关闭时返回 false。update 只延后不丢弃
func (c *ClientConn) throttle(metrics *RegistryMetrics) bool {
	res := c.limiter.Reserve()
	if !res.OK() {
		return true
	}
	d := res.Delay()
	if d <= 0 {
		return true
	}
	metrics.IncThrottled()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.closing:
		return false
	}
}

// handleWS WebSocket 接入：ws://host/{wallet}
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	wallet := protocol.Identity(r.PathValue("wallet"))
	if wallet == "" {
		http.Error(w, "missing wallet", http.StatusBadRequest)
		return
	}
	if err := s.verifier.Verify(r, wallet); err != nil {
		s.metrics.IncRejected()
		Log.Warnf("identity rejected for %s: %v", wallet, err)
		http.Error(w, "identity not verified", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnf("upgrade error for %s: %v", wallet, err)
		return
	}

	client := NewClientConn(ws, wallet, s.connOptions())
	if err := s.registry.Connect(r.Context(), client); err != nil {
		Log.Warnf("connect %s: %v", wallet, err)
		client.Close(websocket.CloseTryAgainLater, "registry unavailable")
		go client.writePump()
		return
	}
	Log.Infof("player connected: %s (session %s)", wallet, client.SessionID())

	go client.writePump()
	go client.readPump(s.registry)
}
