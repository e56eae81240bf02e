package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"kekofshadows/protocol"
)

const writeWait = 5 * time.Second

// PlayersHandler 收到 players 帧时调用（在读协程中串行执行）
type PlayersHandler func(players []protocol.PlayerSnapshot)

// Options 拨号参数
type Options struct {
	Logger    *zap.SugaredLogger
	QueueSize int
	Token     string // 服务端启用 token 校验时附加到 ?token=
	Header    http.Header
}

// Conn 客户端到注册表服务的连接：读协程分发 players，写协程发送 update
type Conn struct {
	ws        *websocket.Conn
	wallet    protocol.Identity
	log       *zap.SugaredLogger
	onPlayers PlayersHandler

	mu      sync.Mutex
	send    chan []byte
	closed  bool
	done    chan struct{} // 读协程退出后关闭
	written chan struct{} // 写协程退出后关闭
}

// Dial 连接 serverURL/{wallet}；serverURL 可为 ws(s):// 或 http(s)://
func Dial(ctx context.Context, serverURL string, wallet protocol.Identity, onPlayers PlayersHandler, opts Options) (*Conn, error) {
	target, err := endpoint(serverURL, wallet, opts.Token)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, target, opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	c := &Conn{
		ws:        ws,
		wallet:    wallet,
		log:       opts.Logger,
		onPlayers: onPlayers,
		send:      make(chan []byte, opts.QueueSize),
		done:      make(chan struct{}),
		written:   make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

func endpoint(serverURL string, wallet protocol.Identity, token string) (string, error) {
	if wallet == "" {
		return "", errors.New("empty wallet")
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + url.PathEscape(string(wallet))
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// SendUpdate 发出即返回；队列满时丢弃最旧的一条
func (c *Conn) SendUpdate(msg protocol.UpdateMessage) {
	msg.Type = protocol.TypeUpdate
	if msg.Wallet == "" {
		msg.Wallet = c.wallet
	}
	b, err := msg.Encode()
	if err != nil {
		c.log.Warnf("encode update: %v", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for {
		select {
		case c.send <- b:
			return
		default:
		}
		select {
		case <-c.send:
			c.log.Debugf("update queue full, dropped oldest")
		default:
		}
	}
}

// Done 连接断开（服务端关闭或读出错）后关闭
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close 发送正常关闭帧并断开；可重复调用
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	<-c.written
	var err error
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		err = multierr.Append(err, werr)
	}
	select {
	case <-c.done:
	case <-time.After(writeWait):
	}
	if cerr := c.ws.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = multierr.Append(err, cerr)
	}
	return err
}

func (c *Conn) writeLoop() {
	defer close(c.written)
	failed := false
	// 写失败后继续消费队列直到 Close
	for msg := range c.send {
		if failed {
			continue
		}
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.log.Debugf("write update: %v", err)
			failed = true
		}
	}
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Infof("connection to server lost: %v", err)
			}
			return
		}
		players, err := protocol.DecodePlayers(payload)
		if err != nil {
			c.log.Debugf("discarding message from server: %v", err)
			continue
		}
		if c.onPlayers != nil {
			c.onPlayers(players)
		}
	}
}
