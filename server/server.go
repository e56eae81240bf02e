package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/remeh/sizedwaitgroup"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

// Config 服务端配置，由 main 的 flag 填充
type Config struct {
	Addr                string
	SendQueue           int           // 每连接发送队列长度
	WriteWait           time.Duration // 单次写超时
	PongWait            time.Duration // 读超时（ping 间隔为其 9/10）
	MaxMessageBytes     int64
	UpdatesPerSecond    float64 // <=0 表示不限速
	UpdateBurst         int
	ShutdownParallelism int // 关闭时并发断开连接的上限
	Verifier            IdentityVerifier
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Addr:                ":8080",
		SendQueue:           16,
		WriteWait:           5 * time.Second,
		PongWait:            60 * time.Second,
		MaxMessageBytes:     1 << 20, // 1MB
		UpdateBurst:         1,
		ShutdownParallelism: 32,
		Verifier:            AllowAnyIdentity{},
	}
}

// Server 组合注册表、WebSocket 接入与管理接口
type Server struct {
	cfg      Config
	registry *Registry
	metrics  *RegistryMetrics
	verifier IdentityVerifier
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	limit rate.Limit
	burst int

	httpSrv *http.Server
	cancel  context.CancelFunc
}

// New 创建服务；需调用 Start 启动注册表循环
func New(cfg Config) *Server {
	def := DefaultConfig()
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = def.SendQueue
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	if cfg.ShutdownParallelism <= 0 {
		cfg.ShutdownParallelism = def.ShutdownParallelism
	}
	if cfg.Verifier == nil {
		cfg.Verifier = def.Verifier
	}
	metrics := &RegistryMetrics{}
	s := &Server{
		cfg:      cfg,
		metrics:  metrics,
		registry: NewRegistry(&SnapshotBroadcaster{Metrics: metrics}, metrics),
		verifier: cfg.Verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// 浏览器客户端与静态资源不同源：允许所有来源
				return true
			},
		},
	}
	s.limit, s.burst = toRate(cfg.UpdatesPerSecond, cfg.UpdateBurst)
	s.httpSrv = &http.Server{Addr: cfg.Addr, Handler: s.Handler()}
	return s
}

func toRate(perSecond float64, burst int) (rate.Limit, int) {
	if perSecond <= 0 {
		return rate.Inf, 0
	}
	if burst < 1 {
		burst = 1
	}
	return rate.Limit(perSecond), burst
}

// Registry 返回在线玩家注册表
func (s *Server) Registry() *Registry { return s.registry }

// Start 在后台启动注册表循环
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.registry.Run(ctx)
}

// Handler 路由：/{wallet} 为 WebSocket，其余为管理与监控接口
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/{wallet}", s.handleWS)
	mux.HandleFunc("/admin/config", s.handleAdminConfig)
	mux.HandleFunc("/admin/players", s.handleAdminPlayers)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/schema", s.handleSchema)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ListenAndServe 阻塞直到出错或 Shutdown
func (s *Server) ListenAndServe() error {
	Log.Infof("presence server listening on %s", s.cfg.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 停止接入新连接，并发关闭所有在线连接，最后停止注册表
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	recipients, rerr := s.registry.Recipients(ctx)
	if !errors.Is(rerr, ErrRegistryClosed) {
		err = multierr.Append(err, rerr)
	}

	swg := sizedwaitgroup.New(s.cfg.ShutdownParallelism)
	for _, rc := range recipients {
		swg.Add()
		go func(rc Recipient) {
			defer swg.Done()
			if c, ok := rc.(*ClientConn); ok {
				c.Drain(ctx)
				return
			}
			rc.Close(websocket.CloseGoingAway, "server shutting down")
		}(rc)
	}
	swg.Wait()
	Log.Infof("closed %d connections", len(recipients))

	if s.cancel != nil {
		s.cancel()
	}
	return err
}

func (s *Server) rate() (rate.Limit, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limit, s.burst
}

func (s *Server) connOptions() connOptions {
	limit, burst := s.rate()
	return connOptions{
		queueSize:  s.cfg.SendQueue,
		writeWait:  s.cfg.WriteWait,
		pongWait:   s.cfg.PongWait,
		maxMessage: s.cfg.MaxMessageBytes,
		limit:      limit,
		burst:      burst,
	}
}
