package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kekofshadows/server"
)

// 入口：启动在线玩家注册表与 WebSocket 广播服务
func main() {
	cfg := server.DefaultConfig()
	var (
		logFile  string
		debug    bool
		tokenKey string
	)
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "server listen address, e.g. :8080")
	flag.StringVar(&logFile, "log", "app.log", "log file path (rolled by size)")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.IntVar(&cfg.SendQueue, "send-queue", cfg.SendQueue, "per-connection outbound queue length")
	flag.DurationVar(&cfg.WriteWait, "write-wait", cfg.WriteWait, "per-frame write timeout")
	flag.DurationVar(&cfg.PongWait, "pong-wait", cfg.PongWait, "read timeout; pings are sent at 9/10 of it")
	flag.Int64Var(&cfg.MaxMessageBytes, "max-message", cfg.MaxMessageBytes, "max inbound frame size in bytes")
	flag.Float64Var(&cfg.UpdatesPerSecond, "update-rate", cfg.UpdatesPerSecond, "per-connection updates per second, 0 = unlimited")
	flag.IntVar(&cfg.UpdateBurst, "update-burst", cfg.UpdateBurst, "per-connection update burst")
	flag.IntVar(&cfg.ShutdownParallelism, "shutdown-parallelism", cfg.ShutdownParallelism, "connections closed concurrently on shutdown")
	flag.StringVar(&tokenKey, "token-key", "", "if set, require ?token= MAC of the wallet under this key")
	flag.Parse()

	// zap 日志写入 app.log（带滚动），同时输出到控制台
	if err := server.InitLogger(server.LogConfig{File: logFile, Debug: debug, Console: true}); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	if tokenKey != "" {
		v, err := server.NewTokenVerifier([]byte(tokenKey))
		if err != nil {
			server.Log.Fatalf("token key: %v", err)
		}
		cfg.Verifier = v
	} else {
		server.Log.Warn("identity verification disabled: any client may claim any wallet")
	}

	srv := server.New(cfg)
	srv.Start(context.Background())

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			server.Log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	server.Log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		server.Log.Errorf("shutdown: %v", err)
	}
}
