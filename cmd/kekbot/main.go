package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kekofshadows/client"
	"kekofshadows/protocol"
	"kekofshadows/server"
	"kekofshadows/view"
)

// 无界面客户端：接入服务、上报位置、打印在线玩家，可选模拟一次点击检视
func main() {
	var (
		serverURL string
		wallet    string
		name      string
		x, y      int
		location  string
		click     bool
		clickX    float64
		clickY    float64
		width     float64
		height    float64
		token     string
		debug     bool
	)
	flag.StringVar(&serverURL, "server", "ws://127.0.0.1:8080", "presence server url")
	flag.StringVar(&wallet, "wallet", "", "wallet address used as identity (required)")
	flag.StringVar(&name, "name", "bot", "character name")
	flag.IntVar(&x, "x", 0, "tile x")
	flag.IntVar(&y, "y", 0, "tile y")
	flag.StringVar(&location, "location", "Town", "map key")
	flag.BoolVar(&click, "click", false, "inspect whoever stands at -click-x/-click-y on every players frame")
	flag.Float64Var(&clickX, "click-x", 0, "canvas pixel x for -click")
	flag.Float64Var(&clickY, "click-y", 0, "canvas pixel y for -click")
	flag.Float64Var(&width, "width", 800, "canvas width")
	flag.Float64Var(&height, "height", 600, "canvas height")
	flag.StringVar(&token, "token", "", "identity token when the server requires one")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	if err := server.InitLogger(server.LogConfig{Debug: debug, Console: true}); err != nil {
		panic(err)
	}
	defer server.SyncLogger()
	log := server.Log.Named("kekbot")

	if wallet == "" {
		log.Fatal("-wallet is required")
	}

	game := &localGame{me: view.Character{Name: name, Level: 1, X: x, Y: y, Location: location, Equipment: protocol.Equipment{}}}
	proj := view.NewProjector(view.Config{
		Wallet:     protocol.Identity(wallet),
		Game:       game,
		Renderer:   renderer{},
		Projection: view.NewProjection(width, height, view.DefaultTileSize),
	})

	onPlayers := func(players []protocol.PlayerSnapshot) {
		proj.ApplyPlayers(players)
		for _, p := range players {
			log.Infof("%s %q lvl %d at (%d,%d) %s", p.Wallet, p.Name, p.Level, p.X, p.Y, p.Location)
		}
		if !click {
			return
		}
		tile := proj.TileAt(clickX, clickY)
		if in, ok := proj.Inspect(clickX, clickY); ok {
			log.Infof("inspect tile (%d,%d):\n%s", tile.X, tile.Y, in)
			proj.CloseInspection()
		} else {
			log.Debugf("nobody at tile (%d,%d)", tile.X, tile.Y)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, err := client.Dial(ctx, serverURL, protocol.Identity(wallet), onPlayers, client.Options{Logger: log, Token: token})
	cancel()
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	proj.Attach(conn)
	proj.SendUpdate()
	log.Infof("connected as %s at (%d,%d) %s", wallet, x, y, location)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-conn.Done():
		log.Warn("server closed the connection")
	}
	if err := conn.Close(); err != nil {
		log.Debugf("close: %v", err)
	}
}
