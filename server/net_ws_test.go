package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"kekofshadows/protocol"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	srv.Start(ctx)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-srv.Registry().Done()
	})
	return srv, ts
}

func websocketURL(t *testing.T, baseURL string, wallet protocol.Identity, token string) string {
	t.Helper()

	parsed, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("failed to parse test server url: %v", err)
	}
	parsed.Scheme = "ws"
	parsed.Path = "/" + string(wallet)
	if token != "" {
		query := parsed.Query()
		query.Set("token", token)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}

func dial(t *testing.T, baseURL string, wallet protocol.Identity) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, baseURL, wallet, ""), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		t.Fatalf("failed to open websocket connection for %s: %v", wallet, err)
	}
	t.Cleanup(func() {
		conn.Close()
		if resp != nil {
			resp.Body.Close()
		}
	})
	return conn
}

// waitRecipients 等待注册表登记到 n 个连接（握手完成早于 Connect）
func waitRecipients(t *testing.T, srv *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		recipients, err := srv.Registry().Recipients(context.Background())
		if err != nil {
			t.Fatalf("recipients: %v", err)
		}
		if len(recipients) == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d registered connections", n)
}

func sendUpdate(t *testing.T, conn *websocket.Conn, snap protocol.PlayerSnapshot) {
	t.Helper()
	data, err := json.Marshal(protocol.NewUpdate(snap))
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write update: %v", err)
	}
}

// waitForPlayers 读取广播直到满足条件
func waitForPlayers(t *testing.T, conn *websocket.Conn, match func([]protocol.PlayerSnapshot) bool) []protocol.PlayerSnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("failed waiting for players broadcast: %v", err)
		}
		players, err := protocol.DecodePlayers(payload)
		if err != nil {
			t.Fatalf("unexpected frame %s: %v", payload, err)
		}
		if match(players) {
			return players
		}
	}
}

func hasWallets(want ...protocol.Identity) func([]protocol.PlayerSnapshot) bool {
	return func(players []protocol.PlayerSnapshot) bool {
		if len(players) != len(want) {
			return false
		}
		seen := make(map[protocol.Identity]bool, len(players))
		for _, p := range players {
			seen[p.Wallet] = true
		}
		for _, w := range want {
			if !seen[w] {
				return false
			}
		}
		return true
	}
}

func TestHandleWSUpdateAndDisconnectScenario(t *testing.T) {
	srv, ts := newTestServer(t, DefaultConfig())

	connA := dial(t, ts.URL, "A")
	connB := dial(t, ts.URL, "B")
	waitRecipients(t, srv, 2)

	sendUpdate(t, connA, protocol.PlayerSnapshot{Wallet: "A", X: 0, Y: 0, Location: "Town", Equipment: protocol.Equipment{}})

	for _, conn := range []*websocket.Conn{connA, connB} {
		players := waitForPlayers(t, conn, hasWallets("A"))
		if players[0].X != 0 || players[0].Y != 0 || players[0].Location != "Town" {
			t.Fatalf("unexpected snapshot %+v", players[0])
		}
	}

	connA.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	connA.Close()

	waitForPlayers(t, connB, func(players []protocol.PlayerSnapshot) bool { return len(players) == 0 })
}

func TestHandleWSTwoPlayersSeeEachOther(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())

	connA := dial(t, ts.URL, "A")
	sendUpdate(t, connA, protocol.PlayerSnapshot{Wallet: "A", X: 3, Y: 3, Location: "Town"})
	waitForPlayers(t, connA, hasWallets("A"))

	connB := dial(t, ts.URL, "B")
	sendUpdate(t, connB, protocol.PlayerSnapshot{Wallet: "B", X: 3, Y: 5, Location: "Town"})

	waitForPlayers(t, connA, hasWallets("A", "B"))
	waitForPlayers(t, connB, hasWallets("A", "B"))

	// 异常断开（无关闭帧）同样视为断开
	connB.Close()
	waitForPlayers(t, connA, hasWallets("A"))
}

func TestHandleWSIgnoresMalformedMessages(t *testing.T) {
	srv, ts := newTestServer(t, DefaultConfig())
	conn := dial(t, ts.URL, "A")

	for _, frame := range []string{
		`not json`,
		`{"type":"move","command":"up"}`,
		`{"type":"update","y":1,"location":"Town"}`,
		`{"type":"update","wallet":"B","x":1,"y":1,"location":"Town"}`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write malformed frame: %v", err)
		}
	}
	sendUpdate(t, conn, protocol.PlayerSnapshot{Wallet: "A", X: 2, Y: 4, Location: "Town"})

	players := waitForPlayers(t, conn, hasWallets("A"))
	if players[0].X != 2 || players[0].Y != 4 {
		t.Fatalf("unexpected snapshot %+v", players[0])
	}
	if got := srv.metrics.Snapshot()["malformed_dropped"].(int64); got != 4 {
		t.Fatalf("expected 4 dropped messages, got %d", got)
	}
}

func TestHandleWSReconnectSupersedesPreviousConnection(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())

	first := dial(t, ts.URL, "A")
	sendUpdate(t, first, protocol.PlayerSnapshot{Wallet: "A", X: 1, Y: 1, Location: "Town"})
	waitForPlayers(t, first, hasWallets("A"))

	second := dial(t, ts.URL, "A")

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := first.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			t.Fatalf("expected policy violation close for superseded connection, got %v", err)
		}
		break
	}

	sendUpdate(t, second, protocol.PlayerSnapshot{Wallet: "A", X: 9, Y: 9, Location: "Town"})
	players := waitForPlayers(t, second, func(players []protocol.PlayerSnapshot) bool {
		return len(players) == 1 && players[0].X == 9
	})
	if players[0].Wallet != "A" {
		t.Fatalf("unexpected snapshot %+v", players[0])
	}
}

func TestHandleWSMissingWalletIsNotRouted(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for bare root, got %d", resp.StatusCode)
	}
}

func TestHandleWSTokenVerifier(t *testing.T) {
	verifier, err := NewTokenVerifier([]byte("secret"))
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Verifier = verifier
	srv, ts := newTestServer(t, cfg)

	_, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, ts.URL, "A", "forged"), nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected bad handshake for forged token, got %v", err)
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", resp)
	}
	resp.Body.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(websocketURL(t, ts.URL, "A", verifier.Token("A")), nil)
	if err != nil {
		t.Fatalf("dial with valid token: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		resp.Body.Close()
	})
	sendUpdate(t, conn, protocol.PlayerSnapshot{Wallet: "A", Location: "Town"})
	waitForPlayers(t, conn, hasWallets("A"))

	if got := srv.metrics.Snapshot()["rejected"].(int64); got != 1 {
		t.Fatalf("expected one rejected handshake, got %d", got)
	}
}

func TestShutdownClosesLiveConnections(t *testing.T) {
	srv, ts := newTestServer(t, DefaultConfig())
	conn := dial(t, ts.URL, "A")
	sendUpdate(t, conn, protocol.PlayerSnapshot{Wallet: "A", Location: "Town"})
	waitForPlayers(t, conn, hasWallets("A"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
			t.Fatalf("expected going-away close, got %v", err)
		}
		break
	}
}
