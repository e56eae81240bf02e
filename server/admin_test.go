package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"golang.org/x/time/rate"

	"kekofshadows/protocol"
)

func TestHandleAdminConfigHotUpdatesLiveConnections(t *testing.T) {
	srv, ts := newTestServer(t, DefaultConfig())
	conn := dial(t, ts.URL, "A")
	waitRecipients(t, srv, 1)

	resp, err := http.Post(ts.URL+"/admin/config", "application/json", strings.NewReader(`{"updatesPerSecond":5,"updateBurst":2}`))
	if err != nil {
		t.Fatalf("post config: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	limit, burst := srv.rate()
	if limit != rate.Limit(5) || burst != 2 {
		t.Fatalf("expected 5/s burst 2, got %v/%d", limit, burst)
	}

	recipients, err := srv.Registry().Recipients(t.Context())
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	live := recipients[0].(*ClientConn)
	if live.limiter.Limit() != rate.Limit(5) || live.limiter.Burst() != 2 {
		t.Fatalf("live connection not updated: %v/%d", live.limiter.Limit(), live.limiter.Burst())
	}

	resp, err = http.Get(ts.URL + "/admin/config")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		UpdatesPerSecond float64 `json:"updatesPerSecond"`
		UpdateBurst      int     `json:"updateBurst"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if body.UpdatesPerSecond != 5 || body.UpdateBurst != 2 {
		t.Fatalf("unexpected config %+v", body)
	}

	// 限速只延后，不丢弃
	sendUpdate(t, conn, protocol.PlayerSnapshot{Wallet: "A", X: 1, Location: "Town"})
	sendUpdate(t, conn, protocol.PlayerSnapshot{Wallet: "A", X: 2, Location: "Town"})
	sendUpdate(t, conn, protocol.PlayerSnapshot{Wallet: "A", X: 3, Location: "Town"})
	waitForPlayers(t, conn, func(players []protocol.PlayerSnapshot) bool {
		return len(players) == 1 && players[0].X == 3
	})
}

func TestHandleAdminConfigRejectsBadInput(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())

	for _, body := range []string{`{`, `{"updatesPerSecond":-1}`} {
		resp, err := http.Post(ts.URL+"/admin/config", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post config: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, resp.StatusCode)
		}
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/admin/config", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete config: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestHandleAdminPlayersAndMetrics(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())
	conn := dial(t, ts.URL, "A")
	sendUpdate(t, conn, protocol.PlayerSnapshot{Wallet: "A", X: 4, Y: 2, Location: "Town"})
	waitForPlayers(t, conn, hasWallets("A"))

	resp, err := http.Get(ts.URL + "/admin/players")
	if err != nil {
		t.Fatalf("get players: %v", err)
	}
	var listing struct {
		Count   int                       `json:"count"`
		Players []protocol.PlayerSnapshot `json:"players"`
	}
	err = json.NewDecoder(resp.Body).Decode(&listing)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode players: %v", err)
	}
	if listing.Count != 1 || listing.Players[0].X != 4 {
		t.Fatalf("unexpected listing %+v", listing)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	var payload struct {
		Metrics map[string]any `json:"metrics"`
	}
	err = json.NewDecoder(resp.Body).Decode(&payload)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if payload.Metrics["updates_applied"].(float64) != 1 || payload.Metrics["connects"].(float64) != 1 {
		t.Fatalf("unexpected metrics %v", payload.Metrics)
	}
	if _, ok := payload.Metrics["bytes_broadcast_h"].(string); !ok {
		t.Fatalf("expected human readable byte count, got %v", payload.Metrics["bytes_broadcast_h"])
	}
}

func TestHandleSchemaAndHealth(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())

	resp, err := http.Get(ts.URL + "/schema")
	if err != nil {
		t.Fatalf("get schema: %v", err)
	}
	var schemas map[string]json.RawMessage
	err = json.NewDecoder(resp.Body).Decode(&schemas)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode schema: %v", err)
	}
	if _, ok := schemas[protocol.TypeUpdate]; !ok {
		t.Fatalf("schema missing update message")
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
