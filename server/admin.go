package server

import (
	"encoding/json"
	"math"
	"net/http"

	"golang.org/x/time/rate"

	"kekofshadows/protocol"
)

// handleAdminConfig 提供 update 限速的读取与热更新
// GET /admin/config   返回当前配置
// POST /admin/config  以 JSON 载荷更新部分字段，立即作用于所有在线连接
func (s *Server) handleAdminConfig(w http.ResponseWriter, r *http.Request) {
	type cfg struct {
		UpdatesPerSecond *float64 `json:"updatesPerSecond,omitempty"`
		UpdateBurst      *int     `json:"updateBurst,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		limit, burst := s.rate()
		perSecond := float64(limit)
		if limit == rate.Inf {
			perSecond = 0 // 0 表示不限速
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cfg{UpdatesPerSecond: &perSecond, UpdateBurst: &burst})
		return
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.UpdatesPerSecond != nil && (*body.UpdatesPerSecond < 0 || math.IsNaN(*body.UpdatesPerSecond)) {
			http.Error(w, "updatesPerSecond must be >= 0", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		perSecond := float64(s.limit)
		if s.limit == rate.Inf {
			perSecond = 0
		}
		burst := s.burst
		if body.UpdatesPerSecond != nil {
			perSecond = *body.UpdatesPerSecond
		}
		if body.UpdateBurst != nil {
			burst = *body.UpdateBurst
		}
		s.limit, s.burst = toRate(perSecond, burst)
		limit, burst := s.limit, s.burst
		s.mu.Unlock()

		recipients, err := s.registry.Recipients(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		for _, rc := range recipients {
			if c, ok := rc.(*ClientConn); ok {
				c.SetRate(limit, burst)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		Log.Infof("config updated: updatesPerSecond=%.2f burst=%d live=%d", perSecond, burst, len(recipients))
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
}

// handleAdminPlayers 输出当前注册表内容
// GET /admin/players
func (s *Server) handleAdminPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := s.registry.Players(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if players == nil {
		players = []protocol.PlayerSnapshot{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"count": len(players), "players": players})
}

// handleMetrics 输出注册表运行指标
// GET /metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"metrics": s.metrics.Snapshot(),
	})
}

// handleSchema 输出线上消息的 JSON Schema
// GET /schema
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(protocol.Schemas())
}
