package server

import (
	"encoding/json"
	"net/http"
)

// AdminHandler 管理与监控接口
func (s *Server) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.HandleHealthz)
	mux.HandleFunc("/metrics", s.HandleMetrics)
	mux.HandleFunc("/admin/players", s.HandlePlayers)
	mux.HandleFunc("/admin/config", s.HandleAdminConfig)
	mux.HandleFunc("/spectate", s.HandleSpectate)
	return mux
}

func (s *Server) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.inShutdown.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

// HandleAdminConfig 提供校验阈值的读取与更新（热更新）
// GET /admin/config  返回当前阈值
// POST /admin/config 以 JSON 载荷更新部分字段
func (s *Server) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	type cfg struct {
		MaxUsernameLength    *int     `json:"maxUsernameLength,omitempty"`
		MaxPositionMagnitude *float64 `json:"maxPositionMagnitude,omitempty"`
		RotationTolerance    *float64 `json:"rotationTolerance,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.Limits())
		return
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		l := s.Limits()
		if body.MaxUsernameLength != nil {
			l.MaxUsernameLength = *body.MaxUsernameLength
		}
		if body.MaxPositionMagnitude != nil {
			l.MaxPositionMagnitude = *body.MaxPositionMagnitude
		}
		if body.RotationTolerance != nil {
			l.RotationTolerance = *body.RotationTolerance
		}
		if err := s.SetLimits(l); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		s.log.Infof("config updated: maxUsernameLength=%d maxPositionMagnitude=%.2f rotationTolerance=%.4f",
			l.MaxUsernameLength, l.MaxPositionMagnitude, l.RotationTolerance)
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
}

// HandleMetrics 输出运行指标
// GET /metrics
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	m := s.metrics.Snapshot()
	m["actions_executed"] = s.queue.Executed()
	m["actions_panicked"] = s.queue.Panicked()
	m["actions_pending"] = s.queue.Len()
	m["packets_dropped"] = s.registry.Dropped()
	payload := map[string]any{
		"tick":        s.tickSeq.Load(),
		"connections": s.conns.len(),
		"players":     len(s.Players()),
		"spectators":  s.spectators.len(),
		"metrics":     m,
	}
	writeJSON(w, http.StatusOK, payload)
}

// HandlePlayers 输出最近一次 Tick 的在场玩家
// GET /admin/players
func (s *Server) HandlePlayers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tick":    s.tickSeq.Load(),
		"players": s.Players(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
