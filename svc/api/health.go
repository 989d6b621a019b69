package api

import (
	"context"
	"encoding/json"
	"net/http"
	"pastebin/svc/util"
	"time"
)

type HealthResponse struct {
	Status string `json:"status"`
}
type ReadyResponse struct {
	Ready    bool   `json:"ready"`
	Database string `json:"database"`
	Content  string `json:"content"`
	Cache    string `json:"cache"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// Ready reports 503 when any durable store or the shared cache is unreachable.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	resp := ReadyResponse{Ready: true}
	resp.Database = s.probe(ctx, "database", s.deps.Database, &resp.Ready)
	resp.Content = s.probe(ctx, "content", s.deps.Content, &resp.Ready)
	if s.deps.Cache != nil {
		resp.Cache = s.probe(ctx, "cache", s.deps.Cache, &resp.Ready)
	} else {
		resp.Cache = "local"
	}
	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) probe(ctx context.Context, name string, p Pinger, ready *bool) string {
	if p == nil {
		*ready = false
		return "missing"
	}
	pctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := p.Ping(pctx); err != nil {
		util.Error().Err(err).Str("component", name).Msg("health check failed")
		*ready = false
		return "down"
	}
	return "up"
}
