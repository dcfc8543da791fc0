package api

import "net/http"

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tokens":        s.usage.Snapshot(),
		"latency":       s.stats.Snapshot(),
		"latency_by_op": s.stats.ByOp(),
	})
}
