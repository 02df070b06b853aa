package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/abhisek/tutorium/internal/trajectory"
)

// handleExportTrajectories returns trajectories newest first as JSON, or
// as JSON lines with format=jsonl.
func (s *Server) handleExportTrajectories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var minReward *float64
	if v := q.Get("min_reward"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.writeError(w, r, badRequestf("min_reward must be a number"), "")
			return
		}
		minReward = &f
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, badRequestf("limit must be a non-negative integer"), "")
			return
		}
		limit = n
	}

	recs, err := s.trajectories.Export(r.Context(), minReward, limit)
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}

	if q.Get("format") == "jsonl" {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		if _, err := trajectory.WriteJSONL(w, recs); err != nil {
			s.log.Warn("write trajectory export failed", zap.Error(err))
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trajectories": recs, "count": len(recs)})
}

func (s *Server) handleSessionTrajectories(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	recs, err := s.trajectories.Session(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err, "Session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "trajectories": recs, "count": len(recs)})
}
