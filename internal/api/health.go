package api

import (
	"net/http"

	"github.com/seantiz/taskgate/internal/model"
)

type healthResponse struct {
	Status         string `json:"status"`
	MaxParallelism int    `json:"max_parallelism"`
	Queued         int    `json:"queued"`
	Running        int    `json:"running"`
}

// handleHealthz reports liveness along with the engine's current load.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		MaxParallelism: s.engine.MaxDegreeOfParallelism(),
		Queued:         s.engine.Len(),
	}
	for _, ts := range s.engine.GetAllTaskStatuses() {
		if ts.Status == model.StatusRunning {
			resp.Running++
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}
