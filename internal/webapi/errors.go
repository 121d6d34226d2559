package webapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// jsonResponse writes data as a JSON body with a 200 status.
func (s *Server) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("failed to encode json response", zap.Error(err))
	}
}

// jsonCreated writes data as a JSON body with a 201 status.
func (s *Server) jsonCreated(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("failed to encode json response", zap.Error(err))
	}
}

// jsonError writes a {"error": message} body with the given status.
func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		s.log.Error("failed to encode json error response", zap.Error(err))
	}
}

// jsonBlockers writes a 400 response listing the blockers preventing an
// operation (§6: "400 with the blocker list").
func (s *Server) jsonBlockers(w http.ResponseWriter, message string, blockers any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	if err := json.NewEncoder(w).Encode(map[string]any{"error": message, "blockers": blockers}); err != nil {
		s.log.Error("failed to encode blocker response", zap.Error(err))
	}
}
