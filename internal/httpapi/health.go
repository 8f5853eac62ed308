package httpapi

import (
	"encoding/json"
	"net/http"
	"time"
)

// healthResponse/readyResponse/checkResult mirror the teacher's
// HealthHandler response shapes (internal/handlers/health.go).
type healthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

type readyResponse struct {
	Status    string                 `json:"status"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]checkResult `json:"checks"`
}

type checkResult struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Timestamp: time.Now().Unix()})
}

// handleReadyz checks the config snapshot and the database connection,
// generalized from the teacher's Ready/checkDatabase to also require a
// published gwconfig snapshot before declaring readiness.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	checks := map[string]checkResult{}
	healthy := true

	if s.cfg.Current() == nil {
		checks["config"] = checkResult{Healthy: false, Message: "no configuration snapshot published yet"}
		healthy = false
	} else {
		checks["config"] = checkResult{Healthy: true, Message: "configuration snapshot published"}
	}

	dbCheck := s.checkDatabase()
	checks["database"] = dbCheck
	if !dbCheck.Healthy {
		healthy = false
	}

	status := "ready"
	if !healthy {
		status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(readyResponse{Status: status, Timestamp: time.Now().Unix(), Checks: checks})
}

func (s *Server) handleLivez(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) checkDatabase() checkResult {
	if s.db == nil {
		return checkResult{Healthy: true, Message: "no database configured"}
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return checkResult{Healthy: false, Message: "failed to get database connection: " + err.Error()}
	}
	if err := sqlDB.Ping(); err != nil {
		return checkResult{Healthy: false, Message: "database ping failed: " + err.Error()}
	}
	return checkResult{Healthy: true, Message: "database connected"}
}
