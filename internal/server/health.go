package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthResponse is the body of both probe endpoints.
// Checks lists the writer and consumer states on the readiness endpoint.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// LivenessHandler reports whether the recorder process is running.
// It does not look at the bag: a closed bag after shutdown is not a reason to restart.
func LivenessHandler(checker HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return probeHandler("alive", "not alive", func(*http.Request) bool {
		return checker.Liveness()
	}, nil, logger)
}

// ReadinessHandler reports whether records are being recorded, that is the bag is
// open and the consumer is running. The response carries the state of each.
func ReadinessHandler(checker HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return probeHandler("ready", "not ready", func(r *http.Request) bool {
		return checker.Readiness(r.Context())
	}, checker.GetStatus, logger)
}

func probeHandler(up, down string, probe func(*http.Request) bool, checks func() map[string]string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:    up,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		code := http.StatusOK
		if !probe(r) {
			resp.Status = down
			code = http.StatusServiceUnavailable
		}
		if checks != nil {
			resp.Checks = checks()
		}
		if code != http.StatusOK {
			logger.Debug("probe failed", zap.String("path", r.URL.Path), zap.Any("checks", resp.Checks))
		}

		writeJSON(w, code, resp, logger)
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, body any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", zap.Int("status", statusCode), zap.Error(err))
	}
}
