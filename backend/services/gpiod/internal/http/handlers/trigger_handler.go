package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"brewfleet/backend/services/gpiod/internal/gpio"
)

// Actuator is the pulser surface the trigger endpoint drives.
type Actuator interface {
	Pulse(ctx context.Context, req gpio.Request) (gpio.Result, error)
}

type triggerRequest struct {
	Pin      *int   `json:"pin"`
	Duration *int64 `json:"duration"`
	Value    *int   `json:"value"`
	Hold     bool   `json:"hold"`
}

type triggerResponse struct {
	Success bool `json:"success"`
	gpio.Result
	Error string `json:"error,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

// NewTriggerHandler returns POST /trigger handler. A missing or malformed
// body runs the default pulse, matching the manual-test ergonomics of the
// endpoint: `curl -X POST /trigger` fires pin 17 for 2s.
func NewTriggerHandler(pulser Actuator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body triggerRequest
		_ = json.NewDecoder(r.Body).Decode(&body)

		req := gpio.Normalize(body.Pin, body.Duration, body.Value, body.Hold)

		result, err := pulser.Pulse(r.Context(), req)
		if err != nil {
			logger.Error("gpio trigger failed",
				zap.Int("pin", req.Pin), zap.Int64("duration_ms", req.DurationMs),
				zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, triggerResponse{
				Success: false,
				Error:   err.Error(),
				Hint:    gpio.PermissionHint,
			})
			return
		}

		writeJSON(w, http.StatusOK, triggerResponse{Success: true, Result: result})
	}
}

// NewHealthHandler returns GET /health handler.
func NewHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
