package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"brewfleet/backend/services/station/internal/state"
)

// StationMachine is the state machine surface the kiosk endpoints drive.
type StationMachine interface {
	Snapshot() state.Snapshot
	Start() error
	SelectOrder(orderID string) error
	Dismiss() error
	Reannounce() error
}

// NewStateHandler returns GET /state handler.
func NewStateHandler(m StationMachine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Snapshot())
	}
}

// NewStartHandler returns POST /orders/start handler. It raises the start
// event; the lifecycle transition arrives back over the bus.
func NewStartHandler(m StationMachine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.Start(); err != nil {
			if errors.Is(err, state.ErrNoOrder) {
				writeError(w, http.StatusConflict, "no order queued")
				return
			}
			logger.Error("start failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to start order")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

// NewSelectHandler returns POST /orders/select handler.
func NewSelectHandler(m StationMachine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OrderID string `json:"orderId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.OrderID == "" {
			writeError(w, http.StatusBadRequest, "orderId is required")
			return
		}
		if err := m.SelectOrder(req.OrderID); err != nil {
			writeError(w, http.StatusNotFound, "order not queued")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"selectedOrderId": req.OrderID})
	}
}

// NewDismissHandler returns POST /orders/dismiss handler.
func NewDismissHandler(m StationMachine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.Dismiss(); err != nil {
			if errors.Is(err, state.ErrNoOrder) {
				writeError(w, http.StatusConflict, "no order queued")
				return
			}
			logger.Error("dismiss failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to dismiss order")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
	}
}

// NewReannounceHandler returns POST /reannounce handler, the manual recovery
// path when retained state looks stale.
func NewReannounceHandler(m StationMachine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.Reannounce(); err != nil {
			logger.Error("re-announce failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to re-announce")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "announced"})
	}
}

// NewHealthHandler returns GET /health handler.
func NewHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
