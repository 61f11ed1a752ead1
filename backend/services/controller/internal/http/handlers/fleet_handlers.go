package handlers

import (
	"net/http"

	"brewfleet/backend/libs/protocol"
	"brewfleet/backend/services/controller/internal/coordinator"
)

// Fleet is the coordinator surface the read handlers need.
type Fleet interface {
	Stations() []coordinator.StationView
	Controllers() []protocol.Presence
	SessionID() string
}

// NewStationsHandler returns GET /stations handler.
func NewStationsHandler(fleet Fleet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"stations": fleet.Stations(),
		})
	}
}

// NewControllersHandler returns GET /controllers handler.
func NewControllersHandler(fleet Fleet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sessionId":   fleet.SessionID(),
			"controllers": fleet.Controllers(),
		})
	}
}

// NewHealthHandler returns GET /health handler.
func NewHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
