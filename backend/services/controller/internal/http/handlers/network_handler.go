package handlers

import (
	"net/http"

	"go.uber.org/zap"
)

// NetworkRefresher re-broadcasts presence and the config table.
type NetworkRefresher interface {
	RefreshNetwork() error
}

// NewNetworkRefreshHandler returns POST /network/refresh handler.
func NewNetworkRefreshHandler(refresher NetworkRefresher, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := refresher.RefreshNetwork(); err != nil {
			logger.Error("network refresh failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to refresh network")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
	}
}
