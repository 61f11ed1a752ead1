package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"brewfleet/backend/libs/protocol"
	"brewfleet/backend/services/controller/internal/coordinator"
)

// OrderPlacer is the coordinator surface for order placement.
type OrderPlacer interface {
	PlaceOrder(stationID string, details coordinator.OrderDetails) (protocol.Order, error)
}

type orderRequest struct {
	StationID string `json:"stationId"`
	coordinator.OrderDetails
}

// NewOrdersHandler returns POST /orders handler.
func NewOrdersHandler(placer OrderPlacer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.StationID == "" {
			writeError(w, http.StatusBadRequest, "stationId is required")
			return
		}
		if req.RecipeID == "" {
			writeError(w, http.StatusBadRequest, "recipeId is required")
			return
		}

		order, err := placer.PlaceOrder(req.StationID, req.OrderDetails)
		if err != nil {
			if errors.Is(err, coordinator.ErrUnknownStation) {
				writeError(w, http.StatusNotFound, "unknown station")
				return
			}
			logger.Error("failed to place order",
				zap.String("station_id", req.StationID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to place order")
			return
		}

		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"stationId": req.StationID,
			"order":     order,
		})
	}
}
