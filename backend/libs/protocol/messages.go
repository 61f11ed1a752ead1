package protocol

import "time"

// Lifecycle is a station's lifecycle state. It is always derivable from the
// last retained state message on the station's status topic.
type Lifecycle string

const (
	StateDisconnected  Lifecycle = "DISCONNECTED"
	StateIdle          Lifecycle = "IDLE"
	StateOrderReceived Lifecycle = "ORDER_RECEIVED"
	StateProcessing    Lifecycle = "PROCESSING"
	StateCompleted     Lifecycle = "COMPLETED"
)

// PresenceState marks a controller session as reachable or gone.
type PresenceState string

const (
	PresenceOnline  PresenceState = "ONLINE"
	PresenceOffline PresenceState = "OFFLINE"
)

// BrewType selects the default pulse duration when a station config does not
// carry an explicit one.
type BrewType string

const (
	BrewHot  BrewType = "Hot"
	BrewCold BrewType = "Cold"
)

// Order is a single placed drink order. OrderID is unique per placement.
type Order struct {
	OrderID      string  `json:"orderId"`
	Size         string  `json:"size"`
	Price        float64 `json:"price"`
	RecipeID     string  `json:"recipeId"`
	CustomerName string  `json:"customerName,omitempty"`
}

// StationState is the retained shared state of one station. DurationMs is set
// only while State is PROCESSING.
type StationState struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	State      Lifecycle `json:"state"`
	Orders     []Order   `json:"orders"`
	DurationMs int64     `json:"duration,omitempty"`
	TS         int64     `json:"ts"`
}

// TypeStation is the Type discriminator carried in StationState.
const TypeStation = "station"

// StationConfig is the retained actuation config for one station: which drink
// it pours, which GPIO line drives the valve, and for how long. Image, Roast
// and Detail are decorative; the kiosk renders them, the core carries them.
type StationConfig struct {
	StationID   string   `json:"stationId"`
	CoffeeID    string   `json:"coffeeId"`
	DisplayName string   `json:"displayName"`
	Type        BrewType `json:"type"`
	Pin         int      `json:"pin"`
	DurationMs  int64    `json:"durationMs,omitempty"`
	Image       string   `json:"image,omitempty"`
	Roast       string   `json:"roast,omitempty"`
	Detail      string   `json:"detail,omitempty"`
}

// EventStart is the Type discriminator of a StartEvent.
const EventStart = "START"

// StartEvent is a momentary signal published to the events topic when a kiosk
// user starts a queued order. It carries no state; the controller reacts by
// writing the station's retained state.
type StartEvent struct {
	Type      string `json:"type"`
	StationID string `json:"stationId"`
	OrderID   string `json:"orderId"`
	TS        int64  `json:"ts"`
}

// Presence is a controller session's retained liveness record. It is written
// with a last-will so an ungraceful disconnect still resolves to OFFLINE.
type Presence struct {
	ID    string        `json:"id"`
	State PresenceState `json:"state"`
	TS    int64         `json:"ts"`
}

// LegacyStatus is the payload of the legacy global controller marker.
type LegacyStatus struct {
	State PresenceState `json:"state"`
	TS    int64         `json:"ts"`
}

// NowMillis returns the wire timestamp: Unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
