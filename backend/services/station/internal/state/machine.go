package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"brewfleet/backend/libs/buskv"
	"brewfleet/backend/libs/mqtt"
	"brewfleet/backend/libs/protocol"
)

// ErrNoOrder is returned by Start and Dismiss when the queue has no
// actionable order.
var ErrNoOrder = errors.New("state: no order selected")

// EventBus publishes momentary (non-retained) signals.
type EventBus interface {
	Publish(topic string, payload []byte, qos byte, retain bool) error
}

// Snapshot is the read view the kiosk renders from.
type Snapshot struct {
	StationID       string                  `json:"stationId"`
	State           protocol.Lifecycle      `json:"state"`
	Orders          []protocol.Order        `json:"orders"`
	SelectedOrderID string                  `json:"selectedOrderId,omitempty"`
	DurationMs      int64                   `json:"durationMs,omitempty"`
	Config          *protocol.StationConfig `json:"config,omitempty"`
	ControllerOn    bool                    `json:"controllerOnline"`
	LastUpdateMs    int64                   `json:"lastUpdateMs"`
}

// Machine owns one station's lifecycle. All cross-process facts live on the
// bus as retained messages; the machine's in-memory copy is a mirror that a
// restart rebuilds from retained replay plus the boot reset.
//
// Publishes always happen with the state mutex released: the bus delivers the
// station's own retained writes back to it (loopback), and that delivery must
// be free to re-enter the machine.
type Machine struct {
	kv        *buskv.Store
	events    EventBus
	logger    *zap.Logger
	stationID string

	mu            sync.Mutex
	shared        protocol.StationState
	config        *protocol.StationConfig
	lastConfigRaw []byte
	selectedID    string
	controllers   map[string]protocol.PresenceState
	legacyOnline  bool
}

// New builds the machine. initialCfg seeds the actuation config from the
// local catalog so the kiosk renders before the retained config arrives.
func New(kv *buskv.Store, events EventBus, stationID string, initialCfg *protocol.StationConfig, logger *zap.Logger) *Machine {
	return &Machine{
		kv:        kv,
		events:    events,
		logger:    logger,
		stationID: stationID,
		config:    initialCfg,
		shared: protocol.StationState{
			ID:     stationID,
			Type:   protocol.TypeStation,
			State:  protocol.StateIdle,
			Orders: []protocol.Order{},
		},
		controllers: make(map[string]protocol.PresenceState),
	}
}

// Announce performs the boot sequence: watch the station's own retained
// channels plus controller presence, then publish IDLE with an empty queue.
// The boot publish deliberately overwrites any stale retained order from a
// previous session; a clean slate beats resuming an unfinished pour.
func (m *Machine) Announce() error {
	if err := m.kv.Watch(
		protocol.StationStatusTopic(m.stationID),
		protocol.StationConfigTopic(m.stationID),
		protocol.TopicControllerPresenceAll,
		protocol.TopicLegacyStatus,
	); err != nil {
		return fmt.Errorf("state: watch channels: %w", err)
	}

	m.mu.Lock()
	m.shared.State = protocol.StateIdle
	m.shared.Orders = []protocol.Order{}
	m.shared.DurationMs = 0
	m.selectedID = ""
	payload, err := m.encodeStateLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.logger.Info("station announcing boot state", zap.String("station_id", m.stationID))
	return m.kv.Put(protocol.StationStatusTopic(m.stationID), payload)
}

// HandleMessage is the single inbound dispatch point. Failures are logged and
// dropped; nothing here may take down the message loop.
func (m *Machine) HandleMessage(msg mqtt.Message) {
	m.kv.Observe(msg)

	env, err := protocol.Decode(msg.Topic, msg.Payload)
	if err != nil {
		m.logger.Warn("dropping malformed message",
			zap.String("topic", msg.Topic), zap.Error(err))
		return
	}

	switch {
	case env.StationState != nil && env.StationState.ID == m.stationID:
		m.mirrorState(env.StationState)
	case env.StationConfig != nil && env.StationConfig.StationID == m.stationID:
		m.applyConfig(env.StationConfig, msg.Payload)
	case env.Presence != nil:
		m.trackPresence(env.Presence.ID, env.Presence.State)
	case env.LegacyStatus != nil:
		m.trackLegacy(env.LegacyStatus.State)
	}
}

// mirrorState adopts a retained state update. The controller is the writer
// for order/processing/completed transitions; the station just mirrors,
// deduplicating orders by id.
func (m *Machine) mirrorState(st *protocol.StationState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st.Orders = dedupeOrders(st.Orders)
	m.shared = *st

	if m.selectedID != "" && findOrder(m.shared.Orders, m.selectedID) < 0 {
		m.selectedID = ""
	}
}

func (m *Machine) applyConfig(cfg *protocol.StationConfig, raw []byte) {
	m.mu.Lock()

	// Receiving config proves a controller is alive; a station that believed
	// itself disconnected rejoins the fleet. This must happen even for a
	// byte-identical re-delivery, otherwise a station marked disconnected by
	// its last will never recovers from an unchanged config table.
	var payload []byte
	var err error
	if m.shared.State == protocol.StateDisconnected {
		m.shared.State = protocol.StateIdle
		payload, err = m.encodeStateLocked()
	}

	duplicate := m.lastConfigRaw != nil && bytes.Equal(m.lastConfigRaw, raw)
	if !duplicate {
		stored := make([]byte, len(raw))
		copy(stored, raw)
		m.lastConfigRaw = stored
		m.config = cfg
	}
	m.mu.Unlock()

	if duplicate {
		m.logger.Debug("ignoring identical config re-delivery",
			zap.String("station_id", m.stationID))
	} else {
		m.logger.Info("station config updated",
			zap.String("station_id", m.stationID),
			zap.String("coffee_id", cfg.CoffeeID),
			zap.Int("pin", cfg.Pin))
	}

	if err != nil {
		m.logger.Warn("failed to encode state after config revive", zap.Error(err))
		return
	}
	if payload != nil {
		if err := m.kv.Put(protocol.StationStatusTopic(m.stationID), payload); err != nil {
			m.logger.Warn("failed to publish state after config revive", zap.Error(err))
		}
	}
}

func (m *Machine) trackPresence(sessionID string, state protocol.PresenceState) {
	m.mu.Lock()
	wasOnline := m.anyControllerOnlineLocked()
	m.controllers[sessionID] = state
	nowOnline := m.anyControllerOnlineLocked()
	m.mu.Unlock()

	if !wasOnline && nowOnline {
		m.onControllerBack()
	}
}

func (m *Machine) trackLegacy(state protocol.PresenceState) {
	m.mu.Lock()
	wasOnline := m.anyControllerOnlineLocked()
	m.legacyOnline = state == protocol.PresenceOnline
	nowOnline := m.anyControllerOnlineLocked()
	m.mu.Unlock()

	if !wasOnline && nowOnline {
		m.onControllerBack()
	}
}

// onControllerBack re-announces the station's current state so a freshly
// started controller rebuilds its mirror without a bespoke handshake.
func (m *Machine) onControllerBack() {
	m.mu.Lock()
	if m.shared.State == protocol.StateDisconnected {
		m.mu.Unlock()
		return
	}
	payload, err := m.encodeStateLocked()
	m.mu.Unlock()
	if err != nil {
		m.logger.Warn("re-announce encode failed", zap.Error(err))
		return
	}

	m.logger.Info("controller online, re-announcing state",
		zap.String("station_id", m.stationID))
	if err := m.kv.Put(protocol.StationStatusTopic(m.stationID), payload); err != nil {
		m.logger.Warn("re-announce failed", zap.Error(err))
	}
}

func (m *Machine) anyControllerOnlineLocked() bool {
	if m.legacyOnline {
		return true
	}
	for _, st := range m.controllers {
		if st == protocol.PresenceOnline {
			return true
		}
	}
	return false
}

// SelectOrder pins the kiosk's selection to a queued order.
func (m *Machine) SelectOrder(orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if findOrder(m.shared.Orders, orderID) < 0 {
		return fmt.Errorf("state: order %s not queued", orderID)
	}
	m.selectedID = orderID
	return nil
}

// EffectiveOrderID is the selection the next Start or Dismiss acts on: the
// explicit selection if it still exists, otherwise the head of the queue.
func (m *Machine) EffectiveOrderID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effectiveOrderIDLocked()
}

func (m *Machine) effectiveOrderIDLocked() string {
	if m.selectedID != "" && findOrder(m.shared.Orders, m.selectedID) >= 0 {
		return m.selectedID
	}
	if len(m.shared.Orders) > 0 {
		return m.shared.Orders[0].OrderID
	}
	return ""
}

// Start emits the momentary START event for the effective selection. It does
// not change the station's own state: the authoritative PROCESSING transition
// comes back from the controller as a retained update.
func (m *Machine) Start() error {
	m.mu.Lock()
	orderID := m.effectiveOrderIDLocked()
	m.mu.Unlock()
	if orderID == "" {
		return ErrNoOrder
	}

	payload, err := json.Marshal(protocol.StartEvent{
		Type:      protocol.EventStart,
		StationID: m.stationID,
		OrderID:   orderID,
		TS:        protocol.NowMillis(),
	})
	if err != nil {
		return fmt.Errorf("state: encode start event: %w", err)
	}

	m.logger.Info("emitting start event",
		zap.String("station_id", m.stationID), zap.String("order_id", orderID))
	return m.events.Publish(protocol.TopicEvents, payload, 0, false)
}

// Dismiss removes the effective order from the queue after completion and
// returns the station to IDLE, or to ORDER_RECEIVED when more orders wait.
func (m *Machine) Dismiss() error {
	m.mu.Lock()

	orderID := m.effectiveOrderIDLocked()
	if orderID == "" {
		m.mu.Unlock()
		return ErrNoOrder
	}

	kept := make([]protocol.Order, 0, len(m.shared.Orders))
	for _, o := range m.shared.Orders {
		if o.OrderID != orderID {
			kept = append(kept, o)
		}
	}
	m.shared.Orders = kept
	m.shared.DurationMs = 0
	m.selectedID = ""
	if len(kept) == 0 {
		m.shared.State = protocol.StateIdle
	} else {
		m.shared.State = protocol.StateOrderReceived
		if len(kept) == 1 {
			m.selectedID = kept[0].OrderID
		}
	}
	nextState := m.shared.State
	payload, err := m.encodeStateLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.logger.Info("order dismissed",
		zap.String("station_id", m.stationID),
		zap.String("order_id", orderID),
		zap.String("next_state", string(nextState)))
	return m.kv.Put(protocol.StationStatusTopic(m.stationID), payload)
}

// Recover republishes the live state after the transport regains the broker.
// The armed last-will may have fired during the outage, so a mirrored
// DISCONNECTED marker is promoted back to IDLE before publishing.
func (m *Machine) Recover() error {
	m.mu.Lock()
	if m.shared.State == protocol.StateDisconnected {
		m.shared.State = protocol.StateIdle
	}
	payload, err := m.encodeStateLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.kv.Put(protocol.StationStatusTopic(m.stationID), payload)
}

// Reannounce republishes the current state unchanged.
func (m *Machine) Reannounce() error {
	m.mu.Lock()
	payload, err := m.encodeStateLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.kv.Put(protocol.StationStatusTopic(m.stationID), payload)
}

// Snapshot returns a copy of the kiosk-facing view.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders := make([]protocol.Order, len(m.shared.Orders))
	copy(orders, m.shared.Orders)

	var cfg *protocol.StationConfig
	if m.config != nil {
		c := *m.config
		cfg = &c
	}

	return Snapshot{
		StationID:       m.stationID,
		State:           m.shared.State,
		Orders:          orders,
		SelectedOrderID: m.effectiveOrderIDLocked(),
		DurationMs:      m.shared.DurationMs,
		Config:          cfg,
		ControllerOn:    m.anyControllerOnlineLocked(),
		LastUpdateMs:    m.shared.TS,
	}
}

// encodeStateLocked stamps and serializes the current state. Caller holds mu.
func (m *Machine) encodeStateLocked() ([]byte, error) {
	m.shared.ID = m.stationID
	m.shared.Type = protocol.TypeStation
	m.shared.TS = protocol.NowMillis()
	if m.shared.Orders == nil {
		m.shared.Orders = []protocol.Order{}
	}

	payload, err := json.Marshal(m.shared)
	if err != nil {
		return nil, fmt.Errorf("state: encode station state: %w", err)
	}
	return payload, nil
}

func dedupeOrders(orders []protocol.Order) []protocol.Order {
	out := make([]protocol.Order, 0, len(orders))
	seen := make(map[string]bool, len(orders))
	for _, o := range orders {
		if seen[o.OrderID] {
			continue
		}
		seen[o.OrderID] = true
		out = append(out, o)
	}
	return out
}

func findOrder(orders []protocol.Order, orderID string) int {
	for i, o := range orders {
		if o.OrderID == orderID {
			return i
		}
	}
	return -1
}
