package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"brewfleet/backend/libs/buskv"
	"brewfleet/backend/libs/catalog"
	"brewfleet/backend/libs/mqtt"
	"brewfleet/backend/libs/protocol"
	"brewfleet/backend/services/controller/internal/metrics"
)

// ErrNoConfig is returned when a start event targets a station with no known
// actuation config. No actuation without a known pin.
var ErrNoConfig = errors.New("coordinator: no actuation config for station")

// ErrUnknownStation is returned when an order targets a station neither the
// catalog nor the mirror knows about.
var ErrUnknownStation = errors.New("coordinator: unknown station")

// Bus is the slice of the transport adapter the coordinator needs.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retain bool) error
	Subscribe(subs ...mqtt.Subscription) error
}

// Trigger fires the hardware actuation gateway. Pulse blocks for roughly the
// pulse duration; the coordinator always calls it off the message loop.
type Trigger interface {
	Pulse(ctx context.Context, pin int, durationMs int64) error
}

// Durations configures the Hot/Cold default pulse lengths. The mapping has
// drifted across protocol revisions, so it is configuration, never a
// constant.
type Durations struct {
	HotMs  int64
	ColdMs int64
}

// OrderDetails is what a kiosk submits when a customer confirms payment.
// OrderID may be preset for idempotent retries; empty means the coordinator
// assigns one.
type OrderDetails struct {
	OrderID      string  `json:"orderId,omitempty"`
	Size         string  `json:"size"`
	Price        float64 `json:"price"`
	RecipeID     string  `json:"recipeId"`
	CustomerName string  `json:"customerName,omitempty"`
}

// StationView is one station's mirrored state plus the active tag used by
// order-placement UIs.
type StationView struct {
	protocol.StationState
	Active bool `json:"active"`
}

// Coordinator runs on each controller instance. It tracks all stations and
// peer controllers through the bus, dispatches orders, and drives the
// actuation sequence end-to-end. Multiple coordinators may run concurrently;
// retained topics are last-write-wins and the small fleet accepts that.
type Coordinator struct {
	bus     Bus
	kv      *buskv.Store
	trigger Trigger
	clock   Clock
	logger  *zap.Logger

	sessionID string
	cat       *catalog.Catalog
	durations Durations

	mu       sync.RWMutex
	stations map[string]protocol.StationState
	presence map[string]protocol.Presence
	onChange func()
}

// New builds a coordinator. sessionID is this instance's presence identity;
// empty generates a fresh random one. Callers that arm a transport-level
// last-will generate the id first so the will topic matches.
func New(bus Bus, kv *buskv.Store, trigger Trigger, cat *catalog.Catalog, durations Durations, clock Clock, sessionID string, logger *zap.Logger) *Coordinator {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Coordinator{
		bus:       bus,
		kv:        kv,
		trigger:   trigger,
		clock:     clock,
		logger:    logger,
		sessionID: sessionID,
		cat:       cat,
		durations: durations,
		stations:  make(map[string]protocol.StationState),
		presence:  make(map[string]protocol.Presence),
	}
}

// SessionID returns this controller instance's presence identity.
func (c *Coordinator) SessionID() string {
	return c.sessionID
}

// SetOnChange registers a hook fired after every mirror or presence change,
// used to push live snapshots to connected kiosks.
func (c *Coordinator) SetOnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Announce runs the connect sequence: subscribe the wildcard channels, mark
// this session ONLINE (the OFFLINE last-will is armed at the transport
// level), raise the legacy global marker, and re-publish the full retained
// config table so stations booting concurrently configure themselves without
// a handshake.
func (c *Coordinator) Announce() error {
	if err := c.kv.Watch(
		protocol.TopicStationStatusAll,
		protocol.TopicStationConfigAll,
		protocol.TopicControllerPresenceAll,
	); err != nil {
		return fmt.Errorf("coordinator: watch channels: %w", err)
	}
	if err := c.bus.Subscribe(mqtt.Subscription{Topic: protocol.TopicEvents}); err != nil {
		return fmt.Errorf("coordinator: subscribe events: %w", err)
	}

	c.logger.Info("controller announcing", zap.String("session_id", c.sessionID))
	return c.RefreshNetwork()
}

// RefreshNetwork re-broadcasts presence, the legacy marker, and the config
// table. Cheap to repeat: every value is retained and idempotent downstream.
func (c *Coordinator) RefreshNetwork() error {
	presence, err := json.Marshal(protocol.Presence{
		ID:    c.sessionID,
		State: protocol.PresenceOnline,
		TS:    protocol.NowMillis(),
	})
	if err != nil {
		return fmt.Errorf("coordinator: encode presence: %w", err)
	}
	if err := c.kv.Put(protocol.ControllerPresenceTopic(c.sessionID), presence); err != nil {
		return err
	}

	legacy, err := json.Marshal(protocol.LegacyStatus{
		State: protocol.PresenceOnline,
		TS:    protocol.NowMillis(),
	})
	if err != nil {
		return fmt.Errorf("coordinator: encode legacy status: %w", err)
	}
	if err := c.kv.Put(protocol.TopicLegacyStatus, legacy); err != nil {
		return err
	}

	return c.publishConfigTable()
}

func (c *Coordinator) publishConfigTable() error {
	if c.cat == nil {
		return nil
	}
	for _, cfg := range c.cat.Configs(c.durations.HotMs, c.durations.ColdMs) {
		payload, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("coordinator: encode config %s: %w", cfg.StationID, err)
		}
		if err := c.kv.Put(protocol.StationConfigTopic(cfg.StationID), payload); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown resolves this session's retained presence to OFFLINE on a clean
// exit, doing what the last-will would have done on an unclean one.
func (c *Coordinator) Shutdown() {
	payload, err := json.Marshal(protocol.Presence{
		ID:    c.sessionID,
		State: protocol.PresenceOffline,
		TS:    protocol.NowMillis(),
	})
	if err == nil {
		if err := c.kv.Put(protocol.ControllerPresenceTopic(c.sessionID), payload); err != nil {
			c.logger.Warn("failed to publish offline presence", zap.Error(err))
		}
	}
}

// HandleMessage is the coordinator's single inbound dispatch point.
func (c *Coordinator) HandleMessage(msg mqtt.Message) {
	c.kv.Observe(msg)

	env, err := protocol.Decode(msg.Topic, msg.Payload)
	if err != nil {
		metrics.MalformedDropped()
		c.logger.Warn("dropping malformed message",
			zap.String("topic", msg.Topic), zap.Error(err))
		return
	}

	switch {
	case env.StationState != nil:
		metrics.MessageIn("station_state")
		c.updateStation(env.StationState)
	case env.Start != nil:
		metrics.MessageIn("start_event")
		if err := c.StartActuation(env.Start.StationID, env.Start.OrderID); err != nil {
			c.logger.Warn("start event abandoned",
				zap.String("station_id", env.Start.StationID),
				zap.String("order_id", env.Start.OrderID),
				zap.Error(err))
		}
	case env.Presence != nil:
		metrics.MessageIn("presence")
		c.updatePresence(env.Presence)
	case env.StationConfig != nil:
		// Config updates land in the kv store via Observe; operator edits
		// from peer controllers become visible to config lookups here.
		metrics.MessageIn("station_config")
	case env.LegacyStatus != nil:
		metrics.MessageIn("legacy_status")
	}
}

func (c *Coordinator) updateStation(st *protocol.StationState) {
	c.mu.Lock()
	c.stations[st.ID] = *st
	active := 0
	for _, s := range c.stations {
		if s.State != protocol.StateDisconnected {
			active++
		}
	}
	fn := c.onChange
	c.mu.Unlock()

	metrics.SetStationsActive(active)
	if fn != nil {
		fn()
	}
}

func (c *Coordinator) updatePresence(pr *protocol.Presence) {
	c.mu.Lock()
	c.presence[pr.ID] = *pr
	online := 0
	for _, p := range c.presence {
		if p.State == protocol.PresenceOnline {
			online++
		}
	}
	fn := c.onChange
	c.mu.Unlock()

	metrics.SetPeersOnline(online)
	if fn != nil {
		fn()
	}
}

// PlaceOrder merges a new order into the target station's queue and
// republishes the station's full state retained. The read-modify-write runs
// against this controller's mirror; two controllers racing on the same
// station resolve last-write-wins at the bus.
func (c *Coordinator) PlaceOrder(stationID string, details OrderDetails) (protocol.Order, error) {
	if !c.knowsStation(stationID) {
		return protocol.Order{}, fmt.Errorf("%w: %s", ErrUnknownStation, stationID)
	}

	order := protocol.Order{
		OrderID:      details.OrderID,
		Size:         details.Size,
		Price:        details.Price,
		RecipeID:     details.RecipeID,
		CustomerName: details.CustomerName,
	}
	if order.OrderID == "" {
		order.OrderID = uuid.NewString()
	}

	c.mu.Lock()
	st, ok := c.stations[stationID]
	if !ok {
		st = protocol.StationState{
			ID:     stationID,
			Type:   protocol.TypeStation,
			State:  protocol.StateIdle,
			Orders: []protocol.Order{},
		}
	}

	for _, existing := range st.Orders {
		if existing.OrderID == order.OrderID {
			// Same placement retried: the queue already holds it.
			c.mu.Unlock()
			return existing, nil
		}
	}

	st.Orders = append(st.Orders, order)
	if st.State != protocol.StateProcessing {
		st.State = protocol.StateOrderReceived
	}
	st.TS = protocol.NowMillis()
	c.stations[stationID] = st
	payload, err := json.Marshal(st)
	c.mu.Unlock()
	if err != nil {
		return protocol.Order{}, fmt.Errorf("coordinator: encode station state: %w", err)
	}

	if err := c.kv.Put(protocol.StationStatusTopic(stationID), payload); err != nil {
		return protocol.Order{}, err
	}

	metrics.OrderPlaced()
	c.logger.Info("order placed",
		zap.String("station_id", stationID),
		zap.String("order_id", order.OrderID),
		zap.String("recipe_id", order.RecipeID))
	return order, nil
}

// StartActuation drives one pour: republish the station as PROCESSING with
// the configured duration, fire the hardware gateway asynchronously, and
// schedule the COMPLETED transition for exactly the duration. The gateway's
// result never blocks or cancels the scheduled completion (fail-open): a
// dead or mocked valve must not leave the kiosk stuck in PROCESSING.
func (c *Coordinator) StartActuation(stationID, orderID string) error {
	cfg, ok := c.stationConfig(stationID)
	if !ok {
		metrics.MissingConfigAbort()
		return fmt.Errorf("%w: %s", ErrNoConfig, stationID)
	}

	duration := cfg.DurationMs

	c.mu.Lock()
	st, found := c.stations[stationID]
	if !found {
		st = protocol.StationState{
			ID:     stationID,
			Type:   protocol.TypeStation,
			Orders: []protocol.Order{},
		}
	}
	st.State = protocol.StateProcessing
	st.DurationMs = duration
	st.TS = protocol.NowMillis()
	c.stations[stationID] = st
	payload, err := json.Marshal(st)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("coordinator: encode station state: %w", err)
	}

	if err := c.kv.Put(protocol.StationStatusTopic(stationID), payload); err != nil {
		return err
	}

	metrics.ActuationStarted()
	c.logger.Info("actuation started",
		zap.String("station_id", stationID),
		zap.String("order_id", orderID),
		zap.Int("pin", cfg.Pin),
		zap.Int64("duration_ms", duration))

	go func() {
		if err := c.trigger.Pulse(context.Background(), cfg.Pin, duration); err != nil {
			metrics.ActuationFailed()
			c.logger.Warn("hardware trigger failed, completion proceeds anyway",
				zap.String("station_id", stationID),
				zap.Int("pin", cfg.Pin),
				zap.Error(err))
		}
	}()

	c.clock.AfterFunc(time.Duration(duration)*time.Millisecond, func() {
		c.completeActuation(stationID, orderID)
	})
	return nil
}

func (c *Coordinator) completeActuation(stationID, orderID string) {
	c.mu.Lock()
	st, ok := c.stations[stationID]
	if !ok {
		c.mu.Unlock()
		return
	}
	st.State = protocol.StateCompleted
	st.DurationMs = 0
	st.TS = protocol.NowMillis()
	c.stations[stationID] = st
	payload, err := json.Marshal(st)
	c.mu.Unlock()
	if err != nil {
		c.logger.Error("encode completed state failed", zap.Error(err))
		return
	}

	if err := c.kv.Put(protocol.StationStatusTopic(stationID), payload); err != nil {
		c.logger.Warn("failed to publish completed state",
			zap.String("station_id", stationID), zap.Error(err))
		return
	}

	metrics.ActuationCompleted()
	c.logger.Info("actuation completed",
		zap.String("station_id", stationID),
		zap.String("order_id", orderID))
}

// stationConfig resolves the actuation config: the retained config channel
// first (it carries operator overrides), the static catalog as fallback.
func (c *Coordinator) stationConfig(stationID string) (protocol.StationConfig, bool) {
	if raw, ok := c.kv.Get(protocol.StationConfigTopic(stationID)); ok && len(raw) > 0 {
		var cfg protocol.StationConfig
		if err := json.Unmarshal(raw, &cfg); err == nil && cfg.Pin > 0 {
			if cfg.DurationMs <= 0 {
				cfg.DurationMs = c.defaultDuration(cfg.Type)
			}
			return cfg, true
		}
	}
	if c.cat != nil {
		if cfg, ok := c.cat.ForStation(stationID, c.durations.HotMs, c.durations.ColdMs); ok {
			return cfg, true
		}
	}
	return protocol.StationConfig{}, false
}

func (c *Coordinator) defaultDuration(t protocol.BrewType) int64 {
	if t == protocol.BrewCold {
		return c.durations.ColdMs
	}
	return c.durations.HotMs
}

func (c *Coordinator) knowsStation(stationID string) bool {
	c.mu.RLock()
	_, mirrored := c.stations[stationID]
	c.mu.RUnlock()
	if mirrored {
		return true
	}
	if c.cat != nil {
		if _, ok := c.cat.ForStation(stationID, c.durations.HotMs, c.durations.ColdMs); ok {
			return true
		}
	}
	return false
}

// Stations returns the mirrored fleet, sorted by id, with DISCONNECTED
// stations tagged inactive so order-placement UIs can exclude them.
func (c *Coordinator) Stations() []StationView {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]StationView, 0, len(c.stations))
	for _, st := range c.stations {
		view := StationView{StationState: st, Active: st.State != protocol.StateDisconnected}
		view.Orders = append([]protocol.Order(nil), st.Orders...)
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot encodes the full fleet view as one JSON frame, the payload pushed
// to kiosks over the live channel.
func (c *Coordinator) Snapshot() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"stations":    c.Stations(),
		"controllers": c.Controllers(),
		"ts":          protocol.NowMillis(),
	})
}

// Controllers returns all known controller sessions, sorted by id.
func (c *Coordinator) Controllers() []protocol.Presence {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]protocol.Presence, 0, len(c.presence))
	for _, p := range c.presence {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
