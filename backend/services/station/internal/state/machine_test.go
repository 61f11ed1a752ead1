package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"brewfleet/backend/libs/bustest"
	"brewfleet/backend/libs/buskv"
	"brewfleet/backend/libs/mqtt"
	"brewfleet/backend/libs/protocol"
)

func newTestMachine(t *testing.T, broker *bustest.Broker, stationID string) (*Machine, *bustest.Client) {
	t.Helper()
	client := broker.Client(stationID)
	kv := buskv.New(client, 0)
	m := New(kv, client, stationID, nil, zap.NewNop())
	client.Handle(m.HandleMessage)
	return m, client
}

func retainedState(t *testing.T, broker *bustest.Broker, stationID string) protocol.StationState {
	t.Helper()
	raw := broker.Retained(protocol.StationStatusTopic(stationID))
	require.NotNil(t, raw)
	var st protocol.StationState
	require.NoError(t, json.Unmarshal(raw, &st))
	return st
}

func publishState(t *testing.T, c *bustest.Client, st protocol.StationState) {
	t.Helper()
	st.Type = protocol.TypeStation
	if st.TS == 0 {
		st.TS = protocol.NowMillis()
	}
	payload, err := json.Marshal(st)
	require.NoError(t, err)
	require.NoError(t, c.Publish(protocol.StationStatusTopic(st.ID), payload, 0, true))
}

func TestBootResetOverwritesStaleRetainedState(t *testing.T) {
	broker := bustest.NewBroker()

	// A previous session left an unfinished order behind.
	stale := broker.Client("old-controller")
	publishState(t, stale, protocol.StationState{
		ID:    "station1",
		State: protocol.StateOrderReceived,
		Orders: []protocol.Order{
			{OrderID: "OLD", Size: "small", Price: 3, RecipeID: "espresso"},
		},
	})

	m, _ := newTestMachine(t, broker, "station1")
	require.NoError(t, m.Announce())

	st := retainedState(t, broker, "station1")
	assert.Equal(t, protocol.StateIdle, st.State)
	assert.Empty(t, st.Orders)

	snap := m.Snapshot()
	assert.Equal(t, protocol.StateIdle, snap.State)
	assert.Empty(t, snap.Orders)
}

func TestMirrorsControllerOrderUpdate(t *testing.T) {
	broker := bustest.NewBroker()
	m, _ := newTestMachine(t, broker, "station1")
	require.NoError(t, m.Announce())

	controller := broker.Client("controller")
	publishState(t, controller, protocol.StationState{
		ID:    "station1",
		State: protocol.StateOrderReceived,
		Orders: []protocol.Order{
			{OrderID: "A1", Size: "medium", Price: 5, RecipeID: "latte"},
		},
	})

	snap := m.Snapshot()
	assert.Equal(t, protocol.StateOrderReceived, snap.State)
	require.Len(t, snap.Orders, 1)
	assert.Equal(t, "A1", snap.Orders[0].OrderID)
	assert.Equal(t, "A1", snap.SelectedOrderID, "sole order is auto-selected")
}

func TestMirrorDeduplicatesOrders(t *testing.T) {
	broker := bustest.NewBroker()
	m, _ := newTestMachine(t, broker, "station1")
	require.NoError(t, m.Announce())

	controller := broker.Client("controller")
	publishState(t, controller, protocol.StationState{
		ID:    "station1",
		State: protocol.StateOrderReceived,
		Orders: []protocol.Order{
			{OrderID: "A1", Size: "medium"},
			{OrderID: "A1", Size: "medium"},
			{OrderID: "A2", Size: "large"},
		},
	})

	snap := m.Snapshot()
	require.Len(t, snap.Orders, 2)
	assert.Equal(t, "A1", snap.Orders[0].OrderID)
	assert.Equal(t, "A2", snap.Orders[1].OrderID)
}

func TestStartEmitsEventWithoutStateChange(t *testing.T) {
	broker := bustest.NewBroker()
	m, _ := newTestMachine(t, broker, "station1")
	require.NoError(t, m.Announce())

	controller := broker.Client("controller")
	publishState(t, controller, protocol.StationState{
		ID:     "station1",
		State:  protocol.StateOrderReceived,
		Orders: []protocol.Order{{OrderID: "A1"}},
	})

	var events []protocol.StartEvent
	watcher := broker.Client("watcher")
	watcher.Handle(func(msg mqtt.Message) {
		var ev protocol.StartEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &ev))
		events = append(events, ev)
	})
	require.NoError(t, watcher.Subscribe(mqtt.Subscription{Topic: protocol.TopicEvents}))

	require.NoError(t, m.Start())

	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventStart, events[0].Type)
	assert.Equal(t, "station1", events[0].StationID)
	assert.Equal(t, "A1", events[0].OrderID)

	// Authoritative state still comes from the controller.
	assert.Equal(t, protocol.StateOrderReceived, m.Snapshot().State)
	assert.Equal(t, protocol.StateOrderReceived, retainedState(t, broker, "station1").State)
}

func TestStartWithEmptyQueue(t *testing.T) {
	broker := bustest.NewBroker()
	m, _ := newTestMachine(t, broker, "station1")
	require.NoError(t, m.Announce())

	assert.ErrorIs(t, m.Start(), ErrNoOrder)
}

func TestDismissWalksQueueDown(t *testing.T) {
	broker := bustest.NewBroker()
	m, _ := newTestMachine(t, broker, "station1")
	require.NoError(t, m.Announce())

	controller := broker.Client("controller")
	publishState(t, controller, protocol.StationState{
		ID:    "station1",
		State: protocol.StateCompleted,
		Orders: []protocol.Order{
			{OrderID: "A1"},
			{OrderID: "A2"},
		},
	})

	require.NoError(t, m.SelectOrder("A1"))
	require.NoError(t, m.Dismiss())

	snap := m.Snapshot()
	assert.Equal(t, protocol.StateOrderReceived, snap.State)
	require.Len(t, snap.Orders, 1)
	assert.Equal(t, "A2", snap.SelectedOrderID, "sole remaining order auto-selected")

	require.NoError(t, m.Dismiss())
	snap = m.Snapshot()
	assert.Equal(t, protocol.StateIdle, snap.State)
	assert.Empty(t, snap.Orders)
	assert.Equal(t, protocol.StateIdle, retainedState(t, broker, "station1").State)
}

func TestSelectOrderRequiresQueuedOrder(t *testing.T) {
	broker := bustest.NewBroker()
	m, _ := newTestMachine(t, broker, "station1")
	require.NoError(t, m.Announce())

	assert.Error(t, m.SelectOrder("NOPE"))
}

func TestConfigUpdateIsIdempotent(t *testing.T) {
	broker := bustest.NewBroker()
	m, _ := newTestMachine(t, broker, "station1")
	require.NoError(t, m.Announce())

	controller := broker.Client("controller")
	cfgPayload, err := json.Marshal(protocol.StationConfig{
		StationID: "station1", CoffeeID: "espresso", Type: protocol.BrewHot, Pin: 17, DurationMs: 6000,
	})
	require.NoError(t, err)
	require.NoError(t, controller.Publish(protocol.StationConfigTopic("station1"), cfgPayload, 0, true))

	m.mu.Lock()
	first := m.config
	m.mu.Unlock()
	require.NotNil(t, first)
	assert.Equal(t, "espresso", first.CoffeeID)

	// Identical re-delivery is dropped before it reaches the config slot.
	require.NoError(t, controller.Publish(protocol.StationConfigTopic("station1"), cfgPayload, 0, true))
	m.mu.Lock()
	second := m.config
	m.mu.Unlock()
	assert.Same(t, first, second)

	// A changed config does land.
	cfgPayload2, err := json.Marshal(protocol.StationConfig{
		StationID: "station1", CoffeeID: "espresso", Type: protocol.BrewHot, Pin: 17, DurationMs: 7000,
	})
	require.NoError(t, err)
	require.NoError(t, controller.Publish(protocol.StationConfigTopic("station1"), cfgPayload2, 0, true))
	m.mu.Lock()
	third := m.config
	m.mu.Unlock()
	assert.NotSame(t, first, third)
	assert.Equal(t, int64(7000), third.DurationMs)
}

func TestConfigRevivesDisconnectedStation(t *testing.T) {
	broker := bustest.NewBroker()
	m, _ := newTestMachine(t, broker, "station1")
	require.NoError(t, m.Announce())

	m.mu.Lock()
	m.shared.State = protocol.StateDisconnected
	m.mu.Unlock()

	controller := broker.Client("controller")
	cfgPayload, err := json.Marshal(protocol.StationConfig{
		StationID: "station1", CoffeeID: "espresso", Pin: 17,
	})
	require.NoError(t, err)
	require.NoError(t, controller.Publish(protocol.StationConfigTopic("station1"), cfgPayload, 0, true))

	assert.Equal(t, protocol.StateIdle, m.Snapshot().State)
	assert.Equal(t, protocol.StateIdle, retainedState(t, broker, "station1").State)
}

func TestIdenticalConfigRedeliveryStillRevives(t *testing.T) {
	broker := bustest.NewBroker()
	m, _ := newTestMachine(t, broker, "station1")
	require.NoError(t, m.Announce())

	controller := broker.Client("controller")
	cfgPayload, err := json.Marshal(protocol.StationConfig{
		StationID: "station1", CoffeeID: "espresso", Type: protocol.BrewHot, Pin: 17, DurationMs: 6000,
	})
	require.NoError(t, err)
	require.NoError(t, controller.Publish(protocol.StationConfigTopic("station1"), cfgPayload, 0, true))
	require.Equal(t, protocol.StateIdle, m.Snapshot().State)

	// A last will marks the station disconnected; the machine mirrors it.
	publishState(t, controller, protocol.StationState{
		ID: "station1", State: protocol.StateDisconnected,
	})
	require.Equal(t, protocol.StateDisconnected, m.Snapshot().State)

	// The controller's periodic refresh re-publishes the unchanged config
	// table. The duplicate is dropped from the config slot but must still
	// bring the station back.
	require.NoError(t, controller.Publish(protocol.StationConfigTopic("station1"), cfgPayload, 0, true))

	assert.Equal(t, protocol.StateIdle, m.Snapshot().State)
	assert.Equal(t, protocol.StateIdle, retainedState(t, broker, "station1").State)
}

func TestRecoverPromotesMirroredLastWill(t *testing.T) {
	broker := bustest.NewBroker()
	m, _ := newTestMachine(t, broker, "station1")
	require.NoError(t, m.Announce())

	// The armed last-will fired during an outage and the machine mirrored it.
	publishState(t, broker.Client("controller"), protocol.StationState{
		ID: "station1", State: protocol.StateDisconnected,
	})
	require.Equal(t, protocol.StateDisconnected, m.Snapshot().State)

	require.NoError(t, m.Recover())

	assert.Equal(t, protocol.StateIdle, m.Snapshot().State)
	assert.Equal(t, protocol.StateIdle, retainedState(t, broker, "station1").State)
}

func TestReannounceOnControllerOnline(t *testing.T) {
	broker := bustest.NewBroker()
	m, _ := newTestMachine(t, broker, "station1")
	require.NoError(t, m.Announce())

	var republishes int
	watcher := broker.Client("watcher")
	watcher.Handle(func(msg mqtt.Message) { republishes++ })
	require.NoError(t, watcher.Subscribe(mqtt.Subscription{Topic: protocol.StationStatusTopic("station1")}))
	republishes = 0 // ignore the retained replay to the watcher itself

	controller := broker.Client("controller")
	presence, err := json.Marshal(protocol.Presence{ID: "sess-1", State: protocol.PresenceOnline, TS: 1})
	require.NoError(t, err)
	require.NoError(t, controller.Publish(protocol.ControllerPresenceTopic("sess-1"), presence, 0, true))

	assert.Equal(t, 1, republishes, "station re-announces when a controller comes online")

	// A second ONLINE heartbeat from the same controller does not trigger
	// another re-announce.
	require.NoError(t, controller.Publish(protocol.ControllerPresenceTopic("sess-1"), presence, 0, true))
	assert.Equal(t, 1, republishes)
}
