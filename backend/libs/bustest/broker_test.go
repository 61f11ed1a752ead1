package bustest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewfleet/backend/libs/mqtt"
)

func TestMatchTopic(t *testing.T) {
	assert.True(t, MatchTopic("status/+", "status/station1"))
	assert.True(t, MatchTopic("status/station1", "status/station1"))
	assert.True(t, MatchTopic("controllers/+", "controllers/abc-1"))
	assert.False(t, MatchTopic("status/+", "config/station1"))
	assert.False(t, MatchTopic("status/+", "status/station1/extra"))
	assert.False(t, MatchTopic("events", "status/station1"))
}

// A freshly subscribing reader observes exactly the most recent retained
// value, regardless of subscribe timing relative to publishes.
func TestRetainedReplayedToLateSubscriber(t *testing.T) {
	broker := NewBroker()
	writer := broker.Client("writer")

	require.NoError(t, writer.Publish("status/station1", []byte(`{"state":"IDLE"}`), 0, true))
	require.NoError(t, writer.Publish("status/station1", []byte(`{"state":"ORDER_RECEIVED"}`), 0, true))

	reader := broker.Client("reader")
	var got []string
	reader.Handle(func(m mqtt.Message) { got = append(got, string(m.Payload)) })
	require.NoError(t, reader.Subscribe(mqtt.Subscription{Topic: "status/+"}))

	require.Len(t, got, 1)
	assert.Equal(t, `{"state":"ORDER_RECEIVED"}`, got[0])
}

func TestNonRetainedNotReplayed(t *testing.T) {
	broker := NewBroker()
	writer := broker.Client("writer")
	require.NoError(t, writer.Publish("events", []byte(`{"type":"START"}`), 0, false))

	reader := broker.Client("reader")
	var got []mqtt.Message
	reader.Handle(func(m mqtt.Message) { got = append(got, m) })
	require.NoError(t, reader.Subscribe(mqtt.Subscription{Topic: "events"}))

	assert.Empty(t, got)
}

func TestPublisherLoopback(t *testing.T) {
	broker := NewBroker()
	c := broker.Client("station1")

	var got []string
	c.Handle(func(m mqtt.Message) { got = append(got, m.Topic) })
	require.NoError(t, c.Subscribe(mqtt.Subscription{Topic: "status/station1"}))

	require.NoError(t, c.Publish("status/station1", []byte(`{}`), 0, true))
	assert.Equal(t, []string{"status/station1"}, got)
}

func TestKillPublishesLastWill(t *testing.T) {
	broker := NewBroker()

	peer := broker.Client("peer")
	var got []string
	peer.Handle(func(m mqtt.Message) { got = append(got, string(m.Payload)) })
	require.NoError(t, peer.Subscribe(mqtt.Subscription{Topic: "controllers/+"}))

	doomed := broker.Client("doomed")
	doomed.SetWill(mqtt.Will{
		Topic:   "controllers/sess-1",
		Payload: []byte(`{"state":"OFFLINE"}`),
		Retain:  true,
	})
	doomed.Kill()

	require.Len(t, got, 1)
	assert.Equal(t, `{"state":"OFFLINE"}`, got[0])
	assert.Equal(t, []byte(`{"state":"OFFLINE"}`), broker.Retained("controllers/sess-1"))
}

func TestCleanDisconnectSuppressesWill(t *testing.T) {
	broker := NewBroker()
	c := broker.Client("clean")
	c.SetWill(mqtt.Will{Topic: "controllers/sess-2", Payload: []byte(`{"state":"OFFLINE"}`), Retain: true})
	c.Disconnect()

	assert.Nil(t, broker.Retained("controllers/sess-2"))
}
