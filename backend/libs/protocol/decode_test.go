package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStationState(t *testing.T) {
	payload, err := json.Marshal(StationState{
		ID:    "station1",
		Type:  TypeStation,
		State: StateOrderReceived,
		Orders: []Order{
			{OrderID: "A1", Size: "medium", Price: 5, RecipeID: "latte"},
		},
		TS: 1700000000000,
	})
	require.NoError(t, err)

	env, err := Decode(StationStatusTopic("station1"), payload)
	require.NoError(t, err)
	require.NotNil(t, env.StationState)
	assert.Nil(t, env.Start)
	assert.Equal(t, StateOrderReceived, env.StationState.State)
	assert.Len(t, env.StationState.Orders, 1)
}

func TestDecodeFillsIDFromTopic(t *testing.T) {
	env, err := Decode("status/station4", []byte(`{"state":"IDLE","orders":[]}`))
	require.NoError(t, err)
	require.NotNil(t, env.StationState)
	assert.Equal(t, "station4", env.StationState.ID)

	env, err = Decode("config/station4", []byte(`{"coffeeId":"espresso","pin":17}`))
	require.NoError(t, err)
	require.NotNil(t, env.StationConfig)
	assert.Equal(t, "station4", env.StationConfig.StationID)

	env, err = Decode("controllers/abc-123", []byte(`{"state":"ONLINE"}`))
	require.NoError(t, err)
	require.NotNil(t, env.Presence)
	assert.Equal(t, "abc-123", env.Presence.ID)
}

func TestDecodeStartEvent(t *testing.T) {
	env, err := Decode(TopicEvents, []byte(`{"type":"START","stationId":"station2","orderId":"A7","ts":1}`))
	require.NoError(t, err)
	require.NotNil(t, env.Start)
	assert.Equal(t, "station2", env.Start.StationID)
	assert.Equal(t, "A7", env.Start.OrderID)
}

func TestDecodeUnknownEventType(t *testing.T) {
	_, err := Decode(TopicEvents, []byte(`{"type":"PING"}`))
	assert.True(t, errors.Is(err, ErrUnknownEvent))
}

func TestDecodeMalformedPayload(t *testing.T) {
	_, err := Decode(StationStatusTopic("station1"), []byte(`{not json`))
	assert.Error(t, err)

	_, err = Decode(TopicLegacyStatus, []byte(`[]`))
	assert.Error(t, err)
}

func TestDecodeUnknownTopic(t *testing.T) {
	_, err := Decode("other/thing", []byte(`{}`))
	assert.True(t, errors.Is(err, ErrUnknownTopic))

	// Status topics are single-level; anything nested is outside the
	// namespace even though it shares the prefix.
	_, err = Decode("status/a/b", []byte(`{}`))
	assert.True(t, errors.Is(err, ErrUnknownTopic))
}

func TestStationIDFromStatusTopic(t *testing.T) {
	id, ok := StationIDFromStatusTopic("status/station9")
	assert.True(t, ok)
	assert.Equal(t, "station9", id)

	_, ok = StationIDFromStatusTopic("status/")
	assert.False(t, ok)

	_, ok = StationIDFromStatusTopic("config/station9")
	assert.False(t, ok)

	_, ok = StationIDFromStatusTopic("status/a/b")
	assert.False(t, ok)
}
