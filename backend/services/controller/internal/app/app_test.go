package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"brewfleet/backend/libs/mqtt"
)

type fakeNotifier struct {
	fn func(mqtt.ConnState)
}

func (f *fakeNotifier) OnStateChange(fn func(mqtt.ConnState)) { f.fn = fn }

func TestRefreshOnReconnectFiresOnEveryConnectedTransition(t *testing.T) {
	var calls int
	bus := &fakeNotifier{}
	refreshOnReconnect(bus, func() error { calls++; return nil }, zap.NewNop())
	require.NotNil(t, bus.fn, "observer must be registered")

	bus.fn(mqtt.StateConnecting)
	assert.Equal(t, 0, calls)

	bus.fn(mqtt.StateConnected)
	assert.Equal(t, 1, calls)

	// A dropped and regained connection refreshes presence and configs again.
	bus.fn(mqtt.StateReconnecting)
	assert.Equal(t, 1, calls)
	bus.fn(mqtt.StateConnected)
	assert.Equal(t, 2, calls)
}

func TestRefreshOnReconnectSwallowsErrors(t *testing.T) {
	bus := &fakeNotifier{}
	refreshOnReconnect(bus, func() error { return errors.New("bus down") }, zap.NewNop())
	require.NotNil(t, bus.fn)

	assert.NotPanics(t, func() { bus.fn(mqtt.StateConnected) })
}
