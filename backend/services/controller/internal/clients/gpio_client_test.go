package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// gatewayReply mirrors the exact body the gateway's trigger handler writes,
// so the client is tested against the real wire format rather than its own
// response struct.
const gatewayReply = `{"success":true,"method":"gpioset","chip":"gpiochip0","pin":17,"value":1,"durationMs":2000,"timeArg":"2s,0"}`

func TestPulseSendsTriggerRequest(t *testing.T) {
	var got TriggerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/trigger", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, gatewayReply)
	}))
	defer srv.Close()

	c := NewGPIOClient(srv.URL, zap.NewNop())
	require.NoError(t, c.Pulse(context.Background(), 17, 2000))

	assert.Equal(t, 17, got.Pin)
	assert.Equal(t, int64(2000), got.Duration)
	assert.Equal(t, 1, got.Value)
}

func TestPulseDecodesGatewayReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, gatewayReply)
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	c := NewGPIOClient(srv.URL, zap.New(core))
	require.NoError(t, c.Pulse(context.Background(), 17, 2000))

	entries := logs.FilterMessage("gpio pulse acknowledged").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, int64(17), fields["pin"])
	assert.Equal(t, int64(2000), fields["duration_ms"])
	assert.Equal(t, "gpioset", fields["method"])
}

func TestPulseSurfacesGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(TriggerResponse{
			Success: false,
			Error:   "gpioset: permission denied",
			Hint:    "add the service user to the gpio group",
		})
	}))
	defer srv.Close()

	c := NewGPIOClient(srv.URL, zap.NewNop())
	err := c.Pulse(context.Background(), 17, 2000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestPulseDisabledWithoutBaseURL(t *testing.T) {
	c := NewGPIOClient("", zap.NewNop())
	assert.NoError(t, c.Pulse(context.Background(), 17, 2000))
}
