package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"brewfleet/backend/services/gpiod/internal/gpio"
)

type fakeActuator struct {
	err  error
	last gpio.Request
}

func (f *fakeActuator) Pulse(_ context.Context, req gpio.Request) (gpio.Result, error) {
	f.last = req
	if f.err != nil {
		return gpio.Result{}, f.err
	}
	return gpio.Result{
		Method: "gpioset", Chip: "gpiochip0",
		Pin: req.Pin, Value: req.Value, DurationMs: req.DurationMs,
		TimeArg: gpio.TimeArg(req.DurationMs),
	}, nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestTriggerClampsOutOfRangeRequest(t *testing.T) {
	act := &fakeActuator{}
	h := NewTriggerHandler(act, zap.NewNop())

	body := `{"pin":99,"duration":600000,"value":1}`
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/trigger", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(gpio.MaxPin), out["pin"])
	assert.Equal(t, float64(gpio.MaxDurationMs), out["durationMs"])
	assert.Equal(t, gpio.MaxPin, act.last.Pin)

	// Too-short pulses clamp up to the floor, never to zero.
	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/trigger",
		strings.NewReader(`{"pin":99,"duration":10,"value":1}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(gpio.MinDurationMs), decode(t, rec)["durationMs"])
}

func TestTriggerDefaultsOnEmptyBody(t *testing.T) {
	act := &fakeActuator{}
	h := NewTriggerHandler(act, zap.NewNop())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/trigger", strings.NewReader("")))

	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(gpio.DefaultPin), out["pin"])
	assert.Equal(t, float64(gpio.DefaultDurationMs), out["durationMs"])
}

func TestTriggerDefaultsOnMalformedBody(t *testing.T) {
	act := &fakeActuator{}
	h := NewTriggerHandler(act, zap.NewNop())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/trigger", strings.NewReader("{not json")))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])
	assert.Equal(t, gpio.DefaultPin, act.last.Pin)
}

func TestTriggerPassesHoldThrough(t *testing.T) {
	act := &fakeActuator{}
	h := NewTriggerHandler(act, zap.NewNop())

	body := `{"pin":17,"value":1,"hold":true}`
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/trigger", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, act.last.Hold)
}

func TestTriggerFailureCarriesHint(t *testing.T) {
	act := &fakeActuator{err: errors.New("gpioset: permission denied")}
	h := NewTriggerHandler(act, zap.NewNop())

	body := `{"pin":17,"duration":20,"value":1}`
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/trigger", strings.NewReader(body)))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "permission denied")
	assert.Contains(t, out["hint"], "gpio group")
}
