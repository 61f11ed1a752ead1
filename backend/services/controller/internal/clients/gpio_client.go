package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// GPIOClient calls the hardware actuation gateway. The gateway holds a line
// high for the requested duration, so the request blocks for roughly that
// long; callers run it off their message loop.
type GPIOClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// TriggerRequest is the gateway's pulse payload.
type TriggerRequest struct {
	Pin      int   `json:"pin"`
	Duration int64 `json:"duration"`
	Value    int   `json:"value"`
}

// TriggerResponse is the gateway's reply. Hint carries remediation advice on
// permission failures.
type TriggerResponse struct {
	Success    bool   `json:"success"`
	Pin        int    `json:"pin"`
	DurationMs int64  `json:"durationMs"`
	Method     string `json:"method,omitempty"`
	Error      string `json:"error,omitempty"`
	Hint       string `json:"hint,omitempty"`
}

// NewGPIOClient returns HTTP client wrapper. An empty baseURL disables the
// client, for deployments without actuation hardware.
func NewGPIOClient(baseURL string, logger *zap.Logger) *GPIOClient {
	return &GPIOClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		logger:  logger,
	}
}

// Pulse asks the gateway to drive a pin high for durationMs. The per-request
// timeout covers the pulse itself plus gateway overhead.
func (c *GPIOClient) Pulse(ctx context.Context, pin int, durationMs int64) error {
	if c.baseURL == "" {
		c.logger.Debug("gpio client disabled, skip pulse",
			zap.Int("pin", pin), zap.Int64("duration_ms", durationMs))
		return nil
	}

	timeout := time.Duration(durationMs)*time.Millisecond + 10*time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(TriggerRequest{Pin: pin, Duration: durationMs, Value: 1})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/trigger", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("gpio gateway request failed", zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var result TriggerResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("gpio gateway: decode response (status %d): %w", resp.StatusCode, err)
	}
	if !result.Success {
		if result.Hint != "" {
			c.logger.Warn("gpio gateway reported failure",
				zap.String("error", result.Error), zap.String("hint", result.Hint))
		}
		return fmt.Errorf("gpio gateway: %s", result.Error)
	}

	c.logger.Debug("gpio pulse acknowledged",
		zap.Int("pin", result.Pin),
		zap.Int64("duration_ms", result.DurationMs),
		zap.String("method", result.Method))
	return nil
}
