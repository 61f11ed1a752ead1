package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// Client wraps the paho MQTT client behind the small surface the rest of the
// system needs: connect with an optional last-will, retained publish,
// subscribe with automatic re-subscription after a reconnect, and a single
// delivery callback. Transport failures surface as connection-state
// transitions, never as panics inside handlers.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.RWMutex
	paho     paho.Client
	state    ConnState
	lastErr  string
	subs     []Subscription
	handler  Handler
	stateFns []func(ConnState)
}

// NewClient builds the adapter. Handle and OnStateChange should be wired
// before Connect so no early message or transition is missed.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	c := &Client{
		cfg:    cfg.withDefaults(),
		logger: logger,
		state:  StateIdle,
	}
	c.paho = paho.NewClient(c.pahoOptions())
	return c
}

func (c *Client) pahoOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.cfg.BrokerURL)
	opts.SetClientID(c.cfg.ClientID)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetKeepAlive(c.cfg.KeepAlive)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(c.cfg.ReconnectInterval)
	opts.SetCleanSession(true)

	if w := c.cfg.Will; w != nil {
		opts.SetBinaryWill(w.Topic, w.Payload, w.QoS, w.Retain)
	}

	opts.SetDefaultPublishHandler(func(_ paho.Client, msg paho.Message) {
		c.deliver(msg)
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		c.setState(StateConnected)
		c.resubscribe()
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.mu.Lock()
		c.lastErr = err.Error()
		c.mu.Unlock()
		c.logger.Warn("bus connection lost, auto-reconnecting",
			zap.String("client_id", c.cfg.ClientID), zap.Error(err))
		c.setState(StateReconnecting)
	})
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		c.setState(StateReconnecting)
	})

	return opts
}

// Connect dials the broker. Failure leaves the client in StateError; paho's
// auto-reconnect is only armed after a first successful connect, so callers
// typically retry or exit.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	token := c.paho.Connect()
	deadline := c.cfg.ConnectTimeout
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until < deadline {
			deadline = until
		}
	}
	if !token.WaitTimeout(deadline) {
		c.fail("connect timeout")
		return fmt.Errorf("mqtt: connect %s: timeout", c.cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		c.fail(err.Error())
		return fmt.Errorf("mqtt: connect %s: %w", c.cfg.BrokerURL, err)
	}
	return nil
}

// Disconnect closes the connection cleanly, which suppresses the last-will.
func (c *Client) Disconnect() {
	c.paho.Disconnect(250)
	c.setState(StateClosed)
}

// Handle registers the single inbound delivery callback.
func (c *Client) Handle(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// OnStateChange registers an observer for connection-state transitions.
func (c *Client) OnStateChange(fn func(ConnState)) {
	c.mu.Lock()
	c.stateFns = append(c.stateFns, fn)
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastError returns the last transport error string, empty if none.
func (c *Client) LastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Publish sends a payload. While disconnected it is a logged no-op so callers
// never need a connectivity check before every publish; retained state is
// re-announced after reconnect anyway.
func (c *Client) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if !c.paho.IsConnectionOpen() {
		c.logger.Debug("publish skipped, not connected", zap.String("topic", topic))
		return nil
	}

	token := c.paho.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers topic filters. Registrations survive reconnects: the
// OnConnect hook replays the full registry against the broker.
func (c *Client) Subscribe(subs ...Subscription) error {
	if len(subs) == 0 {
		return nil
	}

	c.mu.Lock()
	for _, s := range subs {
		if !c.registered(s.Topic) {
			c.subs = append(c.subs, s)
		}
	}
	c.mu.Unlock()

	if !c.paho.IsConnectionOpen() {
		return nil
	}
	return c.subscribeNow(subs)
}

// Unsubscribe removes topic filters from the broker and the registry.
func (c *Client) Unsubscribe(topics ...string) error {
	if len(topics) == 0 {
		return nil
	}

	c.mu.Lock()
	kept := c.subs[:0]
	for _, s := range c.subs {
		drop := false
		for _, t := range topics {
			if s.Topic == t {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, s)
		}
	}
	c.subs = kept
	c.mu.Unlock()

	if !c.paho.IsConnectionOpen() {
		return nil
	}
	token := c.paho.Unsubscribe(topics...)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: unsubscribe: timeout")
	}
	return token.Error()
}

// registered reports whether a filter is already in the registry. Caller
// holds mu.
func (c *Client) registered(topic string) bool {
	for _, s := range c.subs {
		if s.Topic == topic {
			return true
		}
	}
	return false
}

func (c *Client) subscribeNow(subs []Subscription) error {
	filters := make(map[string]byte, len(subs))
	for _, s := range subs {
		filters[s.Topic] = s.QoS
	}
	token := c.paho.SubscribeMultiple(filters, nil)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: subscribe: timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe: %w", err)
	}
	return nil
}

func (c *Client) resubscribe() {
	c.mu.RLock()
	subs := make([]Subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.RUnlock()

	if len(subs) == 0 {
		return
	}
	if err := c.subscribeNow(subs); err != nil {
		c.logger.Warn("re-subscribe after reconnect failed", zap.Error(err))
	}
}

func (c *Client) deliver(msg paho.Message) {
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		return
	}

	// A panicking handler must not take down the paho router goroutine.
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panicked",
				zap.String("topic", msg.Topic()), zap.Any("panic", r))
		}
	}()

	handler(Message{
		Topic:      msg.Topic(),
		Payload:    msg.Payload(),
		ReceivedAt: time.Now(),
	})
}

func (c *Client) fail(errStr string) {
	c.mu.Lock()
	c.lastErr = errStr
	c.mu.Unlock()
	c.setState(StateError)
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	fns := make([]func(ConnState), len(c.stateFns))
	copy(fns, c.stateFns)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
