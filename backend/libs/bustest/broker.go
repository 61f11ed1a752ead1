// Package bustest provides an in-process stand-in for the MQTT broker with
// the semantics the fleet protocol relies on: retained messages replayed to
// new subscribers, single-level `+` wildcards, and last-will publication on
// abnormal disconnect. It exists so station and controller logic can be
// tested end-to-end without a real broker.
package bustest

import (
	"strings"
	"sync"
	"time"

	"brewfleet/backend/libs/mqtt"
)

// Broker is the in-memory message bus.
type Broker struct {
	mu       sync.Mutex
	retained map[string][]byte
	clients  []*Client
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{retained: make(map[string][]byte)}
}

// Client attaches a new client session.
func (b *Broker) Client(id string) *Client {
	c := &Client{broker: b, id: id}
	b.mu.Lock()
	b.clients = append(b.clients, c)
	b.mu.Unlock()
	return c
}

// Retained returns the retained payload for a topic, nil if none.
func (b *Broker) Retained(topic string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retained[topic]
}

func (b *Broker) publish(topic string, payload []byte, retain bool) {
	b.mu.Lock()
	if retain {
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			stored := make([]byte, len(payload))
			copy(stored, payload)
			b.retained[topic] = stored
		}
	}
	targets := b.matchingHandlersLocked(topic)
	b.mu.Unlock()

	// Delivery happens outside the lock: handlers publish in response to
	// messages, and that re-entry must not deadlock.
	msg := mqtt.Message{Topic: topic, Payload: payload, ReceivedAt: time.Now()}
	for _, h := range targets {
		h(msg)
	}
}

func (b *Broker) matchingHandlersLocked(topic string) []mqtt.Handler {
	var out []mqtt.Handler
	for _, c := range b.clients {
		if h := c.handlerFor(topic); h != nil {
			out = append(out, h)
		}
	}
	return out
}

func (b *Broker) detach(c *Client) {
	b.mu.Lock()
	kept := b.clients[:0]
	for _, other := range b.clients {
		if other != c {
			kept = append(kept, other)
		}
	}
	b.clients = kept
	b.mu.Unlock()
}

// MatchTopic reports whether an MQTT topic filter with optional single-level
// `+` wildcards matches a concrete topic.
func MatchTopic(filter, topic string) bool {
	fparts := strings.Split(filter, "/")
	tparts := strings.Split(topic, "/")
	if len(fparts) != len(tparts) {
		return false
	}
	for i, fp := range fparts {
		if fp == "+" {
			continue
		}
		if fp != tparts[i] {
			return false
		}
	}
	return true
}

// Client is one fake bus session. It satisfies the Bus interfaces declared by
// the station state machine and the controller coordinator.
type Client struct {
	broker *Broker
	id     string

	mu      sync.Mutex
	subs    []string
	handler mqtt.Handler
	will    *mqtt.Will
	gone    bool
}

// Handle sets the delivery callback, one call per inbound message.
func (c *Client) Handle(h mqtt.Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// SetWill arms a last-will message, as the transport adapter does at connect.
func (c *Client) SetWill(w mqtt.Will) {
	c.mu.Lock()
	c.will = &w
	c.mu.Unlock()
}

// Publish delivers to all matching subscribers, including the publisher's own
// subscriptions (MQTT loopback), and stores the payload when retained.
func (c *Client) Publish(topic string, payload []byte, qos byte, retain bool) error {
	c.mu.Lock()
	gone := c.gone
	c.mu.Unlock()
	if gone {
		return nil // mirrors the adapter's publish-while-disconnected no-op
	}
	c.broker.publish(topic, payload, retain)
	return nil
}

// Subscribe registers filters and immediately replays matching retained
// messages, exactly as a broker does for a fresh subscriber.
func (c *Client) Subscribe(subs ...mqtt.Subscription) error {
	c.mu.Lock()
	for _, s := range subs {
		c.subs = append(c.subs, s.Topic)
	}
	handler := c.handler
	c.mu.Unlock()

	if handler == nil {
		return nil
	}

	c.broker.mu.Lock()
	type replay struct {
		topic   string
		payload []byte
	}
	var replays []replay
	for topic, payload := range c.broker.retained {
		for _, s := range subs {
			if MatchTopic(s.Topic, topic) {
				replays = append(replays, replay{topic, payload})
				break
			}
		}
	}
	c.broker.mu.Unlock()

	for _, r := range replays {
		handler(mqtt.Message{Topic: r.topic, Payload: r.payload, ReceivedAt: time.Now()})
	}
	return nil
}

// Unsubscribe removes filters.
func (c *Client) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	kept := c.subs[:0]
	for _, s := range c.subs {
		drop := false
		for _, t := range topics {
			if s == t {
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
	return nil
}

// Disconnect ends the session cleanly: no last-will.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gone = true
	c.mu.Unlock()
	c.broker.detach(c)
}

// Kill simulates an ungraceful disconnect: the session is dropped and the
// broker publishes the armed last-will.
func (c *Client) Kill() {
	c.mu.Lock()
	c.gone = true
	will := c.will
	c.mu.Unlock()
	c.broker.detach(c)

	if will != nil {
		c.broker.publish(will.Topic, will.Payload, will.Retain)
	}
}

func (c *Client) handlerFor(topic string) mqtt.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone || c.handler == nil {
		return nil
	}
	for _, filter := range c.subs {
		if MatchTopic(filter, topic) {
			return c.handler
		}
	}
	return nil
}
