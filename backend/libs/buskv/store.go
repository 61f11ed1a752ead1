// Package buskv models the fleet's use of retained bus topics as what it
// really is: a small key/value store whose keys are topics. Put writes a
// retained message, Watch subscribes to key filters, and Get reads the last
// value observed locally. The broker's retained-message replay is the
// authoritative read path: a fresh watcher receives the current value of
// every matching key without waiting for a new publish.
package buskv

import (
	"strings"
	"sync"

	"brewfleet/backend/libs/mqtt"
)

// Bus is the slice of the transport adapter the store needs.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retain bool) error
	Subscribe(subs ...mqtt.Subscription) error
}

// Store is a retained-topic key/value view over the bus.
type Store struct {
	bus Bus
	qos byte

	mu      sync.RWMutex
	filters []string
	values  map[string][]byte
	fns     []func(key string, value []byte)
}

// New builds a store publishing at the given QoS.
func New(bus Bus, qos byte) *Store {
	return &Store{
		bus:    bus,
		qos:    qos,
		values: make(map[string][]byte),
	}
}

// Put writes a retained value for a key and records it locally.
func (s *Store) Put(key string, value []byte) error {
	if err := s.bus.Publish(key, value, s.qos, true); err != nil {
		return err
	}
	s.record(key, value)
	return nil
}

// Get returns the last value seen for a key, from either a local Put or an
// observed retained update. ok is false for never-seen keys.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Watch subscribes to key filters (`+` wildcards allowed). Matching inbound
// messages must be fed through Observe by the owner's message handler.
func (s *Store) Watch(keys ...string) error {
	subs := make([]mqtt.Subscription, 0, len(keys))
	s.mu.Lock()
	for _, k := range keys {
		s.filters = append(s.filters, k)
		subs = append(subs, mqtt.Subscription{Topic: k, QoS: s.qos})
	}
	s.mu.Unlock()
	return s.bus.Subscribe(subs...)
}

// OnUpdate registers a callback fired for every observed update to a watched
// key. Callbacks run on the caller of Observe, i.e. the process's single
// message-handling queue.
func (s *Store) OnUpdate(fn func(key string, value []byte)) {
	s.mu.Lock()
	s.fns = append(s.fns, fn)
	s.mu.Unlock()
}

// Observe records an inbound message against watched keys. It returns true
// when the topic matched a watched filter.
func (s *Store) Observe(msg mqtt.Message) bool {
	s.mu.Lock()
	matched := false
	for _, f := range s.filters {
		if matchFilter(f, msg.Topic) {
			matched = true
			break
		}
	}
	if !matched {
		s.mu.Unlock()
		return false
	}
	stored := make([]byte, len(msg.Payload))
	copy(stored, msg.Payload)
	s.values[msg.Topic] = stored
	fns := make([]func(string, []byte), len(s.fns))
	copy(fns, s.fns)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(msg.Topic, stored)
	}
	return true
}

func (s *Store) record(key string, value []byte) {
	s.mu.Lock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.values[key] = stored
	s.mu.Unlock()
}

func matchFilter(filter, topic string) bool {
	fparts := strings.Split(filter, "/")
	tparts := strings.Split(topic, "/")
	if len(fparts) != len(tparts) {
		return false
	}
	for i, fp := range fparts {
		if fp != "+" && fp != tparts[i] {
			return false
		}
	}
	return true
}
