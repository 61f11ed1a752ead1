package mqtt

import "time"

// ConnState tracks the adapter's view of the broker connection.
type ConnState string

const (
	StateIdle         ConnState = "idle"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateClosed       ConnState = "closed"
	StateError        ConnState = "error"
)

// Message is one inbound bus message. Payload is raw; interpretation belongs
// to the consumer, so a malformed payload is delivered, not dropped.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Handler receives every inbound message, one call per message.
type Handler func(Message)

// Subscription is a topic filter plus QoS.
type Subscription struct {
	Topic string
	QoS   byte
}

// Will is a last-will message pre-registered at connect time. The broker
// publishes it if the connection drops without a clean disconnect.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Config carries everything needed to reach the broker. It is passed in
// explicitly; the adapter reads nothing from the environment.
type Config struct {
	BrokerURL         string
	ClientID          string
	Username          string
	Password          string
	KeepAlive         time.Duration
	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration
	Will              *Will
}

func (c Config) withDefaults() Config {
	if c.KeepAlive <= 0 {
		c.KeepAlive = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 1500 * time.Millisecond
	}
	return c
}
