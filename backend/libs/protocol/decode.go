package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTopic is returned for topics outside the fixed namespace.
var ErrUnknownTopic = errors.New("protocol: topic outside namespace")

// ErrUnknownEvent is returned for event payloads whose type discriminator is
// not one this build understands.
var ErrUnknownEvent = errors.New("protocol: unknown event type")

// Envelope is the decoded form of one inbound bus message. Exactly one of the
// variant pointers is non-nil; consumers switch on that instead of re-parsing
// topic strings and loose JSON.
type Envelope struct {
	Topic string

	StationState  *StationState
	StationConfig *StationConfig
	Start         *StartEvent
	Presence      *Presence
	LegacyStatus  *LegacyStatus
}

// Decode classifies a raw message by topic and unmarshals it into the
// matching variant. Malformed payloads return an error; callers log and drop
// them rather than crashing the handler loop.
func Decode(topic string, payload []byte) (Envelope, error) {
	env := Envelope{Topic: topic}

	switch {
	case topic == TopicEvents:
		var ev StartEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return env, fmt.Errorf("protocol: decode event: %w", err)
		}
		if ev.Type != EventStart {
			return env, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
		}
		env.Start = &ev
		return env, nil

	case topic == TopicLegacyStatus:
		var st LegacyStatus
		if err := json.Unmarshal(payload, &st); err != nil {
			return env, fmt.Errorf("protocol: decode legacy status: %w", err)
		}
		env.LegacyStatus = &st
		return env, nil

	case strings.HasPrefix(topic, statusBase+"/"):
		id, ok := StationIDFromStatusTopic(topic)
		if !ok {
			return env, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
		}
		var st StationState
		if err := json.Unmarshal(payload, &st); err != nil {
			return env, fmt.Errorf("protocol: decode station state: %w", err)
		}
		if st.ID == "" {
			st.ID = id
		}
		env.StationState = &st
		return env, nil

	case strings.HasPrefix(topic, configBase+"/"):
		var cfg StationConfig
		if err := json.Unmarshal(payload, &cfg); err != nil {
			return env, fmt.Errorf("protocol: decode station config: %w", err)
		}
		if cfg.StationID == "" {
			cfg.StationID = topic[len(configBase)+1:]
		}
		env.StationConfig = &cfg
		return env, nil

	case strings.HasPrefix(topic, presenceBase+"/"):
		var pr Presence
		if err := json.Unmarshal(payload, &pr); err != nil {
			return env, fmt.Errorf("protocol: decode presence: %w", err)
		}
		if pr.ID == "" {
			pr.ID = topic[len(presenceBase)+1:]
		}
		env.Presence = &pr
		return env, nil
	}

	return env, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
}

// StationIDFromStatusTopic extracts the station id from a status/{id} topic.
func StationIDFromStatusTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, statusBase+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
