package protocol

// Shared-state architecture: every station publishes its own retained state
// on status/{id}, controllers mirror everyone via status/+. The events topic
// carries momentary signals only and is never retained.
const (
	statusBase   = "status"
	configBase   = "config"
	presenceBase = "controllers"

	// TopicEvents carries momentary signals (start button presses).
	TopicEvents = "events"

	// TopicLegacyStatus is the old single-controller "system online" marker.
	// Stations still watch it; multi-controller presence supersedes it.
	TopicLegacyStatus = "controller/status"

	// Wildcard filters for controllers.
	TopicStationStatusAll      = statusBase + "/+"
	TopicStationConfigAll      = configBase + "/+"
	TopicControllerPresenceAll = presenceBase + "/+"
)

// StationStatusTopic returns the retained shared-state topic for a station.
func StationStatusTopic(stationID string) string {
	return statusBase + "/" + stationID
}

// StationConfigTopic returns the retained actuation-config topic for a station.
func StationConfigTopic(stationID string) string {
	return configBase + "/" + stationID
}

// ControllerPresenceTopic returns the retained presence topic for a
// controller session.
func ControllerPresenceTopic(sessionID string) string {
	return presenceBase + "/" + sessionID
}
