package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"brewfleet/backend/libs/bustest"
)

func TestWildcardFiltersCoverPerStationTopics(t *testing.T) {
	assert.True(t, bustest.MatchTopic(TopicStationStatusAll, StationStatusTopic("station1")))
	assert.True(t, bustest.MatchTopic(TopicStationConfigAll, StationConfigTopic("station1")))
	assert.True(t, bustest.MatchTopic(TopicControllerPresenceAll, ControllerPresenceTopic("sess-1")))

	// Single-level wildcards never match nested topics.
	assert.False(t, bustest.MatchTopic(TopicStationConfigAll, "config/a/b"))
}
