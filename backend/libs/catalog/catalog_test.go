package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewfleet/backend/libs/protocol"
)

const sampleYAML = `
drinks:
  - slot: 1
    coffeeId: espresso
    name: Espresso
    type: Hot
    pin: 17
  - slot: 2
    coffeeId: cold-brew
    name: Cold Brew
    type: Cold
    pin: 22
    roast: dark
  - slot: 3
    coffeeId: lungo
    name: Lungo
    type: Hot
    pin: 23
    durationMs: 9000
`

func TestParseAndDefaults(t *testing.T) {
	cat, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, 3, cat.Len())

	configs := cat.Configs(6000, 4000)
	require.Len(t, configs, 3)

	assert.Equal(t, "station1", configs[0].StationID)
	assert.Equal(t, protocol.BrewHot, configs[0].Type)
	assert.Equal(t, int64(6000), configs[0].DurationMs, "hot default applies")

	assert.Equal(t, protocol.BrewCold, configs[1].Type)
	assert.Equal(t, int64(4000), configs[1].DurationMs, "cold default applies")
	assert.Equal(t, "dark", configs[1].Roast)

	assert.Equal(t, int64(9000), configs[2].DurationMs, "explicit duration wins")
}

func TestForStation(t *testing.T) {
	cat, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	cfg, ok := cat.ForStation("station2", 6000, 4000)
	require.True(t, ok)
	assert.Equal(t, "cold-brew", cfg.CoffeeID)
	assert.Equal(t, 22, cfg.Pin)

	_, ok = cat.ForStation("station9", 6000, 4000)
	assert.False(t, ok)
}

func TestParseRejectsBadEntries(t *testing.T) {
	_, err := Parse([]byte("drinks:\n  - slot: 0\n    coffeeId: x\n    pin: 1\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("drinks:\n  - slot: 1\n    coffeeId: x\n    pin: 1\n  - slot: 1\n    coffeeId: y\n    pin: 2\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("drinks:\n  - slot: 1\n    pin: 1\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("drinks:\n  - slot: 1\n    coffeeId: x\n"))
	assert.Error(t, err)
}

func TestStationID(t *testing.T) {
	assert.Equal(t, "station7", StationID(7))
}
