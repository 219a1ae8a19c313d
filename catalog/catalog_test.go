package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
stations:
  - name: "100001"
    user: "100001"
    pass: secret
    connectorId: 1
    props:
      chargePointVendor: FutureCP
      chargePointModel: m1
    configurationKey:
      - key: ChargeProfileMaxStackLevel
        readonly: true
        value: 5
      - key: ChargingScheduleAllowedChargingRateUnit
        readonly: true
        value: [Current, Power]
    ratings:
      amp: 30
      voltage: 208
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	station, err := c.Get("100001")
	require.NoError(t, err)
	assert.Equal(t, 1, station.ConnectorID)
	assert.Equal(t, 30.0, station.Ratings.Amp)
	assert.Equal(t, 208.0, station.Ratings.Voltage)
	require.Len(t, station.ConfigurationKey, 2)
	assert.Equal(t, "5", station.ConfigurationKey[0].ValueString())
	assert.Equal(t, "Current,Power", station.ConfigurationKey[1].ValueString())
}

func TestGetReturnsCopy(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	station, _ := c.Get("100001")
	station.ConfigurationKey[0].Key = "changed"

	again, _ := c.Get("100001")
	assert.Equal(t, "ChargeProfileMaxStackLevel", again.ConfigurationKey[0].Key)
}

func TestUnknownStation(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	_, err = c.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownStation)

	_, err = c.Select([]string{"100001", "nope"})
	assert.ErrorIs(t, err, ErrUnknownStation)
}

func TestParseRejectsInvalid(t *testing.T) {
	for name, data := range map[string]string{
		"empty":      "stations: []",
		"no ratings": "stations:\n  - name: a\n    connectorId: 1\n    props: {chargePointVendor: v, chargePointModel: m}\n",
		"duplicate": `stations:
  - {name: a, connectorId: 1, props: {chargePointVendor: v, chargePointModel: m}, ratings: {amp: 1, voltage: 1}}
  - {name: a, connectorId: 1, props: {chargePointVendor: v, chargePointModel: m}, ratings: {amp: 1, voltage: 1}}
`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadShippedCatalog(t *testing.T) {
	path := filepath.Join("..", "stations.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skip("stations.yaml not present")
	}
	c, err := Load(path)
	require.NoError(t, err)

	stations, err := c.Select(nil)
	require.NoError(t, err)
	assert.Len(t, stations, 4)
}
