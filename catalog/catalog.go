// Package catalog loads the static list of simulated charge points.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrUnknownStation = errors.New("unknown station")

var validate = validator.New()

type Props struct {
	ChargePointSerialNumber string `yaml:"chargePointSerialNumber" json:"chargePointSerialNumber"`
	ChargePointVendor       string `yaml:"chargePointVendor" json:"chargePointVendor" validate:"required"`
	ChargePointModel        string `yaml:"chargePointModel" json:"chargePointModel" validate:"required"`
	ChargeBoxSerialNumber   string `yaml:"chargeBoxSerialNumber" json:"chargeBoxSerialNumber"`
	FirmwareVersion         string `yaml:"firmwareVersion" json:"firmwareVersion"`
}

// ConfigurationKey is reported verbatim by GetConfiguration. Value holds a
// scalar or a list as written in the catalog.
type ConfigurationKey struct {
	Key      string      `yaml:"key" json:"key" validate:"required"`
	Readonly bool        `yaml:"readonly" json:"readonly"`
	Value    interface{} `yaml:"value" json:"value"`
}

// ValueString renders Value the way OCPP carries configuration values: lists
// become comma separated.
func (k ConfigurationKey) ValueString() string {
	switch v := k.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, ConfigurationKey{Value: item}.ValueString())
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}

// Ratings are the hardware limits of the connector.
type Ratings struct {
	Amp     float64 `yaml:"amp" json:"amp" validate:"gt=0"`
	Voltage float64 `yaml:"voltage" json:"voltage" validate:"gt=0"`
}

type Station struct {
	Name             string             `yaml:"name" json:"name" validate:"required"`
	User             string             `yaml:"user" json:"user"`
	Pass             string             `yaml:"pass" json:"-"`
	ConnectorID      int                `yaml:"connectorId" json:"connectorId" validate:"gte=1"`
	Props            Props              `yaml:"props" json:"props"`
	ConfigurationKey []ConfigurationKey `yaml:"configurationKey" json:"configurationKey" validate:"dive"`
	Ratings          Ratings            `yaml:"ratings" json:"ratings"`
}

// Catalog is read only once loaded. Lookups return copies.
type Catalog struct {
	stations []Station
	byName   map[string]int
}

type file struct {
	Stations []Station `yaml:"stations" validate:"required,min=1,dive"`
}

// Parse decodes and validates a catalog. Station names must be unique.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	c := &Catalog{byName: map[string]int{}}
	for i, station := range f.Stations {
		if _, dup := c.byName[station.Name]; dup {
			return nil, fmt.Errorf("invalid catalog: duplicate station %v", station.Name)
		}
		c.byName[station.Name] = i
	}
	c.stations = f.Stations
	return c, nil
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(data)
}

func (c *Catalog) Get(name string) (Station, error) {
	i, ok := c.byName[name]
	if !ok {
		return Station{}, fmt.Errorf("%w: %v", ErrUnknownStation, name)
	}
	return copyStation(c.stations[i]), nil
}

func (c *Catalog) Stations() []Station {
	out := make([]Station, 0, len(c.stations))
	for _, station := range c.stations {
		out = append(out, copyStation(station))
	}
	return out
}

// Select returns the named stations in the given order, or every station
// when names is empty.
func (c *Catalog) Select(names []string) ([]Station, error) {
	if len(names) == 0 {
		return c.Stations(), nil
	}
	out := make([]Station, 0, len(names))
	for _, name := range names {
		station, err := c.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, station)
	}
	return out, nil
}

func copyStation(s Station) Station {
	s.ConfigurationKey = append([]ConfigurationKey(nil), s.ConfigurationKey...)
	return s
}
