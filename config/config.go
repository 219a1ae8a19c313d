// Package config loads process settings from an optional .env file, an
// optional config.yaml and OCPP_ prefixed environment variables, in that order
// of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "OCPP"

type Config struct {
	CentralSystem struct {
		URL string `mapstructure:"url" validate:"required,url"`
	} `mapstructure:"central_system"`
	Catalog struct {
		Path string `mapstructure:"path" validate:"required"`
	} `mapstructure:"catalog"`
	Metering struct {
		Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
	} `mapstructure:"metering"`
	Stations []string `mapstructure:"stations"`
	Logging  struct {
		Level string `mapstructure:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	} `mapstructure:"logging"`
	Nats struct {
		Enabled bool   `mapstructure:"enabled"`
		URL     string `mapstructure:"url" validate:"required_if=Enabled true"`
	} `mapstructure:"nats"`
	MQTT struct {
		Enabled      bool   `mapstructure:"enabled"`
		Broker       string `mapstructure:"broker" validate:"required_if=Enabled true"`
		Username     string `mapstructure:"username"`
		Password     string `mapstructure:"password"`
		CommandTopic string `mapstructure:"command_topic" validate:"required_if=Enabled true"`
		EventTopic   string `mapstructure:"event_topic" validate:"required_if=Enabled true"`
	} `mapstructure:"mqtt"`
	HTTP struct {
		ListenAddr string `mapstructure:"listen_addr"`
	} `mapstructure:"http"`
	Audit struct {
		File        string `mapstructure:"file"`
		DatabaseURL string `mapstructure:"database_url"`
	} `mapstructure:"audit"`
	Notifier struct {
		Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	} `mapstructure:"notifier"`
	Interactive bool `mapstructure:"interactive"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("central_system.url", "ws://localhost:8887")
	v.SetDefault("catalog.path", "stations.yaml")
	v.SetDefault("metering.interval", "60s")
	v.SetDefault("stations", []string{})
	v.SetDefault("logging.level", "info")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost:1883")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.command_topic", "chargepoint/command")
	v.SetDefault("mqtt.event_topic", "chargepoint/event")
	v.SetDefault("http.listen_addr", ":8080")
	v.SetDefault("audit.file", "")
	v.SetDefault("audit.database_url", "")
	v.SetDefault("notifier.timeout", "5s")
	v.SetDefault("interactive", false)
}

// Load reads the configuration. configPath names an explicit config file; when
// empty, config.yaml is looked up in the working directory and may be absent.
func Load(configPath string) (Config, error) {
	_ = godotenv.Load() // ignore missing file

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
