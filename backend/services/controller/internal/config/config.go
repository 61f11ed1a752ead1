package config

import (
	"errors"
	"fmt"
	"strings"

	libconfig "brewfleet/backend/libs/config"
)

// Config defines controller service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"CONTROLLER_HTTP_PORT"`
	} `yaml:"http"`
	MQTT struct {
		BrokerURL string `yaml:"brokerUrl" env:"CONTROLLER_MQTT_BROKER_URL"`
		Username  string `yaml:"username" env:"CONTROLLER_MQTT_USERNAME"`
		Password  string `yaml:"password" env:"CONTROLLER_MQTT_PASSWORD"`
		QoS       int    `yaml:"qos" env:"CONTROLLER_MQTT_QOS"`
	} `yaml:"mqtt"`
	Gateway struct {
		BaseURL string `yaml:"baseUrl" env:"CONTROLLER_GPIO_GATEWAY_URL"`
	} `yaml:"gateway"`
	Catalog struct {
		Path string `yaml:"path" env:"CONTROLLER_CATALOG_PATH"`
	} `yaml:"catalog"`
	Durations struct {
		HotMs  int64 `yaml:"hotMs" env:"CONTROLLER_HOT_DURATION_MS"`
		ColdMs int64 `yaml:"coldMs" env:"CONTROLLER_COLD_DURATION_MS"`
	} `yaml:"durations"`
	LogLevel string `yaml:"logLevel" env:"CONTROLLER_LOG_LEVEL"`
}

// Load reads configuration from an explicit YAML path plus env overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8080"
	cfg.MQTT.QoS = 1
	cfg.Durations.HotMs = 6000
	cfg.Durations.ColdMs = 8000
	cfg.LogLevel = "info"

	if err := libconfig.Load(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
		return nil, errors.New("config: mqtt broker url required")
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return nil, fmt.Errorf("config: mqtt qos %d out of range", cfg.MQTT.QoS)
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
