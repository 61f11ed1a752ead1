package config

import (
	"fmt"
	"strings"

	libconfig "brewfleet/backend/libs/config"
)

// Config defines actuation gateway configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"GPIOD_HTTP_PORT"`
	} `yaml:"http"`
	GPIO struct {
		Chip     string `yaml:"chip" env:"GPIOD_GPIO_CHIP"`
		Simulate bool   `yaml:"simulate" env:"GPIOD_SIMULATE"`
	} `yaml:"gpio"`
	LogLevel string `yaml:"logLevel" env:"GPIOD_LOG_LEVEL"`
}

// Load reads configuration from an explicit YAML path plus env overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8082"
	cfg.GPIO.Chip = "gpiochip0"
	cfg.LogLevel = "info"

	if err := libconfig.Load(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8082"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
