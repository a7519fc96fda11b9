package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HarviaCfg     *HarviaConfig
	MqttCfg       *MqttConfig
	ListenAddress string `env:"LISTEN_ADDRESS" envDefault:"0.0.0.0:8000"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"INFO"`
}

type HarviaConfig struct {
	Username string `env:"HARVIA_USERNAME"`
	Password string `env:"HARVIA_PASSWORD"`
	// DeviceID is the static fallback used when every discovery variant
	// comes back empty.
	DeviceID           string        `env:"HARVIA_DEVICE_ID"`
	DisplayName        string        `env:"HARVIA_DEVICE_NAME"`
	BaseURL            string        `env:"HARVIA_BASE_URL" envDefault:"https://prod.myharvia-cloud.net"`
	PollInterval       time.Duration `env:"POLL_INTERVAL" envDefault:"5m"`
	TokenRenewInterval time.Duration `env:"TOKEN_RENEW_INTERVAL" envDefault:"10m"`
}

type MqttConfig struct {
	Host     string `env:"MQTT_HOST"`
	Username string `env:"MQTT_USER"`
	Password string `env:"MQTT_PASS"`
}

// FromEnv builds a Config from environment variables only, for embedding the
// integration without the CLI front.
func FromEnv() (*Config, error) {
	cfg := &Config{
		HarviaCfg: &HarviaConfig{},
		MqttCfg:   &MqttConfig{},
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg.HarviaCfg); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg.MqttCfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.HarviaCfg == nil || c.HarviaCfg.Username == "" || c.HarviaCfg.Password == "" {
		return errors.New("harvia username and password are required")
	}
	return nil
}
