package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sukryu/gorm-oso/pkg/errors"
)

const (
	BackendOso     = "oso"
	BackendOpenFGA = "openfga"
)

type Config struct {
	Backend   string        `mapstructure:"backend"`
	URL       string        `mapstructure:"url"`
	APIKey    string        `mapstructure:"api_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`

	OpenFGA struct {
		APIURL   string `mapstructure:"api_url"`
		StoreID  string `mapstructure:"store_id"`
		ModelID  string `mapstructure:"model_id"`
		APIToken string `mapstructure:"api_token"`
	} `mapstructure:"openfga"`

	Server struct {
		Host       string `mapstructure:"host"`
		Port       int    `mapstructure:"port"`
		APIKeyHash string `mapstructure:"api_key_hash"`
		PolicyFile string `mapstructure:"policy_file"`
	} `mapstructure:"server"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

var defaults = map[string]any{
	"backend":             BackendOso,
	"url":                 "https://api.osohq.com",
	"api_key":             "",
	"timeout":             "10s",
	"rate_limit":          0,
	"burst":               1,
	"openfga.api_url":     "http://localhost:8080",
	"openfga.store_id":    "",
	"openfga.model_id":    "",
	"openfga.api_token":   "",
	"server.host":         "0.0.0.0",
	"server.port":         8080,
	"server.api_key_hash": "",
	"server.policy_file":  "policy.yaml",
	"log.level":           "info",
}

// Load reads configuration from defaults, an optional YAML file and
// OSO_* environment variables, in increasing precedence. With an empty
// path, ./oso.yaml is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix("OSO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("oso")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %v", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %v", err)
	}

	return &config, nil
}

// Validate checks the settings a client needs.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOso:
		if c.APIKey == "" {
			return errors.ErrInvalidConfig.WithReason("OSO_API_KEY is required")
		}
	case BackendOpenFGA:
		if c.OpenFGA.StoreID == "" {
			return errors.ErrInvalidConfig.WithReason("OSO_OPENFGA_STORE_ID is required")
		}
	default:
		return errors.ErrInvalidConfig.WithReasonf("unknown backend %q", c.Backend)
	}
	if c.Timeout < 0 {
		return errors.ErrInvalidConfig.WithReason("timeout must not be negative")
	}
	return nil
}
