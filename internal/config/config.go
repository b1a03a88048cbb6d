package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	// RealtimeURL is the ws:// endpoint of the signaling relay; APIBaseURL
	// is the exam portal REST backend. Both are required on the client side.
	RealtimeURL string `mapstructure:"realtime_url"`
	APIBaseURL  string `mapstructure:"api_base_url"`

	STUNServers []string `mapstructure:"stun_servers"`
}

var (
	ErrMissingRealtimeURL = errors.New("realtime_url is not configured")
	ErrMissingAPIBaseURL  = errors.New("api_base_url is not configured")
)

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "examlink-dev-secret")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetEnvPrefix("examlink")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// RequireClient enforces the configuration a proctoring client cannot start
// without. Missing values are a startup error, not a runtime fault.
func (c *Config) RequireClient() error {
	if c.RealtimeURL == "" {
		return ErrMissingRealtimeURL
	}
	if c.APIBaseURL == "" {
		return ErrMissingAPIBaseURL
	}
	return nil
}
