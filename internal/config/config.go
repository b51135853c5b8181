package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	Secret     string        `mapstructure:"secret"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	// Empty means the in-memory store; anything else is a Redis address.
	RedisAddr string `mapstructure:"redis_addr"`

	PresenceTTL   time.Duration `mapstructure:"presence_ttl"`
	TypingTTL     time.Duration `mapstructure:"typing_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	TypingRateLimit  int           `mapstructure:"typing_rate_limit"`
	TypingRateWindow time.Duration `mapstructure:"typing_rate_window"`

	RingTimeout       time.Duration `mapstructure:"ring_timeout"`
	ReconnectWindow   time.Duration `mapstructure:"reconnect_window"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
}

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
	v.SetDefault("secret", "dev-secret")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("redis_addr", "")
	v.SetDefault("presence_ttl", "300s")
	v.SetDefault("typing_ttl", "10s")
	v.SetDefault("sweep_interval", "30s")
	v.SetDefault("typing_rate_limit", 10)
	v.SetDefault("typing_rate_window", "5s")
	v.SetDefault("ring_timeout", "60s")
	v.SetDefault("reconnect_window", "5s")
	v.SetDefault("reconnect_attempts", 3)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("redis", cfg.RedisAddr).Msg("config ready")
	return &cfg, nil
}
