package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName         string
	AppEnv          string
	AppPort         string
	DatabaseURL     string
	RedisURL        string
	NATSURL         string
	JWTSecret       string
	ChannelBase     string
	HistoryPageSize int
	PresenceTTL     time.Duration
	FanoutGapWait   time.Duration
	SendRateLimit   int
	SendRateWindow  time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("RELAY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Relay API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("channel.base", "relay")
	v.SetDefault("history.page_size", 50)
	v.SetDefault("presence.ttl", "5m")
	v.SetDefault("fanout.gap_wait", "250ms")
	v.SetDefault("send.rate_limit", 30)
	v.SetDefault("send.rate_window", "10s")

	presenceTTL, err := time.ParseDuration(v.GetString("presence.ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid presence ttl: %w", err)
	}

	gapWait, err := time.ParseDuration(v.GetString("fanout.gap_wait"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid fanout gap wait: %w", err)
	}

	rateWindow, err := time.ParseDuration(v.GetString("send.rate_window"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid send rate window: %w", err)
	}

	cfg := Config{
		AppName:         v.GetString("app.name"),
		AppEnv:          v.GetString("app.env"),
		AppPort:         v.GetString("app.port"),
		DatabaseURL:     v.GetString("database.url"),
		RedisURL:        v.GetString("redis.url"),
		NATSURL:         v.GetString("nats.url"),
		JWTSecret:       v.GetString("jwt.secret"),
		ChannelBase:     v.GetString("channel.base"),
		HistoryPageSize: v.GetInt("history.page_size"),
		PresenceTTL:     presenceTTL,
		FanoutGapWait:   gapWait,
		SendRateLimit:   v.GetInt("send.rate_limit"),
		SendRateWindow:  rateWindow,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}

	return cfg, nil
}
