// Package config loads and validates the realtime server configuration from the environment using Viper.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// Port is the HTTP port the realtime server listens on.
	Port string `mapstructure:"PORT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "json" or "text".
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// JWTSecret is the HS256 key shared with the token issuer. Required.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer, when set, must match the iss claim of presented tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`

	// DatabaseURL is the Postgres DSN for the conversation directory. Optional;
	// without it every authenticated user may join any conversation.
	DatabaseURL string `mapstructure:"DB_URL"`
	// RedisURL backs the cache, the cross-node relay and the job queue. Optional.
	RedisURL string `mapstructure:"REDIS_URL"`
	// AsynqConcurrency is the number of background job workers.
	AsynqConcurrency int `mapstructure:"ASYNQ_CONCURRENCY"`
	// AsynqQueues is a CSV of queue weights like "realtime=6,low=1" that this
	// node's worker consumes.
	AsynqQueues string `mapstructure:"ASYNQ_QUEUES"`
	// PersistQueue receives message_created tasks for the external persister.
	// It must not be one of AsynqQueues.
	PersistQueue string `mapstructure:"PERSIST_QUEUE"`

	// SendBuffer is the per-connection outbound queue size.
	SendBuffer int `mapstructure:"WS_SEND_BUFFER"`
	// RatePerSec is the sustained inbound frame rate allowed per connection.
	RatePerSec float64 `mapstructure:"WS_RATE_PER_SEC"`
	// RateBurst is the inbound frame burst allowed per connection.
	RateBurst int `mapstructure:"WS_RATE_BURST"`
	// AllowedOrigins is a comma-separated list of websocket origins; empty allows any.
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	// ParticipantCacheTTL is how long participant lookups are cached (e.g. "1m").
	ParticipantCacheTTL string `mapstructure:"PARTICIPANT_CACHE_TTL"`
}

// Load builds and validates Config from the environment via Viper.
// Callers load .env beforehand if they want one.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "5000")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("DB_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("ASYNQ_CONCURRENCY", 10)
	v.SetDefault("ASYNQ_QUEUES", "realtime=1")
	v.SetDefault("PERSIST_QUEUE", "chat_persist")
	v.SetDefault("WS_SEND_BUFFER", 128)
	v.SetDefault("WS_RATE_PER_SEC", 10)
	v.SetDefault("WS_RATE_BURST", 20)
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("PARTICIPANT_CACHE_TTL", "1m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("config: JWT_SECRET must be set")
	}
	if cfg.Port == "" {
		return nil, errors.New("config: PORT must be set")
	}
	if cfg.SendBuffer <= 0 {
		return nil, errors.New("config: WS_SEND_BUFFER must be positive")
	}
	if cfg.RatePerSec <= 0 || cfg.RateBurst <= 0 {
		return nil, errors.New("config: WS_RATE_PER_SEC and WS_RATE_BURST must be positive")
	}
	if cfg.AsynqConcurrency <= 0 {
		cfg.AsynqConcurrency = 10
	}
	if strings.TrimSpace(cfg.PersistQueue) == "" {
		return nil, errors.New("config: PERSIST_QUEUE must be set")
	}
	if _, ok := cfg.WorkerQueues()[cfg.PersistQueue]; ok {
		return nil, fmt.Errorf("config: PERSIST_QUEUE %q is consumed by this worker (ASYNQ_QUEUES)", cfg.PersistQueue)
	}

	return &cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// ParticipantTTL parses ParticipantCacheTTL. Returns 1m if unset or invalid.
func (c *Config) ParticipantTTL() time.Duration {
	d, err := time.ParseDuration(c.ParticipantCacheTTL)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// Origins returns the allowed websocket origins from the comma-separated config.
func (c *Config) Origins() []string {
	if c == nil || c.AllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// WorkerQueues parses AsynqQueues ("realtime=6,low=1") into queue weights.
// A missing or invalid weight counts as 1.
func (c *Config) WorkerQueues() map[string]int {
	res := make(map[string]int)
	for _, part := range strings.Split(c.AsynqQueues, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		name := strings.TrimSpace(kv[0])
		if name == "" {
			continue
		}
		w := 1
		if len(kv) == 2 {
			if i, err := strconv.Atoi(strings.TrimSpace(kv[1])); err == nil && i > 0 {
				w = i
			}
		}
		res[name] = w
	}
	return res
}
