package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"lessonlive/pkg/circuitbreaker"
	"lessonlive/pkg/retry"
	"lessonlive/pkg/tracing"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		Path            string        `yaml:"path"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		SendQueueSize   int           `yaml:"send_queue_size"`
		MaxMessageBytes int64         `yaml:"max_message_bytes"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"signal"`

	Rooms struct {
		AutoCreate              bool          `yaml:"auto_create"`
		DefaultKind             string        `yaml:"default_kind"`
		DefaultParticipantLimit int           `yaml:"default_participant_limit"`
		MailboxSize             int           `yaml:"mailbox_size"`
		StoreTimeout            time.Duration `yaml:"store_timeout"`
		ScreenShareRoles        []string      `yaml:"screen_share_roles"`
	} `yaml:"rooms"`

	Moderation struct {
		ModeratorsCanKick bool `yaml:"moderators_can_kick"`
		ModeratorsCanBan  bool `yaml:"moderators_can_ban"`
		ModeratorsCanMute bool `yaml:"moderators_can_mute"`
	} `yaml:"moderation"`

	Notes struct {
		MaxBytes int `yaml:"max_bytes"`
	} `yaml:"notes"`

	Chat struct {
		MaxLength   int `yaml:"max_length"`
		HistorySize int `yaml:"history_size"`
	} `yaml:"chat"`

	Storage struct {
		Driver           string `yaml:"driver"`            // memory | redis
		ModerationDriver string `yaml:"moderation_driver"` // "" follows driver, or postgres

		Redis struct {
			Address   string `yaml:"address"`
			Password  string `yaml:"password"`
			DB        int    `yaml:"db"`
			PoolSize  int    `yaml:"pool_size"`
			KeyPrefix string `yaml:"key_prefix"`
		} `yaml:"redis"`

		Postgres struct {
			DSN             string        `yaml:"dsn"`
			MaxOpenConns    int           `yaml:"max_open_conns"`
			MaxIdleConns    int           `yaml:"max_idle_conns"`
			ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	// Distributed enables the room lease and the redis event bus. It needs
	// the redis storage driver.
	Distributed struct {
		Enabled    bool          `yaml:"enabled"`
		InstanceID string        `yaml:"instance_id"`
		LeaseTTL   time.Duration `yaml:"lease_ttl"`
	} `yaml:"distributed"`

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		Issuer    string        `yaml:"issuer"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	Reliability struct {
		Retry          retry.Config          `yaml:"retry"`
		CircuitBreaker circuitbreaker.Config `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Tracing tracing.Config `yaml:"tracing"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		MetricsPath       string `yaml:"metrics_path"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server timeouts must be > 0")
	}

	if c.Signal.Path == "" {
		return fmt.Errorf("signal.path must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be greater than signal.ping_interval")
	}
	if c.Signal.SendQueueSize <= 0 {
		return fmt.Errorf("signal.send_queue_size must be > 0")
	}

	switch c.Rooms.DefaultKind {
	case "live-session", "office-hours":
	default:
		return fmt.Errorf("rooms.default_kind must be live-session or office-hours")
	}
	if c.Rooms.DefaultParticipantLimit < 0 {
		return fmt.Errorf("rooms.default_participant_limit must be >= 0")
	}
	if c.Rooms.MailboxSize < 1 {
		return fmt.Errorf("rooms.mailbox_size must be >= 1")
	}
	for _, role := range c.Rooms.ScreenShareRoles {
		switch role {
		case "host", "moderator", "participant":
		default:
			return fmt.Errorf("rooms.screen_share_roles: unknown role %q", role)
		}
	}

	if c.Notes.MaxBytes < 0 {
		return fmt.Errorf("notes.max_bytes must be >= 0")
	}
	if c.Chat.MaxLength < 0 || c.Chat.HistorySize < 0 {
		return fmt.Errorf("chat limits must be >= 0")
	}

	switch c.Storage.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("storage.driver must be memory or redis")
	}
	switch c.Storage.ModerationDriver {
	case "", "memory", "redis":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must not be empty when moderation_driver=postgres")
		}
	default:
		return fmt.Errorf("storage.moderation_driver must be memory, redis or postgres")
	}
	if c.usesRedis() {
		if c.Storage.Redis.Address == "" {
			return fmt.Errorf("storage.redis.address must not be empty when redis is used")
		}
		if c.Storage.Redis.PoolSize <= 0 {
			return fmt.Errorf("storage.redis.pool_size must be > 0 when redis is used")
		}
	}

	if c.Distributed.Enabled {
		if c.Storage.Driver != "redis" {
			return fmt.Errorf("distributed.enabled requires storage.driver=redis")
		}
		if c.Distributed.LeaseTTL < time.Second {
			return fmt.Errorf("distributed.lease_ttl must be >= 1s")
		}
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 || c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http values must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 || c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket values must be > 0 when rate limiting is enabled")
		}
	}

	if c.Reliability.Retry.Enabled && c.Reliability.Retry.MaxAttempts < 1 {
		return fmt.Errorf("reliability.retry.max_attempts must be >= 1")
	}
	if c.Reliability.CircuitBreaker.FailureThreshold < 0 {
		return fmt.Errorf("reliability.circuit_breaker.failure_threshold must be >= 0")
	}

	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	return nil
}

func (c *Config) usesRedis() bool {
	return c.Storage.Driver == "redis" || c.Storage.ModerationDriver == "redis"
}

// Load reads configPath over DefaultConfig, applies LESSONLIVE_* environment
// overrides and validates. A missing file means defaults only.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.ShutdownTimeout = 20 * time.Second

	cfg.Signal.Path = "/ws"
	cfg.Signal.PingInterval = 20 * time.Second
	cfg.Signal.PongTimeout = 45 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.SendQueueSize = 256
	cfg.Signal.MaxMessageBytes = 128 * 1024
	cfg.Signal.AllowedOrigins = []string{"*"}

	cfg.Rooms.AutoCreate = true
	cfg.Rooms.DefaultKind = "live-session"
	cfg.Rooms.DefaultParticipantLimit = 0
	cfg.Rooms.MailboxSize = 64
	cfg.Rooms.StoreTimeout = 5 * time.Second

	cfg.Moderation.ModeratorsCanKick = false
	cfg.Moderation.ModeratorsCanBan = false
	cfg.Moderation.ModeratorsCanMute = true

	cfg.Notes.MaxBytes = 64 * 1024

	cfg.Chat.MaxLength = 2000
	cfg.Chat.HistorySize = 50

	cfg.Storage.Driver = "memory"
	cfg.Storage.Redis.Address = "localhost:6379"
	cfg.Storage.Redis.PoolSize = 20
	cfg.Storage.Redis.KeyPrefix = "lessonlive"
	cfg.Storage.Postgres.MaxOpenConns = 10
	cfg.Storage.Postgres.MaxIdleConns = 5
	cfg.Storage.Postgres.ConnMaxLifetime = 30 * time.Minute

	cfg.Distributed.LeaseTTL = 30 * time.Second

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.Issuer = "lessonlive"
	cfg.Auth.TokenTTL = 12 * time.Hour

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 20
	cfg.RateLimiting.WebSocket.Burst = 60

	cfg.Reliability.Retry = retry.DefaultConfig()
	cfg.Reliability.CircuitBreaker = circuitbreaker.DefaultConfig()

	cfg.Tracing = tracing.DefaultConfig()

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsPath = "/metrics"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("LESSONLIVE_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("LESSONLIVE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LESSONLIVE_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("LESSONLIVE_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("LESSONLIVE_MODERATION_DRIVER"); v != "" {
		c.Storage.ModerationDriver = v
	}
	if v := os.Getenv("LESSONLIVE_REDIS_ADDRESS"); v != "" {
		c.Storage.Redis.Address = v
	}
	if v := os.Getenv("LESSONLIVE_REDIS_PASSWORD"); v != "" {
		c.Storage.Redis.Password = v
	}
	if v := os.Getenv("LESSONLIVE_POSTGRES_DSN"); v != "" {
		c.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("LESSONLIVE_INSTANCE_ID"); v != "" {
		c.Distributed.InstanceID = v
	}
	if v := os.Getenv("LESSONLIVE_DISTRIBUTED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LESSONLIVE_DISTRIBUTED: %w", err)
		}
		c.Distributed.Enabled = enabled
	}
	return nil
}
