package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vigilops/vigil/internal/fusion"
	"github.com/vigilops/vigil/internal/signal"
)

// Config holds all configuration for the vigil server
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Fusion   FusionConfig   `mapstructure:"fusion"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
}

// ServerConfig holds HTTP server configuration. There is no write timeout:
// websocket connections are long-lived and the gateway enforces its own
// per-frame deadlines.
type ServerConfig struct {
	Port        int           `mapstructure:"port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// AuthConfig holds session token settings
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// FusionConfig holds score fusion and alerting thresholds
type FusionConfig struct {
	Weights    map[string]float64       `mapstructure:"weights"`
	HalfLives  map[string]time.Duration `mapstructure:"half_lives"`
	High       float64                  `mapstructure:"high_threshold"`
	Low        float64                  `mapstructure:"low_threshold"`
	AlertDwell time.Duration            `mapstructure:"alert_dwell"`
}

// SessionsConfig holds session lifecycle settings
type SessionsConfig struct {
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	LostContactAfter time.Duration `mapstructure:"lost_contact_after"`
	JanitorInterval  time.Duration `mapstructure:"janitor_interval"`
}

// GatewayConfig holds websocket transport settings
type GatewayConfig struct {
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	SendQueueSize     int           `mapstructure:"send_queue_size"`
	ReorderWindow     time.Duration `mapstructure:"reorder_window"`
	ReorderMaxPending int           `mapstructure:"reorder_max_pending"`
}

// RedisConfig holds Redis configuration for session resume state
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds the pgx connection string
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// NATSConfig holds NATS publisher configuration
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	Enabled       bool   `mapstructure:"enabled"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", "4h")

	v.SetDefault("fusion.weights", map[string]any{
		string(signal.TypeProcess):    0.30,
		string(signal.TypeClipboard):  0.25,
		string(signal.TypeCadence):    0.15,
		string(signal.TypeClassifier): 0.30,
	})
	v.SetDefault("fusion.half_lives", map[string]any{
		string(signal.TypeProcess):    "60s",
		string(signal.TypeClipboard):  "30s",
		string(signal.TypeCadence):    "45s",
		string(signal.TypeClassifier): "30s",
	})
	v.SetDefault("fusion.high_threshold", 0.75)
	v.SetDefault("fusion.low_threshold", 0.50)
	v.SetDefault("fusion.alert_dwell", "5s")

	v.SetDefault("sessions.idle_timeout", "10m")
	v.SetDefault("sessions.lost_contact_after", "90s")
	v.SetDefault("sessions.janitor_interval", "30s")

	v.SetDefault("gateway.write_timeout", "5s")
	v.SetDefault("gateway.heartbeat_interval", "20s")
	v.SetDefault("gateway.heartbeat_timeout", "10s")
	v.SetDefault("gateway.send_queue_size", 64)
	v.SetDefault("gateway.reorder_window", "3s")
	v.SetDefault("gateway.reorder_max_pending", 256)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "vigil")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "vigil")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.subject_prefix", "vigil")

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override file config
	v.SetEnvPrefix("VIGIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Fusion.Engine().Validate(); err != nil {
		return nil, fmt.Errorf("invalid fusion config: %w", err)
	}
	return &cfg, nil
}

// Engine converts the fusion section into the engine's runtime config.
func (f FusionConfig) Engine() fusion.Config {
	cfg := fusion.Config{
		Weights:   make(map[signal.Type]float64, len(f.Weights)),
		HalfLives: make(map[signal.Type]time.Duration, len(f.HalfLives)),
		High:      f.High,
		Low:       f.Low,
		Dwell:     f.AlertDwell,
	}
	for k, w := range f.Weights {
		cfg.Weights[signal.Type(k)] = w
	}
	for k, hl := range f.HalfLives {
		cfg.HalfLives[signal.Type(k)] = hl
	}
	return cfg
}
