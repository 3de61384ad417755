package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "evcharge/backend/libs/config"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config defines OCPP server configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	OCPP     OCPPConfig     `yaml:"ocpp"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Security SecurityConfig `yaml:"security"`
	CORS     CORSConfig     `yaml:"cors"`
}

type HTTPConfig struct {
	Port string `yaml:"port" env:"OCPP_HTTP_PORT"`
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL"`
	Encoding string `yaml:"encoding" env:"LOG_ENCODING"`
}

// OCPPConfig holds protocol timing and transport limits.
type OCPPConfig struct {
	HeartbeatIntervalSeconds  int    `yaml:"heartbeatIntervalSeconds" env:"OCPP_HEARTBEAT_INTERVAL"`
	CallTimeoutSeconds        int    `yaml:"callTimeoutSeconds" env:"OCPP_CALL_TIMEOUT"`
	LivenessSweepSeconds      int    `yaml:"livenessSweepSeconds" env:"OCPP_LIVENESS_SWEEP"`
	LivenessTimeoutMultiplier int    `yaml:"livenessTimeoutMultiplier" env:"OCPP_LIVENESS_MULTIPLIER"`
	WriteTimeoutSeconds       int    `yaml:"writeTimeoutSeconds" env:"OCPP_WRITE_TIMEOUT"`
	PingIntervalSeconds       int    `yaml:"pingIntervalSeconds" env:"OCPP_PING_INTERVAL"`
	ReadLimitBytes            int64  `yaml:"readLimitBytes" env:"OCPP_READ_LIMIT"`
	Path                      string `yaml:"path" env:"OCPP_PATH"`
}

// StoreConfig selects the persistence driver. The seed lists are used by
// the memory driver only.
type StoreConfig struct {
	Driver       string   `yaml:"driver" env:"OCPP_STORE_DRIVER"`
	ChargePoints []string `yaml:"chargePoints" env:"OCPP_STORE_CHARGE_POINTS"`
	IdTags       []string `yaml:"idTags" env:"OCPP_STORE_ID_TAGS"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"OCPP_POSTGRES_DSN"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" env:"OCPP_MONGO_URI"`
	Database string `yaml:"database" env:"OCPP_MONGO_DATABASE"`
}

type RedisConfig struct {
	Addr                string `yaml:"addr" env:"OCPP_REDIS_ADDR"`
	Password            string `yaml:"password" env:"OCPP_REDIS_PASSWORD"`
	DB                  int    `yaml:"db" env:"OCPP_REDIS_DB"`
	AuthCacheTTLSeconds int    `yaml:"authCacheTTLSeconds" env:"OCPP_AUTH_CACHE_TTL"`
}

type NATSConfig struct {
	URL            string `yaml:"url" env:"OCPP_NATS_URL"`
	SubjectPrefix  string `yaml:"subjectPrefix" env:"OCPP_NATS_SUBJECT_PREFIX"`
	CommandSubject string `yaml:"commandSubject" env:"OCPP_NATS_COMMAND_SUBJECT"`
}

type WebhookConfig struct {
	URL string `yaml:"url" env:"OCPP_WEBHOOK_URL"`
}

type SecurityConfig struct {
	JWTSecret        string `yaml:"jwtSecret" env:"OCPP_JWT_SECRET"`
	RequireBasicAuth bool   `yaml:"requireBasicAuth" env:"OCPP_REQUIRE_BASIC_AUTH"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins" env:"OCPP_CORS_ALLOWED_ORIGINS"`
}

// Default returns configuration with every default applied.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{Port: "8080"},
		Log:  LogConfig{Level: "info", Encoding: "json"},
		OCPP: OCPPConfig{
			HeartbeatIntervalSeconds:  300,
			CallTimeoutSeconds:        30,
			LivenessSweepSeconds:      60,
			LivenessTimeoutMultiplier: 5,
			WriteTimeoutSeconds:       15,
			PingIntervalSeconds:       30,
			ReadLimitBytes:            1 << 20,
			Path:                      "/ocpp",
		},
		Store: StoreConfig{Driver: DriverPostgres},
		Mongo: MongoConfig{Database: "evcharge"},
		Redis: RedisConfig{AuthCacheTTLSeconds: 300},
		NATS:  NATSConfig{SubjectPrefix: "ocpp"},
		CORS:  CORSConfig{AllowedOrigins: []string{"*"}},
	}
}

// Load uses shared config loader and validates required fields.
func Load() (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks driver specific settings.
func (c *Config) Validate() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("config: database DSN is required")
		}
	case DriverMongo:
		if strings.TrimSpace(c.Mongo.URI) == "" {
			return errors.New("config: mongo URI is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	return nil
}

// HTTPAddress returns :port style address.
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

// HeartbeatInterval is the interval returned to charge points on boot.
func (c *Config) HeartbeatInterval() time.Duration {
	return seconds(c.OCPP.HeartbeatIntervalSeconds, 300)
}

// CallTimeout bounds outbound calls.
func (c *Config) CallTimeout() time.Duration {
	return seconds(c.OCPP.CallTimeoutSeconds, 30)
}

// LivenessSweep returns how often the liveness monitor runs.
func (c *Config) LivenessSweep() time.Duration {
	return seconds(c.OCPP.LivenessSweepSeconds, 60)
}

// LivenessTimeout is the silence after which a connection is evicted.
func (c *Config) LivenessTimeout() time.Duration {
	multiplier := c.OCPP.LivenessTimeoutMultiplier
	if multiplier <= 0 {
		multiplier = 5
	}
	return time.Duration(multiplier) * c.HeartbeatInterval()
}

// PingInterval returns websocket ping interval.
func (c *Config) PingInterval() time.Duration {
	return seconds(c.OCPP.PingIntervalSeconds, 30)
}

// WriteTimeout returns websocket write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return seconds(c.OCPP.WriteTimeoutSeconds, 15)
}

func (c *Config) ReadLimit() int64 {
	if c.OCPP.ReadLimitBytes <= 0 {
		return 1 << 20
	}
	return c.OCPP.ReadLimitBytes
}

func (c *Config) AuthCacheTTL() time.Duration {
	return seconds(c.Redis.AuthCacheTTLSeconds, 300)
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}
