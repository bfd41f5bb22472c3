package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultSynthesisEndpoint is the local synthesis service the client talks to
// when SYNTHESIS_ENDPOINT is not set.
const DefaultSynthesisEndpoint = "http://127.0.0.1:8000/api/synthesize"

const (
	HistoryBackendNone     = "none"
	HistoryBackendMemory   = "memory"
	HistoryBackendPostgres = "postgres"
	HistoryBackendMongo    = "mongo"
	HistoryBackendRedis    = "redis"
)

type Config struct {
	ServerPort string
	JWTSecret  string
	JWTTTL     time.Duration
	Synthesis  SynthesisConfig
	History    HistoryConfig
	Logging    LoggingConfig
}

type SynthesisConfig struct {
	Endpoint string
	// Timeout of zero leaves the HTTP client without a deadline.
	Timeout time.Duration
}

type HistoryConfig struct {
	Backend  string
	Limit    int
	Postgres PostgresConfig
	Mongo    MongoConfig
	Redis    RedisConfig
}

type PostgresConfig struct {
	DSN               string
	Host              string
	Port              int
	User              string
	Password          string
	Database          string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
	Output       string
}

// LoadConfig reads the configuration from the process environment.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(os.LookupEnv)
}

// LoadConfigFrom reads the configuration through lookup so tests can supply
// a fixed environment.
func LoadConfigFrom(lookup func(string) (string, bool)) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := envReader{lookup: lookup}

	pgPort, _ := strconv.Atoi(env.or("POSTGRES_PORT", "5432"))
	maxConns := parseInt32(env.or("POSTGRES_MAX_CONNS", "8"), 8)
	minConns := parseInt32(env.or("POSTGRES_MIN_CONNS", "1"), 1)

	cfg := &Config{
		ServerPort: env.or("PORT", "8080"),
		JWTSecret:  strings.TrimSpace(env.get("JWT_SECRET")),
		JWTTTL:     parseDuration(env.or("JWT_TTL", "24h"), 24*time.Hour),
		Synthesis: SynthesisConfig{
			Endpoint: strings.TrimSpace(env.or("SYNTHESIS_ENDPOINT", DefaultSynthesisEndpoint)),
			Timeout:  parseDuration(env.or("SYNTHESIS_TIMEOUT", "0"), 0),
		},
		History: HistoryConfig{
			Backend: strings.ToLower(strings.TrimSpace(env.or("HISTORY_BACKEND", HistoryBackendMemory))),
			Limit:   parsePositiveInt(env.or("HISTORY_LIMIT", "50"), 50),
			Postgres: PostgresConfig{
				DSN:               env.get("POSTGRES_DSN"),
				Host:              env.or("POSTGRES_HOST", "localhost"),
				Port:              pgPort,
				User:              env.or("POSTGRES_USER", "postgres"),
				Password:          env.or("POSTGRES_PASSWORD", "postgres"),
				Database:          env.or("POSTGRES_DB", "postgres"),
				MaxConns:          maxConns,
				MinConns:          minConns,
				MaxConnLifetime:   parseDuration(env.or("POSTGRES_MAX_CONN_LIFETIME", "1h"), time.Hour),
				MaxConnIdleTime:   parseDuration(env.or("POSTGRES_MAX_CONN_IDLE", "30m"), 30*time.Minute),
				HealthCheckPeriod: parseDuration(env.or("POSTGRES_HEALTH_CHECK_PERIOD", "1m"), time.Minute),
				ConnectTimeout:    parseDuration(env.or("POSTGRES_CONNECT_TIMEOUT", "5s"), 5*time.Second),
			},
			Mongo: MongoConfig{
				URI:            env.or("MONGO_URI", "mongodb://localhost:27017"),
				Database:       env.or("MONGO_DATABASE", "novus"),
				ConnectTimeout: parseDuration(env.or("MONGO_CONNECT_TIMEOUT", "5s"), 5*time.Second),
			},
			Redis: RedisConfig{
				Addr:     env.or("REDIS_ADDR", "localhost:6379"),
				Password: env.get("REDIS_PASSWORD"),
				DB:       parseNonNegativeInt(env.or("REDIS_DB", "0"), 0),
				TTL:      parseDuration(env.or("REDIS_HISTORY_TTL", "0"), 0),
			},
		},
		Logging: LoggingConfig{
			Level:        strings.ToLower(env.or("LOG_LEVEL", "info")),
			Encoding:     strings.ToLower(env.or("LOG_ENCODING", "console")),
			Development:  parseBool(env.or("LOG_DEVELOPMENT", "false"), false),
			EnableCaller: parseBool(env.or("LOG_CALLER", "false"), false),
			ServiceName:  env.or("SERVICE_NAME", "novus-synthesis"),
			Output:       env.or("LOG_OUTPUT", "stdout"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.History.Backend {
	case HistoryBackendNone, HistoryBackendMemory, HistoryBackendPostgres, HistoryBackendMongo, HistoryBackendRedis:
	default:
		return fmt.Errorf("config: unsupported HISTORY_BACKEND %q", c.History.Backend)
	}

	if c.Synthesis.Endpoint == "" {
		return fmt.Errorf("config: SYNTHESIS_ENDPOINT is empty")
	}

	if c.Synthesis.Timeout < 0 {
		return fmt.Errorf("config: SYNTHESIS_TIMEOUT must not be negative")
	}

	return nil
}

func (c PostgresConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

type envReader struct {
	lookup func(string) (string, bool)
}

func (e envReader) get(key string) string {
	value, _ := e.lookup(key)
	return value
}

func (e envReader) or(key, fallback string) string {
	value := e.get(key)
	if value == "" {
		return fallback
	}
	return value
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func parseInt32(value string, fallback int32) int32 {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return int32(i)
}

func parsePositiveInt(value string, fallback int) int {
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || i <= 0 {
		return fallback
	}
	return i
}

func parseNonNegativeInt(value string, fallback int) int {
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || i < 0 {
		return fallback
	}
	return i
}

func parseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}
