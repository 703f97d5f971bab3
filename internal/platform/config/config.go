// Package config loads service configuration from HCERT_* environment variables, with an
// optional YAML file overlay.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvDev        = "dev"
	EnvProduction = "production"

	KeyBackendMemory   = "memory"
	KeyBackendPostgres = "postgres"

	AuditSinkMemory = "memory"
	AuditSinkKafka  = "kafka"
)

type Config struct {
	Server    Server          `yaml:"server"`
	Keys      Keys            `yaml:"keys"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr             string `yaml:"addr"`
	Env              string `yaml:"env"`
	AdminJWTKey      string `yaml:"admin_jwt_key"`
	AdminJWTIssuer   string `yaml:"admin_jwt_issuer"`
	AdminJWTAudience string `yaml:"admin_jwt_audience"`
	BatchLimit       int    `yaml:"batch_limit"`
	BatchConcurrency int    `yaml:"batch_concurrency"`
}

// Keys selects the trusted key backend and an optional trust list to seed it with.
type Keys struct {
	Backend    string        `yaml:"backend"`
	SeedFile   string        `yaml:"seed_file"`
	SeedFormat string        `yaml:"seed_format"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig is optional; an empty URL disables the key cache and the shared limiter.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// KafkaConfig selects the audit sink. MemoryCapacity bounds the events the memory sink
// retains.
type KafkaConfig struct {
	Sink           string   `yaml:"sink"`
	Brokers        []string `yaml:"brokers"`
	Topic          string   `yaml:"topic"`
	Partitions     int32    `yaml:"partitions"`
	Replication    int16    `yaml:"replication"`
	AsyncBuffer    int      `yaml:"async_buffer"`
	MemoryCapacity int      `yaml:"memory_capacity"`
}

type RateLimitConfig struct {
	Disabled bool          `yaml:"disabled"`
	RPS      float64       `yaml:"rps"`
	Burst    int           `yaml:"burst"`
	IdleTTL  time.Duration `yaml:"idle_ttl"`
	Window   time.Duration `yaml:"window"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: Server{
			Addr:             ":8080",
			Env:              EnvProduction,
			AdminJWTKey:      "dev-secret-key-change-in-production",
			AdminJWTIssuer:   "hcert",
			AdminJWTAudience: "hcert-admin",
			BatchLimit:       50,
			BatchConcurrency: 8,
		},
		Keys: Keys{
			Backend:    KeyBackendMemory,
			SeedFormat: "uk",
			CacheTTL:   5 * time.Minute,
		},
		Postgres: PostgresConfig{
			MaxOpenConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			Sink:           AuditSinkMemory,
			Topic:          "hcert.verifications",
			Partitions:     3,
			Replication:    1,
			AsyncBuffer:    1024,
			MemoryCapacity: 10000,
		},
		RateLimit: RateLimitConfig{
			RPS:     10,
			Burst:   20,
			IdleTTL: 10 * time.Minute,
			Window:  time.Minute,
		},
	}
}

// FromEnv builds the configuration from defaults and HCERT_* variables. When HCERT_CONFIG
// names a file, it is applied first and the environment wins over it.
func FromEnv() (Config, error) {
	cfg := Default()
	if path := os.Getenv("HCERT_CONFIG"); path != "" {
		if err := Load(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Load overlays the YAML file at path onto cfg. Keys absent from the file keep their
// current values.
func Load(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("HCERT_ADDR", &cfg.Server.Addr)
	e.str("HCERT_ENV", &cfg.Server.Env)
	e.str("HCERT_ADMIN_JWT_KEY", &cfg.Server.AdminJWTKey)
	e.str("HCERT_ADMIN_JWT_ISSUER", &cfg.Server.AdminJWTIssuer)
	e.str("HCERT_ADMIN_JWT_AUDIENCE", &cfg.Server.AdminJWTAudience)
	e.int("HCERT_BATCH_LIMIT", &cfg.Server.BatchLimit)
	e.int("HCERT_BATCH_CONCURRENCY", &cfg.Server.BatchConcurrency)

	e.str("HCERT_KEYS_BACKEND", &cfg.Keys.Backend)
	e.str("HCERT_KEYS_SEED_FILE", &cfg.Keys.SeedFile)
	e.str("HCERT_KEYS_SEED_FORMAT", &cfg.Keys.SeedFormat)
	e.duration("HCERT_KEYS_CACHE_TTL", &cfg.Keys.CacheTTL)

	e.str("HCERT_POSTGRES_DSN", &cfg.Postgres.DSN)
	e.int("HCERT_POSTGRES_MAX_OPEN_CONNS", &cfg.Postgres.MaxOpenConns)

	e.str("HCERT_REDIS_URL", &cfg.Redis.URL)
	e.int("HCERT_REDIS_POOL_SIZE", &cfg.Redis.PoolSize)

	e.str("HCERT_AUDIT_SINK", &cfg.Kafka.Sink)
	e.list("HCERT_KAFKA_BROKERS", &cfg.Kafka.Brokers)
	e.str("HCERT_KAFKA_TOPIC", &cfg.Kafka.Topic)
	e.int("HCERT_AUDIT_MEMORY_CAPACITY", &cfg.Kafka.MemoryCapacity)

	e.bool("HCERT_RATELIMIT_DISABLED", &cfg.RateLimit.Disabled)
	e.float("HCERT_RATELIMIT_RPS", &cfg.RateLimit.RPS)
	e.int("HCERT_RATELIMIT_BURST", &cfg.RateLimit.Burst)
	e.duration("HCERT_RATELIMIT_IDLE_TTL", &cfg.RateLimit.IdleTTL)
	e.duration("HCERT_RATELIMIT_WINDOW", &cfg.RateLimit.Window)

	return errors.Join(e.errs...)
}

// Validate rejects combinations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Keys.Backend {
	case KeyBackendMemory:
	case KeyBackendPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres key backend requires HCERT_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown key backend %q", c.Keys.Backend))
	}
	switch c.Kafka.Sink {
	case AuditSinkMemory:
		if c.Kafka.MemoryCapacity <= 0 {
			errs = append(errs, errors.New("audit memory capacity must be positive"))
		}
	case AuditSinkKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka audit sink requires HCERT_KAFKA_BROKERS"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audit sink %q", c.Kafka.Sink))
	}
	if c.Server.BatchLimit <= 0 {
		errs = append(errs, errors.New("batch limit must be positive"))
	}
	if !c.RateLimit.Disabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate limit rps and burst must be positive"))
	}
	if c.Server.Env == EnvProduction && c.Server.AdminJWTKey == Default().Server.AdminJWTKey {
		errs = append(errs, errors.New("HCERT_ADMIN_JWT_KEY must be set in production"))
	}
	return errors.Join(errs...)
}

// IsDev reports whether the server runs with development defaults.
func (c Config) IsDev() bool {
	return c.Server.Env == EnvDev
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) list(name string, dst *[]string) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (e *envReader) int(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = n
}

func (e *envReader) float(name string, dst *float64) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = f
}

func (e *envReader) bool(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = b
}

func (e *envReader) duration(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = d
}
