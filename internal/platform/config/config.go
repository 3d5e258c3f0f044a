// Package config loads the consentd configuration: built-in defaults, then an
// optional YAML file, then CONSENTD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "CONSENTD"

// Development-only secrets. Validate rejects them outside development.
const (
	devJWTSigningKey   = "dev-secret-key-change-in-production"
	devPseudonymPepper = "dev-pepper-change-in-production"
)

type Config struct {
	Environment string   `yaml:"environment" envconfig:"ENV"`
	Log         Log      `yaml:"log"`
	HTTP        HTTP     `yaml:"http"`
	Postgres    Postgres `yaml:"postgres"`
	Redis       Redis    `yaml:"redis"`
	Kafka       Kafka    `yaml:"kafka"`
	Auth        Auth     `yaml:"auth"`
	Ledger      Ledger   `yaml:"ledger"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HTTP struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout" split_words:"true"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"   split_words:"true"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"    split_words:"true"`
}

// Postgres configures the durable stores. An empty URL selects the in-memory stores.
type Postgres struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"maxOpenConns"    split_words:"true"`
	MaxIdleConns    int           `yaml:"maxIdleConns"    split_words:"true"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" split_words:"true"`
	TxTimeout       time.Duration `yaml:"txTimeout"       split_words:"true"`
	MigrateOnStart  bool          `yaml:"migrateOnStart"  split_words:"true"`
}

// Redis configures the anonymization lock. An empty URL keeps locking process-local.
type Redis struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"poolSize"     split_words:"true"`
	MinIdleConns int           `yaml:"minIdleConns" split_words:"true"`
	DialTimeout  time.Duration `yaml:"dialTimeout"  split_words:"true"`
	ReadTimeout  time.Duration `yaml:"readTimeout"  split_words:"true"`
	WriteTimeout time.Duration `yaml:"writeTimeout" split_words:"true"`
	LockTTL      time.Duration `yaml:"lockTTL"      split_words:"true"`
}

// Kafka configures the audit outbox publisher. No brokers disables publishing.
type Kafka struct {
	Brokers           []string      `yaml:"brokers"`
	Topic             string        `yaml:"topic"`
	Partitions        int32         `yaml:"partitions"        split_words:"true"`
	ReplicationFactor int16         `yaml:"replicationFactor" split_words:"true"`
	ProvisionTopic    bool          `yaml:"provisionTopic"    split_words:"true"`
	PublishInterval   time.Duration `yaml:"publishInterval"   split_words:"true"`
	BatchSize         int           `yaml:"batchSize"         split_words:"true"`
}

type Auth struct {
	JWTSigningKey string `yaml:"jwtSigningKey" envconfig:"JWT_SIGNING_KEY"`
	JWTIssuer     string `yaml:"jwtIssuer"     envconfig:"JWT_ISSUER"`
	// AdminRole is the role claim that authorizes privacy administration.
	AdminRole string `yaml:"adminRole" split_words:"true"`
	// AdminAllowlist names actors authorized regardless of their role claims.
	AdminAllowlist []string `yaml:"adminAllowlist" split_words:"true"`
}

type Ledger struct {
	// ConsentGateEnabled turns the gating check on. When false, IsBlocking
	// always reports false while consent is still recorded.
	ConsentGateEnabled bool `yaml:"consentGateEnabled" split_words:"true"`
	// PseudonymPepper keys the hashes of source context and subject markers.
	PseudonymPepper string `yaml:"pseudonymPepper" split_words:"true"`
}

// Defaults returns the development configuration.
func Defaults() Config {
	return Config{
		Environment: "development",
		Log:         Log{Level: "info", Format: "json"},
		HTTP: HTTP{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			RequestTimeout:    15 * time.Second,
		},
		Postgres: Postgres{
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
			TxTimeout:       5 * time.Second,
		},
		Redis: Redis{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			LockTTL:      30 * time.Second,
		},
		Kafka: Kafka{
			Topic:             "consent.audit",
			Partitions:        3,
			ReplicationFactor: 1,
			PublishInterval:   time.Second,
			BatchSize:         100,
		},
		Auth: Auth{
			JWTSigningKey: devJWTSigningKey,
			AdminRole:     "privacy_admin",
		},
		Ledger: Ledger{
			ConsentGateEnabled: true,
			PseudonymPepper:    devPseudonymPepper,
		},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsDevelopment reports whether development defaults are acceptable.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "" || c.Environment == "development"
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format %q is not one of json, text", c.Log.Format))
	}
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("auth.jwtSigningKey is required"))
	}
	if c.Auth.AdminRole == "" {
		errs = append(errs, errors.New("auth.adminRole is required"))
	}
	if n := len(c.Ledger.PseudonymPepper); n < 16 || n > 64 {
		errs = append(errs, fmt.Errorf("ledger.pseudonymPepper must be 16 to 64 bytes, got %d", n))
	}
	if c.HTTP.RequestTimeout <= 0 {
		errs = append(errs, errors.New("http.requestTimeout must be positive"))
	}
	if c.Postgres.TxTimeout <= 0 {
		errs = append(errs, errors.New("postgres.txTimeout must be positive"))
	}
	if c.Redis.LockTTL <= 0 {
		errs = append(errs, errors.New("redis.lockTTL must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 {
		if c.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
		}
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("kafka publishing requires postgres (the outbox lives there)"))
		}
		if c.Kafka.BatchSize <= 0 {
			errs = append(errs, errors.New("kafka.batchSize must be positive"))
		}
	}
	if !c.IsDevelopment() {
		if c.Auth.JWTSigningKey == devJWTSigningKey {
			errs = append(errs, errors.New("auth.jwtSigningKey must be overridden outside development"))
		}
		if c.Ledger.PseudonymPepper == devPseudonymPepper {
			errs = append(errs, errors.New("ledger.pseudonymPepper must be overridden outside development"))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
