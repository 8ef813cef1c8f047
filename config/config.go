// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	auth "github.com/healthapp/go-auth"
)

const (
	BackendSQL    = "sql"
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

const minSigningKeyLength = 32

// Config holds every setting the identity service and its CLI read.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"console"`

	// Storage
	StoreBackend  string `env:"STORE_BACKEND" envDefault:"sql"`
	DBDriver      string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN         string `env:"DB_DSN" envDefault:"file:healthapp.db?cache=shared"`
	MongoURI      string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"healthapp"`

	// Tokens
	SigningKey      string        `env:"JWT_SIGNING_KEY"`
	Issuer          string        `env:"JWT_ISSUER" envDefault:"health-app"`
	Audience        []string      `env:"JWT_AUDIENCE" envDefault:"health-app" envSeparator:","`
	AccessTokenTTL  time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`
	BcryptCost      int           `env:"BCRYPT_COST" envDefault:"12"`

	// Kafka, disabled when no brokers are set
	KafkaBrokers           []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaNotificationTopic string   `env:"KAFKA_NOTIFICATION_TOPIC" envDefault:"identity.notifications"`
	KafkaActivityTopic     string   `env:"KAFKA_ACTIVITY_TOPIC" envDefault:"identity.activity"`

	// Redis, disabled when no address is set
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	PhoneRegion  string `env:"PHONE_REGION" envDefault:"US"`
	FrontendURL  string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	SupportEmail string `env:"SUPPORT_EMAIL" envDefault:"support@healthapp.com"`
}

var _ auth.Config = (*Config)(nil)

// Load reads files (default ".env") when present, then parses the
// environment. Variables already set win over file values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the service runs in a development setup.
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(c.Environment) {
	case "development", "dev", "local", "test":
		return true
	}
	return false
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendSQL, BackendMongo, BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.StoreBackend == BackendSQL && c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is required for the sql backend")
	}
	if c.StoreBackend == BackendMongo && (c.MongoURI == "" || c.MongoDatabase == "") {
		return fmt.Errorf("MONGO_URI and MONGO_DATABASE are required for the mongo backend")
	}
	if !c.IsDevelopment() && len(c.SigningKey) < minSigningKeyLength {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least %d bytes", minSigningKeyLength)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		return fmt.Errorf("JWT_ACCESS_TTL must be shorter than JWT_REFRESH_TTL")
	}
	return nil
}

func (c *Config) GetSigningKey() string {
	if c.SigningKey == "" && c.IsDevelopment() {
		return "development-signing-key-change-me-please"
	}
	return c.SigningKey
}

func (c *Config) GetIssuer() string { return c.Issuer }

func (c *Config) GetAudience() []string { return c.Audience }

func (c *Config) GetAccessTokenTTL() time.Duration { return c.AccessTokenTTL }

func (c *Config) GetRefreshTokenTTL() time.Duration { return c.RefreshTokenTTL }
