// Package config loads credsync settings from the environment.
//
// Values come from process environment variables, optionally seeded from
// .env files. Nothing below the command layer reads the environment; the
// loaded Config is passed to each component at construction.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/roach88/credsync/internal/credential"
	"github.com/roach88/credsync/internal/engine"
	"github.com/roach88/credsync/internal/mongostore"
)

// Backend names a datastore implementation.
type Backend string

const (
	BackendMongo  Backend = "mongo"
	BackendSQLite Backend = "sqlite"
)

// DefaultEnvFiles are loaded by Load when no files are given.
var DefaultEnvFiles = []string{".env", ".env.local"}

// MongoOptions locate the source and target datasets on MongoDB.
type MongoOptions struct {
	SourceURI          string `env:"SOURCE_DB_URI"`
	SourceDB           string `env:"SOURCE_DB_NAME" envDefault:"school"`
	TargetURI          string `env:"TARGET_DB_URI"`
	TargetDB           string `env:"TARGET_DB_NAME" envDefault:"authentication"`
	TargetCollection   string `env:"TARGET_COLLECTION" envDefault:"credentials"`
	StaffCollection    string `env:"STAFF_COLLECTION" envDefault:"employee_models"`
	GuardianCollection string `env:"GUARDIAN_COLLECTION" envDefault:"child_models"`
}

// Config is every setting a credsync process needs.
type Config struct {
	Backend    Backend `env:"CREDSYNC_BACKEND" envDefault:"mongo"`
	SQLitePath string  `env:"SQLITE_PATH" envDefault:"credsync.db"`
	Mongo      MongoOptions

	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
	RunTimeout     time.Duration `env:"RUN_TIMEOUT" envDefault:"10m"`

	AppURL            string `env:"APP_URL" envDefault:"https://unsere-kinder-pesh-town.herokuapp.com"`
	SchoolID          string `env:"SCHOOL_ID" envDefault:"unsere_kinder"`
	MergeEntitlements bool   `env:"RESOLVER_MERGE_ENTITLEMENTS" envDefault:"true"`

	PushgatewayURL string `env:"PUSHGATEWAY_URL"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// LoadEnv loads the env files that exist and returns how many were loaded.
// Variables already set in the process take precedence.
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if info, err := os.Stat(file); err == nil && !info.IsDir() {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads env files (DefaultEnvFiles when none are given), parses the
// environment and validates the result.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = DefaultEnvFiles
	}
	if _, err := LoadEnv(envFiles); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown backends, missing connection strings and
// unusable values.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendMongo:
		if c.Mongo.SourceURI == "" {
			errs = append(errs, errors.New("SOURCE_DB_URI is required for the mongo backend"))
		}
		if c.Mongo.TargetURI == "" {
			errs = append(errs, errors.New("TARGET_DB_URI is required for the mongo backend"))
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("CREDSYNC_BACKEND %q: must be %q or %q", c.Backend, BackendMongo, BackendSQLite))
	}

	if c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("CONNECT_TIMEOUT must be positive"))
	}
	if c.RunTimeout <= 0 {
		errs = append(errs, errors.New("RUN_TIMEOUT must be positive"))
	}
	if c.AppURL == "" {
		errs = append(errs, errors.New("APP_URL must not be empty"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q: must be text or json", c.LogFormat))
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Settings returns the backend-independent engine settings.
func (c *Config) Settings() engine.Settings {
	return engine.Settings{
		URL:               c.AppURL,
		SchoolID:          c.SchoolID,
		MergeEntitlements: c.MergeEntitlements,
	}
}

// MongoStoreOptions returns the connection options for mongostore.Connect.
func (c *Config) MongoStoreOptions() mongostore.Options {
	return mongostore.Options{
		SourceURI:          c.Mongo.SourceURI,
		SourceDB:           c.Mongo.SourceDB,
		TargetURI:          c.Mongo.TargetURI,
		TargetDB:           c.Mongo.TargetDB,
		TargetCollection:   c.Mongo.TargetCollection,
		StaffCollection:    c.Mongo.StaffCollection,
		GuardianCollection: c.Mongo.GuardianCollection,
		ConnectTimeout:     c.ConnectTimeout,
	}
}

// SourceCollection returns the configured source collection for origin.
func (c *Config) SourceCollection(origin credential.Origin) string {
	switch origin {
	case credential.OriginStaff:
		return c.Mongo.StaffCollection
	case credential.OriginGuardian:
		return c.Mongo.GuardianCollection
	}
	return ""
}
