package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/credsync/internal/credential"
)

var allVars = []string{
	"CREDSYNC_BACKEND", "SQLITE_PATH",
	"SOURCE_DB_URI", "SOURCE_DB_NAME", "TARGET_DB_URI", "TARGET_DB_NAME", "TARGET_COLLECTION",
	"STAFF_COLLECTION", "GUARDIAN_COLLECTION",
	"CONNECT_TIMEOUT", "RUN_TIMEOUT", "APP_URL", "SCHOOL_ID",
	"RESOLVER_MERGE_ENTITLEMENTS", "PUSHGATEWAY_URL", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv unsets every credsync variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range allVars {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func missingFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SOURCE_DB_URI", "mongodb://src")
	t.Setenv("TARGET_DB_URI", "mongodb://dst")

	cfg, err := Load(missingFile(t))
	require.NoError(t, err)

	assert.Equal(t, BackendMongo, cfg.Backend)
	assert.Equal(t, "school", cfg.Mongo.SourceDB)
	assert.Equal(t, "authentication", cfg.Mongo.TargetDB)
	assert.Equal(t, "credentials", cfg.Mongo.TargetCollection)
	assert.Equal(t, "employee_models", cfg.SourceCollection(credential.OriginStaff))
	assert.Equal(t, "child_models", cfg.SourceCollection(credential.OriginGuardian))
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 10*time.Minute, cfg.RunTimeout)
	assert.Equal(t, "https://unsere-kinder-pesh-town.herokuapp.com", cfg.AppURL)
	assert.Equal(t, "unsere_kinder", cfg.SchoolID)
	assert.True(t, cfg.MergeEntitlements)
	assert.Empty(t, cfg.PushgatewayURL)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	settings := cfg.Settings()
	assert.Equal(t, cfg.AppURL, settings.URL)
	assert.True(t, settings.MergeEntitlements)

	opts := cfg.MongoStoreOptions()
	assert.Equal(t, "mongodb://src", opts.SourceURI)
	assert.Equal(t, 10*time.Second, opts.ConnectTimeout)
}

func TestLoad_FromEnvFile(t *testing.T) {
	clearEnv(t)
	file := filepath.Join(t.TempDir(), ".env")
	content := "CREDSYNC_BACKEND=sqlite\nSQLITE_PATH=/tmp/x.db\nRESOLVER_MERGE_ENTITLEMENTS=false\nLOG_LEVEL=debug\n"
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "/tmp/x.db", cfg.SQLitePath)
	assert.False(t, cfg.MergeEntitlements)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_ProcessEnvWinsOverFile(t *testing.T) {
	clearEnv(t)
	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("CREDSYNC_BACKEND=sqlite\nSCHOOL_ID=from_file\n"), 0o644))
	t.Setenv("SCHOOL_ID", "from_env")

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "from_env", cfg.SchoolID)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Backend:        BackendSQLite,
			SQLitePath:     "x.db",
			ConnectTimeout: time.Second,
			RunTimeout:     time.Minute,
			AppURL:         "https://x",
			LogLevel:       "info",
			LogFormat:      "text",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Backend = "postgres" }, `CREDSYNC_BACKEND "postgres"`},
		{"mongo without uris", func(c *Config) { c.Backend = BackendMongo }, "SOURCE_DB_URI is required"},
		{"zero timeout", func(c *Config) { c.RunTimeout = 0 }, "RUN_TIMEOUT must be positive"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, `LOG_LEVEL "loud"`},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, `LOG_FORMAT "xml"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
