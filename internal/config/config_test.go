package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
database:
  host: db.internal
  user: payments
  database: payments
paths:
  accounts: /srv/accounts
  errors: /srv/errors
  jobs: /srv/jobs
  processing: /srv/processing
  processed: /srv/processed
  batch_control_file: /srv/batch_control.json
keys:
  private_key: /srv/keys/server.pem
processor:
  url: https://processor.example/guestsend
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 30*time.Second, cfg.ProcessorTimeout())
	assert.Equal(t, int64(7411), cfg.Ledger.AdvisoryLockKey)
	assert.Equal(t, "@every 10s", cfg.Scheduler.CreateBatch)
	assert.Equal(t, "@every 10s", cfg.Scheduler.ProcessJobs)
	assert.Empty(t, cfg.Scheduler.RouteAccounts)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "postgres://payments:@db.internal:5432/payments?sslmode=disable", cfg.GetDatabaseConnectionString())
}

func TestParse_IncomingAccountsEnablesRouting(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + "\n" + `
scheduler:
  create_batch: "@every 30s"
`))
	require.NoError(t, err)
	assert.Equal(t, "@every 30s", cfg.Scheduler.CreateBatch)

	withIncoming := `
database: {host: h, user: u, database: d}
paths:
  incoming_accounts: /srv/incoming
  accounts: /srv/accounts
  errors: /srv/errors
  jobs: /srv/jobs
  processing: /srv/processing
  processed: /srv/processed
  batch_control_file: /srv/control.json
keys: {private_key: /k.pem}
processor: {url: "http://p"}
`
	cfg, err = Parse([]byte(withIncoming))
	require.NoError(t, err)
	assert.Equal(t, "@every 10s", cfg.Scheduler.RouteAccounts)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "override-host")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("PROCESSOR_CLIENT_SECRET", "s3cret")
	t.Setenv("PRIVATE_KEY_PASSPHRASE", "hunter2")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "override-host", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "s3cret", cfg.Processor.ClientSecret)
	assert.Equal(t, "hunter2", cfg.Keys.PrivateKeyPassphrase)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate_Errors(t *testing.T) {
	valid := func() *Config {
		cfg, err := Parse([]byte(minimalYAML))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing host", func(c *Config) { c.Database.Host = "" }, "database host is required"},
		{"bad port", func(c *Config) { c.Database.Port = 70000 }, "invalid database port"},
		{"missing jobs dir", func(c *Config) { c.Paths.Jobs = "" }, "paths.jobs is required"},
		{"missing private key", func(c *Config) { c.Keys.PrivateKey = "" }, "keys.private_key is required"},
		{"missing processor", func(c *Config) { c.Processor.URL = "" }, "processor.url is required"},
		{"shared dirs", func(c *Config) { c.Paths.Processed = c.Paths.Processing }, "must differ"},
		{"negative timeout", func(c *Config) { c.Processor.TimeoutSeconds = -1 }, "invalid processor timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("database: ["), 0600))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "failed to parse config file")
}
