package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Paths     PathsConfig     `yaml:"paths"`
	Keys      KeysConfig      `yaml:"keys"`
	Processor ProcessorConfig `yaml:"processor"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// PathsConfig is the on-disk layout of the pipeline
type PathsConfig struct {
	IncomingAccounts string `yaml:"incoming_accounts"`
	Accounts         string `yaml:"accounts"`
	Errors           string `yaml:"errors"`
	Jobs             string `yaml:"jobs"`
	Processing       string `yaml:"processing"`
	Processed        string `yaml:"processed"`
	BatchControlFile string `yaml:"batch_control_file"`
}

// KeysConfig locates the account encryption keys
type KeysConfig struct {
	PublicKey            string `yaml:"public_key"`
	PrivateKey           string `yaml:"private_key"`
	PrivateKeyPassphrase string `yaml:"private_key_passphrase"`
}

// ProcessorConfig contains payment processor settings
type ProcessorConfig struct {
	URL            string `yaml:"url"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// LedgerConfig contains ledger coordination settings
type LedgerConfig struct {
	AdvisoryLockKey int64 `yaml:"advisory_lock_key"`
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	CreateBatch   string `yaml:"create_batch"`
	ProcessJobs   string `yaml:"process_jobs"`
	RouteAccounts string `yaml:"route_accounts"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a validated configuration from YAML
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Database
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}

	// Processor
	if val := os.Getenv("PROCESSOR_URL"); val != "" {
		c.Processor.URL = val
	}
	if val := os.Getenv("PROCESSOR_CLIENT_ID"); val != "" {
		c.Processor.ClientID = val
	}
	if val := os.Getenv("PROCESSOR_CLIENT_SECRET"); val != "" {
		c.Processor.ClientSecret = val
	}

	// Keys
	if val := os.Getenv("PRIVATE_KEY_PASSPHRASE"); val != "" {
		c.Keys.PrivateKeyPassphrase = val
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid and fills defaults
func (c *Config) Validate() error {
	// Database validation
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.Port < 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	// Paths validation
	required := []struct{ name, value string }{
		{"paths.accounts", c.Paths.Accounts},
		{"paths.errors", c.Paths.Errors},
		{"paths.jobs", c.Paths.Jobs},
		{"paths.processing", c.Paths.Processing},
		{"paths.processed", c.Paths.Processed},
		{"paths.batch_control_file", c.Paths.BatchControlFile},
		{"keys.private_key", c.Keys.PrivateKey},
		{"processor.url", c.Processor.URL},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}
	if c.Paths.Jobs == c.Paths.Processing || c.Paths.Processing == c.Paths.Processed || c.Paths.Jobs == c.Paths.Processed {
		return fmt.Errorf("jobs, processing and processed paths must differ")
	}

	// Processor defaults
	if c.Processor.TimeoutSeconds < 0 {
		return fmt.Errorf("invalid processor timeout: %d", c.Processor.TimeoutSeconds)
	}
	if c.Processor.TimeoutSeconds == 0 {
		c.Processor.TimeoutSeconds = 30
	}

	// Ledger defaults
	if c.Ledger.AdvisoryLockKey == 0 {
		c.Ledger.AdvisoryLockKey = 7411
	}

	// Scheduler defaults
	if c.Scheduler.CreateBatch == "" {
		c.Scheduler.CreateBatch = "@every 10s"
	}
	if c.Scheduler.ProcessJobs == "" {
		c.Scheduler.ProcessJobs = "@every 10s"
	}
	if c.Scheduler.RouteAccounts == "" && c.Paths.IncomingAccounts != "" {
		c.Scheduler.RouteAccounts = "@every 10s"
	}

	return nil
}

// ProcessorTimeout returns the per-call processor timeout
func (c *Config) ProcessorTimeout() time.Duration {
	return time.Duration(c.Processor.TimeoutSeconds) * time.Second
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}
