// Package config loads the ETL job configuration from defaults, an optional
// YAML file, the .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all job and API server settings.
type Config struct {
	ScriptName string `yaml:"script_name"`

	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Sheets   SheetsConfig   `yaml:"sheets"`
	Email    EmailConfig    `yaml:"email"`
	Broker   BrokerConfig   `yaml:"broker"`
	Logging  LoggingConfig  `yaml:"logging"`
	State    StateConfig    `yaml:"state"`
	Server   ServerConfig   `yaml:"server"`
}

// APIConfig configures the grader API extractor.
type APIConfig struct {
	URL        string  `yaml:"url"`
	Client     string  `yaml:"client"`
	ClientKey  string  `yaml:"client_key"`
	StartDate  string  `yaml:"start_date"`
	EndDate    string  `yaml:"end_date"`
	Timeout    string  `yaml:"timeout"`
	MaxRetries int     `yaml:"max_retries"`
	RateLimit  float64 `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Window     string  `yaml:"window"`     // sub-window per request, "" or "0" = single request
	Lookback   string  `yaml:"default_lookback"`
}

// DatabaseConfig configures the PostgreSQL loader.
type DatabaseConfig struct {
	Host      string `yaml:"host"`
	Port      string `yaml:"port"`
	Name      string `yaml:"name"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	SSLMode   string `yaml:"sslmode"`
	Table     string `yaml:"table"`
	BatchSize int    `yaml:"batch_size"`
	Workers   int    `yaml:"workers"`
}

// SheetsConfig configures the Google Sheets statistics export.
type SheetsConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	SheetName       string `yaml:"sheet_name"`
}

// EmailConfig configures SMTP run reports.
type EmailConfig struct {
	From     string `yaml:"from"`
	Password string `yaml:"password"`
	Server   string `yaml:"smtp_server"`
	Port     int    `yaml:"smtp_port"`
	To       string `yaml:"to"`
}

// BrokerConfig configures run summary publishing.
type BrokerConfig struct {
	RabbitMQURL   string `yaml:"rabbitmq_url"`
	RabbitMQQueue string `yaml:"rabbitmq_queue"`
	KafkaBroker   string `yaml:"kafka_broker"`
	KafkaTopic    string `yaml:"kafka_topic"`
}

// LoggingConfig configures the daily log files.
type LoggingConfig struct {
	Dir           string `yaml:"dir"`
	Level         string `yaml:"level"` // debug, info, warn, error
	RetentionDays int    `yaml:"retention_days"`
}

// StateConfig configures the local run journal.
type StateConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr              string  `yaml:"addr"`
	JWTSecret         string  `yaml:"jwt_secret"`
	AdminUsername     string  `yaml:"admin_username"`
	AdminPasswordHash string  `yaml:"admin_password_hash"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ScriptName: "SF ETL Processor",
		API: APIConfig{
			Timeout:    "30s",
			MaxRetries: 3,
			RateLimit:  0,
			Lookback:   "24h",
		},
		Database: DatabaseConfig{
			Port:      "5432",
			SSLMode:   "disable",
			Table:     "student_attempts",
			BatchSize: 100,
			Workers:   1,
		},
		Sheets: SheetsConfig{
			CredentialsFile: "config/credentials.json",
			SheetName:       "sf_statistics",
		},
		Email: EmailConfig{
			Port: 465,
		},
		Broker: BrokerConfig{
			RabbitMQQueue: "grader_etl_runs",
			KafkaTopic:    "grader-etl-runs",
		},
		Logging: LoggingConfig{
			Dir:           "logs",
			Level:         "debug",
			RetentionDays: 3,
		},
		State: StateConfig{
			Path: "state/etl_state.db",
		},
		Server: ServerConfig{
			Addr:              ":8080",
			AdminUsername:     "admin",
			RequestsPerSecond: 5,
			Burst:             10,
		},
	}
}

// Load builds the configuration. A missing YAML file or .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("Load(): failed to parse %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("Load(): failed to read %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("Load(): failed to read .env: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.checkDurations(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// checkDurations rejects duration settings time.ParseDuration cannot read.
// Empty and "0" select the built-in default.
func (c *Config) checkDurations() error {
	var errs []error
	for _, d := range []struct {
		key, value string
	}{
		{"API_TIMEOUT", c.API.Timeout},
		{"API_WINDOW", c.API.Window},
		{"DEFAULT_LOOKBACK", c.API.Lookback},
	} {
		if d.value == "" || d.value == "0" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", d.key, err))
		case v < 0:
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", d.key, d.value))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("checkDurations(): %w", err)
	}
	return nil
}

// applyEnvOverrides copies every set environment variable over the file values.
func (c *Config) applyEnvOverrides() error {
	setString(&c.ScriptName, "SCRIPT_NAME")

	setString(&c.API.URL, "API_URL")
	setString(&c.API.Client, "API_CLIENT")
	setString(&c.API.ClientKey, "API_CLIENT_KEY")
	setString(&c.API.StartDate, "START_DATE")
	setString(&c.API.EndDate, "END_DATE")
	setString(&c.API.Timeout, "API_TIMEOUT")
	setString(&c.API.Window, "API_WINDOW")
	setString(&c.API.Lookback, "DEFAULT_LOOKBACK")

	setString(&c.Database.Host, "DB_HOST")
	setString(&c.Database.Port, "DB_PORT")
	setString(&c.Database.Name, "DB_NAME")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.SSLMode, "DB_SSLMODE")
	setString(&c.Database.Table, "DB_TABLE")

	setString(&c.Sheets.CredentialsFile, "GOOGLE_CREDENTIALS_FILE")
	setString(&c.Sheets.SpreadsheetID, "GOOGLE_SPREADSHEET_ID")
	setString(&c.Sheets.SheetName, "SHEET_NAME")

	setString(&c.Email.From, "EMAIL_FROM")
	setString(&c.Email.Password, "EMAIL_PASSWORD")
	setString(&c.Email.Server, "EMAIL_SMTP_SERVER")
	setString(&c.Email.To, "EMAIL_TO")

	setString(&c.Broker.RabbitMQURL, "RABBITMQ_URL")
	setString(&c.Broker.RabbitMQQueue, "RABBITMQ_QUEUE")
	setString(&c.Broker.KafkaBroker, "KAFKA_BROKER")
	setString(&c.Broker.KafkaTopic, "KAFKA_TOPIC")

	setString(&c.Logging.Dir, "LOG_DIR")
	setString(&c.Logging.Level, "LOG_LEVEL")

	setString(&c.State.Path, "STATE_DB_PATH")

	setString(&c.Server.Addr, "SERVER_ADDR")
	setString(&c.Server.JWTSecret, "JWT_SECRET_KEY")
	setString(&c.Server.AdminUsername, "ADMIN_USERNAME")
	setString(&c.Server.AdminPasswordHash, "ADMIN_PASSWORD_HASH")

	ints := []struct {
		dst *int
		key string
	}{
		{&c.API.MaxRetries, "API_MAX_RETRIES"},
		{&c.Database.BatchSize, "BATCH_SIZE"},
		{&c.Database.Workers, "LOAD_WORKERS"},
		{&c.Email.Port, "EMAIL_SMTP_PORT"},
		{&c.Logging.RetentionDays, "LOG_RETENTION_DAYS"},
		{&c.Server.Burst, "SERVER_BURST"},
	}
	for _, v := range ints {
		if err := setInt(v.dst, v.key); err != nil {
			return err
		}
	}

	if err := setFloat(&c.API.RateLimit, "API_RATE_LIMIT"); err != nil {
		return err
	}
	return setFloat(&c.Server.RequestsPerSecond, "SERVER_RPS")
}

// Validate checks the settings the ETL run cannot work without.
func (c *Config) Validate() error {
	var errs []error
	if c.API.URL == "" {
		errs = append(errs, errors.New("API_URL is required"))
	}
	if c.API.Client == "" || c.API.ClientKey == "" {
		errs = append(errs, errors.New("API_CLIENT and API_CLIENT_KEY are required"))
	}
	if c.Database.Host == "" || c.Database.Name == "" || c.Database.User == "" {
		errs = append(errs, errors.New("DB_HOST, DB_NAME and DB_USER are required"))
	}
	if c.Database.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("BATCH_SIZE must be positive, got %d", c.Database.BatchSize))
	}
	if c.Database.Workers < 1 {
		errs = append(errs, fmt.Errorf("LOAD_WORKERS must be positive, got %d", c.Database.Workers))
	}
	if c.API.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("API_MAX_RETRIES must not be negative, got %d", c.API.MaxRetries))
	}
	return errors.Join(errs...)
}

// ValidateServer checks the settings the HTTP API cannot work without.
func (c *Config) ValidateServer() error {
	if c.Server.JWTSecret == "" {
		return errors.New("JWT_SECRET_KEY is required")
	}
	if c.Server.AdminPasswordHash == "" {
		return errors.New("ADMIN_PASSWORD_HASH is required")
	}
	return nil
}

// DatabaseURL formats the PostgreSQL connection string.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     net.JoinHostPort(c.Database.Host, c.Database.Port),
		Path:     "/" + c.Database.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.Database.SSLMode),
	}
	return u.String()
}

// APITimeout returns the per-request timeout, defaulting to 30s.
func (c *Config) APITimeout() time.Duration {
	return parseDuration(c.API.Timeout, 30*time.Second)
}

// APIWindow returns the sub-window used to split extraction requests.
func (c *Config) APIWindow() time.Duration {
	return parseDuration(c.API.Window, 0)
}

// Lookback returns how far back a run without history starts.
func (c *Config) Lookback() time.Duration {
	return parseDuration(c.API.Lookback, 24*time.Hour)
}

func (c *Config) SheetsEnabled() bool { return c.Sheets.SpreadsheetID != "" }

func (c *Config) EmailEnabled() bool {
	return c.Email.From != "" && c.Email.Server != "" && c.Email.To != ""
}

func (c *Config) RabbitMQEnabled() bool { return c.Broker.RabbitMQURL != "" }

func (c *Config) KafkaEnabled() bool { return c.Broker.KafkaBroker != "" }

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("applyEnvOverrides(): %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("applyEnvOverrides(): %s: %w", key, err)
	}
	*dst = f
	return nil
}

// parseDuration reads a value already accepted by checkDurations.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" || s == "0" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
