package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/02loveslollipop/station-watcher/internal/dbenv"
)

const (
	defaultStations       = "0579W,KSFO"
	defaultFailureWait    = 7 * time.Second
	defaultNewRequestWait = 100 * time.Millisecond
	defaultRecurrentWait  = 10 * time.Second
	defaultMaxRetries     = 1
	defaultMaxRunTime     = 60 * time.Second
	defaultLookback       = 7 * 24 * time.Hour
	defaultBaseURL        = "https://api.weather.gov"
	defaultRequestTimeout = 30 * time.Second
	defaultBreaker        = 20
	defaultDriver         = "postgres"
	defaultSQLitePath     = "data/watcher.db"
	defaultAppEnv         = "dev"
	defaultLogLevel       = "info"
)

const dateLayout = "2006-01-02"

var (
	ErrInvalidRange = errors.New("START_DATE is after END_DATE")
	validate        = validator.New()
)

// Config holds runtime configuration for the watcher service. Values come from
// the optional CONFIG_FILE first, then the environment.
type Config struct {
	Stations []string `yaml:"stations" validate:"required,min=1,dive,required"`

	FailureWait    time.Duration `yaml:"failure_wait_time" validate:"gte=0s"`
	NewRequestWait time.Duration `yaml:"new_request_wait_time" validate:"gte=0s"`
	RecurrentWait  time.Duration `yaml:"recurrent_download_wait_time" validate:"gte=0s"`
	MaxRetries     int           `yaml:"max_retries" validate:"gte=0"`
	MaxRunTime     time.Duration `yaml:"max_run_time" validate:"gte=0s"`
	Lookback       time.Duration `yaml:"lookback" validate:"gt=0s"`

	StartDateRaw string     `yaml:"start_date"`
	EndDateRaw   string     `yaml:"end_date"`
	StartDate    *time.Time `yaml:"-"`
	EndDate      *time.Time `yaml:"-"`

	BaseURL                string        `yaml:"nws_base_url" validate:"required,url"`
	UserAgent              string        `yaml:"nws_user_agent" validate:"required"`
	RequestTimeout         time.Duration `yaml:"request_timeout" validate:"gt=0s"`
	BreakerThreshold       uint32        `yaml:"breaker_threshold"`
	ChainBootstrapFailures bool          `yaml:"chain_bootstrap_failures"`

	Driver      string       `yaml:"db_driver" validate:"oneof=postgres sqlite3"`
	Database    dbenv.Params `yaml:"database"`
	DatabaseDSN string       `yaml:"-"`
	SQLitePath  string       `yaml:"sqlite_path"`
	Migrate     bool         `yaml:"migrate"`
	DryRun      bool         `yaml:"dry_run"`

	Schedule string `yaml:"schedule"`
	AppEnv   string `yaml:"app_env"`
	LogLevel string `yaml:"log_level"`
}

func defaults() Config {
	return Config{
		Stations:         splitList(defaultStations),
		FailureWait:      defaultFailureWait,
		NewRequestWait:   defaultNewRequestWait,
		RecurrentWait:    defaultRecurrentWait,
		MaxRetries:       defaultMaxRetries,
		MaxRunTime:       defaultMaxRunTime,
		Lookback:         defaultLookback,
		BaseURL:          defaultBaseURL,
		RequestTimeout:   defaultRequestTimeout,
		BreakerThreshold: defaultBreaker,
		Driver:           defaultDriver,
		SQLitePath:       defaultSQLitePath,
		Migrate:          true,
		AppEnv:           defaultAppEnv,
		LogLevel:         defaultLogLevel,
	}
}

// Load reads configuration from environment variables (optionally .env and a
// YAML file named by CONFIG_FILE).
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	db, err := dbenv.FromEnv(cfg.Database)
	if err != nil {
		return cfg, err
	}
	cfg.Database = db

	if err := cfg.resolve(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := env("STATIONS"); v != "" {
		cfg.Stations = splitList(v)
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"FAILURE_WAIT_TIME", &cfg.FailureWait},
		{"NEW_REQUEST_WAIT_TIME", &cfg.NewRequestWait},
		{"RECURRENT_DOWNLOAD_WAIT_TIME", &cfg.RecurrentWait},
		{"MAX_RUN_TIME", &cfg.MaxRunTime},
		{"LOOKBACK", &cfg.Lookback},
		{"REQUEST_TIMEOUT", &cfg.RequestTimeout},
	}
	for _, d := range durations {
		if v := env(d.key); v != "" {
			parsed, err := ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}

	if v := env("MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_RETRIES: %w", err)
		}
		cfg.MaxRetries = n
	}
	if v := env("BREAKER_THRESHOLD"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid BREAKER_THRESHOLD: %w", err)
		}
		cfg.BreakerThreshold = uint32(n)
	}

	if v := env("START_DATE"); v != "" {
		cfg.StartDateRaw = v
	}
	if v := env("END_DATE"); v != "" {
		cfg.EndDateRaw = v
	}

	if v := env("NWS_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := env("NWS_USER_AGENT"); v != "" {
		cfg.UserAgent = v
	}
	if v := env("DB_DRIVER"); v != "" {
		cfg.Driver = v
	}
	if v := env("SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := env("WATCHER_SCHEDULE"); v != "" {
		cfg.Schedule = v
	}
	if v := env("APP_ENV"); v != "" {
		cfg.AppEnv = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"CHAIN_BOOTSTRAP_FAILURES", &cfg.ChainBootstrapFailures},
		{"MIGRATE", &cfg.Migrate},
		{"DRY_RUN", &cfg.DryRun},
	}
	for _, b := range bools {
		if v := env(b.key); v != "" {
			parsed, err := parseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", b.key, err)
			}
			*b.dst = parsed
		}
	}
	return nil
}

// resolve validates the merged configuration and derives the parsed fields.
func (c *Config) resolve() error {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	var err error
	if c.StartDate, err = parseDate(c.StartDateRaw); err != nil {
		return fmt.Errorf("invalid START_DATE: %w", err)
	}
	if c.EndDate, err = parseDate(c.EndDateRaw); err != nil {
		return fmt.Errorf("invalid END_DATE: %w", err)
	}
	if c.StartDate != nil && c.EndDate != nil && c.StartDate.After(*c.EndDate) {
		return ErrInvalidRange
	}

	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("invalid WATCHER_SCHEDULE: %w", err)
		}
	}

	if c.Driver == "postgres" {
		dsn, err := c.Database.DSN()
		if err != nil {
			return err
		}
		c.DatabaseDSN = dsn
	}
	return nil
}

var yamlDurationKeys = map[string]bool{
	"failure_wait_time":            true,
	"new_request_wait_time":        true,
	"recurrent_download_wait_time": true,
	"max_run_time":                 true,
	"lookback":                     true,
	"request_timeout":              true,
}

// UnmarshalYAML reads durations with ParseDuration so a bare number means
// seconds in the file as it does in the environment.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			if !yamlDurationKeys[key.Value] || val.Kind != yaml.ScalarNode {
				continue
			}
			d, err := ParseDuration(strings.TrimSpace(val.Value))
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key.Value, err)
			}
			val.Tag = "!!str"
			val.Value = d.String()
		}
	}

	type plain Config
	return node.Decode((*plain)(c))
}

// ParseDuration accepts Go duration syntax or a plain number of seconds.
func ParseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative duration %q", v)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func parseDate(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, fmt.Errorf("expected %s or RFC3339, got %q", dateLayout, v)
	}
	return &t, nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
