// Package config loads the service configuration. Values come from an
// optional YAML file (CONFIG_FILE), then from the environment, which may be
// seeded by a .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendS3    = "s3"
	BackendGCS   = "gcs"
	BackendLocal = "local"
)

type ServerConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN renders a lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, quoteDSN(d.User), quoteDSN(d.Password), d.Name, d.SSLMode)
}

func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

type StorageConfig struct {
	Backend            string        `yaml:"backend"`
	Bucket             string        `yaml:"bucket"`
	Region             string        `yaml:"region"`
	AccessKeyID        string        `yaml:"access_key_id"`
	SecretAccessKey    string        `yaml:"secret_access_key"`
	GCSCredentialsFile string        `yaml:"gcs_credentials_file"`
	LocalDir           string        `yaml:"local_dir"`
	LinkTTL            time.Duration `yaml:"link_ttl"`
}

type CaptchaConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPolls     int           `yaml:"max_polls"`
}

type BrowserConfig struct {
	Headless              bool          `yaml:"headless"`
	NoSandbox             bool          `yaml:"no_sandbox"`
	ExecPath              string        `yaml:"exec_path"`
	RemoteURL             string        `yaml:"remote_url"`
	INESettleBeforeSubmit time.Duration `yaml:"ine_settle_before_submit"`
	INESettleAfterSubmit  time.Duration `yaml:"ine_settle_after_submit"`
	CURPButtonTimeout     time.Duration `yaml:"curp_button_timeout"`
	CURPDownloadTimeout   time.Duration `yaml:"curp_download_timeout"`
}

type JournalConfig struct {
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`
}

type Config struct {
	Server     ServerConfig   `yaml:"server"`
	Database   DatabaseConfig `yaml:"database"`
	Storage    StorageConfig  `yaml:"storage"`
	Captcha    CaptchaConfig  `yaml:"captcha"`
	Browser    BrowserConfig  `yaml:"browser"`
	Journal    JournalConfig  `yaml:"journal"`
	ScratchDir string         `yaml:"scratch_dir"`
	LogLevel   string         `yaml:"log_level"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Port: 5432, SSLMode: "disable"},
		Storage: StorageConfig{
			Backend:  BackendS3,
			LocalDir: "./artifacts",
			LinkTTL:  time.Hour,
		},
		Captcha: CaptchaConfig{
			BaseURL:      "http://2captcha.com",
			PollInterval: 5 * time.Second,
			MaxPolls:     20,
		},
		Browser: BrowserConfig{
			Headless:              true,
			NoSandbox:             true,
			INESettleBeforeSubmit: 2 * time.Second,
			INESettleAfterSubmit:  15 * time.Second,
			CURPButtonTimeout:     10 * time.Second,
			CURPDownloadTimeout:   60 * time.Second,
		},
		Journal:    JournalConfig{Collection: "validation_runs"},
		ScratchDir: os.TempDir(),
		LogLevel:   "info",
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if any) and the environment, in increasing priority.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path := GetEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
		slog.Info("Loaded config file.", "path", path)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)
	return &cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	integer("PORT", &c.Server.Port)

	str("DB_USER", &c.Database.User)
	str("DB_PASSWORD", &c.Database.Password)
	str("DB_HOST", &c.Database.Host)
	integer("DB_PORT", &c.Database.Port)
	str("DB_NAME", &c.Database.Name)
	str("DB_SSLMODE", &c.Database.SSLMode)

	str("STORAGE_BACKEND", &c.Storage.Backend)
	str("S3_BUCKET_NAME", &c.Storage.Bucket)
	str("S3_REGION", &c.Storage.Region)
	str("AWS_ACCESS", &c.Storage.AccessKeyID)
	str("AWS_SECRET", &c.Storage.SecretAccessKey)
	str("GCS_CREDENTIALS_FILE", &c.Storage.GCSCredentialsFile)
	str("LOCAL_STORAGE_DIR", &c.Storage.LocalDir)
	duration("LINK_TTL", &c.Storage.LinkTTL)

	str("API_KEY_RECAPTCHA", &c.Captcha.APIKey)
	str("CAPTCHA_BASE_URL", &c.Captcha.BaseURL)
	duration("CAPTCHA_POLL_INTERVAL", &c.Captcha.PollInterval)
	integer("CAPTCHA_MAX_POLLS", &c.Captcha.MaxPolls)

	boolean("BROWSER_HEADLESS", &c.Browser.Headless)
	boolean("BROWSER_NO_SANDBOX", &c.Browser.NoSandbox)
	str("BROWSER_EXEC_PATH", &c.Browser.ExecPath)
	str("BROWSER_REMOTE_URL", &c.Browser.RemoteURL)
	duration("INE_SETTLE_BEFORE_SUBMIT", &c.Browser.INESettleBeforeSubmit)
	duration("INE_SETTLE_AFTER_SUBMIT", &c.Browser.INESettleAfterSubmit)
	duration("CURP_BUTTON_TIMEOUT", &c.Browser.CURPButtonTimeout)
	duration("CURP_DOWNLOAD_TIMEOUT", &c.Browser.CURPDownloadTimeout)

	str("FIRESTORE_PROJECT_ID", &c.Journal.ProjectID)
	str("FIRESTORE_COLLECTION", &c.Journal.Collection)

	str("SCRATCH_DIR", &c.ScratchDir)
	str("LOG_LEVEL", &c.LogLevel)

	return errors.Join(errs...)
}

// Validate reports every required value that is missing.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Host == "" || c.Database.Name == "" || c.Database.User == "" {
		errs = append(errs, errors.New("DB_HOST, DB_NAME and DB_USER must be set"))
	}
	switch c.Storage.Backend {
	case BackendS3:
		if c.Storage.Bucket == "" || c.Storage.Region == "" {
			errs = append(errs, errors.New("S3_BUCKET_NAME and S3_REGION must be set"))
		}
	case BackendGCS:
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET_NAME must name the GCS bucket"))
		}
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			errs = append(errs, errors.New("LOCAL_STORAGE_DIR must be set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}
	if c.Storage.LinkTTL <= 0 {
		errs = append(errs, errors.New("LINK_TTL must be positive"))
	}
	if c.Captcha.MaxPolls <= 0 || c.Captcha.PollInterval < 0 {
		errs = append(errs, errors.New("CAPTCHA_MAX_POLLS must be positive and CAPTCHA_POLL_INTERVAL non-negative"))
	}
	if c.Browser.CURPButtonTimeout <= 0 || c.Browser.CURPDownloadTimeout <= 0 {
		errs = append(errs, errors.New("CURP_BUTTON_TIMEOUT and CURP_DOWNLOAD_TIMEOUT must be positive"))
	}
	if c.Browser.INESettleBeforeSubmit < 0 || c.Browser.INESettleAfterSubmit < 0 {
		errs = append(errs, errors.New("INE_SETTLE_BEFORE_SUBMIT and INE_SETTLE_AFTER_SUBMIT must be non-negative"))
	}
	return errors.Join(errs...)
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
