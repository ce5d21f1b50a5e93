// Package config loads mailspend configuration from an optional JSON file,
// .env files and the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	kJson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ArionMiles/mailspend/pkg/logging"
)

// Default values applied when a key is unset.
const (
	ClientSecretFile = "data/client_secret.json"
	TokenFile        = "data/token.json"
	DefaultStore     = "postgres"
	DefaultTransport = "gmail"
	DefaultHTTPAddr  = ":8080"
	DefaultInterval  = 10 * time.Minute
)

// ConfigFileEnv names the environment variable holding the JSON config path.
const ConfigFileEnv = "MAILSPEND_CONFIG"

var (
	stores     = []string{"postgres", "mongo", "memory"}
	transports = []string{"gmail", "mbox"}
)

// Config holds the application configuration.
type Config struct {
	// Store selects the persistence backend: postgres, mongo or memory.
	// Environment variable: MAILSPEND_STORE
	Store string `koanf:"MAILSPEND_STORE"`

	// Transport selects the mail source: gmail or mbox.
	// Environment variable: MAILSPEND_TRANSPORT
	Transport string `koanf:"MAILSPEND_TRANSPORT"`

	// Writer is the export plugin used by the export command.
	// Environment variable: MAILSPEND_WRITER
	Writer string `koanf:"MAILSPEND_WRITER"`

	// WriterConfig is the JSON configuration for the writer plugin.
	// Environment variable: MAILSPEND_WRITER_CONFIG
	WriterConfig json.RawMessage `koanf:"MAILSPEND_WRITER_CONFIG"`

	Sync     SyncConfig     `koanf:",squash"`
	Postgres PostgresConfig `koanf:",squash"`
	Mongo    MongoConfig    `koanf:",squash"`
	Gmail    GmailConfig    `koanf:",squash"`
	Sheets   SheetsConfig   `koanf:",squash"`

	// MboxPath is the mailbox file read by the mbox transport.
	MboxPath string `koanf:"MBOX_PATH"`

	HTTPAddr string `koanf:"HTTP_ADDR"`

	LogLevel  string `koanf:"LOG_LEVEL"`
	LogFormat string `koanf:"LOG_FORMAT"`

	ClientSecretFile string `koanf:"CLIENT_SECRET_FILE"`
	TokenFile        string `koanf:"TOKEN_FILE"`
}

// SyncConfig tunes the sync pipeline and the daemon loop.
type SyncConfig struct {
	Concurrency  int           `koanf:"SYNC_CONCURRENCY"`
	FetchTimeout time.Duration `koanf:"SYNC_FETCH_TIMEOUT"`
	Interval     time.Duration `koanf:"SYNC_INTERVAL"`
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string `koanf:"POSTGRES_HOST"`
	Port     int    `koanf:"POSTGRES_PORT"`
	Database string `koanf:"POSTGRES_DB"`
	User     string `koanf:"POSTGRES_USER"`
	Password string `koanf:"POSTGRES_PASSWORD"`
	SSLMode  string `koanf:"POSTGRES_SSLMODE"`
	DSN      string `koanf:"POSTGRES_DSN"`
}

// MongoConfig holds MongoDB connection configuration.
type MongoConfig struct {
	URI      string `koanf:"MONGO_URI"`
	Database string `koanf:"MONGO_DATABASE"`
}

// GmailConfig holds Gmail transport options.
type GmailConfig struct {
	MarkRead    bool `koanf:"GMAIL_MARK_READ"`
	MaxMessages int  `koanf:"GMAIL_MAX_MESSAGES"`
}

// SheetsConfig holds the default Google Sheets writer options.
type SheetsConfig struct {
	Title string `koanf:"GSHEETS_TITLE"`
	ID    string `koanf:"GSHEETS_ID"`
	Name  string `koanf:"GSHEETS_NAME"`
}

// Load reads .env files (".env" when none are given; missing files are
// ignored), then the JSON file named by MAILSPEND_CONFIG, then the
// environment. Later sources override earlier ones.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	k := koanf.New(".")

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := k.Load(file.Provider(path), kJson.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	if c.Store == "" {
		c.Store = DefaultStore
	}
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Transport == "" {
		c.Transport = DefaultTransport
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = DefaultInterval
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.ClientSecretFile == "" {
		c.ClientSecretFile = ClientSecretFile
	}
	if c.TokenFile == "" {
		c.TokenFile = TokenFile
	}
}

// Validate checks enumerated values and transport requirements.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(stores, c.Store) {
		errs = append(errs, fmt.Errorf("MAILSPEND_STORE must be one of %v, got %q", stores, c.Store))
	}
	if !slices.Contains(transports, c.Transport) {
		errs = append(errs, fmt.Errorf("MAILSPEND_TRANSPORT must be one of %v, got %q", transports, c.Transport))
	}
	if c.Transport == "mbox" && c.MboxPath == "" {
		errs = append(errs, errors.New("MBOX_PATH is required for the mbox transport"))
	}
	if c.Sync.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("SYNC_CONCURRENCY must not be negative, got %d", c.Sync.Concurrency))
	}
	if f := strings.ToLower(c.LogFormat); f != "" && f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if len(c.WriterConfig) > 0 && !json.Valid(c.WriterConfig) {
		errs = append(errs, errors.New("MAILSPEND_WRITER_CONFIG is not valid JSON"))
	}
	return errors.Join(errs...)
}

// Logging returns the logging configuration described by LOG_LEVEL and LOG_FORMAT.
func (c *Config) Logging() logging.Config {
	return logging.New(c.LogLevel, c.LogFormat)
}
