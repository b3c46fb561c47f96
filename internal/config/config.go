package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Storage StorageConfig
	Scraper ScraperConfig
	Client  ClientConfig
}

type ServerConfig struct {
	Host string
	Port int
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	Backend     string // memory, sqlite or redis
	DataDir     string
	RedisAddr   string
	RedisPrefix string
	Retention   time.Duration
}

type ScraperConfig struct {
	BaseURL        string
	Fetcher        string // http or browser
	PageDelay      time.Duration
	RequestTimeout time.Duration
	MaxConcurrent  int
	MaxEmptyPages  int
	DefaultCount   int
	OutputDir      string
}

type ClientConfig struct {
	ServerURL    string
	PollInterval time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 5000,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			Backend:     "memory",
			DataDir:     defaultDataDir(),
			RedisAddr:   "localhost:6379",
			RedisPrefix: "scrapejobs:job:",
			Retention:   24 * time.Hour,
		},
		Scraper: ScraperConfig{
			BaseURL:        "https://nitter.net",
			Fetcher:        "http",
			PageDelay:      time.Second,
			RequestTimeout: 30 * time.Second,
			MaxConcurrent:  2,
			MaxEmptyPages:  3,
			DefaultCount:   50,
			OutputDir:      "scraped_data",
		},
		Client: ClientConfig{
			ServerURL:    "http://127.0.0.1:5000",
			PollInterval: 2 * time.Second,
		},
	}
}

// Load reads configuration in order of increasing precedence: built-in
// defaults, the JSON file at $XDG_CONFIG_HOME/scrapejobs/config.json, and
// SCRAPEJOBS_* environment variables. A .env file in the working directory
// is loaded into the environment first without overriding variables that are
// already set.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that enumerated keys hold known values and that counts and
// intervals are positive.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("invalid storage.backend %q: must be memory, sqlite or redis", c.Storage.Backend)
	}
	switch c.Scraper.Fetcher {
	case "http", "browser":
	default:
		return fmt.Errorf("invalid scraper.fetcher %q: must be http or browser", c.Scraper.Fetcher)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Scraper.MaxConcurrent <= 0 {
		return fmt.Errorf("scraper.max_concurrent must be positive, got %d", c.Scraper.MaxConcurrent)
	}
	if c.Scraper.MaxEmptyPages <= 0 {
		return fmt.Errorf("scraper.max_empty_pages must be positive, got %d", c.Scraper.MaxEmptyPages)
	}
	if c.Scraper.DefaultCount <= 0 {
		return fmt.Errorf("scraper.default_count must be positive, got %d", c.Scraper.DefaultCount)
	}
	if c.Client.PollInterval <= 0 {
		return fmt.Errorf("client.poll_interval must be positive, got %s", c.Client.PollInterval)
	}
	if c.Storage.Retention <= 0 {
		return fmt.Errorf("storage.retention must be positive, got %s", c.Storage.Retention)
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "scrapejobs-data"
		}
	}
	return filepath.Join(dir, "scrapejobs")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "scrapejobs", "config.json")
}
