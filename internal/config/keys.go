package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "SCRAPEJOBS_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "SCRAPEJOBS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "SCRAPEJOBS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.backend", typ: kString, env: "SCRAPEJOBS_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SCRAPEJOBS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.redis_addr", typ: kString, env: "SCRAPEJOBS_STORAGE_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Storage.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.RedisAddr },
	},
	{
		key: "storage.redis_prefix", typ: kString, env: "SCRAPEJOBS_STORAGE_REDIS_PREFIX",
		apply:   func(cfg *Config, v any) { cfg.Storage.RedisPrefix = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.RedisPrefix },
	},
	{
		key: "storage.retention", typ: kDuration, env: "SCRAPEJOBS_STORAGE_RETENTION",
		apply:   func(cfg *Config, v any) { cfg.Storage.Retention = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Storage.Retention },
	},
	{
		key: "scraper.base_url", typ: kString, env: "SCRAPEJOBS_SCRAPER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Scraper.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Scraper.BaseURL },
	},
	{
		key: "scraper.fetcher", typ: kString, env: "SCRAPEJOBS_SCRAPER_FETCHER",
		apply:   func(cfg *Config, v any) { cfg.Scraper.Fetcher = v.(string) },
		extract: func(cfg Config) any { return cfg.Scraper.Fetcher },
	},
	{
		key: "scraper.page_delay", typ: kDuration, env: "SCRAPEJOBS_SCRAPER_PAGE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Scraper.PageDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scraper.PageDelay },
	},
	{
		key: "scraper.request_timeout", typ: kDuration, env: "SCRAPEJOBS_SCRAPER_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Scraper.RequestTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scraper.RequestTimeout },
	},
	{
		key: "scraper.max_concurrent", typ: kInt, env: "SCRAPEJOBS_SCRAPER_MAX_CONCURRENT",
		apply:   func(cfg *Config, v any) { cfg.Scraper.MaxConcurrent = v.(int) },
		extract: func(cfg Config) any { return cfg.Scraper.MaxConcurrent },
	},
	{
		key: "scraper.max_empty_pages", typ: kInt, env: "SCRAPEJOBS_SCRAPER_MAX_EMPTY_PAGES",
		apply:   func(cfg *Config, v any) { cfg.Scraper.MaxEmptyPages = v.(int) },
		extract: func(cfg Config) any { return cfg.Scraper.MaxEmptyPages },
	},
	{
		key: "scraper.default_count", typ: kInt, env: "SCRAPEJOBS_SCRAPER_DEFAULT_COUNT",
		apply:   func(cfg *Config, v any) { cfg.Scraper.DefaultCount = v.(int) },
		extract: func(cfg Config) any { return cfg.Scraper.DefaultCount },
	},
	{
		key: "scraper.output_dir", typ: kString, env: "SCRAPEJOBS_SCRAPER_OUTPUT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Scraper.OutputDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Scraper.OutputDir },
	},
	{
		key: "client.server_url", typ: kString, env: "SCRAPEJOBS_CLIENT_SERVER_URL",
		apply:   func(cfg *Config, v any) { cfg.Client.ServerURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Client.ServerURL },
	},
	{
		key: "client.poll_interval", typ: kDuration, env: "SCRAPEJOBS_CLIENT_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Client.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Client.PollInterval },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
