package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/scrapeback/internal/infra/storage"
	"github.com/vietddude/scrapeback/internal/scrape/backoff"
	"github.com/vietddude/scrapeback/internal/scrape/rescan"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := seeded()
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	cfg := seeded()
	_ = cfg.applyDefaults()
	return &cfg
}

// seeded holds the defaults for fields where zero is a valid setting. The
// file is decoded over it, so only absent keys keep the seeded value.
func seeded() AppConfig {
	var cfg AppConfig
	cfg.Backoff.IncreaseBy = backoff.DefaultPolicy.IncreaseBy
	cfg.Backoff.IncreaseBy5xx = backoff.DefaultPolicy.IncreaseBy5xx
	return cfg
}

func (c *AppConfig) applyDefaults() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	c.Backoff = c.Backoff.WithDefaults()

	switch c.Transport.Kind {
	case "":
		c.Transport.Kind = KindHTTP
	case KindHTTP, KindRod, KindChromedp:
	default:
		return fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}
	if c.Transport.Method == "" {
		c.Transport.Method = "GET"
	}
	if c.Transport.Timeout == 0 {
		c.Transport.Timeout = 30 * time.Second
	}
	if c.Browser.Driver == "" && c.Transport.Kind != KindHTTP {
		c.Browser.Driver = c.Transport.Kind
	}

	if c.Ledger.Backend == "" {
		c.Ledger.Backend = storage.BackendMemory
	}
	if c.Ledger.Namespace == "" {
		c.Ledger.Namespace = "default"
	}

	def := rescan.DefaultConfig()
	if c.Rescan.Interval == 0 {
		c.Rescan.Interval = def.Interval
	}
	if c.Rescan.LockTTL == 0 {
		c.Rescan.LockTTL = def.LockTTL
	}
	c.Rescan.Namespace = c.Ledger.Namespace
	return nil
}
