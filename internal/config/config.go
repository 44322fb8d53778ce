package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/R167/solaredge_exporter/internal/client"
	"github.com/R167/solaredge_exporter/internal/collector"
	"github.com/levenlabs/go-lflag"
)

// Config holds the exporter configuration
type Config struct {
	Debug          bool
	ListenAddr     string
	Interval       time.Duration
	Staleness      time.Duration
	RequestTimeout time.Duration
	BaseURL        string
	Site           Site
}

// Configured registers the exporter flags. The returned Config is filled in
// once lflag.Configure has parsed them.
func Configured() *Config {
	debug := lflag.Bool("debug", false, "Enable debug logging")
	listenAddr := lflag.String("listen", ":8083", "Address to listen on for metrics")
	interval := lflag.Duration("interval", 60*time.Second, "Time to sleep between poll cycles")
	staleness := lflag.Duration("staleness", collector.DefaultStaleness, "Readings older than this are removed instead of exported")
	requestTimeout := lflag.Duration("request-timeout", 30*time.Second, "Timeout for a single SolarEdge request")
	baseURL := lflag.String("base-url", client.DefaultBaseURL, "SolarEdge monitoring portal URL")
	sitePath := lflag.String("config", "config.yaml", "Path to the site YAML file (site id, credentials, arrays)")

	cfg := &Config{}
	lflag.Do(func() {
		site, err := LoadSiteFromYAML(*sitePath)
		if err != nil {
			panic(fmt.Sprintf("failed to load site config: %v", err))
		}

		cfg.Debug = *debug
		cfg.ListenAddr = *listenAddr
		cfg.Interval = *interval
		cfg.Staleness = *staleness
		cfg.RequestTimeout = *requestTimeout
		cfg.BaseURL = *baseURL
		cfg.Site = *site

		if err := cfg.Validate(); err != nil {
			panic(fmt.Sprintf("invalid config: %v", err))
		}
	})
	return cfg
}

// Validate checks the non-site settings
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if c.Staleness <= 0 {
		return errors.New("staleness must be positive")
	}
	if c.ListenAddr == "" {
		return errors.New("missing listen address")
	}
	return nil
}
