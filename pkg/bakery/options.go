package bakery

import (
	"log/slog"

	"github.com/relves/macaroons/pkg/macaroon"
)

// Config holds discharge service configuration.
type Config struct {
	Scheme    macaroon.Scheme
	Location  string
	Logger    *slog.Logger
	CacheSize int
}

// Option configures the discharge service.
type Option func(*Config)

// WithScheme sets the crypto scheme used to mint discharge credentials.
// It must match the scheme of the credentials carrying the caveats.
func WithScheme(scheme macaroon.Scheme) Option {
	return func(c *Config) {
		c.Scheme = scheme
	}
}

// WithLocation sets the location hint stamped on minted discharges.
func WithLocation(location string) Option {
	return func(c *Config) {
		c.Location = location
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithCacheSize bounds the discharge cache. Zero disables caching.
func WithCacheSize(size int) Option {
	return func(c *Config) {
		c.CacheSize = size
	}
}

func applyOptions(opts ...Option) *Config {
	cfg := &Config{
		Scheme:    macaroon.SimpleScheme{},
		Location:  "bakery",
		Logger:    slog.Default(),
		CacheSize: defaultCacheSize,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
