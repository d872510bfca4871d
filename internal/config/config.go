// Package config provides configuration management for the geofetch tool.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds the complete application configuration loaded from environment
// variables.
type Config struct {
	Auth        AuthConfig     `envPrefix:"AUTH_"`
	API         APIConfig      `envPrefix:"API_"`
	Download    DownloadConfig `envPrefix:"DOWNLOAD_"`
	Store       StoreConfig    `envPrefix:"STORE_"`
	Collections DataConfig     `envPrefix:"COLLECTIONS_"`
	Regions     DataConfig     `envPrefix:"REGIONS_"`
	Server      ServerConfig   `envPrefix:"SERVER_"`
	Logging     LoggingConfig  `envPrefix:"LOG_"`
}

// AuthConfig locates the OAuth client credentials.
type AuthConfig struct {
	// CredentialsFile is a two-line text file: client ID, client secret.
	CredentialsFile string `env:"CREDENTIALS_FILE" envDefault:"auth.txt"`
}

// APIConfig contains upstream API client configuration.
type APIConfig struct {
	BaseURL  string        `env:"BASE_URL" envDefault:"https://services.sentinel-hub.com"`
	TokenURL string        `env:"TOKEN_URL" envDefault:"https://services.sentinel-hub.com/oauth/token"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"5m"`

	// RetryAttempts is the number of retries per upstream request.
	// Set -1 to disable retries.
	RetryAttempts   int           `env:"RETRY_ATTEMPTS" envDefault:"3"`
	RetryBackoff    time.Duration `env:"RETRY_BACKOFF" envDefault:"1s"`
	RetryMaxBackoff time.Duration `env:"RETRY_MAX_BACKOFF" envDefault:"30s"`
}

// DownloadConfig bounds the tile fan-out.
type DownloadConfig struct {
	// Workers is the number of concurrent tile downloads.
	Workers int `env:"WORKERS" envDefault:"4"`

	// RateLimit caps requests per second across all workers. Zero disables
	// the limiter.
	RateLimit float64 `env:"RATE_LIMIT" envDefault:"0"`

	// MaxPixelDim is the upstream's per-request pixel cap per axis.
	MaxPixelDim int `env:"MAX_PIXEL_DIM" envDefault:"2500"`

	// KeepTiles leaves per-tile rasters in place after a successful merge.
	KeepTiles bool `env:"KEEP_TILES" envDefault:"false"`

	// Progress renders a terminal progress bar during the batch.
	Progress bool `env:"PROGRESS" envDefault:"true"`
}

// StoreConfig locates the output bucket.
type StoreConfig struct {
	// BucketURL is a gocloud.dev/blob URL, e.g. "file:///data/geofetch" or
	// "s3://imagery-archive".
	BucketURL string `env:"BUCKET_URL" envDefault:"file://./output"`
}

// DataConfig points at an optional directory of definition files.
type DataConfig struct {
	Dir string `env:"DIR"`
}

// ServerConfig contains HTTP server configuration for serve mode.
type ServerConfig struct {
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Load parses configuration from the environment, after folding in a .env
// file when one exists in the working directory. It returns an error if
// required fields are missing or invalid.
func Load() (*Config, error) {
	// Missing .env is fine; the environment wins over file values.
	_ = godotenv.Load()

	cfg := &Config{}

	opts := env.Options{
		Prefix:          "GEOFETCH_",
		RequiredIfNoDef: true,
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Auth.CredentialsFile == "" {
		return fmt.Errorf("credentials file path is required")
	}

	if c.API.BaseURL == "" {
		return fmt.Errorf("API base URL is required")
	}

	if c.API.TokenURL == "" {
		return fmt.Errorf("API token URL is required")
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("API timeout must be positive, got %s", c.API.Timeout)
	}

	if c.API.RetryAttempts == 0 || c.API.RetryAttempts < -1 {
		return fmt.Errorf("API retry attempts must be positive, or -1 to disable retries, got %d", c.API.RetryAttempts)
	}

	if c.Download.Workers < 1 {
		return fmt.Errorf("download workers must be at least 1, got %d", c.Download.Workers)
	}

	if c.Download.RateLimit < 0 {
		return fmt.Errorf("download rate limit must not be negative, got %f", c.Download.RateLimit)
	}

	if c.Download.MaxPixelDim < 1 {
		return fmt.Errorf("max pixel dimension must be at least 1, got %d", c.Download.MaxPixelDim)
	}

	if c.Store.BucketURL == "" {
		return fmt.Errorf("store bucket URL is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive, got %s", c.Server.ReadTimeout)
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive, got %s", c.Server.WriteTimeout)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, text", c.Logging.Format)
	}

	return nil
}

// Address returns the server listen address in the format "host:port".
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
