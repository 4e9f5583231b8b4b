package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	HTTP      HTTPConfig      `yaml:"http"`
	Scene     SceneConfig     `yaml:"scene"`
	Publisher PublisherConfig `yaml:"publisher"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains UDP scene ingest configuration
type ServerConfig struct {
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"`
	Workers     int    `yaml:"workers"`
	QueueSize   int    `yaml:"queue_size"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port          int     `yaml:"port"`
	Address       string  `yaml:"address"`
	Enabled       bool    `yaml:"enabled"`
	MutationRate  float64 `yaml:"mutation_rate"` // requests per second
	MutationBurst int     `yaml:"mutation_burst"`
}

// SceneConfig contains scene mirror configuration
type SceneConfig struct {
	ObjectTimeout   int `yaml:"object_timeout"`   // seconds
	CleanupInterval int `yaml:"cleanup_interval"` // seconds
}

// PublisherConfig contains publish tick configuration
type PublisherConfig struct {
	IntervalMs    int    `yaml:"interval_ms"`
	SendTimeoutMs int    `yaml:"send_timeout_ms"`
	Transport     string `yaml:"transport"` // "log" or "http"
}

// TransportConfig contains relay transport configuration
type TransportConfig struct {
	Endpoint        string `yaml:"endpoint"`
	APIKey          string `yaml:"api_key"`
	Timeout         int    `yaml:"timeout"` // seconds
	MaxRetries      int    `yaml:"max_retries"`
	MaxConcurrent   int    `yaml:"max_concurrent"`
	BaseBackoffMs   int    `yaml:"base_backoff_ms"`
	MaxBackoffMs    int    `yaml:"max_backoff_ms"`
	BreakerFailures int    `yaml:"breaker_failures"`
	BreakerTimeout  int    `yaml:"breaker_timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Scene.Validate(); err != nil {
		return fmt.Errorf("scene config: %w", err)
	}

	if err := c.Publisher.Validate(); err != nil {
		return fmt.Errorf("publisher config: %w", err)
	}

	// The relay section only matters when it is selected
	if c.Publisher.Transport == "http" {
		if err := c.Transport.Validate(); err != nil {
			return fmt.Errorf("transport config: %w", err)
		}

		// Every retry has to start before the tick's send deadline
		budget := c.Transport.GetRetryBackoffTotal()
		if sendTimeout := c.Publisher.GetEffectiveSendTimeout(); budget >= sendTimeout {
			return fmt.Errorf("transport config: retry backoff of %v for %d retries does not fit in send timeout %v",
				budget, c.Transport.MaxRetries, sendTimeout)
		}
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	if h.MutationRate < 0 {
		return fmt.Errorf("mutation_rate cannot be negative, got %f", h.MutationRate)
	}

	if h.MutationRate > 0 && h.MutationBurst < 1 {
		return fmt.Errorf("mutation_burst must be at least 1 when mutation_rate is set, got %d", h.MutationBurst)
	}

	return nil
}

// Validate validates scene configuration
func (s *SceneConfig) Validate() error {
	if s.ObjectTimeout < 1 {
		return fmt.Errorf("object_timeout must be at least 1 second, got %d", s.ObjectTimeout)
	}

	if s.CleanupInterval < 0 {
		return fmt.Errorf("cleanup_interval cannot be negative, got %d", s.CleanupInterval)
	}

	return nil
}

// Validate validates publisher configuration
func (p *PublisherConfig) Validate() error {
	if p.IntervalMs < 1 || p.IntervalMs > 60000 {
		return fmt.Errorf("interval_ms must be between 1 and 60000, got %d", p.IntervalMs)
	}

	if p.SendTimeoutMs < 0 {
		return fmt.Errorf("send_timeout_ms cannot be negative, got %d", p.SendTimeoutMs)
	}

	validTransports := map[string]bool{"log": true, "http": true}
	if !validTransports[p.Transport] {
		return fmt.Errorf("transport must be 'log' or 'http', got '%s'", p.Transport)
	}

	return nil
}

// Validate validates relay transport configuration
func (t *TransportConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	if t.BaseBackoffMs < 1 {
		return fmt.Errorf("base_backoff_ms must be at least 1, got %d", t.BaseBackoffMs)
	}

	if t.MaxBackoffMs < t.BaseBackoffMs {
		return fmt.Errorf("max_backoff_ms must be at least base_backoff_ms (%d), got %d", t.BaseBackoffMs, t.MaxBackoffMs)
	}

	if t.BreakerFailures < 1 {
		return fmt.Errorf("breaker_failures must be at least 1, got %d", t.BreakerFailures)
	}

	if t.BreakerTimeout < 1 {
		return fmt.Errorf("breaker_timeout must be at least 1 second, got %d", t.BreakerTimeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output is stdout, stderr or a file path
	return nil
}

// GetObjectTimeoutDuration returns the scene object timeout as a time.Duration
func (s *SceneConfig) GetObjectTimeoutDuration() time.Duration {
	return time.Duration(s.ObjectTimeout) * time.Second
}

// GetCleanupIntervalDuration returns the scene cleanup interval as a time.Duration
func (s *SceneConfig) GetCleanupIntervalDuration() time.Duration {
	return time.Duration(s.CleanupInterval) * time.Second
}

// GetIntervalDuration returns the publish interval as a time.Duration
func (p *PublisherConfig) GetIntervalDuration() time.Duration {
	return time.Duration(p.IntervalMs) * time.Millisecond
}

// GetSendTimeoutDuration returns the per-tick send timeout as a time.Duration
func (p *PublisherConfig) GetSendTimeoutDuration() time.Duration {
	return time.Duration(p.SendTimeoutMs) * time.Millisecond
}

// GetEffectiveSendTimeout returns the send timeout the publisher applies.
// Zero falls back to the publish interval.
func (p *PublisherConfig) GetEffectiveSendTimeout() time.Duration {
	if p.SendTimeoutMs <= 0 {
		return p.GetIntervalDuration()
	}
	return p.GetSendTimeoutDuration()
}

// GetTimeoutDuration returns the relay request timeout as a time.Duration
func (t *TransportConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetBreakerTimeoutDuration returns the breaker open period as a time.Duration
func (t *TransportConfig) GetBreakerTimeoutDuration() time.Duration {
	return time.Duration(t.BreakerTimeout) * time.Second
}

// GetBaseBackoffDuration returns the first retry delay as a time.Duration
func (t *TransportConfig) GetBaseBackoffDuration() time.Duration {
	return time.Duration(t.BaseBackoffMs) * time.Millisecond
}

// GetMaxBackoffDuration returns the retry delay cap as a time.Duration
func (t *TransportConfig) GetMaxBackoffDuration() time.Duration {
	return time.Duration(t.MaxBackoffMs) * time.Millisecond
}

// GetRetryBackoffTotal returns the summed delay of all retries of one send.
// Delays double from the base and are capped at the maximum.
func (t *TransportConfig) GetRetryBackoffTotal() time.Duration {
	var total time.Duration
	delay := t.GetBaseBackoffDuration()
	maxDelay := t.GetMaxBackoffDuration()
	for attempt := 1; attempt <= t.MaxRetries; attempt++ {
		if delay > maxDelay {
			delay = maxDelay
		}
		total += delay
		delay *= 2
	}
	return total
}
