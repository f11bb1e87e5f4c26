package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Streams   StreamConfig    `json:"streams" yaml:"streams"`
	Retention RetentionConfig `json:"retention" yaml:"retention"`
	Outbox    OutboxConfig    `json:"outbox" yaml:"outbox"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Subscribe SubscribeConfig `json:"subscribe" yaml:"subscribe"`
	Server    ServerConfig    `json:"server" yaml:"server"`
}

// StreamConfig captures per-stream replay limits.
type StreamConfig struct {
	// ReplayBudgetEvents bounds how far behind head a resuming cursor may
	// be before the subscriber is told to rebootstrap. 0 disables the bound.
	ReplayBudgetEvents uint64 `json:"replayBudgetEvents" yaml:"replayBudgetEvents"`
	PayloadMaxBytes    int    `json:"payloadMaxBytes" yaml:"payloadMaxBytes"`
}

// RetentionConfig controls background trimming of old entries.
type RetentionConfig struct {
	MaxAge        time.Duration `json:"maxAge" yaml:"maxAge"`
	TrimInterval  time.Duration `json:"trimInterval" yaml:"trimInterval"`
	TrimBatchSize int           `json:"trimBatchSize" yaml:"trimBatchSize"`
	TrimThrottle  time.Duration `json:"trimThrottle" yaml:"trimThrottle"`
}

// OutboxConfig tunes downstream forwarding and durable-send retry
// behavior. Forwarding is off unless ForwardURL is set.
type OutboxConfig struct {
	// ForwardURL is the publish endpoint of a downstream peer to mirror
	// applied events to, e.g. http://peer:8080/v1/publish.
	ForwardURL string `json:"forwardURL" yaml:"forwardURL"`
	// ForwardToken is the bearer token presented to the peer.
	ForwardToken string        `json:"forwardToken" yaml:"forwardToken"`
	RetryBase    time.Duration `json:"retryBase" yaml:"retryBase"`
	RetryCap     time.Duration `json:"retryCap" yaml:"retryCap"`
	RetryFactor  float64       `json:"retryFactor" yaml:"retryFactor"`
	MaxAttempts  int           `json:"maxAttempts" yaml:"maxAttempts"`
}

// AuthConfig tunes token verification.
type AuthConfig struct {
	ClockSkew time.Duration `json:"clockSkew" yaml:"clockSkew"`
	// AllowUnboundedGrants keeps accepting tokens that name no streams,
	// granting access to every stream. Interim behavior for old issuers.
	AllowUnboundedGrants bool `json:"allowUnboundedGrants" yaml:"allowUnboundedGrants"`
}

// SubscribeConfig tunes delivery to live subscribers.
type SubscribeConfig struct {
	BatchLimit  int           `json:"batchLimit" yaml:"batchLimit"`
	IdleTimeout time.Duration `json:"idleTimeout" yaml:"idleTimeout"`
}

// ServerConfig holds listener addresses.
type ServerConfig struct {
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Streams: StreamConfig{
			ReplayBudgetEvents: 100_000,
			PayloadMaxBytes:    1 << 20,
		},
		Retention: RetentionConfig{
			MaxAge:        7 * 24 * time.Hour,
			TrimInterval:  time.Minute,
			TrimBatchSize: 1000,
			TrimThrottle:  10 * time.Millisecond,
		},
		Outbox: OutboxConfig{
			RetryBase:   200 * time.Millisecond,
			RetryCap:    30 * time.Second,
			RetryFactor: 2.0,
			MaxAttempts: 50,
		},
		Auth: AuthConfig{
			ClockSkew:            30 * time.Second,
			AllowUnboundedGrants: true,
		},
		Subscribe: SubscribeConfig{
			BatchLimit:  256,
			IdleTimeout: 30 * time.Second,
		},
		Server: ServerConfig{
			HTTPAddr: ":8080",
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
