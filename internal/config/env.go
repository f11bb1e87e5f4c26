package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays SYNCD_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("SYNCD_REPLAY_BUDGET_EVENTS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Streams.ReplayBudgetEvents = n
		}
	}
	if v := os.Getenv("SYNCD_PAYLOAD_MAX_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Streams.PayloadMaxBytes = n
		}
	}
	if v := os.Getenv("SYNCD_RETENTION_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retention.MaxAge = d
		}
	}
	if v := os.Getenv("SYNCD_RETENTION_TRIM_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retention.TrimInterval = d
		}
	}
	if v := os.Getenv("SYNCD_OUTBOX_FORWARD_URL"); v != "" {
		cfg.Outbox.ForwardURL = v
	}
	if v := os.Getenv("SYNCD_OUTBOX_FORWARD_TOKEN"); v != "" {
		cfg.Outbox.ForwardToken = v
	}
	if v := os.Getenv("SYNCD_OUTBOX_RETRY_BASE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Outbox.RetryBase = d
		}
	}
	if v := os.Getenv("SYNCD_OUTBOX_RETRY_CAP"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Outbox.RetryCap = d
		}
	}
	if v := os.Getenv("SYNCD_OUTBOX_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Outbox.MaxAttempts = n
		}
	}
	if v := os.Getenv("SYNCD_AUTH_CLOCK_SKEW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Auth.ClockSkew = d
		}
	}
	if v := os.Getenv("SYNCD_AUTH_ALLOW_UNBOUNDED_GRANTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.AllowUnboundedGrants = b
		}
	}
	if v := os.Getenv("SYNCD_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
}
