package config

import (
	"strings"
	"time"
)

// RateTierLimits holds the hourly/daily request budget and the connection
// and per-connection message-rate caps for one subscription tier.
type RateTierLimits struct {
	MaxPerHour        int
	MaxPerDay         int
	MaxConnections    int
	MaxMessagesPerSec int
}

// Settings is the fully-resolved configuration for the collabd process: the
// gateway, flow manager, cache, registry and event bus all read from this
// struct rather than touching the environment directly.
type Settings struct {
	KVURL             string
	DocStoreURL       string
	DocStoreDatabase  string
	TokenSigningKey   string
	LogLevel          string
	LogFormat         string
	HTTPPort          int
	HTTPHost          string
	WSPath            string
	HealthProbeInterval time.Duration

	CachePrefix string

	Tiers map[string]RateTierLimits
}

// defaultTiers mirrors the tier names used throughout the client protocol
// (free, pro, enterprise); callers override via RATE_<TIER>_* env vars.
func defaultTiers() map[string]RateTierLimits {
	return map[string]RateTierLimits{
		"free": {
			MaxPerHour:        1000,
			MaxPerDay:         5000,
			MaxConnections:    2,
			MaxMessagesPerSec: 5,
		},
		"pro": {
			MaxPerHour:        10000,
			MaxPerDay:         100000,
			MaxConnections:    10,
			MaxMessagesPerSec: 30,
		},
		"enterprise": {
			MaxPerHour:        100000,
			MaxPerDay:         1000000,
			MaxConnections:    50,
			MaxMessagesPerSec: 100,
		},
	}
}

// Load resolves Settings from the process environment: each setting starts
// at its built-in default, and a set environment variable overrides it.
func Load() (*Settings, error) {
	env := NewEnvConfig("")

	s := &Settings{
		KVURL:               env.GetString("KV_URL", "redis://localhost:6379/0"),
		DocStoreURL:         env.GetString("DOC_STORE_URL", "http://localhost:5984"),
		DocStoreDatabase:    env.GetString("DOC_STORE_DATABASE", "flowcollab"),
		TokenSigningKey:     env.GetString("TOKEN_SIGNING_KEY", ""),
		LogLevel:            env.GetString("LOG_LEVEL", "info"),
		LogFormat:           env.GetString("LOG_FORMAT", "text"),
		HTTPPort:            env.GetInt("HTTP_PORT", 8080),
		HTTPHost:            env.GetString("HTTP_HOST", "0.0.0.0"),
		WSPath:              env.GetString("WS_PATH", "/v1/ws"),
		HealthProbeInterval: env.GetDuration("HEALTH_PROBE_INTERVAL_MS", 30*time.Second),
		CachePrefix:         env.GetString("CACHE_PREFIX", "flowcollab"),
		Tiers:               defaultTiers(),
	}

	for name, base := range s.Tiers {
		prefix := "RATE_" + strings.ToUpper(name)
		tierEnv := NewEnvConfig(prefix)
		base.MaxPerHour = tierEnv.GetInt("MAX_PER_HOUR", base.MaxPerHour)
		base.MaxPerDay = tierEnv.GetInt("MAX_PER_DAY", base.MaxPerDay)
		base.MaxConnections = tierEnv.GetInt("MAX_CONNECTIONS", base.MaxConnections)
		base.MaxMessagesPerSec = tierEnv.GetInt("MAX_MESSAGES_PER_SEC", base.MaxMessagesPerSec)
		s.Tiers[name] = base
	}

	v := NewValidator()
	v.RequireString("TOKEN_SIGNING_KEY", s.TokenSigningKey)
	if len(s.TokenSigningKey) > 0 && len(s.TokenSigningKey) < 32 {
		v.RequireInt("TOKEN_SIGNING_KEY length", len(s.TokenSigningKey), 32, 1<<20)
	}
	v.RequireOneOf("LOG_LEVEL", s.LogLevel, []string{"debug", "info", "warn", "error"})
	if err := v.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}
