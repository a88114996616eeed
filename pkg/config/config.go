// Package config loads the subsystem's deployment settings from
// environment variables.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Environment variable names.
const (
	EnvSecretKey     = "SICAL_CONFIG_SECRET_KEY"
	EnvRateConfig    = "SICAL_RATE_CONFIG_PATH"
	EnvTokenLifetime = "SICAL_TOKEN_LIFETIME_SECONDS"
	EnvAuditLogPath  = "SICAL_AUDIT_LOG_PATH"
)

// Config holds the subsystem's deployment settings. One shared secret
// keys both token fingerprinting and config signing.
type Config struct {
	SecretKey      []byte
	RateConfigPath string
	TokenLifetime  time.Duration
	AuditLogPath   string
	// EphemeralSecret is true when no secret was provisioned and a
	// process-local one was generated. Signatures and tokens will not
	// survive a restart in that state.
	EphemeralSecret bool
}

// Load reads configuration from the environment, applying defaults.
//
// When SICAL_CONFIG_SECRET_KEY is absent an ephemeral secret is
// generated and a prominent warning logged: the subsystem stays
// usable, but signed artifacts from previous runs will be rejected and
// outstanding tokens from previous runs are void. That tradeoff must
// stay visible, never silently accepted.
func Load() *Config {
	cfg := &Config{
		RateConfigPath: "rate_limit_config.json",
		TokenLifetime:  300 * time.Second,
		AuditLogPath:   "security_audit.jsonl",
	}

	if secret := os.Getenv(EnvSecretKey); secret != "" {
		cfg.SecretKey = []byte(secret)
	} else {
		cfg.SecretKey = ephemeralSecret()
		cfg.EphemeralSecret = true
		slog.Warn("no configuration secret provisioned, generated an ephemeral one",
			"env", EnvSecretKey,
			"consequence", "signed configs and tokens will not survive a restart")
	}

	if p := os.Getenv(EnvRateConfig); p != "" {
		cfg.RateConfigPath = p
	}
	if p := os.Getenv(EnvAuditLogPath); p != "" {
		cfg.AuditLogPath = p
	}
	if v := os.Getenv(EnvTokenLifetime); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.TokenLifetime = time.Duration(secs) * time.Second
		} else {
			slog.Warn("invalid token lifetime, keeping default",
				"env", EnvTokenLifetime, "value", v)
		}
	}

	return cfg
}

func ephemeralSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure means the platform entropy source is
		// broken; nothing sensible to continue with.
		panic("config: system entropy source unavailable: " + err.Error())
	}
	return []byte(hex.EncodeToString(buf))
}
