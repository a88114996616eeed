// Package secureconfig reads and writes the rate-limit policy as a
// tamper-evident signed artifact. The policy gates a privileged
// action, so an attacker with filesystem write access but not the
// process secret must not be able to loosen it: every load recomputes
// the HMAC-SHA256 signature over the canonical payload and rejects on
// mismatch.
package secureconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sicalops/overrideguard/pkg/canonical"
	"github.com/sicalops/overrideguard/pkg/ratelimit"
)

var (
	// ErrSignatureInvalid means the artifact's signature does not match
	// its content. No field of the payload may be trusted.
	ErrSignatureInvalid = errors.New("secureconfig: signature mismatch, configuration rejected")

	// ErrMalformedConfig means the artifact could not be parsed or is
	// missing required fields.
	ErrMalformedConfig = errors.New("secureconfig: malformed configuration")
)

// SignedDocument is the persisted form of a policy configuration.
type SignedDocument struct {
	Signature   string          `json:"signature"`
	Config      json.RawMessage `json:"config"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Loader signs and verifies policy artifacts with the process secret.
type Loader struct {
	secret []byte
	log    *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger injects a logger.
func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) { ld.log = l }
}

// NewLoader creates a Loader keyed with the process secret.
func NewLoader(secret []byte, opts ...Option) *Loader {
	ld := &Loader{secret: secret, log: slog.Default()}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Load reads and verifies the signed policy artifact at path.
//
// A missing file is not an error: the compiled-in default policy is
// returned and the fallback is logged. A present but unparseable file
// fails with ErrMalformedConfig; a parseable file whose signature does
// not match fails with ErrSignatureInvalid. In both failure cases the
// returned policy is unusable and must be discarded.
func (ld *Loader) Load(path string) (ratelimit.Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ld.log.Info("rate limit configuration absent, using defaults", "path", path)
			return ratelimit.DefaultPolicy(), nil
		}
		return ratelimit.Policy{}, fmt.Errorf("secureconfig: read %s: %w", path, err)
	}

	var doc SignedDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ratelimit.Policy{}, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}
	if doc.Signature == "" || len(doc.Config) == 0 {
		return ratelimit.Policy{}, fmt.Errorf("%w: missing signature or config", ErrMalformedConfig)
	}

	expected, err := canonical.HMAC(ld.secret, doc.Config)
	if err != nil {
		return ratelimit.Policy{}, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}
	if !canonical.Equal(expected, doc.Signature) {
		ld.log.Error("rate limit configuration signature mismatch, possible tampering",
			"path", path)
		return ratelimit.Policy{}, ErrSignatureInvalid
	}

	var policy ratelimit.Policy
	if err := json.Unmarshal(doc.Config, &policy); err != nil {
		return ratelimit.Policy{}, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}

	ld.log.Info("rate limit configuration loaded",
		"path", path,
		"windows", len(policy.Windows),
		"generated_at", doc.GeneratedAt)
	return policy, nil
}

// LoadOrDefault loads the artifact at path and falls back to the
// compiled-in defaults on any failure, logging loudly. Rejecting a
// tampered file toward the stricter defaults keeps the system
// available without honoring the tampered values.
func (ld *Loader) LoadOrDefault(path string) ratelimit.Policy {
	policy, err := ld.Load(path)
	if err != nil {
		ld.log.Warn("falling back to default rate limit policy",
			"path", path, "error", err)
		return ratelimit.DefaultPolicy()
	}
	return policy
}

// Save serializes the policy, signs it, and writes the full signed
// document atomically (write-temp-then-rename) so a concurrent reader
// never observes a half-written artifact.
func (ld *Loader) Save(policy ratelimit.Policy, path string) error {
	payload, err := canonical.Marshal(policy)
	if err != nil {
		return fmt.Errorf("secureconfig: serialize policy: %w", err)
	}

	sig, err := canonical.HMAC(ld.secret, json.RawMessage(payload))
	if err != nil {
		return fmt.Errorf("secureconfig: sign policy: %w", err)
	}

	doc := SignedDocument{
		Signature:   sig,
		Config:      payload,
		GeneratedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("secureconfig: serialize document: %w", err)
	}
	data = append(data, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("secureconfig: write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("secureconfig: commit %s: %w", path, err)
	}

	ld.log.Info("rate limit configuration saved", "path", path,
		"windows", len(policy.Windows))
	return nil
}
