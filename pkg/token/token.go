// Package token implements the confirmation-token side of the
// duplicate-override subsystem. A token is issued when a duplicate is
// first detected, bound to a keyed fingerprint of the operation's
// identity fields, and must be presented back — unused, unexpired, and
// against the identical payload — before a force-create may proceed.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sicalops/overrideguard/pkg/canonical"
	"github.com/sicalops/overrideguard/pkg/contracts"
)

const (
	// DefaultLifetime is how long a token stays valid after issuance.
	DefaultLifetime = 300 * time.Second

	// defaultCleanupInterval bounds how often the opportunistic sweep
	// of expired tokens runs.
	defaultCleanupInterval = 60 * time.Second

	// idBytes gives 256 bits of entropy per token id.
	idBytes = 32
)

// Clock provides the current time. Inject a fixed clock in tests.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// ConfirmationToken is one pending authorization.
type ConfirmationToken struct {
	ID          string
	Fingerprint string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Used        bool
	// Subject is the third-party identifier, retained for log
	// correlation only. It never participates in validation.
	Subject string
}

// Manager issues and consumes confirmation tokens. Safe for concurrent
// use; the check-then-mark-used sequence in Validate is a single
// critical section, which is what makes replay impossible.
type Manager struct {
	mu          sync.Mutex
	tokens      map[string]*ConfirmationToken
	secret      []byte
	lifetime    time.Duration
	cleanupEach time.Duration
	lastCleanup time.Time
	clock       Clock
	log         *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLifetime overrides the default token lifetime.
func WithLifetime(d time.Duration) Option {
	return func(m *Manager) { m.lifetime = d }
}

// WithClock injects a clock. Tests use this to simulate expiry.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger injects a logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a Manager keyed with the given process secret.
// The secret must be the same one used by the secure config loader
// when a single shared secret is provisioned for the deployment.
func NewManager(secret []byte, opts ...Option) *Manager {
	m := &Manager{
		tokens:      make(map[string]*ConfirmationToken),
		secret:      secret,
		lifetime:    DefaultLifetime,
		cleanupEach: defaultCleanupInterval,
		clock:       wallClock{},
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastCleanup = m.clock.Now()
	m.log.Info("confirmation token manager initialized",
		"token_lifetime", m.lifetime)
	return m
}

// Generate issues a token bound to the operation's identity fields and
// returns its id and expiry. Generation has no failure mode beyond a
// broken canonical encoding, which would indicate a programming error
// in the payload types.
func (m *Manager) Generate(op contracts.Operation) (string, time.Time, error) {
	fp, err := m.fingerprint(op)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: fingerprint failed: %w", err)
	}

	id, err := newID()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: id generation failed: %w", err)
	}

	now := m.clock.Now()
	tok := &ConfirmationToken{
		ID:          id,
		Fingerprint: fp,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.lifetime),
		Subject:     op.ThirdParty,
	}

	m.mu.Lock()
	m.tokens[id] = tok
	m.sweepLocked(now)
	m.mu.Unlock()

	m.log.Info("confirmation token generated",
		"token", Prefix(id),
		"tercero", tok.Subject,
		"expires_in", m.lifetime)

	return id, tok.ExpiresAt, nil
}

// Validate checks the token against the resubmitted payload and, on
// success, consumes it. Every failure carries a distinct reason code;
// security-relevant failures (replay, tampering) are logged at WARN or
// above so auditors can tell them apart from ordinary expiry.
func (m *Manager) Validate(tokenID string, op contracts.Operation) error {
	if tokenID == "" {
		m.log.Warn("missing confirmation token for force create")
		return &ValidationError{
			Code:    ReasonMissing,
			Message: "missing confirmation token - force create requires a valid token from the duplicate check",
		}
	}

	// The fingerprint is computed outside the lock; only the cheap
	// constant-time comparison happens inside the critical section.
	fp, err := m.fingerprint(op)
	if err != nil {
		return fmt.Errorf("token: fingerprint failed: %w", err)
	}

	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.tokens[tokenID]
	if !ok {
		m.log.Warn("unknown confirmation token", "token", Prefix(tokenID))
		return &ValidationError{
			Code:    ReasonUnknown,
			Message: "invalid confirmation token - token not found or already expired",
		}
	}

	if tok.Used {
		m.log.Warn("replay attempt detected, token already used",
			"token", Prefix(tokenID), "tercero", tok.Subject)
		return &ValidationError{
			Code:    ReasonAlreadyUsed,
			Message: "confirmation token already used - each token can only be used once",
		}
	}

	if now.After(tok.ExpiresAt) {
		m.log.Warn("expired confirmation token presented",
			"token", Prefix(tokenID),
			"age", now.Sub(tok.CreatedAt),
			"lifetime", m.lifetime)
		return &ValidationError{
			Code:    ReasonExpired,
			Message: fmt.Sprintf("confirmation token expired - tokens are valid for %d seconds", int(m.lifetime.Seconds())),
		}
	}

	if !canonical.Equal(fp, tok.Fingerprint) {
		m.log.Error("operation data tampering detected, fingerprint mismatch",
			"token", Prefix(tokenID), "tercero", tok.Subject)
		return &ValidationError{
			Code:    ReasonFingerprintMismatch,
			Message: "confirmation token does not match operation data - possible tampering detected",
		}
	}

	tok.Used = true

	m.log.Info("confirmation token validated",
		"token", Prefix(tokenID),
		"tercero", tok.Subject,
		"remaining", tok.ExpiresAt.Sub(now))

	return nil
}

// Stats reports counters over the current token table.
type Stats struct {
	Total    int
	Active   int
	Used     int
	Expired  int
	Lifetime time.Duration
}

// Stats returns a snapshot of token usage.
func (m *Manager) Stats() Stats {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{Total: len(m.tokens), Lifetime: m.lifetime}
	for _, tok := range m.tokens {
		switch {
		case tok.Used:
			s.Used++
		case now.After(tok.ExpiresAt):
			s.Expired++
		default:
			s.Active++
		}
	}
	return s
}

// fingerprint computes the keyed digest over the operation's identity
// fields. Canonical form keeps it order-independent; the HMAC key
// keeps it unforgeable without the process secret.
func (m *Manager) fingerprint(op contracts.Operation) (string, error) {
	return canonical.HMAC(m.secret, op.KeyFields())
}

// sweepLocked removes expired tokens if the cleanup interval has
// elapsed. Bounded pass; correctness never depends on it, only memory.
// Caller must hold m.mu.
func (m *Manager) sweepLocked(now time.Time) {
	if now.Sub(m.lastCleanup) < m.cleanupEach {
		return
	}
	m.lastCleanup = now

	removed := 0
	for id, tok := range m.tokens {
		if now.After(tok.ExpiresAt) {
			delete(m.tokens, id)
			removed++
		}
	}
	if removed > 0 {
		m.log.Debug("swept expired confirmation tokens", "removed", removed)
	}
}

// Prefix truncates a token id for logs and audit records: enough for a
// reviewer to correlate, not enough to replay.
func Prefix(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:16] + "..."
}

func newID() (string, error) {
	buf := make([]byte, idBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
