// Package override composes the confirmation token manager, the rate
// and hours limiter, and the audit sink into the end-to-end duplicate
// override flow: issue a challenge when a duplicate is detected, then
// decide a later force-create attempt and record the outcome.
package override

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sicalops/overrideguard/pkg/audit"
	"github.com/sicalops/overrideguard/pkg/contracts"
	"github.com/sicalops/overrideguard/pkg/ratelimit"
	"github.com/sicalops/overrideguard/pkg/token"
)

// Challenge is handed to the operator together with the duplicate
// findings. Presenting its token id back with the identical payload is
// what authorizes the force create.
type Challenge struct {
	TokenID   string
	ExpiresAt time.Time
}

// Decision is the outcome of a force-create attempt.
type Decision struct {
	Allowed bool
	// Code discriminates rejections machine-readably: a token.Reason
	// or ratelimit.Reason value. Empty when allowed.
	Code string
	// Reason is the operator-facing explanation. Empty when allowed.
	Reason string
}

// Service owns the subsystem's composition. All collaborators are
// constructor-injected; there are no package-level instances.
type Service struct {
	tokens  *token.Manager
	limiter *ratelimit.Limiter
	audit   audit.Logger
	log     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger injects a logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService wires the subsystem together. Pass audit.Nop{} when no
// audit sink is configured.
func NewService(tokens *token.Manager, limiter *ratelimit.Limiter, auditLog audit.Logger, opts ...Option) *Service {
	s := &Service{
		tokens:  tokens,
		limiter: limiter,
		audit:   auditLog,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestOverride issues a confirmation challenge for an operation the
// caller has detected as a possible duplicate. The challenge is bound
// to the operation's identity fields: any change to them before
// confirmation invalidates it.
func (s *Service) RequestOverride(_ context.Context, op contracts.Operation) (Challenge, error) {
	id, expires, err := s.tokens.Generate(op)
	if err != nil {
		return Challenge{}, fmt.Errorf("override: challenge generation failed: %w", err)
	}
	return Challenge{TokenID: id, ExpiresAt: expires}, nil
}

// ConfirmOverride decides a force-create attempt: first whether a
// privileged operation is currently permitted at all (rate and
// business-hours policy), then whether this specific attempt is
// authorized (valid, unused, unexpired token matching the payload).
// Every attempt, approved or rejected, is appended to the audit trail.
func (s *Service) ConfirmOverride(ctx context.Context, tokenID string, op contracts.Operation) (Decision, error) {
	if err := s.limiter.CheckAndRecord(op.ThirdParty); err != nil {
		var le *ratelimit.LimitError
		if errors.As(err, &le) {
			d := Decision{Code: string(le.Code), Reason: le.Message}
			s.recordAudit(ctx, op, tokenID, d)
			return d, nil
		}
		return Decision{}, fmt.Errorf("override: rate check failed: %w", err)
	}

	if err := s.tokens.Validate(tokenID, op); err != nil {
		var ve *token.ValidationError
		if errors.As(err, &ve) {
			d := Decision{Code: string(ve.Code), Reason: ve.Message}
			s.recordAudit(ctx, op, tokenID, d)
			return d, nil
		}
		return Decision{}, fmt.Errorf("override: token validation failed: %w", err)
	}

	d := Decision{Allowed: true}
	s.recordAudit(ctx, op, tokenID, d)
	return d, nil
}

// recordAudit appends the outcome. Audit write failures are logged but
// never alter the decision: the trail is best-effort by contract, the
// security checks themselves are not.
func (s *Service) recordAudit(ctx context.Context, op contracts.Operation, tokenID string, d Decision) {
	outcome := audit.OutcomeApproved
	if !d.Allowed {
		outcome = audit.OutcomeRejected
	}
	prefix := "MISSING"
	if tokenID != "" {
		prefix = token.Prefix(tokenID)
	}
	err := s.audit.Record(ctx, audit.Event{
		Outcome:     outcome,
		Reason:      d.Reason,
		Subject:     op.ThirdParty,
		Date:        op.Date,
		TotalAmount: op.TotalAmount(),
		TokenPrefix: prefix,
	})
	if err != nil {
		s.log.Warn("audit record write failed", "error", err)
	}

	if d.Allowed {
		s.log.Info("force create approved",
			"tercero", op.ThirdParty, "fecha", op.Date, "token", prefix)
	} else {
		s.log.Warn("force create rejected",
			"tercero", op.ThirdParty, "fecha", op.Date,
			"token", prefix, "code", d.Code, "reason", d.Reason)
	}
}
