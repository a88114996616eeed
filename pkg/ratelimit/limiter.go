package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Clock provides the current time. Inject a fixed clock in tests.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Limiter evaluates a Policy against an in-memory log of recent
// permitted operations. Safe for concurrent use: the check-all-windows
// then-append sequence in CheckAndRecord is a single critical section,
// so concurrent callers cannot each pass a check before either records.
type Limiter struct {
	mu     sync.Mutex
	policy Policy
	log    []time.Time
	loc    *time.Location
	clock  Clock
	logger *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects a clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithLogger injects a logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Limiter) { l.logger = lg }
}

// New creates a Limiter for the given policy. The business-hours time
// zone is resolved once here; if resolution fails the constraint is
// skipped on every check (fail-open) and a warning is logged, because
// an environment defect must not block an already human-reviewed
// privileged action.
func New(policy Policy, opts ...Option) *Limiter {
	l := &Limiter{
		policy: policy,
		log:    make([]time.Time, 0, 64),
		clock:  wallClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if bh := policy.BusinessHours; bh != nil {
		loc, err := time.LoadLocation(bh.TimeZone)
		if err != nil {
			l.logger.Warn("business hours time zone unresolvable, constraint disabled",
				"timezone", bh.TimeZone, "error", err)
		} else {
			l.loc = loc
		}
	}

	l.logger.Info("rate limiter initialized",
		"windows", len(policy.Windows),
		"business_hours", policy.BusinessHours != nil)
	return l
}

// CheckAndRecord decides whether a privileged operation may proceed
// right now and, if so, records it. subjectID is log context only; it
// never influences the decision.
//
// Evaluation order: business hours first, then each window in policy
// order, stopping at the first violation. The attempt is recorded only
// when every check passes, so a denied caller does not consume quota.
func (l *Limiter) CheckAndRecord(subjectID string) error {
	now := l.clock.Now()

	if err := l.checkBusinessHours(now, subjectID); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	for _, w := range l.policy.Windows {
		cutoff := now.Add(-w.Duration())
		count := 0
		for _, ts := range l.log {
			if ts.After(cutoff) {
				count++
			}
		}
		if count >= w.MaxOperations {
			l.logger.Warn("rate limit window exceeded",
				"window", w.Name,
				"count", count,
				"max", w.MaxOperations,
				"window_seconds", w.WindowSeconds,
				"tercero", subjectID)
			return &LimitError{
				Code:   ReasonWindowExceeded,
				Window: w.Name,
				Message: fmt.Sprintf("rate limit exceeded: %s allows %d operations per %d seconds globally",
					w.Name, w.MaxOperations, w.WindowSeconds),
			}
		}
	}

	l.log = append(l.log, now)

	l.logger.Debug("rate limit check passed",
		"tercero", subjectID, "recorded", len(l.log))
	return nil
}

// Count returns how many recorded operations fall inside the given
// duration ending now. Diagnostic accessor.
func (l *Limiter) Count(window time.Duration) int {
	now := l.clock.Now()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, ts := range l.log {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}

func (l *Limiter) checkBusinessHours(now time.Time, subjectID string) error {
	bh := l.policy.BusinessHours
	if bh == nil || l.loc == nil {
		return nil
	}

	local := now.In(l.loc)
	hour := local.Hour()
	if hour < bh.StartHour || hour >= bh.EndHour {
		l.logger.Warn("operation outside business hours",
			"local_time", local.Format("15:04"),
			"timezone", bh.TimeZone,
			"start_hour", bh.StartHour,
			"end_hour", bh.EndHour,
			"tercero", subjectID)
		return &LimitError{
			Code: ReasonOutsideBusinessHours,
			Message: fmt.Sprintf("operations only allowed between %02d:00 and %02d:00 %s (current local time %s)",
				bh.StartHour, bh.EndHour, bh.TimeZone, local.Format("15:04")),
		}
	}
	return nil
}

// pruneLocked drops entries older than the largest configured window.
// Caller must hold l.mu.
func (l *Limiter) pruneLocked(now time.Time) {
	max := l.policy.maxWindow()
	if max <= 0 {
		return
	}
	cutoff := now.Add(-max)
	i := 0
	for i < len(l.log) && !l.log[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.log = append(l.log[:0], l.log[i:]...)
	}
}
