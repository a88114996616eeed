package override_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sicalops/overrideguard/pkg/audit"
	"github.com/sicalops/overrideguard/pkg/contracts"
	"github.com/sicalops/overrideguard/pkg/override"
	"github.com/sicalops/overrideguard/pkg/ratelimit"
	"github.com/sicalops/overrideguard/pkg/token"
)

// fixedClock is a test clock shared by the token manager and limiter.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) Now() time.Time          { return c.t }
func (c *fixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// memorySink collects audit events for assertions.
type memorySink struct {
	events []audit.Event
}

func (s *memorySink) Record(_ context.Context, e audit.Event) error {
	s.events = append(s.events, e)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOperation() contracts.Operation {
	return contracts.Operation{
		ThirdParty:   "A1",
		Date:         "01012025",
		CashRegister: "200",
		LineItems: []contracts.LineItem{
			{Functional: "920", Economic: "224", Amount: "100.00"},
		},
	}
}

func newTestService(clk *fixedClock, policy ratelimit.Policy, sink audit.Logger) *override.Service {
	secret := []byte("test-secret-key-12345678901234567890")
	tokens := token.NewManager(secret, token.WithClock(clk), token.WithLogger(quietLogger()))
	limiter := ratelimit.New(policy, ratelimit.WithClock(clk), ratelimit.WithLogger(quietLogger()))
	return override.NewService(tokens, limiter, sink, override.WithLogger(quietLogger()))
}

func openPolicy() ratelimit.Policy {
	return ratelimit.Policy{
		Windows: []ratelimit.Window{{MaxOperations: 100, WindowSeconds: 3600, Name: "h"}},
	}
}

func TestOverrideFlowEndToEnd(t *testing.T) {
	clk := &fixedClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	sink := &memorySink{}
	svc := newTestService(clk, openPolicy(), sink)
	ctx := context.Background()
	op := testOperation()

	ch, err := svc.RequestOverride(ctx, op)
	require.NoError(t, err)
	require.NotEmpty(t, ch.TokenID)
	assert.Equal(t, clk.Now().Add(token.DefaultLifetime), ch.ExpiresAt)

	// Identical payload with a valid token: approved.
	d, err := svc.ConfirmOverride(ctx, ch.TokenID, op)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)

	// Same token again: rejected as a replay.
	d, err = svc.ConfirmOverride(ctx, ch.TokenID, op)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, string(token.ReasonAlreadyUsed), d.Code)

	require.Len(t, sink.events, 2)
	assert.Equal(t, audit.OutcomeApproved, sink.events[0].Outcome)
	assert.Equal(t, audit.OutcomeRejected, sink.events[1].Outcome)
	assert.Equal(t, "A1", sink.events[0].Subject)
	assert.Equal(t, "01012025", sink.events[0].Date)
	assert.Equal(t, 100.00, sink.events[0].TotalAmount)
	assert.NotContains(t, sink.events[0].TokenPrefix, ch.TokenID,
		"audit must not carry the full token")
}

func TestConfirmTamperedPayloadRejected(t *testing.T) {
	clk := &fixedClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	sink := &memorySink{}
	svc := newTestService(clk, openPolicy(), sink)
	ctx := context.Background()

	ch, err := svc.RequestOverride(ctx, testOperation())
	require.NoError(t, err)

	tampered := testOperation()
	tampered.LineItems[0].Amount = "999.99"

	d, err := svc.ConfirmOverride(ctx, ch.TokenID, tampered)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, string(token.ReasonFingerprintMismatch), d.Code)
	assert.Contains(t, d.Reason, "tampering")

	require.Len(t, sink.events, 1)
	assert.Equal(t, audit.OutcomeRejected, sink.events[0].Outcome)
	assert.Equal(t, 999.99, sink.events[0].TotalAmount)
}

func TestConfirmRateLimited(t *testing.T) {
	clk := &fixedClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	sink := &memorySink{}
	svc := newTestService(clk, ratelimit.Policy{
		Windows: []ratelimit.Window{{MaxOperations: 2, WindowSeconds: 60, Name: "h"}},
	}, sink)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ch, err := svc.RequestOverride(ctx, testOperation())
		require.NoError(t, err)
		d, err := svc.ConfirmOverride(ctx, ch.TokenID, testOperation())
		require.NoError(t, err)
		require.True(t, d.Allowed, "operation %d should pass", i+1)
	}

	ch, err := svc.RequestOverride(ctx, testOperation())
	require.NoError(t, err)
	d, err := svc.ConfirmOverride(ctx, ch.TokenID, testOperation())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, string(ratelimit.ReasonWindowExceeded), d.Code)
	assert.Contains(t, d.Reason, "rate limit exceeded")

	require.Len(t, sink.events, 3)
	assert.Equal(t, audit.OutcomeRejected, sink.events[2].Outcome)
}

func TestConfirmMissingToken(t *testing.T) {
	clk := &fixedClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	sink := &memorySink{}
	svc := newTestService(clk, openPolicy(), sink)

	d, err := svc.ConfirmOverride(context.Background(), "", testOperation())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, string(token.ReasonMissing), d.Code)

	require.Len(t, sink.events, 1)
	assert.Equal(t, "MISSING", sink.events[0].TokenPrefix)
}

func TestConfirmExpiredToken(t *testing.T) {
	clk := &fixedClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	sink := &memorySink{}
	svc := newTestService(clk, openPolicy(), sink)
	ctx := context.Background()

	ch, err := svc.RequestOverride(ctx, testOperation())
	require.NoError(t, err)

	clk.Advance(token.DefaultLifetime + time.Minute)

	d, err := svc.ConfirmOverride(ctx, ch.TokenID, testOperation())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, string(token.ReasonExpired), d.Code)
}

func TestConfirmOutsideBusinessHours(t *testing.T) {
	clk := &fixedClock{t: time.Date(2026, 3, 2, 8, 58, 0, 0, time.UTC)}
	sink := &memorySink{}
	svc := newTestService(clk, ratelimit.Policy{
		Windows:       []ratelimit.Window{{MaxOperations: 100, WindowSeconds: 3600, Name: "h"}},
		BusinessHours: &ratelimit.BusinessHours{StartHour: 9, EndHour: 17, TimeZone: "UTC"},
	}, sink)
	ctx := context.Background()

	ch, err := svc.RequestOverride(ctx, testOperation())
	require.NoError(t, err)

	d, err := svc.ConfirmOverride(ctx, ch.TokenID, testOperation())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, string(ratelimit.ReasonOutsideBusinessHours), d.Code)

	// The token was not consumed by the policy rejection: once hours
	// open (and within the token lifetime), the same challenge works.
	clk.Advance(3 * time.Minute)
	d, err = svc.ConfirmOverride(ctx, ch.TokenID, testOperation())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
