package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sicalops/overrideguard/pkg/audit"
)

func TestWriterLoggerEmitsJSONL(t *testing.T) {
	var buf bytes.Buffer
	l := audit.NewWriterLogger(&buf)

	require.NoError(t, l.Record(context.Background(), audit.Event{
		Outcome:     audit.OutcomeRejected,
		Reason:      "confirmation token already used - each token can only be used once",
		Subject:     "A1",
		Date:        "01012025",
		TotalAmount: 100.00,
		TokenPrefix: "0123456789abcdef...",
	}))
	require.NoError(t, l.Record(context.Background(), audit.Event{
		Outcome: audit.OutcomeApproved,
		Subject: "A1",
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var e audit.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &e))
	assert.Equal(t, audit.OutcomeRejected, e.Outcome)
	assert.Equal(t, "A1", e.Subject)
	assert.Equal(t, "force_create_attempt", e.Action)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, "0123456789abcdef...", e.TokenPrefix)
}

func TestWriterLoggerKeepsCallerFields(t *testing.T) {
	var buf bytes.Buffer
	l := audit.NewWriterLogger(&buf)

	ts := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, l.Record(context.Background(), audit.Event{
		ID:        "fixed-id",
		Timestamp: ts,
		Action:    "custom_action",
		Outcome:   audit.OutcomeApproved,
	}))

	var e audit.Event
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &e))
	assert.Equal(t, "fixed-id", e.ID)
	assert.Equal(t, ts, e.Timestamp)
	assert.Equal(t, "custom_action", e.Action)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := audit.OpenSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	require.NoError(t, store.Record(ctx, audit.Event{
		Outcome:     audit.OutcomeRejected,
		Reason:      "rate limit exceeded",
		Subject:     "B2",
		Date:        "02012025",
		TotalAmount: 42.50,
		TokenPrefix: "deadbeef...",
	}))
	require.NoError(t, store.Record(ctx, audit.Event{
		Outcome: audit.OutcomeApproved,
		Subject: "A1",
		Date:    "01012025",
	}))

	events, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Find the rejected one regardless of timestamp ordering.
	var rejected *audit.Event
	for i := range events {
		if events[i].Outcome == audit.OutcomeRejected {
			rejected = &events[i]
		}
	}
	require.NotNil(t, rejected)
	assert.Equal(t, "B2", rejected.Subject)
	assert.Equal(t, "rate limit exceeded", rejected.Reason)
	assert.Equal(t, 42.50, rejected.TotalAmount)
	assert.NotEmpty(t, rejected.ID)
}

func TestNopDiscards(t *testing.T) {
	assert.NoError(t, audit.Nop{}.Record(context.Background(), audit.Event{}))
}
