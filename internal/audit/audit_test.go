package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/venue-app/pricingservice/internal/log"
)

type recorder struct {
	events []Event
}

func (r *recorder) Log(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return nil
}

func TestManager_LogRuleTransition(t *testing.T) {
	rec := &recorder{}
	m := NewManager(rec)
	ctx := log.WithRequestID(context.Background(), "req-7")

	require.NoError(t, m.LogRuleTransition(ctx, "ops@venue", "rule-1", "approve", "PENDING_APPROVAL", "APPROVED", "looks right", nil))
	require.NoError(t, m.LogRuleTransition(ctx, "ops@venue", "rule-1", "approve", "DRAFT", "", "", errors.New("invalid transition")))

	require.Len(t, rec.events, 2)
	ok, failed := rec.events[0], rec.events[1]
	assert.Equal(t, ResultSuccess, ok.Result)
	assert.Equal(t, "req-7", ok.RequestID)
	assert.Equal(t, "looks right", ok.Details["comment"])
	assert.Equal(t, ResultFailure, failed.Result)
	assert.Equal(t, "invalid transition", failed.Error)
}

func TestZapAuditLogger_LevelByResult(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := NewZapAuditLogger(zap.New(core))

	require.NoError(t, l.Log(context.Background(), Event{ID: "1", Result: ResultSuccess}))
	require.NoError(t, l.Log(context.Background(), Event{ID: "2", Result: ResultFailure, Error: "nope"}))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, "nope", entries[1].ContextMap()["audit_error"])
}
