package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/safecoach/internal/domain"
	"github.com/ashureev/safecoach/internal/safety"
)

func TestStartPruneWorker_PrunesOnStartAndStops(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordSafetyTrigger(ctx, safety.TriggerEvent{
		Event:     safety.EventSafetyTrigger,
		Category:  domain.CategoryJailbreak,
		SessionID: "old",
		Timestamp: time.Now().Add(-48 * time.Hour),
	}))
	require.NoError(t, s.RecordSafetyTrigger(ctx, safety.TriggerEvent{
		Event:     safety.EventSafetyTrigger,
		Category:  domain.CategoryJailbreak,
		SessionID: "new",
		Timestamp: time.Now(),
	}))

	workerCtx, cancel := context.WithCancel(ctx)
	done := StartPruneWorker(workerCtx, s, time.Hour, 24*time.Hour)

	assert.Eventually(t, func() bool {
		events, err := s.ListSafetyEvents(ctx, "old", 10)
		return err == nil && len(events) == 0
	}, 2*time.Second, 10*time.Millisecond)

	events, err := s.ListSafetyEvents(ctx, "new", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("prune worker did not stop")
	}
}
