package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devradar/devradar/pkg/models"
)

func TestTruncateIfNeeded(t *testing.T) {
	t.Run("passes through normal payload", func(t *testing.T) {
		payload, _ := json.Marshal(models.Event{
			Type:      models.EventProjectAdded,
			ProjectID: "abc-123",
			Timestamp: time.Now(),
		})
		result := truncateIfNeeded(payload)
		assert.Contains(t, result, models.EventProjectAdded)
		assert.Contains(t, result, "abc-123")
	})

	t.Run("truncates oversized payload", func(t *testing.T) {
		longData := strings.Repeat("a", 8000)
		payload, _ := json.Marshal(models.Event{
			Type:      models.EventAnalysisCompleted,
			ProjectID: "proj-1",
			Data:      longData,
			Timestamp: time.Now(),
		})
		require.Greater(t, len(payload), 7900)

		result := truncateIfNeeded(payload)
		assert.Contains(t, result, `"truncated":true`)
		assert.Contains(t, result, models.EventAnalysisCompleted)
		assert.Contains(t, result, "proj-1")
		assert.Less(t, len(result), 300)
	})

	t.Run("does not truncate small payload", func(t *testing.T) {
		payload, _ := json.Marshal(models.Event{Type: models.EventProjectUpdated})
		result := truncateIfNeeded(payload)
		assert.NotContains(t, result, "truncated")
	})
}

func TestOutboxDropsOldestWhenFull(t *testing.T) {
	b := &Bus{}
	for i := 0; i < maxOutboxSize+10; i++ {
		b.enqueueOutbox(models.Event{Type: models.EventProjectAdded, ProjectID: string(rune('a' + i%26))})
	}
	assert.Len(t, b.outbox, maxOutboxSize)
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	b := New("", nil)
	var received []models.Event
	unsub := b.Subscribe(func(e models.Event) { received = append(received, e) })

	b.subsMu.RLock()
	handlers := len(b.subs)
	b.subsMu.RUnlock()
	require.Equal(t, 1, handlers)

	unsub()
	b.subsMu.RLock()
	handlers = len(b.subs)
	b.subsMu.RUnlock()
	assert.Equal(t, 0, handlers)
}

func TestReadyDefaultsFalseUntilStarted(t *testing.T) {
	b := New("", nil)
	assert.False(t, b.Ready())
}
