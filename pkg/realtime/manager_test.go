package realtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devradar/devradar/pkg/events"
	"github.com/devradar/devradar/pkg/models"
)

func TestFilterMatchesEmptyMeansAll(t *testing.T) {
	f := filter{}
	assert.True(t, f.matches(models.Event{Type: models.EventProjectAdded, ProjectID: "p1"}))
}

func TestFilterMatchesProjectIDSet(t *testing.T) {
	f := filter{projectIDs: toSet([]string{"p1", "p2"})}
	assert.True(t, f.matches(models.Event{ProjectID: "p1"}))
	assert.False(t, f.matches(models.Event{ProjectID: "p3"}))
}

func TestFilterMatchesEventTypeSet(t *testing.T) {
	f := filter{eventTypes: toSet([]string{models.EventAnalysisCompleted})}
	assert.True(t, f.matches(models.Event{Type: models.EventAnalysisCompleted, ProjectID: "p1"}))
	assert.False(t, f.matches(models.Event{Type: models.EventAnalysisFailed, ProjectID: "p1"}))
}

func TestFilterMatchesBothAxesAreAnded(t *testing.T) {
	f := filter{
		projectIDs: toSet([]string{"p1"}),
		eventTypes: toSet([]string{models.EventAnalysisCompleted}),
	}
	assert.True(t, f.matches(models.Event{Type: models.EventAnalysisCompleted, ProjectID: "p1"}))
	assert.False(t, f.matches(models.Event{Type: models.EventAnalysisCompleted, ProjectID: "p2"}))
	assert.False(t, f.matches(models.Event{Type: models.EventAnalysisFailed, ProjectID: "p1"}))
}

type fakeBus struct {
	handler       events.Handler
	unsubscribed  bool
	catchupEvents []events.CatchupEvent
}

func (f *fakeBus) Subscribe(fn events.Handler) func() {
	f.handler = fn
	return func() { f.unsubscribed = true }
}

func (f *fakeBus) Catchup(ctx context.Context, projectID string, sinceID int64) ([]events.CatchupEvent, bool, error) {
	return f.catchupEvents, false, nil
}

func TestManagerStartSubscribesAndShutdownUnsubscribes(t *testing.T) {
	bus := &fakeBus{}
	m := NewManager(bus, 0)
	m.Start()
	assert.NotNil(t, bus.handler)

	m.Shutdown(context.Background())
	assert.True(t, bus.unsubscribed)
}

func TestManagerActiveConnectionsStartsAtZero(t *testing.T) {
	m := NewManager(&fakeBus{}, 0)
	assert.Equal(t, 0, m.ActiveConnections())
	assert.Equal(t, defaultKeepalive, m.keepalive)
}
