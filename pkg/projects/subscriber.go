package projects

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/devradar/devradar/pkg/discovery"
	"github.com/devradar/devradar/pkg/models"
)

// Bus is the subset of the event bus the subscriber needs: receiving raw
// discovery events and publishing the persisted result back out.
type Bus interface {
	Subscribe(fn func(models.Event)) (unsubscribe func())
	Publish(ctx context.Context, evt models.Event) error
}

// Enqueuer is the subset of the analysis queue the subscriber uses to
// schedule analysis for newly-discovered projects.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload models.JobPayload) (*models.Job, error)
}

// ProjectBroadcast is the Data payload of the project:added/updated/removed
// events the subscriber republishes after persistence. Its distinct shape
// (a single "project" key) lets the subscriber tell its own rebroadcasts
// apart from the raw discovery.ProjectAddedPayload it consumes, which
// would otherwise be reprocessed as a new discovery and loop forever.
type ProjectBroadcast struct {
	Project *models.Project `json:"project"`
}

// Subscriber is the Discovery Subscriber: it persists
// discovered/removed projects and enqueues analysis for new discoveries.
type Subscriber struct {
	store *Store
	bus   Bus
	queue Enqueuer
}

// NewSubscriber wires a Subscriber over store, bus, and queue.
func NewSubscriber(store *Store, bus Bus, queue Enqueuer) *Subscriber {
	return &Subscriber{store: store, bus: bus, queue: queue}
}

// Run registers the subscriber on bus and processes discovery events until
// ctx is cancelled. Bus handlers run on the bus's receive goroutine, so the
// handler only forwards into a buffered channel; the persistence work
// (upsert, enqueue, republish) happens here on the subscriber's own
// goroutine. The single consumer also preserves per-path event order.
func (s *Subscriber) Run(ctx context.Context) {
	incoming := make(chan models.Event, 256)
	unsub := s.bus.Subscribe(func(evt models.Event) {
		switch evt.Type {
		case models.EventProjectAdded, models.EventProjectRemoved:
			select {
			case incoming <- evt:
			default:
				slog.Warn("projects: discovery event buffer full, dropping", "type", evt.Type)
			}
		}
	})
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-incoming:
			switch evt.Type {
			case models.EventProjectAdded:
				s.handleAdded(ctx, evt)
			case models.EventProjectRemoved:
				s.handleRemoved(ctx, evt)
			}
		}
	}
}

func decodeData[T any](data any) (T, error) {
	var out T
	raw, err := json.Marshal(data)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(raw, &out)
	return out, err
}

func (s *Subscriber) handleAdded(ctx context.Context, evt models.Event) {
	payload, err := decodeData[discovery.ProjectAddedPayload](evt.Data)
	if err != nil || payload.Path == "" {
		return // not a raw discovery event — most likely our own rebroadcast
	}

	if _, err := os.Stat(payload.Path); err != nil {
		return // vanished between watcher settle and subscriber processing
	}

	project, created, err := s.store.UpsertDiscovered(ctx, payload.Path, DiscoveredFields{
		Name:           projectNameFromPath(payload.Path),
		Framework:      payload.Framework,
		Language:       payload.Language,
		PackageManager: payload.PackageManager,
		FileCount:      payload.FileCount,
		LinesOfCode:    payload.LinesOfCode,
		Size:           payload.Size,
		LastModified:   payload.LastModified,
	})
	if err != nil {
		slog.Error("projects: upsert failed", "path", payload.Path, "error", err)
		return
	}

	topic := models.EventProjectUpdated
	if created {
		topic = models.EventProjectAdded
	}
	if err := s.bus.Publish(ctx, models.Event{
		Type:      topic,
		ProjectID: project.ID,
		Data:      ProjectBroadcast{Project: project},
	}); err != nil {
		slog.Error("projects: failed to republish", "project_id", project.ID, "error", err)
	}

	if created && s.queue != nil {
		_, err := s.queue.Enqueue(ctx, models.JobPayload{
			ProjectID:   project.ID,
			ProjectPath: project.Path,
			ProjectName: project.Name,
			Priority:    models.PriorityNormal,
		})
		if err != nil {
			slog.Error("projects: failed to enqueue analysis", "project_id", project.ID, "error", err)
			return
		}
		if err := s.store.UpdateStatus(ctx, project.ID, models.StatusQueued); err != nil {
			slog.Error("projects: failed to mark queued", "project_id", project.ID, "error", err)
		}
	}
}

func (s *Subscriber) handleRemoved(ctx context.Context, evt models.Event) {
	payload, err := decodeData[discovery.ProjectRemovedPayload](evt.Data)
	if err != nil || payload.Path == "" {
		return
	}

	project, err := s.store.MarkRemoved(ctx, payload.Path)
	if err != nil {
		if err == ErrNotFound {
			slog.Warn("projects: removed path has no project row", "path", payload.Path)
			return
		}
		slog.Error("projects: mark removed failed", "path", payload.Path, "error", err)
		return
	}

	if err := s.bus.Publish(ctx, models.Event{
		Type:      models.EventProjectRemoved,
		ProjectID: project.ID,
		Data:      ProjectBroadcast{Project: project},
	}); err != nil {
		slog.Error("projects: failed to republish removal", "project_id", project.ID, "error", err)
	}
}

func projectNameFromPath(path string) string {
	if path == "" {
		return path
	}
	i := len(path) - 1
	for i > 0 && (path[i] == '/' || path[i] == '\\') {
		i--
	}
	end := i + 1
	for i >= 0 && path[i] != '/' && path[i] != '\\' {
		i--
	}
	return path[i+1 : end]
}
