package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/devradar/devradar/pkg/models"
)

// ProjectAddedPayload is the Data payload carried by a project:added event
// once a settled watcher change has been validated and its metadata
// extracted.
type ProjectAddedPayload struct {
	Path           string    `json:"path"`
	Type           string    `json:"type"`
	Framework      string    `json:"framework,omitempty"`
	Language       string    `json:"language,omitempty"`
	PackageManager string    `json:"packageManager,omitempty"`
	FileCount      int       `json:"fileCount"`
	LinesOfCode    int       `json:"linesOfCode"`
	Size           int64     `json:"size"`
	LastModified   time.Time `json:"lastModified"`
}

// ProjectRemovedPayload is the Data payload carried by a project:removed
// event.
type ProjectRemovedPayload struct {
	Path string `json:"path"`
}

// Publisher is the subset of the event bus the Bridge needs to publish a
// validated change.
type Publisher interface {
	Publish(ctx context.Context, evt models.Event) error
}

// Bridge drains a Watcher's settled changes, validates (and, for
// additions, extracts metadata for) each one, and publishes the result as
// a project:added or project:removed bus event. It is the glue between
// the watcher/validator pair and the event bus; the Discovery Subscriber
// does the actual persistence on the other end of the bus.
type Bridge struct {
	watcher *Watcher
	bus     Publisher
}

// NewBridge creates a Bridge over watcher, publishing through bus.
func NewBridge(watcher *Watcher, bus Publisher) *Bridge {
	return &Bridge{watcher: watcher, bus: bus}
}

// Run consumes watcher.Changes() until ctx is cancelled or the channel
// closes.
func (br *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-br.watcher.Changes():
			if !ok {
				return
			}
			br.handle(ctx, change)
		}
	}
}

// Drain processes every change already buffered on the watcher's channel
// without waiting for new ones. The shutdown path calls it after
// Watcher.FlushAll, with a fresh context, so debounced discoveries still
// reach the bus before it closes.
func (br *Bridge) Drain(ctx context.Context) {
	for {
		select {
		case change := <-br.watcher.Changes():
			br.handle(ctx, change)
		default:
			return
		}
	}
}

func (br *Bridge) handle(ctx context.Context, change Change) {
	switch change.Kind {
	case ChangeRemoved:
		if err := br.bus.Publish(ctx, models.Event{
			Type: models.EventProjectRemoved,
			Data: ProjectRemovedPayload{Path: change.Path},
		}); err != nil {
			slog.Error("discovery: failed to publish project:removed", "path", change.Path, "error", err)
		}
	case ChangeAdded:
		result := Validate(change.Path)
		if !result.Valid {
			return
		}
		meta, err := Extract(change.Path)
		if err != nil {
			slog.Warn("discovery: metadata extraction failed, dropping change", "path", change.Path, "error", err)
			return
		}
		language := result.Language
		if language == "" {
			language = meta.PrimaryLanguage
		}
		payload := ProjectAddedPayload{
			Path:           change.Path,
			Type:           result.Type,
			Framework:      result.Framework,
			Language:       language,
			PackageManager: result.PackageManager,
			FileCount:      meta.FileCount,
			LinesOfCode:    meta.LinesOfCode,
			Size:           meta.Size,
			LastModified:   meta.LastModified,
		}
		if err := br.bus.Publish(ctx, models.Event{Type: models.EventProjectAdded, Data: payload}); err != nil {
			slog.Error("discovery: failed to publish project:added", "path", change.Path, "error", err)
		}
	}
}
