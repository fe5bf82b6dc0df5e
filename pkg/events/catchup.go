package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/devradar/devradar/pkg/models"
)

// catchupLimit caps how many persisted events a single catchup query
// returns; one extra row is fetched so the caller can detect overflow
// without a separate COUNT query.
const catchupLimit = 200

// CatchupEvent pairs a persisted recent_events row id with its decoded
// envelope, so callers can track a high-water mark for the next catchup.
type CatchupEvent struct {
	ID    int64
	Event models.Event
}

// Catchup returns events persisted after sinceID for the given project
// (or every project, if projectID is empty), oldest-first, capped at
// catchupLimit. overflow is true when more matching rows exist than were
// returned, signalling the caller to fall back to a full resync.
func (b *Bus) Catchup(ctx context.Context, projectID string, sinceID int64) (events []CatchupEvent, overflow bool, err error) {
	var rows pgx.Rows
	if projectID != "" {
		rows, err = b.pool.Query(ctx,
			`SELECT id, payload FROM recent_events WHERE id > $1 AND project_id = $2 ORDER BY id ASC LIMIT $3`,
			sinceID, projectID, catchupLimit+1)
	} else {
		rows, err = b.pool.Query(ctx,
			`SELECT id, payload FROM recent_events WHERE id > $1 ORDER BY id ASC LIMIT $2`,
			sinceID, catchupLimit+1)
	}
	if err != nil {
		return nil, false, fmt.Errorf("events: catchup query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, false, fmt.Errorf("events: catchup scan: %w", err)
		}
		var evt models.Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			continue
		}
		events = append(events, CatchupEvent{ID: id, Event: evt})
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("events: catchup rows: %w", err)
	}

	if len(events) > catchupLimit {
		events = events[:catchupLimit]
		overflow = true
	}
	return events, overflow, nil
}
