package events

import (
	"context"
	"fmt"
	"time"
)

// PruneEvents deletes recent_events rows older than olderThan, so the
// catchup table doesn't grow unbounded.
func (b *Bus) PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := b.pool.Exec(ctx,
		`DELETE FROM recent_events WHERE created_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())),
	)
	if err != nil {
		return 0, fmt.Errorf("events: prune recent_events: %w", err)
	}
	return tag.RowsAffected(), nil
}
