package audit

import (
	"context"
	"time"
)

// Store is the query side of the audit trail, used by the compliance review
// endpoint and the retention job. PostgresSink implements both Sink and
// Store.
type Store interface {
	Search(ctx context.Context, filter Filter) ([]*Event, error)
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}
