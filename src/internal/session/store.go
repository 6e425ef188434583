package session

import (
	"context"
	"time"
)

type HealthStatus string

const (
	Healthy  HealthStatus = "healthy"
	Degraded HealthStatus = "degraded"
)

// Mutation edits the latest stored value of a record inside a store transaction. It may run more
// than once. A returned error aborts the write and reaches the caller unchanged.
type Mutation func(s *Session) error

// TTLFunc gives the key lifetime of the record about to be written.
type TTLFunc func(s *Session) time.Duration

// Store persists session records. Every method is bounded by the store timeout and reports
// I/O failures as models.ErrStoreUnavailable.
type Store interface {
	// Get returns nil, nil when no record exists for sessionID.
	Get(ctx context.Context, sessionID string) (*Session, error)
	// Create inserts a new record; models.ErrConflict if the id is taken.
	Create(ctx context.Context, s *Session, ttl time.Duration) error
	// Update applies mutate to the latest stored record and writes the result, retrying when a
	// concurrent writer commits first; models.ErrSessionNotFound if the record is gone.
	Update(ctx context.Context, sessionID string, mutate Mutation, ttl TTLFunc) (*Session, error)
	// Swap moves the record of oldID to newID in one atomic step, applying mutate on the way;
	// models.ErrConflict if oldID is gone or newID is taken.
	Swap(ctx context.Context, oldID, newID string, mutate Mutation, ttl TTLFunc) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
	// DeleteIf deletes the record only if pred holds for its current value.
	DeleteIf(ctx context.Context, sessionID string, pred func(*Session) bool) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]*Session, error)
	ListAll(ctx context.Context) ([]*Session, error)
	DeleteAllByUser(ctx context.Context, userID string) (int64, error)
	// PruneIndex drops per-user index entries whose record no longer exists.
	PruneIndex(ctx context.Context) (int64, error)
	Health(ctx context.Context) HealthStatus
}

// MetricsRecorder keeps lifetime counters of session events.
type MetricsRecorder interface {
	Incr(ctx context.Context, name string)
	Counters(ctx context.Context) (map[string]int64, error)
}
