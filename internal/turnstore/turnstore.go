// Package turnstore defines the turn persistence sink consumed by the
// Coordinator. Only completed turns are ever written; errored and cancelled
// turns never reach the store, so persisted history never contains truncated
// assistant output.
package turnstore

import (
	"context"
	"time"
)

// Record is the durable form of one completed conversation turn.
type Record struct {
	TurnID    string
	SessionID string
	Role      string
	Content   string
	Provider  string
	Model     string
	Timestamp time.Time
}

// Store persists completed turns. Save is invoked at most once per turn.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Close() error
}
