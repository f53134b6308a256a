// Package gateway is the narrow coupling point between the processing
// worker and the CRUD layer: read a file row's status, move it through
// the state machine, commit the terminal READY fields.
package gateway

import (
	"context"
	"database/sql"
	"errors"
)

// ErrRecordNotFound means the file row, or its owning entity, no longer
// exists. The worker classifies it as permanent.
var ErrRecordNotFound = errors.New("record not found")

// Status is the file row state machine. Transitions only move forward:
// queued -> processing -> ready | failed. A skip leaves queued behind
// without touching the row.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed for this
// file id.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Result carries the fields committed together with StatusReady.
type Result struct {
	ProcessedKey string
	URL          string
	Width        int
	Height       int
}

// Gateway is implemented once per owning-entity family. Any entity type
// wanting media processing implements these three operations.
type Gateway interface {
	// Status returns the current processing status of the file row.
	Status(ctx context.Context, fileID int64) (Status, error)

	// SetStatus updates the status field alone.
	SetStatus(ctx context.Context, fileID int64, status Status) error

	// CommitResult atomically writes the terminal READY fields. It fails
	// with ErrRecordNotFound when either the file row or its owning
	// entity row was deleted concurrently.
	CommitResult(ctx context.Context, ownerID, fileID int64, res Result) error
}

// DBTX is the database handle surface the gateways need. *sql.DB and
// *sql.Tx both satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
