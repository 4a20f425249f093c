// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"time"

	"site_watcher/internal/diff"
	"site_watcher/internal/model"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	// Snapshot returns every tracked announcement, active and removed, with
	// the content recorded by its latest new or modified change.
	Snapshot(ctx context.Context) ([]model.Tracked, error)
	// CommitScan applies a scan's plan atomically and returns the persisted
	// changes in plan order.
	CommitScan(ctx context.Context, scanID string, detectedAt time.Time, plan diff.Plan) ([]model.Change, error)

	ListAnnouncements(ctx context.Context, limit int) ([]model.Announcement, error)
	CountActive(ctx context.Context) (int, error)
	ListChanges(ctx context.Context, limit int) ([]model.Change, error)

	GetSettings(ctx context.Context) (model.Settings, error)
	PutSettings(ctx context.Context, s model.Settings) error

	GetStatus(ctx context.Context) (model.ScanStatus, error)
	PutStatus(ctx context.Context, st model.ScanStatus) error

	Close() error
}

// Error is a persistence failure. A failed CommitScan leaves previously
// committed state untouched.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
