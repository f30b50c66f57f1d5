package storage

import (
	"context"
	"errors"
	"time"

	"jiranotifier/internal/notification"
)

// StoreName and SchemaVersion identify the on-disk layout. A store written by
// a newer version is rejected by Init.
const (
	StoreName     = "notifications"
	SchemaVersion = 1
)

var (
	// ErrStorage matches every error returned by a Store.
	ErrStorage = errors.New("storage error")

	ErrClosed             = errors.New("store closed")
	ErrUnsupportedVersion = errors.New("unsupported store version")
	// ErrRecordTooLarge is returned by the file driver for a record whose
	// encoded line exceeds its read limit.
	ErrRecordTooLarge = errors.New("record too large")
)

// Error is the StorageError kind: a persistence failure tagged with the
// operation that failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "storage " + e.Op + " failed"
	}
	return "storage " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrStorage }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// Store is the notification history.
//
// Init is idempotent; every other operation initializes the store lazily on
// first use, so calling Init explicitly is optional.
type Store interface {
	Init(ctx context.Context) error
	// Append assigns ID and Sequence from the store's durable counter.
	Append(ctx context.Context, f notification.Fields) (notification.Record, error)
	// ListAll returns every record, newest first. An empty store yields an
	// empty, non-nil slice.
	ListAll(ctx context.Context) ([]notification.Record, error)
	// Clear removes every record. The ID counter is not reset.
	Clear(ctx context.Context) error
	// Maintain runs driver housekeeping (checkpoint, compaction).
	Maintain(ctx context.Context) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file at Path
//   - "file": JSONL history; Path is used as the file prefix
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
