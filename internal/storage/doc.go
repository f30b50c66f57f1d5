// Package storage is the durable notification history.
//
// Two drivers are available:
//   - "sqlite": SQLite database file (default). IDs come from the engine's
//     AUTOINCREMENT key generator, so they are never reused, even after Clear.
//   - "file": dependency-free JSONL history plus a counter file that is re-read
//     on every append. Single-process only.
//
// Every operation runs in its own scope: it acquires what it needs, does the
// work, and releases it before returning, on success and failure alike. All
// errors are *Error values and match ErrStorage with errors.Is.
package storage
