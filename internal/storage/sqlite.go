package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"jiranotifier/internal/notification"
	logx "jiranotifier/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	initMu sync.Mutex
	ready  bool
	closed atomic.Bool
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, wrapErr("open", errors.New("sqlite path is required"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, wrapErr("open", err)
	}

	busy := int64(defaultBusyTimeoutMS)
	if cfg.BusyTimeout > 0 {
		busy = cfg.BusyTimeout.Milliseconds()
	}
	// Pragmas go in the DSN so they survive the pool reopening the connection.
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	dsn := path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrapErr("open", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	return wrapErr("init", s.ensure(ctx))
}

func (s *sqliteStore) ensure(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.ready {
		return nil
	}
	if err := s.migrate(ctx); err != nil {
		return err
	}
	s.ready = true
	return nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var version int
	if err := tx.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return err
	}
	switch {
	case version == SchemaVersion:
		return tx.Commit()
	case version > SchemaVersion:
		return fmt.Errorf("%w: %s at version %d, want <= %d", ErrUnsupportedVersion, StoreName, version, SchemaVersion)
	}

	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, string(b)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Info("store initialized", logx.String("store", StoreName), logx.Int("version", SchemaVersion), logx.Int("from", version))
	return nil
}

func (s *sqliteStore) Append(ctx context.Context, f notification.Fields) (notification.Record, error) {
	if err := s.ensure(ctx); err != nil {
		return notification.Record{}, wrapErr("append", err)
	}
	rec, err := s.append(ctx, f)
	return rec, wrapErr("append", err)
}

func (s *sqliteStore) append(ctx context.Context, f notification.Fields) (notification.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return notification.Record{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO notifications(title, body, issue_key, base_url, url, timestamp)
		 VALUES(?,?,?,?,?,?)`,
		f.Title, f.Body, nullStr(f.IssueKey), nullStr(f.BaseURL), nullStr(f.URL), f.Timestamp,
	)
	if err != nil {
		return notification.Record{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return notification.Record{}, err
	}
	// The AUTOINCREMENT key is the insertion counter; sequence mirrors it.
	if _, err := tx.ExecContext(ctx, `UPDATE notifications SET sequence = ? WHERE id = ?`, id, id); err != nil {
		return notification.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return notification.Record{}, err
	}

	rec := f.Record()
	rec.ID = id
	rec.Sequence = id
	return rec, nil
}

func (s *sqliteStore) ListAll(ctx context.Context) ([]notification.Record, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, wrapErr("list", err)
	}
	out, err := s.listAll(ctx)
	if err != nil {
		return nil, wrapErr("list", err)
	}
	return out, nil
}

func (s *sqliteStore) listAll(ctx context.Context) ([]notification.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, title, body, issue_key, base_url, url, timestamp, sequence
		 FROM notifications
		 ORDER BY timestamp DESC, sequence DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []notification.Record{}
	for rows.Next() {
		var (
			r                    notification.Record
			issueKey, base, link sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Title, &r.Body, &issueKey, &base, &link, &r.Timestamp, &r.Sequence); err != nil {
			return nil, err
		}
		r.IssueKey = issueKey.String
		r.BaseURL = base.String
		r.URL = link.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, tx.Commit()
}

func (s *sqliteStore) Clear(ctx context.Context) error {
	if err := s.ensure(ctx); err != nil {
		return wrapErr("clear", err)
	}
	return wrapErr("clear", s.clear(ctx))
}

func (s *sqliteStore) clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM notifications`)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	s.log.Info("history cleared", logx.Int64("removed", n))
	return nil
}

func (s *sqliteStore) Maintain(ctx context.Context) error {
	if err := s.ensure(ctx); err != nil {
		return wrapErr("maintain", err)
	}
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return wrapErr("maintain", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if s.closed.Swap(true) {
		return nil
	}
	return wrapErr("close", s.db.Close())
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
