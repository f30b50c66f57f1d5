package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"jiranotifier/internal/notification"
	logx "jiranotifier/pkg/logx"
)

const maxRecordLine = 1 << 20

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.notifications.jsonl (append-only JSON Lines)
//   - <prefix>.meta.json           (store name, version and last assigned id)
//
// The meta file is the counter. It is read from disk on every append and
// replaced atomically before the record line is written, so an id is never
// handed out twice even if the record write fails afterwards.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	recordsPath string
	metaPath    string

	ready  bool
	closed bool
}

type fileMeta struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
	LastID  int64  `json:"last_id"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, wrapErr("open", errors.New("storage.path is required for file driver"))
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	return &fileStore{
		log:         log,
		recordsPath: prefix + ".notifications.jsonl",
		metaPath:    prefix + ".meta.json",
	}, nil
}

func (s *fileStore) Init(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return wrapErr("init", s.ensureLocked())
}

func (s *fileStore) ensureLocked() error {
	if s.closed {
		return ErrClosed
	}
	if s.ready {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.recordsPath), 0o755); err != nil {
		return err
	}

	meta, err := s.readMeta()
	switch {
	case errors.Is(err, os.ErrNotExist):
		meta = fileMeta{Name: StoreName, Version: SchemaVersion}
		if err := s.writeMeta(meta); err != nil {
			return err
		}
		s.log.Info("store initialized", logx.String("store", StoreName), logx.Int("version", SchemaVersion), logx.String("path", s.recordsPath))
	case err != nil:
		return err
	case meta.Version > SchemaVersion:
		return fmt.Errorf("%w: %s at version %d, want <= %d", ErrUnsupportedVersion, meta.Name, meta.Version, SchemaVersion)
	}

	f, err := os.OpenFile(s.recordsPath, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.ready = true
	return nil
}

func (s *fileStore) Append(ctx context.Context, f notification.Fields) (notification.Record, error) {
	if err := ctx.Err(); err != nil {
		return notification.Record{}, wrapErr("append", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLocked(); err != nil {
		return notification.Record{}, wrapErr("append", err)
	}
	rec, err := s.appendLocked(f)
	return rec, wrapErr("append", err)
}

func (s *fileStore) appendLocked(f notification.Fields) (notification.Record, error) {
	meta, err := s.readMeta()
	if err != nil {
		return notification.Record{}, err
	}
	rec := f.Record()
	rec.ID = meta.LastID + 1
	rec.Sequence = rec.ID

	line, err := json.Marshal(rec)
	if err != nil {
		return notification.Record{}, err
	}
	if len(line) > maxRecordLine {
		return notification.Record{}, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(line))
	}
	line = append(line, '\n')

	meta.LastID = rec.ID
	if err := s.writeMeta(meta); err != nil {
		return notification.Record{}, err
	}

	out, err := os.OpenFile(s.recordsPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return notification.Record{}, err
	}
	defer out.Close()
	// A torn tail must not swallow the new line.
	if st, err := out.Stat(); err == nil && st.Size() > 0 {
		last := make([]byte, 1)
		if _, err := out.ReadAt(last, st.Size()-1); err == nil && last[0] != '\n' {
			line = append([]byte{'\n'}, line...)
		}
	}
	if _, err := out.Write(line); err != nil {
		return notification.Record{}, err
	}
	if err := out.Sync(); err != nil {
		return notification.Record{}, err
	}
	return rec, nil
}

func (s *fileStore) ListAll(ctx context.Context) ([]notification.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("list", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLocked(); err != nil {
		return nil, wrapErr("list", err)
	}
	out, _, err := s.readRecords()
	if err != nil {
		return nil, wrapErr("list", err)
	}
	slices.SortStableFunc(out, notification.NewestFirst)
	return out, nil
}

func (s *fileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("clear", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLocked(); err != nil {
		return wrapErr("clear", err)
	}
	if err := os.Truncate(s.recordsPath, 0); err != nil {
		return wrapErr("clear", err)
	}
	s.log.Info("history cleared", logx.String("path", s.recordsPath))
	return nil
}

// Maintain rewrites the history without unreadable lines (torn writes).
func (s *fileStore) Maintain(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("maintain", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLocked(); err != nil {
		return wrapErr("maintain", err)
	}
	recs, skipped, err := s.readRecords()
	if err != nil {
		return wrapErr("maintain", err)
	}
	if skipped == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return wrapErr("maintain", err)
		}
	}
	if err := writeFileAtomic(s.recordsPath, buf.Bytes()); err != nil {
		return wrapErr("maintain", err)
	}
	s.log.Info("history compacted", logx.Int("dropped_lines", skipped), logx.Int("records", len(recs)))
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) readRecords() ([]notification.Record, int, error) {
	f, err := os.Open(s.recordsPath)
	if errors.Is(err, os.ErrNotExist) {
		return []notification.Record{}, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	out := []notification.Record{}
	skipped := 0
	br := bufio.NewReaderSize(f, 64*1024)
	for {
		raw, err := br.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, 0, err
		}
		line := bytes.TrimSpace(raw)
		switch {
		case len(line) == 0:
		case len(line) > maxRecordLine:
			// Append refuses these; treat one as torn.
			skipped++
		default:
			var r notification.Record
			if jerr := json.Unmarshal(line, &r); jerr != nil || r.ID <= 0 {
				skipped++
			} else {
				out = append(out, r)
			}
		}
		if err != nil {
			return out, skipped, nil
		}
	}
}

func (s *fileStore) readMeta() (fileMeta, error) {
	f, err := os.Open(s.metaPath)
	if err != nil {
		return fileMeta{}, err
	}
	defer f.Close()
	var m fileMeta
	if err := json.NewDecoder(io.LimitReader(f, 4096)).Decode(&m); err != nil {
		return fileMeta{}, fmt.Errorf("read %s: %w", s.metaPath, err)
	}
	return m, nil
}

func (s *fileStore) writeMeta(m fileMeta) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.metaPath, b)
}

func writeFileAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
