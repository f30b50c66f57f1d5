package storage

import (
	"fmt"
	"strings"

	logx "jiranotifier/pkg/logx"
)

const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"

	defaultBusyTimeoutMS = 5000
)

// Open returns the configured store. The underlying files are not touched
// until the first operation (or an explicit Init).
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch NormalizeDriver(cfg.Driver) {
	case DriverSQLite:
		return openSQLite(cfg, log)
	case DriverFile:
		return openFile(cfg, log)
	default:
		return nil, wrapErr("open", fmt.Errorf("unknown driver %q", cfg.Driver))
	}
}

// NormalizeDriver maps driver aliases to their canonical name. Empty means sqlite.
func NormalizeDriver(driver string) string {
	switch d := strings.ToLower(strings.TrimSpace(driver)); d {
	case "", "sqlite", "sqlite3":
		return DriverSQLite
	case "file", "jsonl":
		return DriverFile
	default:
		return d
	}
}
