package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "jiranotifier/pkg/logx"
)

// MaintenanceOff disables scheduled store maintenance.
const MaintenanceOff = "off"

const defaultShutdownTimeout = 10 * time.Second

// maxDisplayExpire is the largest timeout the notification server accepts
// (int32 milliseconds).
const maxDisplayExpire = time.Duration(math.MaxInt32) * time.Millisecond

// Settings are the parsed durations and normalized values of a Config.
type Settings struct {
	StorageBusyTimeout time.Duration
	// Maintenance is empty when disabled.
	Maintenance string

	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration

	DisplayExpire time.Duration

	ClientsWriteTimeout time.Duration

	ShutdownTimeout time.Duration
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Resolve parses every duration and checks the values that cannot be caught
// by the strict decoder. All problems are reported together.
func (c *Config) Resolve() (Settings, error) {
	var (
		s    Settings
		errs []error
	)
	if c == nil {
		return s, errors.New("config is nil")
	}
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := parseDuration(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	s.StorageBusyTimeout = dur("storage.busy_timeout", c.Storage.BusyTimeout, 0)
	switch spec := strings.TrimSpace(c.Storage.Maintenance); {
	case strings.EqualFold(spec, MaintenanceOff):
	case spec == "":
		s.Maintenance = "@every 6h"
	default:
		if _, err := cronParser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("storage.maintenance: %w", err))
		}
		s.Maintenance = spec
	}

	s.ServerReadTimeout = dur("server.read_timeout", c.Server.ReadTimeout, 0)
	s.ServerWriteTimeout = dur("server.write_timeout", c.Server.WriteTimeout, 0)
	s.ServerIdleTimeout = dur("server.idle_timeout", c.Server.IdleTimeout, 0)
	if c.Server.MaxPayloadBytes < 0 {
		errs = append(errs, errors.New("server.max_payload_bytes: must be >= 0"))
	}

	s.DisplayExpire = dur("display.expire", c.Display.Expire, 0)
	if s.DisplayExpire > maxDisplayExpire {
		errs = append(errs, fmt.Errorf("display.expire: must be <= %s", maxDisplayExpire))
	}
	if c.Display.Telegram.RatePerSec < 0 {
		errs = append(errs, errors.New("display.telegram.rate_per_sec: must be >= 0"))
	}

	if c.Clients.QueueSize < 0 {
		errs = append(errs, errors.New("clients.queue_size: must be >= 0"))
	}
	s.ClientsWriteTimeout = dur("clients.write_timeout", c.Clients.WriteTimeout, 0)
	for _, o := range c.Clients.AllowedOrigins {
		if u, err := url.Parse(strings.TrimSpace(o)); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("clients.allowed_origins: invalid origin %q", o))
		}
	}

	if c.NATS.Enabled && strings.TrimSpace(c.NATS.Subject) != "" && strings.ContainsAny(c.NATS.Subject, " \t") {
		errs = append(errs, fmt.Errorf("nats.subject: invalid subject %q", c.NATS.Subject))
	}

	s.ShutdownTimeout = dur("shutdown.timeout", c.Shutdown.Timeout, defaultShutdownTimeout)

	return s, errors.Join(errs...)
}

// LogConfig maps the logging section onto logx.
func (c *Config) LogConfig() logx.Config {
	if c == nil {
		return logx.Config{Level: "info", Console: true}
	}
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
	}
}

// parseDuration returns def for an empty or zero value.
func parseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", field, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", field, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
