// Package display shows notifications to the user.
//
// Drivers:
//   - dbus: freedesktop notifications on the session bus; clicks come back as
//     ActionInvoked signals
//   - telegram: a chat message with a link button
//   - log: headless, the notification is only logged
//
// Every driver remembers what it showed so a click reported later (signal or
// HTTP activation) can be routed with the original link data.
package display

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"jiranotifier/internal/background"
	"jiranotifier/internal/host"
	"jiranotifier/internal/notification"
	logx "jiranotifier/pkg/logx"
)

const (
	DriverDBus     = "dbus"
	DriverTelegram = "telegram"
	DriverLog      = "log"

	defaultAppName  = "jiranotifier"
	trackedCapacity = 256
)

type Config struct {
	Driver  string
	AppName string
	Icon    string
	// Expire is the display timeout hint. 0 lets the server decide.
	Expire   time.Duration
	Telegram TelegramConfig
}

type TelegramConfig struct {
	Token      string
	ChatID     int64
	ThreadID   int
	RatePerSec float64
}

// Driver is a host.Displayer that can also report clicks.
type Driver interface {
	host.Displayer
	// Lookup returns the activation for a notification still on screen.
	Lookup(id string) (background.Activation, bool)
	// Activations delivers clicks reported by the display server. Drivers
	// without click events return nil.
	Activations() <-chan background.Activation
	// Run listens for display events until ctx is done.
	Run(ctx context.Context) error
	Close() error
}

// New builds the configured driver.
func New(cfg Config, log logx.Logger) (Driver, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.AppName) == "" {
		cfg.AppName = defaultAppName
	}
	switch d := NormalizeDriver(cfg.Driver); d {
	case DriverLog:
		return NewLog(log), nil
	case DriverDBus:
		return NewDBus(cfg, log)
	case DriverTelegram:
		return NewTelegram(cfg.Telegram, log)
	default:
		return nil, fmt.Errorf("display: unknown driver %q", cfg.Driver)
	}
}

// NormalizeDriver maps aliases; empty means dbus.
func NormalizeDriver(driver string) string {
	switch d := strings.ToLower(strings.TrimSpace(driver)); d {
	case "", "dbus", "desktop", "freedesktop":
		return DriverDBus
	case "log", "none", "headless":
		return DriverLog
	case "telegram", "tg":
		return DriverTelegram
	default:
		return d
	}
}

// tracked is a bounded table of shown notifications keyed by handle id.
// The oldest entry is evicted first.
type tracked struct {
	mu    sync.Mutex
	cap   int
	order []string
	items map[string]trackedEntry
}

type trackedEntry struct {
	handle host.Handle
	data   notification.Data
}

func newTracked(capacity int) *tracked {
	if capacity <= 0 {
		capacity = trackedCapacity
	}
	return &tracked{cap: capacity, items: map[string]trackedEntry{}}
}

func (t *tracked) put(h host.Handle, data notification.Data) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := h.ID()
	if _, ok := t.items[id]; !ok {
		t.order = append(t.order, id)
	}
	t.items[id] = trackedEntry{handle: h, data: data}
	for len(t.order) > t.cap {
		delete(t.items, t.order[0])
		t.order = t.order[1:]
	}
}

func (t *tracked) get(id string) (background.Activation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.items[id]
	if !ok {
		return background.Activation{}, false
	}
	return background.Activation{Notification: e.handle, Data: e.data}, true
}

func (t *tracked) forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[id]; !ok {
		return
	}
	delete(t.items, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *tracked) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func resolve(opt host.DisplayOptions) (string, error) {
	return notification.ResolveTarget(opt.Data)
}
