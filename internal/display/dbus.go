package display

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"jiranotifier/internal/background"
	"jiranotifier/internal/host"
	logx "jiranotifier/pkg/logx"
)

const (
	notifyDest      = "org.freedesktop.Notifications"
	notifyPath      = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyIface     = "org.freedesktop.Notifications"
	notifyMethod    = notifyIface + ".Notify"
	closeMethod     = notifyIface + ".CloseNotification"
	actionSignal    = notifyIface + ".ActionInvoked"
	closedSignal    = notifyIface + ".NotificationClosed"
	defaultActionID = "default"
)

// DBus shows freedesktop notifications on the session bus.
type DBus struct {
	cfg  Config
	log  logx.Logger
	conn *dbus.Conn
	obj  dbus.BusObject

	shown *tracked
	out   chan background.Activation

	closeOnce sync.Once
}

func NewDBus(cfg Config, log logx.Logger) (*DBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("dbus: connect session bus: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DBus{
		cfg:   cfg,
		log:   log,
		conn:  conn,
		obj:   conn.Object(notifyDest, notifyPath),
		shown: newTracked(trackedCapacity),
		out:   make(chan background.Activation, 16),
	}, nil
}

func (d *DBus) Show(ctx context.Context, title string, opt host.DisplayOptions) (host.Handle, error) {
	var id uint32
	call := d.obj.CallWithContext(ctx, notifyMethod, 0, notifyArgs(d.cfg, title, opt)...)
	if err := call.Store(&id); err != nil {
		return nil, fmt.Errorf("dbus: notify: %w", err)
	}
	h := &dbusHandle{id: id, d: d}
	d.shown.put(h, opt.Data)
	return h, nil
}

// notifyArgs builds the Notify call arguments. The default action is what
// the server invokes when the bubble is clicked. Every notification gets one
// so a click always reaches the router, which closes it even without a link.
func notifyArgs(cfg Config, title string, opt host.DisplayOptions) []any {
	return []any{
		cfg.AppName,
		uint32(0),
		cfg.Icon,
		title,
		opt.Body,
		[]string{defaultActionID, "Open"},
		map[string]dbus.Variant{"category": dbus.MakeVariant("im.received")},
		expireMillis(cfg.Expire),
	}
}

// expireMillis maps the configured expiry onto the Notify timeout: -1 lets
// the server decide, larger values are clamped to int32.
func expireMillis(d time.Duration) int32 {
	if d <= 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(ms)
}

func (d *DBus) Lookup(id string) (background.Activation, bool) { return d.shown.get(id) }

func (d *DBus) Activations() <-chan background.Activation { return d.out }

// Run forwards ActionInvoked signals as activations until ctx is done.
func (d *DBus) Run(ctx context.Context) error {
	opts := []dbus.MatchOption{
		dbus.WithMatchInterface(notifyIface),
		dbus.WithMatchObjectPath(notifyPath),
	}
	if err := d.conn.AddMatchSignalContext(ctx, opts...); err != nil {
		return fmt.Errorf("dbus: add match: %w", err)
	}
	defer func() { _ = d.conn.RemoveMatchSignal(opts...) }()

	signals := make(chan *dbus.Signal, 32)
	d.conn.Signal(signals)
	defer d.conn.RemoveSignal(signals)

	d.log.Info("listening for notification events")
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return errors.New("dbus: signal channel closed")
			}
			d.handleSignal(ctx, sig)
		}
	}
}

func (d *DBus) handleSignal(ctx context.Context, sig *dbus.Signal) {
	if sig == nil || len(sig.Body) == 0 {
		return
	}
	id, ok := sig.Body[0].(uint32)
	if !ok {
		return
	}
	key := strconv.FormatUint(uint64(id), 10)

	switch sig.Name {
	case actionSignal:
		action := ""
		if len(sig.Body) > 1 {
			action, _ = sig.Body[1].(string)
		}
		act, ok := d.shown.get(key)
		if !ok {
			// Not ours, or evicted.
			return
		}
		d.log.Debug("notification activated", logx.String("id", key), logx.String("action", action))
		select {
		case d.out <- act:
		case <-ctx.Done():
		}
	case closedSignal:
		d.shown.forget(key)
	}
}

func (d *DBus) Close() error {
	var err error
	d.closeOnce.Do(func() {
		err = d.conn.Close()
	})
	return err
}

type dbusHandle struct {
	id uint32
	d  *DBus
}

func (h *dbusHandle) ID() string { return strconv.FormatUint(uint64(h.id), 10) }

func (h *dbusHandle) Close(ctx context.Context) error {
	h.d.shown.forget(h.ID())
	call := h.d.obj.CallWithContext(ctx, closeMethod, 0, h.id)
	if call.Err != nil {
		return fmt.Errorf("dbus: close notification: %w", call.Err)
	}
	return nil
}
