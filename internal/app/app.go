// Package app assembles the agent: store, display, foreground registry,
// background pipeline, HTTP surface and optional NATS intake.
//
// Three supervisors share the run context. intake hosts the NATS source,
// pipe hosts push and click events and is not canceled by Stop until it
// settled, sup hosts everything else.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"jiranotifier/internal/background"
	"jiranotifier/internal/broadcast"
	"jiranotifier/internal/clients"
	"jiranotifier/internal/config"
	"jiranotifier/internal/display"
	"jiranotifier/internal/eventbus"
	"jiranotifier/internal/opener"
	"jiranotifier/internal/runtime/supervisor"
	"jiranotifier/internal/server"
	"jiranotifier/internal/source"
	"jiranotifier/internal/storage"
	logx "jiranotifier/pkg/logx"
	"jiranotifier/pkg/systemd"
)

type Options struct {
	ConfigPath string
	// AllowMissingConfig runs with defaults when the file does not exist.
	AllowMissingConfig bool
	// DisplayDriver overrides display.driver when set.
	DisplayDriver string
}

type App struct {
	cfgm     *config.ConfigManager
	cfg      *config.Config
	settings config.Settings

	log  logx.Logger
	logs *logx.Service

	bus   eventbus.Bus
	tally *eventbus.Tally
	store storage.Store
	disp  display.Driver
	reg   *clients.Registry
	bcast *broadcast.Broadcaster
	push  *background.PushHandler
	click *background.ClickRouter
	srv   *server.Server
	src   *source.NATS
	cron  *cron.Cron
	sd    *systemd.Notifier

	sup    *supervisor.Supervisor
	intake *supervisor.Supervisor
	pipe   *supervisor.Supervisor
}

// New loads the config and builds every component. Nothing runs until Start.
func New(opts Options) (*App, error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Load(opts.AllowMissingConfig)
	if err != nil {
		return nil, err
	}
	if d := strings.TrimSpace(opts.DisplayDriver); d != "" {
		cfg.Display.Driver = d
	}
	settings, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.LogConfig())
	a := &App{
		cfgm:     cfgm,
		cfg:      cfg,
		settings: settings,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      eventbus.New(),
		tally:    eventbus.NewTally(),
		sd:       systemd.New(log.With(logx.String("comp", "systemd"))),
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	if err := a.build(log); err != nil {
		a.closeBuilt()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(log logx.Logger) error {
	sc, err := mapStorageConfig(a.cfg, a.settings)
	if err != nil {
		return err
	}
	a.store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}

	dc, err := mapDisplayConfig(a.cfg, a.settings)
	if err != nil {
		return err
	}
	a.disp, err = display.New(dc, log.With(logx.String("comp", "display")))
	if err != nil {
		return err
	}

	a.reg = clients.New(mapClientsConfig(a.cfg, a.settings), log.With(logx.String("comp", "clients")))
	a.bcast = broadcast.New(a.reg, log.With(logx.String("comp", "broadcast")))

	a.push = background.NewPushHandler(background.PushConfig{}, background.PushDeps{
		Display:   a.disp,
		Store:     a.store,
		Broadcast: a.bcast,
		Bus:       a.bus,
		Log:       log.With(logx.String("comp", "push")),
	})
	a.click = background.NewClickRouter(background.ClickDeps{
		Clients: a.reg,
		Opener:  opener.New(log.With(logx.String("comp", "opener"))),
		Bus:     a.bus,
		Log:     log.With(logx.String("comp", "click")),
	})

	a.srv = server.New(mapServerConfig(a.cfg, a.settings), server.Deps{
		Push:       a.dispatchPush,
		Click:      a.dispatchClick,
		Lookup:     a.disp.Lookup,
		History:    a.store,
		Foreground: a.reg,
		Cleared:    a.historyCleared,
		Health:     a.health,
		Log:        log.With(logx.String("comp", "http")),
	})

	if a.cfg.NATS.Enabled {
		a.src = source.NewNATS(mapSourceConfig(a.cfg), a.dispatchPush, log.With(logx.String("comp", "nats")))
	}
	return nil
}

func (a *App) closeBuilt() {
	if a.disp != nil {
		_ = a.disp.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// ShutdownTimeout bounds Stop when the caller has no deadline of its own.
func (a *App) ShutdownTimeout() time.Duration { return a.settings.ShutdownTimeout }

// Addr is the bound HTTP address while running.
func (a *App) Addr() string { return a.srv.Addr() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))
	run := a.sup.Context()
	a.intake = supervisor.New(run, supervisor.WithLogger(a.log.With(logx.String("comp", "intake"))))
	a.pipe = supervisor.New(context.WithoutCancel(run), supervisor.WithLogger(a.log.With(logx.String("comp", "pipeline"))))

	if err := a.store.Init(run); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go("eventbus.tally", func(c context.Context) error {
		defer unsub()
		go func() {
			<-c.Done()
			unsub()
		}()
		a.tally.Run(events)
		return nil
	})

	a.sup.GoRestart("display.events", a.disp.Run, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	if acts := a.disp.Activations(); acts != nil {
		a.sup.Go("display.activations", func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case act, ok := <-acts:
					if !ok {
						return nil
					}
					a.dispatchClick(act)
				}
			}
		})
	}

	if err := a.srv.Start(run); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	if a.src != nil {
		a.intake.GoRestart("nats.source", a.src.Run, supervisor.WithRestartBackoff(time.Second, time.Minute))
	}

	if spec := a.settings.Maintenance; spec != "" {
		if err := a.startMaintenance(spec); err != nil {
			return err
		}
	}

	a.startConfigReload()

	a.sup.Go("systemd.watchdog", a.sd.Watchdog)
	a.sd.Ready()
	a.sd.Status("listening on " + a.srv.Addr())

	a.log.Info("app started",
		logx.String("addr", a.srv.Addr()),
		logx.String("store", storage.NormalizeDriver(a.cfg.Storage.Driver)),
		logx.String("display", display.NormalizeDriver(a.cfg.Display.Driver)),
		logx.String("session", a.reg.SessionID()),
		logx.Bool("nats", a.src != nil),
	)
	return nil
}

func (a *App) startMaintenance(spec string) error {
	log := a.log.With(logx.String("comp", "maintenance"))
	a.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := a.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(a.sup.Context(), time.Minute)
		defer cancel()
		start := time.Now()
		if err := a.store.Maintain(ctx); err != nil {
			log.Warn("store maintenance failed", logx.Err(err))
			return
		}
		log.Debug("store maintenance done", logx.Duration("took", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("storage.maintenance: %w", err)
	}
	a.cron.Start()
	log.Debug("store maintenance scheduled", logx.String("spec", spec))
	return nil
}

// startConfigReload applies logging changes live. Other sections only take
// effect after a restart.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				sections, attrs := config.SummarizeConfigChange(last, next)
				last = next
				if len(sections) == 0 {
					a.log.Info("config reloaded (no changes)")
					continue
				}
				a.logs.Apply(next.LogConfig())
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
				if pending := config.RestartRequired(sections); len(pending) > 0 {
					a.log.Warn("config changed; restart required for changes to take effect",
						logx.String("sections", strings.Join(pending, ",")))
				}
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
}

func (a *App) dispatchPush(raw []byte) {
	if a.pipe == nil {
		return
	}
	a.push.Dispatch(a.pipe, raw)
}

func (a *App) dispatchClick(act background.Activation) {
	if a.pipe == nil {
		return
	}
	a.click.Dispatch(a.pipe, act)
}

func (a *App) historyCleared(ctx context.Context) {
	res := a.bcast.Send(ctx, clients.NewHistoryCleared())
	a.log.Info("history cleared", logx.Int("notified", res.Delivered))
}

func (a *App) health(ctx context.Context) server.Health {
	h := server.Health{OK: true, Store: "ok", Clients: a.reg.Len()}
	if err := a.store.Init(ctx); err != nil {
		h.OK = false
		h.Store = "error"
	}
	details := map[string]any{
		"events":  a.tally.Counts(),
		"session": a.reg.SessionID(),
	}
	if last := a.tally.Last(); !last.IsZero() {
		details["last_event"] = last
	}
	if a.pipe != nil {
		details["pipeline"] = a.pipe.Snapshot()
	}
	if a.sup != nil {
		details["tasks"] = a.sup.Snapshot()
		if err := a.sup.Err(); err != nil {
			h.OK = false
			details["error"] = err.Error()
		}
	}
	h.Details = details
	return h
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeBuilt()
		_ = a.logs.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Intake stops first. Accepted pushes and clicks then settle on pipe
	// before anything they depend on is torn down.
	a.step(ctx, "http", 3*time.Second, a.srv.Stop)
	a.intake.Cancel()
	a.step(ctx, "nats", 3*time.Second, a.intake.Wait)
	a.step(ctx, "pipeline", a.settings.ShutdownTimeout, a.pipe.Wait)
	a.pipe.Cancel()
	a.step(ctx, "maintenance", time.Second, func(c context.Context) error {
		if a.cron == nil {
			return nil
		}
		select {
		case <-a.cron.Stop().Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	a.sup.Cancel()
	a.step(ctx, "supervisor", 5*time.Second, a.sup.Wait)
	a.step(ctx, "clients", 2*time.Second, a.reg.Close)
	a.step(ctx, "display", time.Second, func(context.Context) error { return a.disp.Close() })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and the caller's deadline, so
// one component cannot stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
