package background

import (
	"context"
	"errors"
	"time"

	"jiranotifier/internal/broadcast"
	"jiranotifier/internal/eventbus"
	"jiranotifier/internal/host"
	"jiranotifier/internal/notification"
	"jiranotifier/internal/runtime/supervisor"
	logx "jiranotifier/pkg/logx"
)

const defaultStepTimeout = 30 * time.Second

// errStepAborted is reported for a step that never returned normally (it panicked).
var errStepAborted = errors.New("step aborted")

// Appender persists normalized notifications. storage.Store satisfies it.
type Appender interface {
	Append(ctx context.Context, f notification.Fields) (notification.Record, error)
}

// Poster delivers a record to foreground contexts. *broadcast.Broadcaster satisfies it.
type Poster interface {
	Post(ctx context.Context, rec notification.Record) broadcast.Result
}

type PushConfig struct {
	// StepTimeout bounds each of display, persist and broadcast. 0 means 30s.
	StepTimeout time.Duration
}

type PushDeps struct {
	Display   host.Displayer
	Store     Appender
	Broadcast Poster
	Bus       eventbus.Bus
	Log       logx.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// PushHandler runs the push pipeline. It is safe for concurrent use; every
// push event is independent.
type PushHandler struct {
	cfg  PushConfig
	deps PushDeps
	log  logx.Logger
}

// Outcome reports what happened to one push event. It is informational: the
// handler never retries, and callers are not expected to act on it.
type Outcome struct {
	Fields notification.Fields
	// Record is the persisted record; zero when persisting failed.
	Record    notification.Record
	Handle    host.Handle
	Broadcast broadcast.Result

	ParseErr     error
	DisplayErr   error
	PersistErr   error
	BroadcastErr error
}

// Err joins the step errors, excluding the recovered parse error.
func (o Outcome) Err() error {
	return errors.Join(o.DisplayErr, o.PersistErr, o.BroadcastErr)
}

func NewPushHandler(cfg PushConfig, deps PushDeps) *PushHandler {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaultStepTimeout
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &PushHandler{cfg: cfg, deps: deps, log: deps.Log}
}

// Dispatch hands raw to the lifetime so the host stays up until the event
// settles. It returns immediately.
func (h *PushHandler) Dispatch(lt host.Lifetime, raw []byte) {
	lt.Go("push", func(ctx context.Context) error {
		h.HandlePush(ctx, raw)
		return nil
	})
}

// HandlePush processes one push message and returns after display, persist
// and broadcast have all settled.
func (h *PushHandler) HandlePush(ctx context.Context, raw []byte) Outcome {
	start := h.deps.Now()
	var out Outcome

	p, err := notification.ParsePayload(raw)
	if err != nil {
		out.ParseErr = err
		h.log.Warn("push payload unreadable, using defaults", logx.Int("bytes", len(raw)), logx.Err(err))
	}
	f := notification.Normalize(p, start)
	out.Fields = f
	publish(h.deps.Bus, EventPushReceived, PushEvent{Title: f.Title, IssueKey: f.IssueKey})

	// Siblings must not cancel each other; each step only reports.
	sup := supervisor.New(ctx, supervisor.WithLogger(h.log), supervisor.WithCancelOnError(false))
	defer sup.Cancel()

	out.DisplayErr = errStepAborted
	out.PersistErr = errStepAborted
	out.BroadcastErr = errStepAborted

	sup.Go("push.display", func(ctx context.Context) error {
		out.Handle, out.DisplayErr = h.display(ctx, f)
		return out.DisplayErr
	})
	sup.Go("push.persist", func(ctx context.Context) error {
		out.Record, out.PersistErr = h.persist(ctx, f)
		return out.PersistErr
	})
	sup.Go("push.broadcast", func(ctx context.Context) error {
		out.Broadcast, out.BroadcastErr = h.broadcast(ctx, f)
		return out.BroadcastErr
	})

	// The join is unconditional: canceled steps still return promptly.
	_ = sup.Wait(context.WithoutCancel(ctx))

	for _, s := range []struct {
		step string
		err  error
	}{
		{StepDisplay, out.DisplayErr},
		{StepPersist, out.PersistErr},
		{StepBroadcast, out.BroadcastErr},
	} {
		if s.err == nil {
			continue
		}
		h.log.Warn("push step failed", logx.String("step", s.step), logx.String("title", f.Title), logx.Err(s.err))
		publish(h.deps.Bus, EventPushFailed, PushEvent{Title: f.Title, IssueKey: f.IssueKey, Step: s.step, Err: s.err.Error()})
	}
	h.log.Debug("push settled",
		logx.String("title", f.Title),
		logx.Int64("record_id", out.Record.ID),
		logx.Int("delivered", out.Broadcast.Delivered),
		logx.Duration("took", time.Since(start)),
	)
	return out
}

func (h *PushHandler) display(ctx context.Context, f notification.Fields) (host.Handle, error) {
	if h.deps.Display == nil {
		return nil, errors.New("no displayer")
	}
	ctx, cancel := context.WithTimeout(ctx, h.cfg.StepTimeout)
	defer cancel()
	hd, err := h.deps.Display.Show(ctx, f.Title, host.DisplayOptions{Body: f.Body, Data: f.Data()})
	if err != nil {
		return nil, err
	}
	id := ""
	if hd != nil {
		id = hd.ID()
	}
	h.log.Debug("notification shown", logx.String("handle", id), logx.String("title", f.Title))
	publish(h.deps.Bus, EventPushDisplayed, PushEvent{Title: f.Title, IssueKey: f.IssueKey})
	return hd, nil
}

func (h *PushHandler) persist(ctx context.Context, f notification.Fields) (notification.Record, error) {
	if h.deps.Store == nil {
		return notification.Record{}, errors.New("no store")
	}
	ctx, cancel := context.WithTimeout(ctx, h.cfg.StepTimeout)
	defer cancel()
	rec, err := h.deps.Store.Append(ctx, f)
	if err != nil {
		return notification.Record{}, err
	}
	publish(h.deps.Bus, EventPushPersisted, PushEvent{Title: f.Title, IssueKey: f.IssueKey, RecordID: rec.ID})
	return rec, nil
}

// broadcast posts the normalized notification. It runs alongside persist,
// so foreground contexts receive it without a store id.
func (h *PushHandler) broadcast(ctx context.Context, f notification.Fields) (broadcast.Result, error) {
	if h.deps.Broadcast == nil {
		return broadcast.Result{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.cfg.StepTimeout)
	defer cancel()
	res := h.deps.Broadcast.Post(ctx, f.Record())
	if res.Err != nil {
		return res, res.Err
	}
	publish(h.deps.Bus, EventPushBroadcast, PushEvent{Title: f.Title, IssueKey: f.IssueKey, Delivered: res.Delivered})
	return res, nil
}
