package display

import (
	"context"

	"github.com/google/uuid"

	"jiranotifier/internal/background"
	"jiranotifier/internal/host"
	logx "jiranotifier/pkg/logx"
)

// Log is the headless driver.
type Log struct {
	log   logx.Logger
	shown *tracked
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log, shown: newTracked(trackedCapacity)}
}

func (d *Log) Show(ctx context.Context, title string, opt host.DisplayOptions) (host.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := &logHandle{id: uuid.NewString(), d: d}
	d.shown.put(h, opt.Data)
	target, _ := resolve(opt)
	d.log.Info("notification",
		logx.String("id", h.id),
		logx.String("title", title),
		logx.String("body", opt.Body),
		logx.String("target", target),
	)
	return h, nil
}

func (d *Log) Lookup(id string) (background.Activation, bool) { return d.shown.get(id) }

func (d *Log) Activations() <-chan background.Activation { return nil }

func (d *Log) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (d *Log) Close() error { return nil }

type logHandle struct {
	id string
	d  *Log
}

func (h *logHandle) ID() string { return h.id }

func (h *logHandle) Close(context.Context) error {
	h.d.shown.forget(h.id)
	h.d.log.Debug("notification closed", logx.String("id", h.id))
	return nil
}
