// Package broadcast posts freshly received notifications to every live
// foreground context.
//
// Delivery is fire-and-forget: nothing is acknowledged or retried, and a
// context that fails to take the message is only counted.
package broadcast

import (
	"context"
	"time"

	"jiranotifier/internal/host"
	"jiranotifier/internal/notification"
	logx "jiranotifier/pkg/logx"
)

// Result summarizes one Post.
type Result struct {
	Matched   int
	Delivered int
	Failed    int
	// Err is set only when the contexts could not be enumerated at all.
	Err  error
	Took time.Duration
}

type Broadcaster struct {
	clients host.Clients
	log     logx.Logger
}

func New(clients host.Clients, log logx.Logger) *Broadcaster {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Broadcaster{clients: clients, log: log}
}

// Post sends {type: "new-notification", payload: rec} to every foreground
// context, including ones this agent does not control yet. Zero contexts is
// a successful no-op.
func (b *Broadcaster) Post(ctx context.Context, rec notification.Record) Result {
	return b.Send(ctx, notification.NewMessage(rec))
}

// Send posts an arbitrary message to every foreground context.
func (b *Broadcaster) Send(ctx context.Context, msg any) Result {
	start := time.Now()
	if b == nil || b.clients == nil {
		return Result{}
	}
	list, err := b.clients.MatchAll(ctx, host.MatchOptions{IncludeUncontrolled: true})
	if err != nil {
		b.log.Warn("match clients failed", logx.Err(err))
		return Result{Err: err, Took: time.Since(start)}
	}

	res := Result{Matched: len(list)}
	for _, c := range list {
		if err := c.PostMessage(ctx, msg); err != nil {
			res.Failed++
			b.log.Debug("post to client failed", logx.String("client", c.ID()), logx.Err(err))
			continue
		}
		res.Delivered++
	}
	res.Took = time.Since(start)
	return res
}
