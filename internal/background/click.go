package background

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jiranotifier/internal/eventbus"
	"jiranotifier/internal/host"
	"jiranotifier/internal/notification"
	logx "jiranotifier/pkg/logx"
)

// Activation is a user click on a displayed notification.
type Activation struct {
	Notification host.Handle
	Data         notification.Data
}

// RouteAction is what the router did with a click.
type RouteAction string

const (
	RouteNone    RouteAction = "none"
	RouteFocused RouteAction = "focused"
	RouteOpened  RouteAction = "opened"
)

// RouteResult reports a click outcome. The notification is closed in every case.
type RouteResult struct {
	Target   string
	Action   RouteAction
	ClientID string
	CloseErr error
	Err      error
}

type ClickDeps struct {
	Clients host.Clients
	Opener  host.Opener
	Bus     eventbus.Bus
	Log     logx.Logger
}

type ClickRouter struct {
	deps    ClickDeps
	log     logx.Logger
	timeout time.Duration
}

func NewClickRouter(deps ClickDeps) *ClickRouter {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop()
	}
	return &ClickRouter{deps: deps, log: deps.Log, timeout: defaultStepTimeout}
}

// Dispatch hands the click to the lifetime and returns immediately.
func (r *ClickRouter) Dispatch(lt host.Lifetime, a Activation) {
	lt.Go("click", func(ctx context.Context) error {
		r.HandleClick(ctx, a)
		return nil
	})
}

// HandleClick closes the notification, then focuses a foreground context
// already on the target's site or opens a new one. Missing link data is a
// logged no-op.
func (r *ClickRouter) HandleClick(ctx context.Context, a Activation) RouteResult {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res := RouteResult{Action: RouteNone}
	id := ""
	if a.Notification != nil {
		id = a.Notification.ID()
		if err := a.Notification.Close(ctx); err != nil {
			res.CloseErr = err
			r.log.Debug("close notification failed", logx.String("notification", id), logx.Err(err))
		}
	}

	target, err := notification.ResolveTarget(a.Data)
	if err != nil {
		r.log.Info("notification has no link target", logx.String("notification", id))
		r.report(id, res)
		return res
	}
	res.Target = target

	res.Action, res.ClientID, res.Err = r.route(ctx, target, a.Data.BaseURL)
	if res.Err != nil {
		r.log.Warn("click routing failed", logx.String("target", target), logx.Err(res.Err))
	} else {
		r.log.Info("click routed", logx.String("target", target), logx.String("action", string(res.Action)), logx.String("client", res.ClientID))
	}
	r.report(id, res)
	return res
}

func (r *ClickRouter) route(ctx context.Context, target, base string) (RouteAction, string, error) {
	var focusErr error
	if r.deps.Clients != nil {
		list, err := r.deps.Clients.MatchAll(ctx, host.MatchOptions{IncludeUncontrolled: true})
		if err != nil {
			r.log.Debug("match clients failed", logx.Err(err))
		}
		for _, c := range list {
			if !notification.SameSite(c.URL(), target, base) {
				continue
			}
			if err := c.FocusAndNavigate(ctx, target); err != nil {
				// The context went away; fall back to opening a new one.
				focusErr = fmt.Errorf("focus %s: %w", c.ID(), err)
				r.log.Debug("focus client failed", logx.String("client", c.ID()), logx.Err(err))
				break
			}
			return RouteFocused, c.ID(), nil
		}
	}

	if r.deps.Opener == nil {
		return RouteNone, "", errors.Join(focusErr, errors.New("no opener"))
	}
	if err := r.deps.Opener.Open(ctx, target); err != nil {
		return RouteNone, "", errors.Join(focusErr, fmt.Errorf("open: %w", err))
	}
	return RouteOpened, "", nil
}

func (r *ClickRouter) report(id string, res RouteResult) {
	ev := ClickEvent{Notification: id, Target: res.Target, Action: string(res.Action), Client: res.ClientID}
	if res.Err != nil {
		ev.Err = res.Err.Error()
	}
	publish(r.deps.Bus, EventClickRouted, ev)
}
