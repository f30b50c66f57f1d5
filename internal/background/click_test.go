package background

import (
	"context"
	"errors"
	"testing"

	"jiranotifier/internal/eventbus"
	"jiranotifier/internal/host"
	"jiranotifier/internal/notification"
	logx "jiranotifier/pkg/logx"
)

func newTestRouter(clients *fakeClients, opener *fakeOpener, bus eventbus.Bus) *ClickRouter {
	deps := ClickDeps{Opener: opener, Bus: bus, Log: logx.Nop()}
	if clients != nil {
		deps.Clients = clients
	}
	return NewClickRouter(deps)
}

func TestHandleClickOpensDeepLink(t *testing.T) {
	t.Parallel()
	h := &fakeHandle{id: "n1"}
	opener := &fakeOpener{}
	res := newTestRouter(&fakeClients{}, opener, nil).HandleClick(context.Background(), Activation{
		Notification: h,
		Data:         notification.Data{IssueKey: "ABC-1", BaseURL: "https://x.example"},
	})

	if h.closed.Load() != 1 {
		t.Fatalf("notification closed %d times, want 1", h.closed.Load())
	}
	if res.Action != RouteOpened || res.Target != "https://x.example/browse/ABC-1" || res.Err != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(opener.opened) != 1 || opener.opened[0] != "https://x.example/browse/ABC-1" {
		t.Fatalf("opened = %v", opener.opened)
	}
}

func TestHandleClickExplicitURLWins(t *testing.T) {
	t.Parallel()
	opener := &fakeOpener{}
	res := newTestRouter(nil, opener, nil).HandleClick(context.Background(), Activation{
		Notification: &fakeHandle{id: "n"},
		Data:         notification.Data{URL: "https://y.example/custom", IssueKey: "ABC-1", BaseURL: "https://x.example"},
	})
	if res.Target != "https://y.example/custom" || len(opener.opened) != 1 {
		t.Fatalf("unexpected result: %+v opened=%v", res, opener.opened)
	}
}

func TestHandleClickWithoutLinkClosesOnly(t *testing.T) {
	t.Parallel()
	h := &fakeHandle{id: "n"}
	opener := &fakeOpener{}
	clients := &fakeClients{list: []*fakeClient{{id: "c", url: "https://x.example/"}}}
	res := newTestRouter(clients, opener, nil).HandleClick(context.Background(), Activation{Notification: h})

	if h.closed.Load() != 1 {
		t.Fatal("notification not closed")
	}
	if res.Action != RouteNone || res.Err != nil || res.Target != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(opener.opened) != 0 || len(clients.list[0].navs) != 0 {
		t.Fatal("expected no navigation")
	}
}

func TestHandleClickFocusesMatchingClient(t *testing.T) {
	t.Parallel()
	other := &fakeClient{id: "other", url: "https://elsewhere.example/browse/Z-1"}
	sibling := &fakeClient{id: "sibling", url: "https://x.example/wiki/page"}
	tracker := &fakeClient{id: "tracker", url: "https://x.example/jira/browse/OLD-9"}
	clients := &fakeClients{list: []*fakeClient{other, sibling, tracker}}
	opener := &fakeOpener{}

	res := newTestRouter(clients, opener, nil).HandleClick(context.Background(), Activation{
		Notification: &fakeHandle{id: "n"},
		Data:         notification.Data{IssueKey: "ABC-1", BaseURL: "https://x.example/jira/"},
	})

	want := "https://x.example/jira/browse/ABC-1"
	if res.Action != RouteFocused || res.ClientID != "tracker" || res.Target != want {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(tracker.navs) != 1 || tracker.navs[0] != want {
		t.Fatalf("tracker navs = %v", tracker.navs)
	}
	if len(sibling.navs) != 0 || len(other.navs) != 0 || len(opener.opened) != 0 {
		t.Fatal("unexpected navigation on non-matching contexts")
	}
	if len(clients.opts) != 1 || !clients.opts[0].IncludeUncontrolled {
		t.Fatalf("expected MatchAll with uncontrolled contexts, got %+v", clients.opts)
	}
}

func TestHandleClickFallsBackToOpenWhenFocusFails(t *testing.T) {
	t.Parallel()
	gone := &fakeClient{id: "gone", url: "https://x.example/", navErr: errors.New("closed")}
	opener := &fakeOpener{}
	res := newTestRouter(&fakeClients{list: []*fakeClient{gone}}, opener, nil).HandleClick(context.Background(), Activation{
		Data: notification.Data{URL: "https://x.example/browse/A-1"},
	})
	if res.Action != RouteOpened || len(opener.opened) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestHandleClickCloseErrorDoesNotStopRouting(t *testing.T) {
	t.Parallel()
	h := &fakeHandle{id: "n", err: errBoom}
	opener := &fakeOpener{}
	res := newTestRouter(nil, opener, nil).HandleClick(context.Background(), Activation{
		Notification: h,
		Data:         notification.Data{URL: "https://x.example/browse/A-1"},
	})
	if !errors.Is(res.CloseErr, errBoom) || res.Action != RouteOpened {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestHandleClickOpenFailureReported(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	res := newTestRouter(nil, &fakeOpener{err: errBoom}, bus).HandleClick(context.Background(), Activation{
		Notification: host.NopHandle("n"),
		Data:         notification.Data{URL: "https://x.example/browse/A-1"},
	})
	if !errors.Is(res.Err, errBoom) || res.Action != RouteNone {
		t.Fatalf("unexpected result: %+v", res)
	}
	e := <-events
	ce, ok := e.Data.(ClickEvent)
	if e.Type != EventClickRouted || !ok || ce.Err == "" || ce.Notification != "n" {
		t.Fatalf("unexpected event: %+v", e)
	}
}

func TestClickDispatchRunsOnLifetime(t *testing.T) {
	t.Parallel()
	h := &fakeHandle{id: "n"}
	lt := &syncLifetime{}
	newTestRouter(nil, &fakeOpener{}, nil).Dispatch(lt, Activation{Notification: h})
	if len(lt.names) != 1 || lt.names[0] != "click" || h.closed.Load() != 1 {
		t.Fatalf("lifetime=%v closed=%d", lt.names, h.closed.Load())
	}
}
