package background

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"jiranotifier/internal/broadcast"
	"jiranotifier/internal/host"
	"jiranotifier/internal/notification"
)

type shown struct {
	title string
	opt   host.DisplayOptions
}

type fakeDisplay struct {
	mu    sync.Mutex
	calls []shown
	err   error
	panic bool
}

func (d *fakeDisplay) Show(_ context.Context, title string, opt host.DisplayOptions) (host.Handle, error) {
	d.mu.Lock()
	d.calls = append(d.calls, shown{title: title, opt: opt})
	d.mu.Unlock()
	if d.panic {
		panic("display exploded")
	}
	if d.err != nil {
		return nil, d.err
	}
	return &fakeHandle{id: "h1"}, nil
}

func (d *fakeDisplay) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type fakeHandle struct {
	id     string
	closed atomic.Int32
	err    error
}

func (h *fakeHandle) ID() string { return h.id }
func (h *fakeHandle) Close(context.Context) error {
	h.closed.Add(1)
	return h.err
}

type fakeStore struct {
	mu     sync.Mutex
	calls  []notification.Fields
	err    error
	nextID int64
}

func (s *fakeStore) Append(_ context.Context, f notification.Fields) (notification.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, f)
	if s.err != nil {
		return notification.Record{}, s.err
	}
	s.nextID++
	rec := f.Record()
	rec.ID, rec.Sequence = s.nextID, s.nextID
	return rec, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakePoster struct {
	mu    sync.Mutex
	calls []notification.Record
	res   broadcast.Result
}

func (p *fakePoster) Post(_ context.Context, rec notification.Record) broadcast.Result {
	p.mu.Lock()
	p.calls = append(p.calls, rec)
	p.mu.Unlock()
	return p.res
}

func (p *fakePoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeClient struct {
	id       string
	url      string
	navErr   error
	navs     []string
	controls bool
}

func (c *fakeClient) ID() string                             { return c.id }
func (c *fakeClient) URL() string                            { return c.url }
func (c *fakeClient) Controlled() bool                       { return c.controls }
func (c *fakeClient) PostMessage(context.Context, any) error { return nil }
func (c *fakeClient) FocusAndNavigate(_ context.Context, u string) error {
	if c.navErr != nil {
		return c.navErr
	}
	c.navs = append(c.navs, u)
	return nil
}

type fakeClients struct {
	list []*fakeClient
	opts []host.MatchOptions
}

func (f *fakeClients) MatchAll(_ context.Context, opt host.MatchOptions) ([]host.Client, error) {
	f.opts = append(f.opts, opt)
	out := make([]host.Client, 0, len(f.list))
	for _, c := range f.list {
		out = append(out, c)
	}
	return out, nil
}

type fakeOpener struct {
	opened []string
	err    error
}

func (o *fakeOpener) Open(_ context.Context, u string) error {
	if o.err != nil {
		return o.err
	}
	o.opened = append(o.opened, u)
	return nil
}

// syncLifetime runs fn inline so tests observe the settled state.
type syncLifetime struct{ names []string }

func (l *syncLifetime) Go(name string, fn func(ctx context.Context) error) {
	l.names = append(l.names, name)
	_ = fn(context.Background())
}

var errBoom = errors.New("boom")
