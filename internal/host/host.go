// Package host declares the external capabilities the background pipeline
// relies on: showing notifications, enumerating foreground contexts, opening
// new ones and keeping the process alive while work is in flight.
package host

import (
	"context"

	"jiranotifier/internal/notification"
)

// DisplayOptions carries everything shown besides the title.
type DisplayOptions struct {
	Body string
	Data notification.Data
}

// Displayer shows a user-visible notification.
type Displayer interface {
	Show(ctx context.Context, title string, opt DisplayOptions) (Handle, error)
}

// Handle refers to a displayed notification.
type Handle interface {
	ID() string
	Close(ctx context.Context) error
}

// MatchOptions filters foreground contexts.
type MatchOptions struct {
	// IncludeUncontrolled also returns contexts not yet controlled by this
	// agent session.
	IncludeUncontrolled bool
}

// Clients enumerates live foreground contexts.
type Clients interface {
	MatchAll(ctx context.Context, opt MatchOptions) ([]Client, error)
}

// Client is a single foreground context.
type Client interface {
	ID() string
	URL() string
	Controlled() bool
	PostMessage(ctx context.Context, msg any) error
	FocusAndNavigate(ctx context.Context, url string) error
}

// Opener opens a new foreground context at url.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// Lifetime keeps the hosting process alive until fn returns.
type Lifetime interface {
	Go(name string, fn func(ctx context.Context) error)
}

// NopHandle is returned by displayers that cannot close what they showed.
type NopHandle string

func (h NopHandle) ID() string                { return string(h) }
func (NopHandle) Close(context.Context) error { return nil }
