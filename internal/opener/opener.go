// Package opener opens new foreground contexts in the user's browser.
package opener

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/pkg/browser"

	logx "jiranotifier/pkg/logx"
)

// Browser opens URLs with the platform's default browser.
type Browser struct {
	log  logx.Logger
	open func(string) error
}

func New(log logx.Logger) *Browser {
	if log.IsZero() {
		log = logx.Nop()
	}
	// The launcher writes to the agent's stdio otherwise.
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
	return &Browser{log: log, open: browser.OpenURL}
}

// Open launches target. Only absolute http(s) URLs are accepted.
func (b *Browser) Open(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return fmt.Errorf("opener: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("opener: refusing to open %q", target)
	}
	if err := b.open(u.String()); err != nil {
		return fmt.Errorf("opener: %w", err)
	}
	b.log.Info("opened new window", logx.String("url", u.String()))
	return nil
}
