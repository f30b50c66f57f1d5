// Package source feeds push messages from a NATS subject into the pipeline.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	logx "jiranotifier/pkg/logx"
)

const (
	DefaultSubject = "tracker.push"
	DefaultURL     = nats.DefaultURL

	// DefaultMaxPayloadBytes matches the HTTP intake limit.
	DefaultMaxPayloadBytes = 64 << 10
)

type Config struct {
	URL     string
	Subject string
	// Name identifies the connection on the server.
	Name string
	// MaxPayloadBytes drops larger message bodies. 0 means the default.
	MaxPayloadBytes int64
}

// NATS subscribes to one subject and hands every message body to Dispatch.
type NATS struct {
	cfg      Config
	log      logx.Logger
	dispatch func(raw []byte)
}

func NewNATS(cfg Config, dispatch func(raw []byte), log logx.Logger) *NATS {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if strings.TrimSpace(cfg.Subject) == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if cfg.Name == "" {
		cfg.Name = "jiranotifier"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &NATS{cfg: cfg, log: log, dispatch: dispatch}
}

// Run connects, subscribes and blocks until ctx is done, then drains the
// subscription so in-flight messages are still dispatched. A connection
// that is closed for good returns an error so the caller can restart it.
func (s *NATS) Run(ctx context.Context) error {
	if s.dispatch == nil {
		return errors.New("source: no dispatcher")
	}
	closed := make(chan struct{})
	nc, err := nats.Connect(s.cfg.URL,
		nats.Name(s.cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.log.Warn("nats disconnected", logx.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.log.Info("nats reconnected", logx.String("url", c.ConnectedUrlRedacted()))
		}),
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
	)
	if err != nil {
		return fmt.Errorf("source: connect %s: %w", s.cfg.URL, err)
	}

	sub, err := nc.Subscribe(s.cfg.Subject, s.handle)
	if err != nil {
		nc.Close()
		return fmt.Errorf("source: subscribe %s: %w", s.cfg.Subject, err)
	}
	s.log.Info("subscribed", logx.String("subject", sub.Subject), logx.String("url", nc.ConnectedUrlRedacted()))

	select {
	case <-ctx.Done():
		if err := nc.Drain(); err != nil {
			s.log.Debug("nats drain failed", logx.Err(err))
			nc.Close()
		}
		<-closed
		return nil
	case <-closed:
		return errors.New("source: nats connection closed")
	}
}

func (s *NATS) handle(m *nats.Msg) {
	if m == nil {
		return
	}
	if int64(len(m.Data)) > s.cfg.MaxPayloadBytes {
		s.log.Warn("push dropped: payload too large",
			logx.String("subject", m.Subject),
			logx.Int("bytes", len(m.Data)),
			logx.Int64("limit", s.cfg.MaxPayloadBytes))
		return
	}
	raw := make([]byte, len(m.Data))
	copy(raw, m.Data)
	s.log.Debug("push received", logx.String("subject", m.Subject), logx.Int("bytes", len(raw)))
	s.dispatch(raw)
}
