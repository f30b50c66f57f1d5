package source

import (
	"context"
	"strings"
	"testing"

	"github.com/nats-io/nats.go"

	logx "jiranotifier/pkg/logx"
)

func TestNewNATSDefaults(t *testing.T) {
	t.Parallel()
	s := NewNATS(Config{}, func([]byte) {}, logx.Nop())
	if s.cfg.Subject != DefaultSubject || s.cfg.URL != DefaultURL || s.cfg.Name == "" || s.cfg.MaxPayloadBytes != DefaultMaxPayloadBytes {
		t.Fatalf("unexpected defaults: %+v", s.cfg)
	}
}

func TestHandleCopiesBody(t *testing.T) {
	t.Parallel()
	var got []byte
	s := NewNATS(Config{}, func(raw []byte) { got = raw }, logx.Nop())

	msg := &nats.Msg{Subject: DefaultSubject, Data: []byte(`{"title":"t"}`)}
	s.handle(msg)
	msg.Data[2] = 'X'

	if string(got) != `{"title":"t"}` {
		t.Fatalf("dispatched %q", got)
	}
	s.handle(nil)
}

func TestRunWithoutDispatcher(t *testing.T) {
	t.Parallel()
	s := &NATS{cfg: Config{URL: DefaultURL, Subject: DefaultSubject}, log: logx.Nop()}
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error without dispatcher")
	}
}

func TestHandleDropsOversizeBody(t *testing.T) {
	t.Parallel()
	calls := 0
	s := NewNATS(Config{MaxPayloadBytes: 16}, func([]byte) { calls++ }, logx.Nop())

	s.handle(&nats.Msg{Subject: DefaultSubject, Data: []byte(strings.Repeat("x", 17))})
	if calls != 0 {
		t.Fatal("oversize body dispatched")
	}
	s.handle(&nats.Msg{Subject: DefaultSubject, Data: []byte(strings.Repeat("x", 16))})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
