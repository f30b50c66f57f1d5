package display

import (
	"bytes"
	"context"
	"math"
	"strconv"
	"strings"
	"testing"
	"time"

	"jiranotifier/internal/host"
	"jiranotifier/internal/notification"
	logx "jiranotifier/pkg/logx"
)

func TestLogDriverTracksShownNotifications(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	d := NewLog(logx.NewWriter(&buf, "info"))
	data := notification.Data{IssueKey: "ABC-1", BaseURL: "https://x.example"}

	h, err := d.Show(context.Background(), "ABC-1 updated", host.DisplayOptions{Body: "body", Data: data})
	if err != nil {
		t.Fatalf("Show error: %v", err)
	}
	if !strings.Contains(buf.String(), "https://x.example/browse/ABC-1") {
		t.Fatalf("log output misses target: %s", buf.String())
	}

	act, ok := d.Lookup(h.ID())
	if !ok || act.Data != data || act.Notification.ID() != h.ID() {
		t.Fatalf("Lookup = %+v, %v", act, ok)
	}
	if err := h.Close(context.Background()); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if _, ok := d.Lookup(h.ID()); ok {
		t.Fatal("closed notification still tracked")
	}
	if d.Activations() != nil {
		t.Fatal("log driver has no activation channel")
	}
}

func TestTrackedEvictsOldest(t *testing.T) {
	t.Parallel()
	tr := newTracked(3)
	for i := 0; i < 5; i++ {
		tr.put(host.NopHandle(strconv.Itoa(i)), notification.Data{IssueKey: strconv.Itoa(i)})
	}
	if tr.len() != 3 {
		t.Fatalf("len = %d, want 3", tr.len())
	}
	for _, id := range []string{"0", "1"} {
		if _, ok := tr.get(id); ok {
			t.Fatalf("entry %s should be evicted", id)
		}
	}
	if act, ok := tr.get("4"); !ok || act.Data.IssueKey != "4" {
		t.Fatalf("newest entry missing: %+v", act)
	}
	tr.forget("3")
	tr.forget("missing")
	if tr.len() != 2 {
		t.Fatalf("len after forget = %d, want 2", tr.len())
	}
}

func TestNormalizeDriver(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":         DriverDBus,
		"Desktop":  DriverDBus,
		"none":     DriverLog,
		"log":      DriverLog,
		"tg":       DriverTelegram,
		"carrier":  "carrier",
		" DBUS   ": DriverDBus,
	}
	for in, want := range tests {
		if got := NormalizeDriver(in); got != want {
			t.Fatalf("NormalizeDriver(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Driver: "carrier"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := New(Config{Driver: "telegram"}, logx.Nop()); err == nil {
		t.Fatal("expected error for telegram without token")
	}
}

func TestFormatTelegramEscapes(t *testing.T) {
	t.Parallel()
	got := formatTelegram("A<1> & co", "  body <b>x</b>  ")
	want := "<b>A&lt;1&gt; &amp; co</b>\nbody &lt;b&gt;x&lt;/b&gt;"
	if got != want {
		t.Fatalf("formatTelegram = %q, want %q", got, want)
	}
	if got := formatTelegram("t", ""); got != "<b>t</b>" {
		t.Fatalf("formatTelegram without body = %q", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()
	if got := truncateRunes("héllo", 10); got != "héllo" {
		t.Fatalf("short string changed: %q", got)
	}
	if got := truncateRunes("héllo world", 4); got != "hél…" {
		t.Fatalf("truncateRunes = %q", got)
	}
}

func TestExpireMillis(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   time.Duration
		want int32
	}{
		{0, -1},
		{-time.Second, -1},
		{1500 * time.Millisecond, 1500},
		{24 * time.Hour, 86_400_000},
		{30 * 24 * time.Hour, math.MaxInt32},
	}
	for _, tc := range cases {
		if got := expireMillis(tc.in); got != tc.want {
			t.Fatalf("expireMillis(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestNotifyArgsAlwaysCarryDefaultAction(t *testing.T) {
	t.Parallel()
	cfg := Config{AppName: "Jira Notifier", Expire: 5 * time.Second}
	for _, data := range []notification.Data{{}, {URL: "https://x.example/browse/ABC-1"}} {
		args := notifyArgs(cfg, "t", host.DisplayOptions{Body: "b", Data: data})
		if len(args) != 8 {
			t.Fatalf("args = %v", args)
		}
		actions, _ := args[5].([]string)
		if len(actions) != 2 || actions[0] != defaultActionID {
			t.Fatalf("actions for %+v = %v", data, actions)
		}
		if args[7] != int32(5000) || args[0] != "Jira Notifier" {
			t.Fatalf("args = %v", args)
		}
	}
}
