package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"jiranotifier/internal/background"
	"jiranotifier/internal/notification"
	logx "jiranotifier/pkg/logx"
)

func writeConfig(t *testing.T, driver string) string {
	t.Helper()
	dir := t.TempDir()
	body := strings.Join([]string{
		"logging:",
		"  level: warn",
		"storage:",
		"  driver: " + driver,
		"  path: " + filepath.Join(dir, "history"),
		"  maintenance: \"@every 1h\"",
		"server:",
		"  addr: 127.0.0.1:0",
		"display:",
		"  driver: log",
		"shutdown:",
		"  timeout: 5s",
		"",
	}, "\n")
	p := filepath.Join(dir, "jiranotifier.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func startApp(t *testing.T, cfgPath string) *App {
	t.Helper()
	a, err := New(Options{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		_ = a.Stop(context.Background(), StopFatalError)
		t.Fatalf("Start error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	})
	return a
}

func listHistory(t *testing.T, base string) []notification.Record {
	t.Helper()
	resp, err := http.Get(base + "/api/notifications")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	defer resp.Body.Close()
	var list []notification.Record
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	return list
}

func readType(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var m map[string]any
	if err := ws.ReadJSON(&m); err != nil {
		t.Fatalf("read ws: %v", err)
	}
	return m
}

func TestPushEndToEnd(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"sqlite", "file"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			a := startApp(t, writeConfig(t, driver))
			base := "http://" + a.Addr()

			ws, _, err := websocket.DefaultDialer.Dial("ws://"+a.Addr()+"/ws?url=https://x.example/browse/ABC-0", nil)
			if err != nil {
				t.Fatalf("dial ws: %v", err)
			}
			defer ws.Close()
			if m := readType(t, ws); m["type"] != "session" {
				t.Fatalf("first message = %v", m)
			}

			resp, err := http.Post(base+"/push", "application/json",
				strings.NewReader(`{"title":"Assigned","body":"ABC-1","issueKey":"ABC-1","baseUrl":"https://x.example"}`))
			if err != nil {
				t.Fatalf("POST /push: %v", err)
			}
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusAccepted {
				t.Fatalf("push status = %d", resp.StatusCode)
			}

			m := readType(t, ws)
			if m["type"] != notification.MessageTypeNew {
				t.Fatalf("broadcast = %v", m)
			}
			payload, _ := m["payload"].(map[string]any)
			if payload["title"] != "Assigned" {
				t.Fatalf("payload = %v", payload)
			}
			if _, hasID := payload["id"]; hasID {
				t.Fatal("broadcast record carries an id")
			}

			deadline := time.Now().Add(5 * time.Second)
			var list []notification.Record
			for time.Now().Before(deadline) {
				if list = listHistory(t, base); len(list) == 1 {
					break
				}
				time.Sleep(20 * time.Millisecond)
			}
			if len(list) != 1 || list[0].ID != 1 || list[0].IssueKey != "ABC-1" {
				t.Fatalf("history = %+v", list)
			}

			req, _ := http.NewRequest(http.MethodDelete, base+"/api/notifications", nil)
			req.Header.Set("X-Confirm", "clear")
			resp, err = http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("DELETE history: %v", err)
			}
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusNoContent {
				t.Fatalf("clear status = %d", resp.StatusCode)
			}
			if m := readType(t, ws); m["type"] != "history-cleared" {
				t.Fatalf("clear message = %v", m)
			}
			if list := listHistory(t, base); len(list) != 0 {
				t.Fatalf("history after clear = %+v", list)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	a := startApp(t, writeConfig(t, "file"))
	resp, err := http.Get("http://" + a.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	var h struct {
		OK    bool   `json:"ok"`
		Store string `json:"store"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || !h.OK || h.Store != "ok" {
		t.Fatalf("status=%d body=%+v", resp.StatusCode, h)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cases := map[string]string{
		"unknown driver": "storage:\n  driver: mongo\n  path: x\n",
		"telegram token": "storage:\n  path: " + filepath.Join(dir, "db") + "\ndisplay:\n  driver: telegram\n",
		"bad duration":   "server:\n  read_timeout: nope\n",
	}
	for name, body := range cases {
		p := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yaml")
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := New(Options{ConfigPath: p}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestPushOnce(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, "file")
	out, err := PushOnce(context.Background(), Options{ConfigPath: cfg}, []byte(`{"title":"once"}`), logx.Nop())
	if err != nil {
		t.Fatalf("PushOnce error: %v", err)
	}
	if out.Err() != nil || out.Record.ID != 1 || out.Handle == nil {
		t.Fatalf("outcome = %+v", out)
	}

	store, err := OpenStore(Options{ConfigPath: cfg}, logx.Nop())
	if err != nil {
		t.Fatalf("OpenStore error: %v", err)
	}
	defer store.Close()
	list, err := store.ListAll(context.Background())
	if err != nil || len(list) != 1 || list[0].Title != "once" {
		t.Fatalf("list = %+v, err = %v", list, err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()
	a, err := New(Options{ConfigPath: writeConfig(t, "file")})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := a.Stop(context.Background(), StopAppStop); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
}

// slowAppender holds every append for delay, honoring ctx.
type slowAppender struct {
	next    background.Appender
	delay   time.Duration
	started chan struct{}
}

func (s *slowAppender) Append(ctx context.Context, f notification.Fields) (notification.Record, error) {
	close(s.started)
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return notification.Record{}, ctx.Err()
	}
	return s.next.Append(ctx, f)
}

func TestStopSettlesInFlightPush(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, "file")
	a, err := New(Options{ConfigPath: cfg})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		_ = a.Stop(context.Background(), StopFatalError)
		t.Fatalf("Start error: %v", err)
	}

	slow := &slowAppender{next: a.store, delay: 300 * time.Millisecond, started: make(chan struct{})}
	a.push = background.NewPushHandler(background.PushConfig{}, background.PushDeps{
		Display:   a.disp,
		Store:     slow,
		Broadcast: a.bcast,
		Log:       logx.Nop(),
	})
	a.dispatchPush([]byte(`{"title":"in flight"}`))
	select {
	case <-slow.started:
	case <-time.After(5 * time.Second):
		t.Fatal("push never reached the store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopSignal); err != nil {
		t.Fatalf("Stop error: %v", err)
	}

	store, err := OpenStore(Options{ConfigPath: cfg}, logx.Nop())
	if err != nil {
		t.Fatalf("OpenStore error: %v", err)
	}
	defer store.Close()
	list, err := store.ListAll(context.Background())
	if err != nil || len(list) != 1 || list[0].Title != "in flight" {
		t.Fatalf("list after Stop = %+v, err = %v", list, err)
	}
}
