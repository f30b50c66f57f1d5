package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"jiranotifier/internal/notification"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := "storage:\n  driver: file\n  path: " + filepath.Join(dir, "history") + "\ndisplay:\n  driver: log\n"
	p := filepath.Join(dir, "jiranotifier.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	t.Parallel()
	root := NewRootCommand()
	for _, name := range []string{"serve", "history", "clear", "push", "status"} {
		sub, _, err := root.Find([]string{name})
		if err != nil || sub.Name() != name {
			t.Fatalf("command %s missing: %v", name, err)
		}
	}
	if f := root.PersistentFlags().Lookup("config"); f == nil || f.Shorthand != "c" {
		t.Fatal("--config flag missing")
	}
}

func TestPushThenHistory(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t)

	out, err := run(t, "", "--config", cfg, "push", "--data", `{"title":"Assigned","issueKey":"ABC-1","baseUrl":"https://x.example"}`)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !strings.Contains(out, `displayed "Assigned"`) || !strings.Contains(out, "stored as #1") {
		t.Fatalf("push output = %q", out)
	}

	out, err = run(t, `not json`, "--config", cfg, "push")
	if err != nil {
		t.Fatalf("push stdin: %v", err)
	}
	if !strings.Contains(out, "defaults used") || !strings.Contains(out, "stored as #2") {
		t.Fatalf("push stdin output = %q", out)
	}

	out, err = run(t, "", "--config", cfg, "history", "--json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var list []notification.Record
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("history json: %v\n%s", err, out)
	}
	if len(list) != 2 {
		t.Fatalf("history = %+v", list)
	}

	out, err = run(t, "", "--config", cfg, "history")
	if err != nil || !strings.Contains(out, "ABC-1") || !strings.Contains(out, notification.DefaultTitle) {
		t.Fatalf("history table = %q, err = %v", out, err)
	}
}

func TestClearRequiresYes(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t)
	if _, err := run(t, "", "--config", cfg, "push", "--data", `{}`); err != nil {
		t.Fatalf("push: %v", err)
	}

	_, err := run(t, "", "--config", cfg, "clear")
	if ExitCode(err) != ExitUsage {
		t.Fatalf("clear without --yes: err = %v", err)
	}

	out, err := run(t, "", "--config", cfg, "clear", "--yes")
	if err != nil || !strings.Contains(out, "history cleared") {
		t.Fatalf("clear: %q, %v", out, err)
	}
	out, err = run(t, "", "--config", cfg, "history")
	if err != nil || !strings.Contains(out, "no notifications") {
		t.Fatalf("history after clear: %q, %v", out, err)
	}
}

func TestMissingExplicitConfig(t *testing.T) {
	t.Parallel()
	_, err := run(t, "", "--config", filepath.Join(t.TempDir(), "nope.yaml"), "history")
	if ExitCode(err) != ExitUsage {
		t.Fatalf("err = %v, code = %d", err, ExitCode(err))
	}
}

func TestInvalidLogLevel(t *testing.T) {
	t.Parallel()
	_, err := run(t, "", "--log-level", "loud", "history")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != ExitUsage {
		t.Fatalf("err = %v", err)
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want int
	}{
		{nil, ExitSuccess},
		{errors.New("x"), ExitFailure},
		{NewExitError(ExitUsage, "bad"), ExitUsage},
		{WrapExitError(ExitFailure, "wrapped", errors.New("inner")), ExitFailure},
	}
	for _, tc := range cases {
		if got := ExitCode(tc.err); got != tc.want {
			t.Fatalf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestStatusReportsAgentHealth(t *testing.T) {
	t.Parallel()
	healthy := true
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": healthy, "store": "ok", "clients": 2})
	}))
	defer ts.Close()

	dir := t.TempDir()
	cfg := filepath.Join(dir, "c.yaml")
	body := "server:\n  addr: " + strings.TrimPrefix(ts.URL, "http://") + "\n"
	if err := os.WriteFile(cfg, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := run(t, "", "--config", cfg, "status", "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var rep statusReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if rep.Agent == nil || !rep.Agent.OK || rep.Agent.Clients != 2 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestStatusUnreachable(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(ts.URL, "http://")
	ts.Close()

	dir := t.TempDir()
	cfg := filepath.Join(dir, "c.yaml")
	if err := os.WriteFile(cfg, []byte("server:\n  addr: "+addr+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := run(t, "", "--config", cfg, "status")
	if ExitCode(err) != ExitFailure || !strings.Contains(out, "not reachable") {
		t.Fatalf("out = %q, err = %v", out, err)
	}
}
