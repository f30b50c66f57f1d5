package notification

import (
	"errors"
	"testing"
	"time"
)

func TestParsePayloadAbsent(t *testing.T) {
	for _, raw := range []string{"", "   ", "null", "\n"} {
		p, err := ParsePayload([]byte(raw))
		if err != nil {
			t.Fatalf("ParsePayload(%q): unexpected error %v", raw, err)
		}
		if p != (Payload{}) {
			t.Fatalf("ParsePayload(%q) = %+v, want empty", raw, p)
		}
	}
}

func TestParsePayloadMalformed(t *testing.T) {
	for _, raw := range []string{"{", "not json", `["a"]`, `"title"`, "42"} {
		p, err := ParsePayload([]byte(raw))
		if !errors.Is(err, ErrPayloadParse) {
			t.Fatalf("ParsePayload(%q): err = %v, want ErrPayloadParse", raw, err)
		}
		if p != (Payload{}) {
			t.Fatalf("ParsePayload(%q) = %+v, want empty payload", raw, p)
		}
	}
}

func TestParsePayloadFields(t *testing.T) {
	raw := `{"title":"Updated","body":"Status changed","issueKey":"ABC-1","baseUrl":"https://x.example","url":"https://x.example/browse/ABC-1?focus=1","timestamp":1700000000123}`
	p, err := ParsePayload([]byte(raw))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	want := Payload{
		Title:     "Updated",
		Body:      "Status changed",
		IssueKey:  "ABC-1",
		BaseURL:   "https://x.example",
		URL:       "https://x.example/browse/ABC-1?focus=1",
		Timestamp: 1700000000123,
	}
	if p != want {
		t.Fatalf("got %+v, want %+v", p, want)
	}
}

func TestParsePayloadLegacyBaseURL(t *testing.T) {
	p, err := ParsePayload([]byte(`{"issueKey":"OPS-7","jiraBaseUrl":"https://jira.example"}`))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if p.BaseURL != "https://jira.example" {
		t.Fatalf("BaseURL = %q", p.BaseURL)
	}

	p, err = ParsePayload([]byte(`{"baseUrl":"https://new.example","jiraBaseUrl":"https://old.example"}`))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if p.BaseURL != "https://new.example" {
		t.Fatalf("baseUrl should win over jiraBaseUrl, got %q", p.BaseURL)
	}
}

func TestParsePayloadWrongTypesIgnored(t *testing.T) {
	p, err := ParsePayload([]byte(`{"title":123,"body":"ok","timestamp":"yesterday","issueKey":null}`))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if p.Title != "" || p.Body != "ok" || p.Timestamp != 0 || p.IssueKey != "" {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	f := Normalize(Payload{}, now)
	if f.Title != DefaultTitle {
		t.Fatalf("Title = %q, want %q", f.Title, DefaultTitle)
	}
	if f.Body != "" {
		t.Fatalf("Body = %q, want empty", f.Body)
	}
	if f.Timestamp != now.UnixMilli() {
		t.Fatalf("Timestamp = %d, want %d", f.Timestamp, now.UnixMilli())
	}

	f = Normalize(Payload{Title: "   ", Timestamp: 42}, now)
	if f.Title != DefaultTitle {
		t.Fatalf("blank title should fall back, got %q", f.Title)
	}
	if f.Timestamp != 42 {
		t.Fatalf("payload timestamp should be kept, got %d", f.Timestamp)
	}
}

func TestNormalizePassesLinkFields(t *testing.T) {
	f := Normalize(Payload{Title: "t", IssueKey: " ABC-1 ", BaseURL: "https://x.example ", URL: ""}, time.Now())
	if f.IssueKey != "ABC-1" || f.BaseURL != "https://x.example" || f.URL != "" {
		t.Fatalf("unexpected link fields %+v", f)
	}
	d := f.Data()
	if d.IssueKey != "ABC-1" || d.BaseURL != "https://x.example" {
		t.Fatalf("unexpected data %+v", d)
	}
}
