package notification

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrPayloadParse marks a push payload that is not a JSON object.
// Callers recover from it by continuing with an empty Payload.
var ErrPayloadParse = errors.New("malformed push payload")

// Payload is the inbound push message after parsing. Every field is optional.
type Payload struct {
	Title     string
	Body      string
	IssueKey  string
	BaseURL   string
	URL       string
	Timestamp int64
}

// ParsePayload decodes a push payload.
//
// An absent payload (empty, whitespace or JSON null) is not an error. A payload
// that is not a JSON object returns an empty Payload together with an error
// wrapping ErrPayloadParse. Fields with an unexpected JSON type are ignored one
// by one instead of rejecting the whole payload.
func ParsePayload(raw []byte) (Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Payload{}, nil
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrPayloadParse, err)
	}

	p := Payload{
		Title:    stringField(m, "title"),
		Body:     stringField(m, "body"),
		IssueKey: stringField(m, "issueKey"),
		BaseURL:  stringField(m, "baseUrl"),
		URL:      stringField(m, "url"),
	}
	// Older senders used jiraBaseUrl.
	if p.BaseURL == "" {
		p.BaseURL = stringField(m, "jiraBaseUrl")
	}
	p.Timestamp = millisField(m, "timestamp")
	return p, nil
}

func stringField(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func millisField(m map[string]json.RawMessage, key string) int64 {
	raw, ok := m[key]
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	if f <= 0 || math.IsNaN(f) || f >= math.MaxInt64 {
		return 0
	}
	return int64(f)
}

// Normalize applies the documented defaults: a blank title becomes
// DefaultTitle and a missing timestamp becomes now. Link fields pass through.
func Normalize(p Payload, now time.Time) Fields {
	title := p.Title
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	ts := p.Timestamp
	if ts <= 0 {
		ts = now.UnixMilli()
	}
	return Fields{
		Title:     title,
		Body:      p.Body,
		IssueKey:  strings.TrimSpace(p.IssueKey),
		BaseURL:   strings.TrimSpace(p.BaseURL),
		URL:       strings.TrimSpace(p.URL),
		Timestamp: ts,
	}
}
