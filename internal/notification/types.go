package notification

import "time"

// DefaultTitle is used when a push payload carries no title.
const DefaultTitle = "Jira"

// MessageTypeNew is the type of the message posted to foreground contexts
// for every received push.
const MessageTypeNew = "new-notification"

// Record is a persisted notification.
//
// ID and Sequence are assigned by the store. A record that has not been
// persisted (for example the one broadcast to foreground contexts while the
// append is still in flight) carries zero for both.
type Record struct {
	ID        int64  `json:"id,omitempty"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	IssueKey  string `json:"issueKey,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
	URL       string `json:"url,omitempty"`
	Timestamp int64  `json:"timestamp"` // unix milli
	Sequence  int64  `json:"sequence,omitempty"`
}

// Fields is a normalized record before the store assigns ID and Sequence.
type Fields struct {
	Title     string
	Body      string
	IssueKey  string
	BaseURL   string
	URL       string
	Timestamp int64
}

// Record returns the unpersisted record for f.
func (f Fields) Record() Record {
	return Record{
		Title:     f.Title,
		Body:      f.Body,
		IssueKey:  f.IssueKey,
		BaseURL:   f.BaseURL,
		URL:       f.URL,
		Timestamp: f.Timestamp,
	}
}

// Data returns the linking data attached to the displayed notification.
func (f Fields) Data() Data {
	return Data{URL: f.URL, IssueKey: f.IssueKey, BaseURL: f.BaseURL}
}

func (r Record) Fields() Fields {
	return Fields{
		Title:     r.Title,
		Body:      r.Body,
		IssueKey:  r.IssueKey,
		BaseURL:   r.BaseURL,
		URL:       r.URL,
		Timestamp: r.Timestamp,
	}
}

func (r Record) Data() Data { return r.Fields().Data() }

// Time returns the record timestamp as a time.Time.
func (r Record) Time() time.Time { return time.UnixMilli(r.Timestamp) }

// Persisted reports whether the store has assigned an ID.
func (r Record) Persisted() bool { return r.ID > 0 }

// Message is the envelope posted to foreground contexts.
type Message struct {
	Type    string `json:"type"`
	Payload Record `json:"payload"`
}

func NewMessage(r Record) Message {
	return Message{Type: MessageTypeNew, Payload: r}
}

// NewestFirst orders records by descending timestamp, breaking ties by
// descending sequence.
func NewestFirst(a, b Record) int {
	switch {
	case a.Timestamp > b.Timestamp:
		return -1
	case a.Timestamp < b.Timestamp:
		return 1
	case a.Sequence > b.Sequence:
		return -1
	case a.Sequence < b.Sequence:
		return 1
	default:
		return 0
	}
}
