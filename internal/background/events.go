package background

import (
	"jiranotifier/internal/eventbus"
)

// Event types published on the bus.
const (
	EventPushReceived  = "push.received"
	EventPushDisplayed = "push.displayed"
	EventPushPersisted = "push.persisted"
	EventPushBroadcast = "push.broadcast"
	EventPushFailed    = "push.failed"
	EventClickRouted   = "click.routed"
)

// Step names used in logs and failure events.
const (
	StepParse     = "parse"
	StepDisplay   = "display"
	StepPersist   = "persist"
	StepBroadcast = "broadcast"
)

// PushEvent is the Data of every push.* event.
type PushEvent struct {
	Title     string `json:"title"`
	IssueKey  string `json:"issue_key,omitempty"`
	RecordID  int64  `json:"record_id,omitempty"`
	Delivered int    `json:"delivered,omitempty"`
	Step      string `json:"step,omitempty"`
	Err       string `json:"err,omitempty"`
}

// ClickEvent is the Data of click.routed.
type ClickEvent struct {
	Notification string `json:"notification,omitempty"`
	Target       string `json:"target,omitempty"`
	Action       string `json:"action"`
	Client       string `json:"client,omitempty"`
	Err          string `json:"err,omitempty"`
}

func publish(bus eventbus.Bus, typ string, data any) {
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{Type: typ, Data: data})
}
