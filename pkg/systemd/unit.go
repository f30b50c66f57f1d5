package systemd

import (
	"strings"
	"time"
)

// DefaultUnit is the user unit the agent is installed as.
const DefaultUnit = "jiranotifier.service"

// UnitStatus is the state of a systemd unit as shown by systemctl status.
type UnitStatus struct {
	Name        string    `json:"name"`
	Active      string    `json:"active"`
	SubState    string    `json:"sub_state"`
	LoadState   string    `json:"load_state"`
	Description string    `json:"description,omitempty"`
	ActiveSince time.Time `json:"active_since,omitzero"`
}

// Found reports whether systemd knows the unit.
func (s UnitStatus) Found() bool { return s.LoadState != "" && s.LoadState != "not-found" }

func notFound(name string) UnitStatus {
	return UnitStatus{Name: name, Active: "unknown", SubState: "not-found", LoadState: "not-found"}
}

// unitName appends ".service" to bare names.
func unitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultUnit
	}
	if !strings.Contains(name, ".") {
		return name + ".service"
	}
	return name
}

func parseTimestamp(props map[string]any, key string) time.Time {
	if ts, ok := props[key].(uint64); ok && ts > 0 {
		// microseconds since the Unix epoch
		return time.UnixMicro(int64(ts))
	}
	return time.Time{}
}

func stringProp(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func isNoSuchUnit(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NoSuchUnit")
}
