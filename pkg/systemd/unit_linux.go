//go:build linux

package systemd

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
)

// QueryUnit reads the state of a unit from the user manager, or the system
// manager when system is set. A unit systemd does not know is reported with
// LoadState "not-found" and no error.
func QueryUnit(ctx context.Context, name string, system bool) (UnitStatus, error) {
	name = unitName(name)
	var (
		conn *dbus.Conn
		err  error
	)
	if system {
		conn, err = dbus.NewSystemConnectionContext(ctx)
	} else {
		conn, err = dbus.NewUserConnectionContext(ctx)
	}
	if err != nil {
		return UnitStatus{}, fmt.Errorf("systemd: connect: %w", err)
	}
	defer conn.Close()

	props, err := conn.GetUnitPropertiesContext(ctx, name)
	if err != nil {
		if isNoSuchUnit(err) {
			return notFound(name), nil
		}
		return UnitStatus{}, fmt.Errorf("systemd: status of %s: %w", name, err)
	}
	st := UnitStatus{
		Name:        name,
		Active:      stringProp(props, "ActiveState"),
		SubState:    stringProp(props, "SubState"),
		LoadState:   stringProp(props, "LoadState"),
		Description: stringProp(props, "Description"),
		ActiveSince: parseTimestamp(props, "ActiveEnterTimestamp"),
	}
	if !st.Found() {
		return notFound(name), nil
	}
	return st, nil
}
