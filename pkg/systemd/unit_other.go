//go:build !linux

package systemd

import (
	"context"
	"errors"
)

var ErrUnsupported = errors.New("systemd: unsupported OS (linux only)")

func QueryUnit(ctx context.Context, name string, system bool) (UnitStatus, error) {
	return UnitStatus{}, ErrUnsupported
}
