//go:build linux

package lifecycle

import (
	"context"
	"fmt"
	"strings"

	sddbus "github.com/coreos/go-systemd/v22/dbus"
)

// QueryUnit reads a unit's state over D-Bus. user selects the per-user
// service manager instead of the system one.
func QueryUnit(ctx context.Context, unit string, user bool) (UnitStatus, error) {
	if !strings.Contains(unit, ".") {
		unit += ".service"
	}
	var (
		conn *sddbus.Conn
		err  error
	)
	if user {
		conn, err = sddbus.NewUserConnectionContext(ctx)
	} else {
		conn, err = sddbus.NewSystemConnectionContext(ctx)
	}
	if err != nil {
		return UnitStatus{}, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	props, err := conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		return UnitStatus{}, fmt.Errorf("failed to get status for %s: %w", unit, err)
	}
	return unitFromProps(unit, props), nil
}
