//go:build !linux

package lifecycle

import "context"

func QueryUnit(ctx context.Context, unit string, user bool) (UnitStatus, error) {
	return UnitStatus{}, ErrUnsupported
}
