package lifecycle

import (
	"errors"
	"time"
)

var ErrUnsupported = errors.New("systemd unit inspection is not supported on this platform")

// UnitStatus is the service manager's view of a unit.
type UnitStatus struct {
	Name        string    `json:"name"`
	Active      string    `json:"active"`    // active, inactive, failed, ...
	SubState    string    `json:"sub_state"` // running, dead, ...
	LoadState   string    `json:"load_state"`
	Description string    `json:"description,omitempty"`
	ActiveSince time.Time `json:"active_since,omitempty"`
	MainPID     uint32    `json:"main_pid,omitempty"`
}

func parseTimestamp(props map[string]interface{}, key string) time.Time {
	if ts, ok := props[key].(uint64); ok && ts > 0 {
		// systemd timestamps are in microseconds since the Unix epoch
		return time.Unix(int64(ts/1_000_000), 0)
	}
	return time.Time{}
}

func unitFromProps(name string, props map[string]interface{}) UnitStatus {
	str := func(k string) string {
		v, _ := props[k].(string)
		return v
	}
	st := UnitStatus{
		Name:        name,
		Active:      str("ActiveState"),
		SubState:    str("SubState"),
		LoadState:   str("LoadState"),
		Description: str("Description"),
		ActiveSince: parseTimestamp(props, "ActiveEnterTimestamp"),
	}
	if pid, ok := props["MainPID"].(uint32); ok {
		st.MainPID = pid
	}
	if st.LoadState == "not-found" {
		st.Active, st.SubState = "unknown", "not-found"
	}
	return st
}
