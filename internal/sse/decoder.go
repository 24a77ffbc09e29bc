package sse

import "strings"

// DefaultEvent is the event type of a frame that never saw an "event:" line.
const DefaultEvent = "message"

const (
	prefixEvent = "event:"
	prefixData  = "data:"
)

// Frame is one decoded SSE event, before any application-level interpretation.
type Frame struct {
	Event string
	Data  string
}

// Decoder assembles frames from lines fed in stream order.
// It is not safe for concurrent use; one Decoder belongs to one stream.
type Decoder struct {
	event    string
	eventSet bool
	data     strings.Builder
}

func NewDecoder() *Decoder { return &Decoder{} }

// Feed consumes one line (without its trailing newline) and returns the frame
// it completes, if any.
func (d *Decoder) Feed(line string) (Frame, bool) {
	switch {
	case line == "":
		return d.terminate()
	case strings.HasPrefix(line, prefixEvent):
		d.event = strings.TrimSpace(line[len(prefixEvent):])
		d.eventSet = true
	case strings.HasPrefix(line, prefixData):
		d.data.WriteString(strings.TrimSpace(line[len(prefixData):]))
	}
	return Frame{}, false
}

// Pending reports whether data has been accumulated for an unterminated frame.
func (d *Decoder) Pending() bool { return d.data.Len() > 0 }

// Reset drops any partially assembled frame.
func (d *Decoder) Reset() {
	d.event, d.eventSet = "", false
	d.data.Reset()
}

func (d *Decoder) terminate() (Frame, bool) {
	if d.data.Len() == 0 {
		d.Reset()
		return Frame{}, false
	}
	f := Frame{Event: d.event, Data: d.data.String()}
	// An explicit "event:" line with no value stays empty.
	if !d.eventSet {
		f.Event = DefaultEvent
	}
	d.Reset()
	return f, true
}
