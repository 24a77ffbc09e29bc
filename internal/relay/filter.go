package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"

	"jtechpush/internal/sse"
)

// DefaultTitle is used when a payload carries no title.
const DefaultTitle = "JtechForums"

// topicEchoPrefix marks the relay's own subscription-confirmation echo, which
// would otherwise surface as a spurious notification.
const (
	topicEchoPrefix = "dumbcourse-"
	topicEchoMaxLen = 50
)

var ErrNotConfigured = errors.New("subscription not configured")

// Message is a normalized notification. Click is empty when the payload has no click target.
type Message struct {
	Title string
	Body  string
	Click string
}

type RejectReason string

const (
	WrongEventType   RejectReason = "wrong_event_type"
	MalformedPayload RejectReason = "malformed_payload"
	EmptyBody        RejectReason = "empty_body"
	TopicArtifact    RejectReason = "topic_artifact"
)

// Rejection is returned by Classify for frames that must not be presented.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "rejected: " + string(r.Reason)
	}
	return fmt.Sprintf("rejected: %s: %s", r.Reason, r.Detail)
}

// Is lets errors.Is match on reason alone: errors.Is(err, &Rejection{Reason: EmptyBody}).
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Reason == r.Reason
}

// RejectionReason extracts the reason from err, or "" if err is not a rejection.
func RejectionReason(err error) RejectReason {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason
	}
	return ""
}

func reject(reason RejectReason, detail string) error {
	return &Rejection{Reason: reason, Detail: detail}
}

// Classify decides whether f becomes a notification.
func Classify(f sse.Frame) (Message, error) {
	if f.Event != sse.DefaultEvent {
		return Message{}, reject(WrongEventType, f.Event)
	}

	var payload map[string]any
	dec := json.NewDecoder(strings.NewReader(f.Data))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return Message{}, reject(MalformedPayload, err.Error())
	}
	if payload == nil {
		return Message{}, reject(MalformedPayload, "not a JSON object")
	}
	if dec.More() {
		return Message{}, reject(MalformedPayload, "trailing data after JSON object")
	}

	if ev := stringField(payload, "event"); ev != "" && ev != sse.DefaultEvent {
		return Message{}, reject(WrongEventType, ev)
	}

	msg := Message{
		Title: stringField(payload, "title"),
		Body:  stringField(payload, "message"),
		Click: stringField(payload, "click"),
	}
	if msg.Body == "" {
		return Message{}, reject(EmptyBody, "")
	}
	if strings.HasPrefix(msg.Body, topicEchoPrefix) && textLen(msg.Body) < topicEchoMaxLen {
		return Message{}, reject(TopicArtifact, msg.Body)
	}
	if msg.Title == "" {
		msg.Title = DefaultTitle
	}
	return msg, nil
}

// textLen counts UTF-16 code units.
func textLen(s string) int { return len(utf16.Encode([]rune(s))) }

// stringField renders payload[key] as text; numbers keep their literal form.
// Missing and null values read as empty.
func stringField(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return ""
		}
		return strings.TrimSuffix(buf.String(), "\n")
	}
}
