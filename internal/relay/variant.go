package relay

import (
	"fmt"
	"net/url"
	"strings"
)

// Subscription identifies one topic on one relay server.
type Subscription struct {
	Server string `json:"server"`
	Topic  string `json:"topic"`
}

// Configured reports whether both server and topic are set.
func (s Subscription) Configured() bool {
	return strings.TrimSpace(s.Server) != "" && strings.TrimSpace(s.Topic) != ""
}

// Variant captures the differences between the relay flavours we talk to.
//
// PathTemplate is appended to the server base URL; "{topic}" is replaced by
// the path-escaped topic. Gated variants drop notifications while the
// "messages" flag is off.
type Variant struct {
	Name          string
	PathTemplate  string
	DefaultServer string
	Gated         bool
}

var (
	// Ntfy streams from /{topic}/sse and falls back to the public ntfy.sh server.
	Ntfy = Variant{Name: "ntfy", PathTemplate: "/{topic}/sse", DefaultServer: "https://ntfy.sh"}
	// Push streams from /{topic} and requires an explicit server.
	Push = Variant{Name: "push", PathTemplate: "/{topic}", Gated: true}
)

// LookupVariant resolves a configured variant name. Empty selects Ntfy.
func LookupVariant(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Ntfy.Name:
		return Ntfy, nil
	case Push.Name:
		return Push, nil
	default:
		return Variant{}, fmt.Errorf("unknown relay variant %q (want %q or %q)", name, Ntfy.Name, Push.Name)
	}
}

// Resolve applies the variant's default server and trims whitespace.
func (v Variant) Resolve(s Subscription) Subscription {
	s.Server = strings.TrimSpace(s.Server)
	s.Topic = strings.TrimSpace(s.Topic)
	if s.Server == "" {
		s.Server = v.DefaultServer
	}
	return s
}

// URL builds the stream URL for s. The subscription must be configured.
func (v Variant) URL(s Subscription) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	base := strings.TrimRight(strings.TrimSpace(s.Server), "/")
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("relay server %q: %w", s.Server, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("relay server %q: scheme must be http or https", s.Server)
	}
	tmpl := v.PathTemplate
	if tmpl == "" {
		tmpl = "/{topic}"
	}
	return base + strings.ReplaceAll(tmpl, "{topic}", url.PathEscape(strings.TrimSpace(s.Topic))), nil
}
