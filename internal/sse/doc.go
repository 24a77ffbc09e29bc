// Package sse decodes the line-oriented server-sent-events framing used by
// ntfy-style relays.
//
// The framing is deliberately minimal: consecutive data lines are concatenated
// without a separator and a frame left unterminated at end of stream is
// discarded rather than flushed.
package sse
