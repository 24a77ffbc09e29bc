// Package storage is the small persistence layer behind jtechpush.
//
// It keeps:
//   - a history of presented notifications (for `jtechpush status` and /status)
//   - the stable device identifier
//
// Undelivered events are never stored; the subscription is a live stream.
package storage
