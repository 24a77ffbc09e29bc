// Package presenter turns accepted relay messages into user-visible
// notifications.
//
// # Pipeline
//
// Adapter.Present runs on the subscription read loop. It applies the variant's
// gate, allocates the notification ID and enqueues; it never blocks on the
// sink. A single worker drains the queue in order, rate limits, and retries
// failed deliveries with jittered backoff.
//
// # Sinks
//
// A Sink shows one Notification. LogSink, DesktopSink and the Telegram sink
// (internal/transport/telegram) are combined with Multi.
package presenter
