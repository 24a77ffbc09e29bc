// Package relay holds the relay-facing vocabulary: which URL a subscription
// streams from, and which frames become notifications.
package relay
