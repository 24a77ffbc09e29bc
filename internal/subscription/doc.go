// Package subscription keeps a relay topic subscribed.
//
// A Session is one HTTP stream: connect, decode frames, classify and present
// them, and report why it ended. The Supervisor runs sessions back to back on
// a single goroutine, waits between them, and lets other goroutines stop it or
// force a reconnect with the latest configuration.
package subscription
