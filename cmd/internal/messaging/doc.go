// Package messaging implements the user-facing conversation operations on top of the
// conversation, message, attachment and identity packages.
//
// Operations never touch live connections. Every mutating call returns an Outcome describing
// the realtime events (and integration events) to emit; the transport hands it to a Dispatcher
// after the store writes have succeeded.
package messaging
