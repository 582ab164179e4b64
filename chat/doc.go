// Package chat is the persisted, append-mostly message log bound to stream sessions.
//
// Messages carry a server-assigned monotonic id which is the only total order the
// system relies on; created_at is advisory. A message is immutable after insert
// except for the soft-delete/moderation fields. Moderation never removes rows, so
// history stays auditable.
//
// The store validates nothing about live state: binding a message to the correct
// open session is the gateway's job (it resolves the session through the stream
// package before calling Insert).
package chat
