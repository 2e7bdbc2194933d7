// Package remote defines the RemoteStore boundary of the sync core and
// provides its network adapter.
//
// RemoteStore covers filtered reads, inserts, partial updates, deletes and
// per-table change-feed subscriptions over three collections: todos,
// connections and the read-only users directory. The in-process SQLite
// store implements it directly; Client implements it over the HTTP API
// served by internal/server, with the change feed carried on a websocket.
//
// Failures are plain errors. Errors produced by the HTTP API arrive as
// *Error with the server's message kept verbatim for display.
package remote
