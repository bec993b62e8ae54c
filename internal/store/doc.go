// Package store persists the gateway's durable records in SQLite.
//
// Two record families live here:
//
//   - Audit log: one entry per session lifecycle event (admitted,
//     rejected, closed) and per tool invocation or denial, keyed by
//     tenant and connection.
//   - Tool usage: one row per tool call with its duration and error
//     flag, aggregatable per tenant, environment, or tool.
//
// Session records themselves are NOT stored here; they live in the
// session package's TTL store. This store is for records that must
// outlive any connection.
//
// The SQLite backend (modernc.org/sqlite, pure Go) creates its schema
// on open and runs in WAL mode. Use ":memory:" as the path for tests.
package store
