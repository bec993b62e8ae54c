// ABOUTME: Shared types and errors for the gateway's durable record store
// ABOUTME: Holds audit log entries and per-call tool usage records

package store

import "errors"

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// nullString returns nil for empty strings so optional columns stay NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
