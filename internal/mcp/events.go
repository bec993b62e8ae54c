// ABOUTME: Per-session fan-out broadcaster for JSON-RPC notifications.
// ABOUTME: Feeds the SSE event stream; slow subscribers drop rather than block.

package mcp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
const subscriberBufferSize = 64

// Notification is a JSON-RPC 2.0 notification pushed to a session's event
// stream.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewNotification builds a notification for the given method.
func NewNotification(method string, params any) *Notification {
	return &Notification{JSONRPC: "2.0", Method: method, Params: params}
}

// Broadcaster provides in-memory pub/sub of notifications keyed by session
// id. Each session's subscribers see only that session's events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Notification // sessionID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Notification),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for a session's events. The returned
// channel receives notifications until Unsubscribe or CloseSession; the
// subscription is cleaned up automatically when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string) (<-chan *Notification, string) {
	subID := uuid.New().String()
	ch := make(chan *Notification, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[sessionID]; !ok {
		b.subscribers[sessionID] = make(map[string]chan *Notification)
	}
	b.subscribers[sessionID][subID] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.Unsubscribe(sessionID, subID)
	}()

	return ch, subID
}

// Publish sends a notification to all subscribers of the session.
// Non-blocking: events are dropped for subscribers whose channels are full.
// Sends happen under the read lock so a concurrent Unsubscribe or
// CloseSession cannot close a channel mid-send.
func (b *Broadcaster) Publish(sessionID string, n *Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[sessionID] {
		select {
		case ch <- n:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"session_id", sessionID,
				"method", n.Method)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(sessionID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sessionID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, sessionID)
	}
}

// CloseSession closes every subscriber channel for one session. Called at
// connection teardown.
func (b *Broadcaster) CloseSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sessionID]
	if !ok {
		return
	}
	for subID, ch := range subs {
		close(ch)
		delete(subs, subID)
	}
	delete(b.subscribers, sessionID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sessionID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, sessionID)
	}
}
