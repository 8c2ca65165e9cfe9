// Package bus is the in-process event bus. The runtime publishes
// conversation lifecycle and step events on it and the websocket layer
// fans them out to connected clients.
package bus

import (
	"sync"

	"github.com/llmosd/llmosd/pkg/protocol"
)

// Event names published by the runtime.
const (
	EventConversationCreated = "conversation.created"
	EventConversationDeleted = "conversation.deleted"
	EventConversationEvicted = "conversation.evicted"
	EventStepCompleted       = "step.completed"
)

// Event is a single bus event. Payload is event-specific and must be
// JSON-marshalable since the websocket layer forwards events verbatim.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// ConversationEvent is the payload for conversation lifecycle events.
type ConversationEvent struct {
	ConvName string `json:"conv_name"`
}

// StepEvent is the payload for step.completed.
type StepEvent struct {
	ConvName       string                   `json:"conv_name"`
	UserID         int                      `json:"used_human_id"`
	Duration       float64                  `json:"duration"`
	Heartbeat      bool                     `json:"heartbeat"`
	FunctionFailed bool                     `json:"function_failed"`
	Messages       []protocol.ServerMessage `json:"server_message_stack"`
}

// EventHandler receives broadcast events. Handlers run synchronously
// on the broadcaster's goroutine and must not block.
type EventHandler func(Event)

// Bus fans broadcast events out to all subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]EventHandler
}

func New() *Bus {
	return &Bus{subs: make(map[string]EventHandler)}
}

// Subscribe registers h under id, replacing any previous handler with
// the same id.
func (b *Bus) Subscribe(id string, h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = h
}

// Unsubscribe removes the handler registered under id, if any.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Broadcast delivers ev to every subscriber.
func (b *Bus) Broadcast(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.subs {
		h(ev)
	}
}
