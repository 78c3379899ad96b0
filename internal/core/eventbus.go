package core

import "sync"

// EventType defines the type of event being published.
type EventType string

const (
	// StateChangedEvent carries the new splendid.ControllerState.
	StateChangedEvent EventType = "StateChanged"
	// RoutineChangedEvent carries the running routine name, "" when it stopped.
	RoutineChangedEvent EventType = "RoutineChanged"
	// CommandFailedEvent carries a CommandFailure.
	CommandFailedEvent EventType = "CommandFailed"
	// SchedulesChangedEvent has no payload.
	SchedulesChangedEvent EventType = "SchedulesChanged"
	// RoutinesChangedEvent has no payload; the routine files changed.
	RoutinesChangedEvent EventType = "RoutinesChanged"
	// RoutineCodeEvent carries a RoutineCode requested by a client.
	RoutineCodeEvent EventType = "RoutineCode"
)

// Event is the envelope for all system events.
type Event struct {
	Type    EventType
	Payload interface{}
}

// CommandFailure is the payload of CommandFailedEvent.
type CommandFailure struct {
	Type  CommandType `json:"type"`
	Error string      `json:"error"`
}

// RoutineCode is the payload of RoutineCodeEvent.
type RoutineCode struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Subscriber is a channel that receives events.
type Subscriber chan Event

// EventBus handles pub/sub messaging for the application.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe returns a channel that receives events of the given types.
func (eb *EventBus) Subscribe(eventTypes ...EventType) Subscriber {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(Subscriber, 100)
	for _, t := range eventTypes {
		eb.subscribers[t] = append(eb.subscribers[t], ch)
	}
	return ch
}

// Unsubscribe removes a subscriber channel.
func (eb *EventBus) Unsubscribe(ch Subscriber, eventTypes ...EventType) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, t := range eventTypes {
		subs := eb.subscribers[t]
		for i, sub := range subs {
			if sub == ch {
				eb.subscribers[t] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish distributes an event to all subscribers of its type. Slow
// subscribers miss events rather than block the publisher.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, sub := range eb.subscribers[event.Type] {
		select {
		case sub <- event:
		default:
		}
	}
}
