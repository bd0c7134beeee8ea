package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventDisciplineModeChanged EventType = "DISCIPLINE_MODE_CHANGED"
	EventDayCheckedIn          EventType = "DAY_CHECKED_IN"
	EventTradeLogged           EventType = "TRADE_LOGGED"
	EventDayMaxReached         EventType = "DAY_MAX_REACHED"
	EventDayOverridden         EventType = "DAY_OVERRIDDEN"
	EventDaySubmitted          EventType = "DAY_SUBMITTED"
	EventRewardsUpdated        EventType = "REWARDS_UPDATED"
	EventUserLogout            EventType = "USER_LOGOUT"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// UserID returns the user_id field of the event payload, if any.
func (e Event) UserID() string {
	if id, ok := e.Data["user_id"].(string); ok {
		return id
	}
	return ""
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Each subscriber runs in its own
// goroutine so a slow handler never blocks the publisher.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishDayEvent publishes a discipline day transition for a user
func (eb *EventBus) PublishDayEvent(eventType EventType, userID, date string, data map[string]interface{}) {
	payload := map[string]interface{}{
		"user_id": userID,
		"date":    date,
	}
	for k, v := range data {
		payload[k] = v
	}
	eb.Publish(Event{Type: eventType, Data: payload})
}

// PublishModeChanged publishes a discipline mode change
func (eb *EventBus) PublishModeChanged(userID string, enabled bool, defaultMax int) {
	eb.Publish(Event{
		Type: EventDisciplineModeChanged,
		Data: map[string]interface{}{
			"user_id":     userID,
			"enabled":     enabled,
			"default_max": defaultMax,
		},
	})
}

// PublishUserLogout publishes a user logout event
func (eb *EventBus) PublishUserLogout(userID string) {
	eb.Publish(Event{
		Type: EventUserLogout,
		Data: map[string]interface{}{
			"user_id": userID,
		},
	})
}
