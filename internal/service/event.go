package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// System events
	EventTypeServiceStarted EventType = "service.started"
	EventTypeServiceStopped EventType = "service.stopped"
	EventTypeServiceError   EventType = "service.error"

	// Camera events
	EventTypeCameraDiscovered   EventType = "camera.discovered"
	EventTypeCameraConnected    EventType = "camera.connected"
	EventTypeCameraDisconnected EventType = "camera.disconnected"

	// Recording events
	EventTypeSnapshotSaved  EventType = "recording.snapshot_saved"
	EventTypeSegmentOpened  EventType = "recording.segment_opened"
	EventTypeSegmentClosed  EventType = "recording.segment_closed"
	EventTypeRecordingError EventType = "recording.error"

	// Storage events
	EventTypeStorageWarning EventType = "storage.warning"
)

// Event represents an event in the system
type Event struct {
	Type      EventType
	Source    string // Service that emitted the event
	Timestamp time.Time
	Data      map[string]interface{}
}

// anyEvent keys the subscribers that receive every event type
const anyEvent EventType = "*"

// EventBus fans events out to buffered subscriber channels. Delivery is
// best effort: a subscriber whose buffer is full misses the event and the
// miss is counted.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	closed      bool
	dropped     atomic.Uint64
}

// NewEventBus creates a bus whose subscriber channels hold bufferSize events
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel receiving events of one type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	return eb.subscribe(eventType)
}

// SubscribeAll returns a channel receiving every event
func (eb *EventBus) SubscribeAll() <-chan Event {
	return eb.subscribe(anyEvent)
}

func (eb *EventBus) subscribe(key EventType) chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, eb.bufferSize)
	if eb.closed {
		close(ch)
		return ch
	}
	eb.subscribers[key] = append(eb.subscribers[key], ch)
	return ch
}

// Publish delivers the event without blocking
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}

	eb.deliver(eb.subscribers[event.Type], event)
	eb.deliver(eb.subscribers[anyEvent], event)
}

func (eb *EventBus) deliver(subs []chan Event, event Event) {
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			eb.dropped.Add(1)
		}
	}
}

// Dropped counts deliveries skipped because a subscriber was full
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

// Unsubscribe removes a Subscribe channel and closes it
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.remove(eventType, ch)
}

// UnsubscribeAll removes a SubscribeAll channel and closes it
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.remove(anyEvent, ch)
}

func (eb *EventBus) remove(key EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}

	subs := eb.subscribers[key]
	for i, sub := range subs {
		if sub != ch {
			continue
		}
		eb.subscribers[key] = append(subs[:i:i], subs[i+1:]...)
		close(sub)
		return
	}
}

// Close closes every subscriber channel. Later publishes are dropped silently.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}

	eb.closed = true
	for key, subs := range eb.subscribers {
		for _, sub := range subs {
			close(sub)
		}
		delete(eb.subscribers, key)
	}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// SubscribeWithHandler subscribes to events and handles them on a goroutine
// until ctx is done or the bus closes. Handler errors are passed to onError
// when it is non-nil.
func (eb *EventBus) SubscribeWithHandler(ctx context.Context, eventType EventType, handler EventHandler, onError func(Event, error)) {
	ch := eb.Subscribe(eventType)
	go func() {
		defer eb.Unsubscribe(eventType, ch)
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, event); err != nil && onError != nil {
					onError(event, err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
