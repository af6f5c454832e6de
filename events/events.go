package events

import (
	"reflect"
	"sync"
)

// EventHandler defines a function type where its input type is the generic type. Returning an error stops the
// publishing of the event to the remaining handlers and is returned to the publisher.
type EventHandler[T any] func(T) error

// globalEventHandlers maps event types to handlers which are invoked whenever any EventEmitter publishes an event of
// that type.
var globalEventHandlers = make(map[reflect.Type][]any)

// globalEventHandlersLock guards globalEventHandlers.
var globalEventHandlersLock sync.RWMutex

// SubscribeAny adds an EventHandler which is invoked for events of the generic type published by any emitter.
// Handlers subscribed here live for the remainder of the process.
func SubscribeAny[T any](callback EventHandler[T]) {
	eventType := reflect.TypeOf((*T)(nil)).Elem()

	globalEventHandlersLock.Lock()
	defer globalEventHandlersLock.Unlock()
	globalEventHandlers[eventType] = append(globalEventHandlers[eventType], callback)
}

// EventEmitter describes a provider which can subscribe EventHandler methods for callback when the event type (generic)
// is published. It is safe for concurrent use.
type EventEmitter[T any] struct {
	// subscriptions defines the EventHandler methods which should be invoked when a new event is published to this
	// emitter.
	subscriptions []EventHandler[T]

	// subscriptionsLock guards subscriptions.
	subscriptionsLock sync.RWMutex
}

// Publish emits the provided event by calling every EventHandler subscribed to this emitter, then every global
// handler for the event type. Returns the first error a handler returned, if any.
func (e *EventEmitter[T]) Publish(event T) error {
	e.subscriptionsLock.RLock()
	subscriptions := append([]EventHandler[T]{}, e.subscriptions...)
	e.subscriptionsLock.RUnlock()

	for _, subscription := range subscriptions {
		if err := subscription(event); err != nil {
			return err
		}
	}

	globalEventHandlersLock.RLock()
	callbacks := append([]any{}, globalEventHandlers[reflect.TypeOf((*T)(nil)).Elem()]...)
	globalEventHandlersLock.RUnlock()

	for _, callback := range callbacks {
		if err := callback.(EventHandler[T])(event); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe adds an EventHandler to the list of subscribed EventHandler objects for this emitter.
func (e *EventEmitter[T]) Subscribe(callback EventHandler[T]) {
	e.subscriptionsLock.Lock()
	defer e.subscriptionsLock.Unlock()
	e.subscriptions = append(e.subscriptions, callback)
}
