// events.go: synchronous publish/subscribe bus shared by a context tree
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

// Reserved and well-known event names.
const (
	// EventReady listeners run once, when the subscribing context's
	// lifecycle is active.
	EventReady = "ready"

	// EventDispose listeners are collected as disposals of the subscribing
	// context's lifecycle instead of being delivered through the bus.
	EventDispose = "dispose"

	// EventRuntimeChange is emitted with the key of every service slot write.
	// It is consumed by the lifecycle table and cannot be used via Context.
	EventRuntimeChange = "internal.runtime"

	// EventPluginState is emitted with (name string, from, to LifecycleState)
	// on every plugin lifecycle transition.
	EventPluginState = "plugin.state"

	// EventConfigReload is emitted with the config file path after a hot
	// reload replaced the configuration.
	EventConfigReload = "config.reload"
)

// Listener receives the arguments passed to Emit.
type Listener func(args ...any)

type subscription struct {
	fn      Listener
	removed bool
}

// EventBus delivers events synchronously, in subscription order.
//
// Emit iterates over a snapshot of the listener list, so listeners may
// subscribe or unsubscribe while an event is being delivered. A listener
// removed during delivery is not called afterwards. Panics raised by
// listeners are recovered and logged.
//
// EventBus is not safe for concurrent use.
type EventBus struct {
	listeners map[string][]*subscription
	logger    Logger
}

// NewEventBus creates an empty bus.
func NewEventBus(logger Logger) *EventBus {
	return &EventBus{
		listeners: make(map[string][]*subscription),
		logger:    NewLogger(logger),
	}
}

// On subscribes fn to event and returns a handle that removes the
// subscription. Calling the handle more than once is harmless.
func (b *EventBus) On(event string, fn Listener) func() {
	sub := &subscription{fn: fn}
	b.listeners[event] = append(b.listeners[event], sub)
	return func() {
		if sub.removed {
			return
		}
		sub.removed = true
		subs := b.listeners[event]
		for i, s := range subs {
			if s == sub {
				b.listeners[event] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.listeners[event]) == 0 {
			delete(b.listeners, event)
		}
	}
}

// Emit calls every listener of event with args.
func (b *EventBus) Emit(event string, args ...any) {
	subs := b.listeners[event]
	if len(subs) == 0 {
		return
	}
	snapshot := make([]*subscription, len(subs))
	copy(snapshot, subs)

	for _, sub := range snapshot {
		if sub.removed {
			continue
		}
		fn := sub.fn
		if err := safeCall(func() error { fn(args...); return nil }); err != nil {
			b.logger.Error("Event listener panicked", "event", event, "error", err)
		}
	}
}

// ListenerCount returns the number of live subscriptions for event.
func (b *EventBus) ListenerCount(event string) int {
	return len(b.listeners[event])
}
