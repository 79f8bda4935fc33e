// events_test.go: event bus ordering, removal and panic isolation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_Delivery(t *testing.T) {
	t.Run("SubscriptionOrder", func(t *testing.T) {
		bus := NewEventBus(nil)
		var got []string
		bus.On("e", func(args ...any) { got = append(got, "first") })
		bus.On("e", func(args ...any) { got = append(got, "second") })
		bus.On("other", func(args ...any) { got = append(got, "other") })

		bus.Emit("e")
		assert.Equal(t, []string{"first", "second"}, got)
	})

	t.Run("ArgumentsArePassed", func(t *testing.T) {
		bus := NewEventBus(nil)
		var got []any
		bus.On("e", func(args ...any) { got = args })
		bus.Emit("e", "a", 1)
		assert.Equal(t, []any{"a", 1}, got)
	})

	t.Run("EmitWithoutListeners", func(t *testing.T) {
		bus := NewEventBus(nil)
		assert.NotPanics(t, func() { bus.Emit("nobody") })
	})
}

func TestEventBus_Unsubscribe(t *testing.T) {
	t.Run("HandleRemovesOnce", func(t *testing.T) {
		bus := NewEventBus(nil)
		calls := 0
		off := bus.On("e", func(args ...any) { calls++ })
		bus.On("e", func(args ...any) {})

		off()
		off()
		bus.Emit("e")
		assert.Equal(t, 0, calls)
		assert.Equal(t, 1, bus.ListenerCount("e"))
	})

	t.Run("ListenerRemovedDuringEmitIsSkipped", func(t *testing.T) {
		bus := NewEventBus(nil)
		var second func()
		calls := 0
		bus.On("e", func(args ...any) { second() })
		second = bus.On("e", func(args ...any) { calls++ })

		bus.Emit("e")
		assert.Equal(t, 0, calls)
	})

	t.Run("ListenerAddedDuringEmitWaitsForNextEmit", func(t *testing.T) {
		bus := NewEventBus(nil)
		late := 0
		added := false
		bus.On("e", func(args ...any) {
			if !added {
				added = true
				bus.On("e", func(args ...any) { late++ })
			}
		})

		bus.Emit("e")
		assert.Equal(t, 0, late)
		bus.Emit("e")
		assert.Equal(t, 1, late)
	})
}

func TestEventBus_PanicIsolation(t *testing.T) {
	logger := NewTestLogger()
	bus := NewEventBus(logger)
	reached := false
	bus.On("e", func(args ...any) { panic("boom") })
	bus.On("e", func(args ...any) { reached = true })

	assert.NotPanics(t, func() { bus.Emit("e") })
	assert.True(t, reached, "a panicking listener must not stop delivery")
	assert.True(t, logger.HasMessage("ERROR", "Event listener panicked"))
}
