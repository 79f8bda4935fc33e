// service_registry.go: named single-assignment service slots
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import "reflect"

// ServiceRegistry holds the named service slots of a context tree.
//
// A slot is present when it holds a non-nil value. A present slot cannot be
// overwritten by another present value until it has been cleared with a nil
// Set or removed. Every successful write synchronously calls the change
// notifier before returning; the notifier is how the lifecycle table learns
// that a dependency came or went.
//
// ServiceRegistry is not safe for concurrent use.
type ServiceRegistry struct {
	slots  map[string]any
	order  []string
	notify func(key string)
}

// NewServiceRegistry creates an empty registry. notify may be nil.
func NewServiceRegistry(notify func(key string)) *ServiceRegistry {
	if notify == nil {
		notify = func(string) {}
	}
	return &ServiceRegistry{
		slots:  make(map[string]any),
		notify: notify,
	}
}

// Declare creates the slot if it does not exist yet, optionally seeded.
// Declaring an existing key is a no-op.
func (r *ServiceRegistry) Declare(key string, initial ...any) {
	if _, exists := r.slots[key]; exists {
		return
	}
	var value any
	if len(initial) > 0 {
		value = initial[0]
	}
	r.slots[key] = value
	r.order = append(r.order, key)
	if isPresent(value) {
		r.notify(key)
	}
}

// Declared reports whether a slot exists for key, present or not.
func (r *ServiceRegistry) Declared(key string) bool {
	_, exists := r.slots[key]
	return exists
}

// Present reports whether key holds a non-nil value.
func (r *ServiceRegistry) Present(key string) bool {
	return isPresent(r.slots[key])
}

// Get returns the value of a present slot.
func (r *ServiceRegistry) Get(key string) (any, bool) {
	value, exists := r.slots[key]
	if !exists || !isPresent(value) {
		return nil, false
	}
	return value, true
}

// Set assigns value to key, declaring the slot first if needed. A nil value
// clears the slot. Assigning the value the slot already holds does nothing.
func (r *ServiceRegistry) Set(key string, value any) error {
	old, exists := r.slots[key]
	if !exists {
		r.order = append(r.order, key)
	}
	if !isPresent(value) {
		value = nil
	}
	if !exists && value == nil {
		// declared empty, nothing became present
		r.slots[key] = nil
		return nil
	}
	if exists && sameValue(old, value) {
		return nil
	}
	if isPresent(old) && value != nil {
		return NewServiceAlreadySetError(key)
	}
	r.slots[key] = value
	r.notify(key)
	return nil
}

// Remove deletes the slot entirely. It reports whether the slot existed.
func (r *ServiceRegistry) Remove(key string) bool {
	if _, exists := r.slots[key]; !exists {
		return false
	}
	delete(r.slots, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.notify(key)
	return true
}

// Keys returns every declared key in declaration order.
func (r *ServiceRegistry) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// PresentKeys returns the keys currently holding a value.
func (r *ServiceRegistry) PresentKeys() []string {
	out := make([]string, 0, len(r.order))
	for _, k := range r.order {
		if isPresent(r.slots[k]) {
			out = append(out, k)
		}
	}
	return out
}

// isPresent treats untyped nil and typed nil references as absent.
func isPresent(value any) bool {
	if value == nil {
		return false
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return !rv.IsNil()
	}
	return true
}

// sameValue is == restricted to comparable dynamic types.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
