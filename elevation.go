// elevation.go: projection of service members onto public context names
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	"fmt"
	"reflect"
	"sort"
)

// Elevation maps a public name to a member of a service.
type Elevation struct {
	Service string
	Member  string
}

// ElevationTable stores elevations by public name. It does not hold service
// values; members are resolved against the registry at lookup time.
type ElevationTable struct {
	entries map[string]Elevation
	logger  Logger
}

// NewElevationTable creates an empty table.
func NewElevationTable(logger Logger) *ElevationTable {
	return &ElevationTable{
		entries: make(map[string]Elevation),
		logger:  NewLogger(logger),
	}
}

// Register maps public to service.member, overwriting (with a warning) any
// previous mapping for public.
func (t *ElevationTable) Register(public, service, member string) {
	if prev, exists := t.entries[public]; exists {
		t.logger.Warn("Elevated name already registered, overwriting",
			"name", public,
			"previous_service", prev.Service,
			"previous_member", prev.Member,
			"service", service,
			"member", member)
	}
	t.entries[public] = Elevation{Service: service, Member: member}
}

// Resolve returns the elevation registered for public.
func (t *ElevationTable) Resolve(public string) (Elevation, bool) {
	e, ok := t.entries[public]
	return e, ok
}

// Unregister removes the mapping for public.
func (t *ElevationTable) Unregister(public string) {
	delete(t.entries, public)
}

// Names returns the registered public names, sorted.
func (t *ElevationTable) Names() []string {
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// memberOf reads member from service. Methods come back as method values
// bound to service; exported struct fields and string-keyed map entries are
// returned as they are.
func memberOf(service any, member string) (any, bool) {
	rv := reflect.ValueOf(service)
	if !rv.IsValid() {
		return nil, false
	}

	if rv.Kind() == reflect.Map {
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(member).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	}

	if m := rv.MethodByName(member); m.IsValid() {
		return m.Interface(), true
	}

	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	field, ok := rv.Type().FieldByName(member)
	if !ok || !field.IsExported() {
		return nil, false
	}
	return rv.FieldByIndex(field.Index).Interface(), true
}

// setMember writes value into member of service. Only map entries and
// exported fields reachable through a pointer can be written.
func setMember(service any, member string, value any) error {
	rv := reflect.ValueOf(service)
	if !rv.IsValid() {
		return fmt.Errorf("service is nil")
	}

	if rv.Kind() == reflect.Map {
		kt, vt := rv.Type().Key(), rv.Type().Elem()
		if kt.Kind() != reflect.String {
			return fmt.Errorf("map key type %s is not a string", kt)
		}
		val, err := assignable(value, vt)
		if err != nil {
			return err
		}
		rv.SetMapIndex(reflect.ValueOf(member).Convert(kt), val)
		return nil
	}

	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("service of type %T is not writable", service)
	}
	field := rv.Elem().FieldByName(member)
	if !field.IsValid() || !field.CanSet() {
		return fmt.Errorf("member %q of %T is not a settable field", member, service)
	}
	val, err := assignable(value, field.Type())
	if err != nil {
		return err
	}
	field.Set(val)
	return nil
}

func assignable(value any, to reflect.Type) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(to), nil
	}
	v := reflect.ValueOf(value)
	if v.Type().AssignableTo(to) {
		return v, nil
	}
	if v.Type().ConvertibleTo(to) {
		return v.Convert(to), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot assign %T to %s", value, to)
}
