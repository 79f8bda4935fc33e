// bridge.go: conversion between Go and Lua values
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package luaplugin

import (
	"fmt"
	"reflect"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// toGo converts a Lua value to a Go value. Tables with keys 1..n become
// []any, other tables map[string]any. Userdata yields its Go value.
func toGo(lv lua.LValue) any {
	return toGoVisited(lv, make(map[*lua.LTable]bool))
}

func toGoVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case nil:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		return tableToGo(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	maxN, count := 0, 0
	isArray := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if kn, ok := k.(lua.LNumber); ok {
			n := int(kn)
			if float64(n) == float64(kn) && n > 0 {
				if n > maxN {
					maxN = n
				}
				return
			}
		}
		isArray = false
	})

	if isArray && maxN > 0 && count == maxN {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = toGoVisited(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = strconv.FormatFloat(float64(kv), 'f', -1, 64)
		default:
			key = k.String()
		}
		m[key] = toGoVisited(v, visited)
	})
	return m
}

// toLua converts a Go value to a Lua value. Values without a natural Lua
// form (services, functions, structs behind pointers) become userdata so
// scripts can pass them back or call their methods through ctx.call.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int8:
		return lua.LNumber(val)
	case int16:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		t := L.NewTable()
		for i := 0; i < rv.Len(); i++ {
			t.RawSetInt(i+1, toLua(L, rv.Index(i).Interface()))
		}
		return t
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return userData(L, v)
		}
		t := L.NewTable()
		iter := rv.MapRange()
		for iter.Next() {
			t.RawSetString(iter.Key().String(), toLua(L, iter.Value().Interface()))
		}
		return t
	default:
		return userData(L, v)
	}
}

func userData(L *lua.LState, v any) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = v
	return ud
}

// callGo calls the Go function fn with Lua arguments converted to its
// parameter types and returns its results converted back to Lua. A trailing
// error result is raised as a Lua error when non-nil.
func callGo(L *lua.LState, fn any, args []lua.LValue) ([]lua.LValue, error) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func {
		return nil, fmt.Errorf("value of type %T is not callable", fn)
	}
	ft := rv.Type()

	in := make([]reflect.Value, 0, len(args))
	for i, arg := range args {
		var pt reflect.Type
		switch {
		case ft.IsVariadic() && i >= ft.NumIn()-1:
			pt = ft.In(ft.NumIn() - 1).Elem()
		case i < ft.NumIn():
			pt = ft.In(i)
		default:
			return nil, fmt.Errorf("too many arguments: want %d, got %d", ft.NumIn(), len(args))
		}
		v, err := convertArg(toGo(arg), pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		in = append(in, v)
	}
	minArgs := ft.NumIn()
	if ft.IsVariadic() {
		minArgs--
	}
	for len(in) < minArgs {
		in = append(in, reflect.Zero(ft.In(len(in))))
	}

	out := rv.Call(in)
	errorType := reflect.TypeOf((*error)(nil)).Elem()
	if n := len(out); n > 0 && ft.Out(n-1) == errorType {
		if err, _ := out[n-1].Interface().(error); err != nil {
			return nil, err
		}
		out = out[:n-1]
	}

	results := make([]lua.LValue, 0, len(out))
	for _, o := range out {
		results = append(results, toLua(L, o.Interface()))
	}
	return results, nil
}

func convertArg(v any, to reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(to), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(to) {
		return rv, nil
	}
	if rv.Type().ConvertibleTo(to) {
		switch to.Kind() {
		case reflect.String:
			if rv.Kind() != reflect.String {
				return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, to)
			}
		}
		return rv.Convert(to), nil
	}
	if items, ok := v.([]any); ok && to.Kind() == reflect.Slice {
		out := reflect.MakeSlice(to, 0, len(items))
		for _, item := range items {
			ev, err := convertArg(item, to.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out = reflect.Append(out, ev)
		}
		return out, nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, to)
}
