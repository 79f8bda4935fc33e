// panic_recovery.go: panic-to-error conversion for plugin supplied thunks
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	"fmt"
	"runtime"
)

// PanicError is returned in place of a panic raised by a plugin thunk.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// safeCall runs fn and converts a panic into a *PanicError.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)
			err = &PanicError{Value: r, Stack: buf[:n]}
		}
	}()
	return fn()
}

// safeGo runs fn in a new goroutine, logging its error or panic. Used for
// fire-and-forget disposals.
func safeGo(logger Logger, what string, fn func() error) {
	go func() {
		if err := safeCall(fn); err != nil {
			logger.Error("Asynchronous "+what+" failed", "error", err)
		}
	}()
}
