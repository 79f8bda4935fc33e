// service.go: helper for long running services living in a service slot
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

// Starter is implemented by services that need to start after registration.
type Starter interface {
	Start() error
}

// Stopper is implemented by services that need to stop on disposal.
type Stopper interface {
	Stop() error
}

// RegisterService declares the slot name and fills it with svc. With
// immediate set the slot is filled and svc started right away; otherwise
// this happens once ctx is ready. svc is stopped when ctx's lifecycle
// unloads.
func RegisterService(ctx *Context, name string, svc any, immediate bool) error {
	ctx.Declare(name)

	start := func() error {
		if err := ctx.Registry().Set(name, svc); err != nil {
			ctx.Logger().Error("Service slot already taken", "service", name, "error", err)
			return err
		}
		if s, ok := svc.(Starter); ok {
			if err := s.Start(); err != nil {
				ctx.Logger().Error("Service start failed", "service", name, "error", err)
				return err
			}
		}
		ctx.Logger().Debug("Service registered", "service", name)
		return nil
	}

	ctx.Collect(func() error {
		if s, ok := svc.(Stopper); ok {
			return s.Stop()
		}
		return nil
	})

	if immediate {
		return start()
	}
	ctx.lifecycle.OnReady(func() {
		// errors are already logged
		_ = start()
	})
	return nil
}
