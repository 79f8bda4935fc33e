// daemon.go: daemon run loop
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package daemon

import (
	"context"

	saukko "github.com/cocotais/go-saukko"
	"go.uber.org/multierr"
)

// Options configures a Daemon.
type Options struct {
	// SocketPath is the control socket. Defaults to saukko.DefaultSocketPath.
	SocketPath string

	// HealthSocketPath enables the gRPC health service when set.
	HealthSocketPath string

	Logger saukko.Logger
}

// Daemon serves a started App until it is told to stop.
type Daemon struct {
	app    *saukko.App
	server *Server
	health *HealthServer
	logger saukko.Logger
}

// New creates a daemon for app. app must already be started.
func New(app *saukko.App, opts Options) *Daemon {
	logger := saukko.NewLogger(opts.Logger)
	if opts.SocketPath == "" {
		opts.SocketPath = saukko.DefaultSocketPath
	}
	d := &Daemon{
		app:    app,
		server: NewServer(app, opts.SocketPath, logger),
		logger: logger.With("component", "daemon"),
	}
	if opts.HealthSocketPath != "" {
		d.health = NewHealthServer(app, opts.HealthSocketPath, logger)
	}
	return d
}

// Server returns the control server.
func (d *Daemon) Server() *Server { return d.server }

// Run opens the sockets and blocks until ctx is done or a client sends the
// stop action. The app is stopped before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.server.Start(); err != nil {
		d.app.Stop()
		return err
	}
	if d.health != nil {
		if err := d.health.Start(); err != nil {
			return multierr.Append(err, d.shutdown())
		}
	}
	d.logger.Info("Daemon running", "socket", d.server.SocketPath())

	select {
	case <-ctx.Done():
		d.logger.Info("Daemon interrupted")
	case <-d.server.StopRequested():
	}
	return d.shutdown()
}

func (d *Daemon) shutdown() error {
	var errs error
	errs = multierr.Append(errs, d.server.Stop())
	if d.health != nil {
		d.health.Stop()
	}
	d.app.Stop()
	d.logger.Info("Daemon stopped")
	return errs
}
