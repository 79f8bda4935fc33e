// health.go: gRPC health service reporting plugin states
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	saukko "github.com/cocotais/go-saukko"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// HealthServer serves grpc.health.v1 on a unix socket. The service name of
// each plugin is the plugin name; it is SERVING while the plugin is active.
type HealthServer struct {
	app        *saukko.App
	socketPath string
	logger     saukko.Logger

	mu       sync.Mutex
	health   *health.Server
	grpc     *grpc.Server
	listener net.Listener
	done     chan struct{}
	off      func()
}

// NewHealthServer creates a health server for app.
func NewHealthServer(app *saukko.App, socketPath string, logger saukko.Logger) *HealthServer {
	return &HealthServer{
		app:        app,
		socketPath: socketPath,
		logger:     saukko.NewLogger(logger).With("component", "health"),
	}
}

// Start listens on the health socket and begins tracking plugin states.
func (h *HealthServer) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.grpc != nil {
		return nil
	}

	if err := os.Remove(h.socketPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, ErrCodeHealth, "Failed to remove stale health socket").
			WithContext("socket", h.socketPath)
	}
	listener, err := net.Listen("unix", h.socketPath)
	if err != nil {
		return errors.Wrap(err, ErrCodeHealth, "Failed to listen on health socket").
			WithContext("socket", h.socketPath)
	}
	if err := os.Chmod(h.socketPath, 0600); err != nil {
		h.logger.Warn("Failed to set socket permissions", "error", err)
	}

	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	h.health = hs
	h.grpc = gs
	h.listener = listener
	h.done = make(chan struct{})

	h.app.Do(func(ctx *saukko.Context) {
		for _, info := range ctx.Plugins().List() {
			hs.SetServingStatus(info.Name, servingStatus(info.State))
		}
		h.off = ctx.On(saukko.EventPluginState, func(args ...any) {
			if len(args) < 3 {
				return
			}
			name, _ := args[0].(string)
			to, _ := args[2].(saukko.LifecycleState)
			if name != "" {
				hs.SetServingStatus(name, servingStatus(to))
			}
		})
	})

	go func() {
		defer close(h.done)
		if err := gs.Serve(listener); err != nil && err != grpc.ErrServerStopped {
			h.logger.Error("Health server stopped", "error", err)
		}
	}()
	h.logger.Debug("Health service listening", "socket", h.socketPath)
	return nil
}

// Stop marks every service NOT_SERVING and shuts the server down.
func (h *HealthServer) Stop() {
	h.mu.Lock()
	gs, hs, done, off := h.grpc, h.health, h.done, h.off
	h.grpc, h.health, h.off = nil, nil, nil
	h.mu.Unlock()
	if gs == nil {
		return
	}

	if off != nil {
		h.app.Do(func(*saukko.Context) { off() })
	}
	hs.Shutdown()
	gs.Stop()
	<-done
	if err := os.Remove(h.socketPath); err != nil && !os.IsNotExist(err) {
		h.logger.Warn("Failed to remove health socket", "error", err)
	}
}

func servingStatus(state saukko.LifecycleState) healthpb.HealthCheckResponse_ServingStatus {
	if state == saukko.StateActive {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// CheckHealth queries the health service on socketPath. An empty service
// checks the daemon itself; otherwise service is a plugin name. The result
// is the status name, e.g. "SERVING", or "SERVICE_UNKNOWN" for a plugin
// that is not installed.
func CheckHealth(ctx context.Context, socketPath, service string) (string, error) {
	abs, err := filepath.Abs(socketPath)
	if err != nil {
		return "", errors.Wrap(err, ErrCodeHealth, "Invalid health socket path")
	}
	conn, err := grpc.NewClient("unix://"+abs,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "", errors.Wrap(err, ErrCodeHealth, "Failed to create health client")
	}
	defer func() { _ = conn.Close() }()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return healthpb.HealthCheckResponse_SERVICE_UNKNOWN.String(), nil
		}
		return "", errors.Wrap(err, ErrCodeHealth, "Health check failed").
			WithContext("service", service)
	}
	return resp.GetStatus().String(), nil
}
