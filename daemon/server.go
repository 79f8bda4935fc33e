// server.go: unix socket control server
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package daemon

import (
	"bufio"
	"bytes"
	stderrors "errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	saukko "github.com/cocotais/go-saukko"
)

const maxMessageSize = 1 << 20

// Server accepts control connections for an App. Each connection may send
// any number of messages; each one gets exactly one response line.
type Server struct {
	app        *saukko.App
	socketPath string
	logger     saukko.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup

	stopRequested chan struct{}
	requestOnce   sync.Once
	closed        bool
}

// NewServer creates a control server for app on socketPath.
func NewServer(app *saukko.App, socketPath string, logger saukko.Logger) *Server {
	return &Server{
		app:           app,
		socketPath:    socketPath,
		logger:        saukko.NewLogger(logger).With("component", "daemon"),
		conns:         make(map[net.Conn]struct{}),
		stopRequested: make(chan struct{}),
	}
}

// SocketPath returns the control socket path.
func (s *Server) SocketPath() string { return s.socketPath }

// StopRequested is closed when a client sends the stop action.
func (s *Server) StopRequested() <-chan struct{} { return s.stopRequested }

// Start listens on the socket. A stale socket file left by a dead daemon is
// removed; a socket answered by a live daemon is an error.
func (s *Server) Start() error {
	if err := s.cleanupStale(); err != nil {
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errors.Wrap(err, ErrCodeIPCListen, "Failed to listen on control socket").
			WithContext("socket", s.socketPath)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		s.logger.Warn("Failed to set socket permissions", "error", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptConnections(listener)
	s.logger.Debug("Control socket listening", "socket", s.socketPath)
	return nil
}

func (s *Server) cleanupStale() error {
	if _, err := os.Stat(s.socketPath); os.IsNotExist(err) {
		return nil
	}
	conn, err := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		return errors.New(ErrCodeIPCInUse, "Control socket is in use, the daemon may already be running").
			WithContext("socket", s.socketPath)
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, ErrCodeIPCListen, "Failed to remove stale control socket").
			WithContext("socket", s.socketPath)
	}
	return nil
}

// Stop closes the listener and every open connection, waits for the
// handlers and removes the socket file.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed || s.listener == nil {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.listener.Close()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if rmErr := os.Remove(s.socketPath); rmErr != nil && !os.IsNotExist(rmErr) {
		s.logger.Warn("Failed to remove socket file", "error", rmErr)
	}
	if err != nil && !stderrors.Is(err, net.ErrClosed) {
		return errors.Wrap(err, ErrCodeIPCListen, "Failed to close control socket")
	}
	return nil
}

func (s *Server) acceptConnections(listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || stderrors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to accept connection", "error", err)
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxMessageSize)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		resp := s.handleLine(line)
		if err := s.writeResponse(writer, resp); err != nil {
			s.logger.Error("Failed to write response", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil && !stderrors.Is(err, net.ErrClosed) {
		s.logger.Debug("Connection closed with error", "error", err)
	}
}

func (s *Server) writeResponse(w *bufio.Writer, resp Response) error {
	data, err := encodeLine(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.Flush()
}

func (s *Server) handleLine(line []byte) Response {
	msg, err := decodeMessage(line)
	if err != nil {
		s.logger.Warn("Rejected daemon message", "error", err)
		return failure(MsgInvalidFormat)
	}

	switch msg.Action {
	case ActionStop:
		s.logger.Info("Stop requested over control socket")
		s.requestOnce.Do(func() { close(s.stopRequested) })
		return success(MsgStopping)
	case ActionCommand:
		return s.handleCommand(msg.Words())
	default:
		return failure(MsgUnknownAction)
	}
}
