// client.go: control socket client
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package daemon

import (
	"bufio"
	"encoding/json"
	"net"
	"time"

	"github.com/agilira/go-errors"
)

// DefaultTimeout bounds a Send round trip.
const DefaultTimeout = 10 * time.Second

// Send delivers msg to the daemon listening on socketPath and returns its
// response. A zero timeout means DefaultTimeout.
func Send(socketPath string, msg Message, timeout time.Duration) (Response, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return Response{}, errors.Wrap(err, ErrCodeIPCConnect, "Cannot connect to the daemon").
			WithUserMessage("Make sure the daemon is running").
			WithContext("socket", socketPath)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	data, err := encodeLine(msg)
	if err != nil {
		return Response{}, err
	}
	if _, err := conn.Write(data); err != nil {
		return Response{}, errors.Wrap(err, ErrCodeIPCConnect, "Failed to send daemon message")
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return Response{}, errors.Wrap(err, ErrCodeIPCConnect, "Failed to read daemon response")
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, errors.Wrap(err, ErrCodeIPCProtocol, "Invalid daemon response")
	}
	return resp, nil
}

// Stop asks the daemon to stop.
func Stop(socketPath string) (Response, error) {
	return Send(socketPath, Message{Action: ActionStop}, 0)
}

// Command sends a CLI command to the daemon.
func Command(socketPath string, args ...string) (Response, error) {
	words := make([]any, len(args))
	for i, a := range args {
		words[i] = a
	}
	return Send(socketPath, Message{Action: ActionCommand, Args: words}, 0)
}
