// protocol.go: daemon control messages
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package daemon

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/agilira/go-errors"
)

// Error codes for daemon IPC.
const (
	ErrCodeIPCConnect  = "IPC_1601"
	ErrCodeIPCProtocol = "IPC_1602"
	ErrCodeIPCListen   = "IPC_1603"
	ErrCodeIPCInUse    = "IPC_1604"
	ErrCodeHealth      = "IPC_1605"
)

// Actions understood by the daemon.
const (
	ActionStop    = "stop"
	ActionCommand = "command"
)

// Fixed response messages.
const (
	MsgInvalidFormat   = "Invalid message format"
	MsgUnknownAction   = "Unknown action"
	MsgNoCommand       = "No command provided"
	MsgStopping        = "Daemon stopping"
	MsgDispatched      = "Command dispatched"
	MsgNoPlugins       = "No plugins installed"
	MsgConfigReloaded  = "Configuration reloaded"
	MsgCommandRejected = "Command failed"
)

// Message is a request sent to the daemon. Args may hold any JSON values;
// the daemon turns each one into a command word.
type Message struct {
	Action string `json:"action"`
	Args   []any  `json:"args,omitempty"`
}

// Words returns the arguments as strings.
func (m Message) Words() []string {
	words := make([]string, len(m.Args))
	for i, a := range m.Args {
		words[i] = fmt.Sprint(a)
	}
	return words
}

// Response is the daemon's answer to one Message.
type Response struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func success(format string, args ...any) Response {
	return Response{OK: true, Message: fmt.Sprintf(format, args...)}
}

func failure(format string, args ...any) Response {
	return Response{OK: false, Message: fmt.Sprintf(format, args...)}
}

// decodeMessage parses one request line. Numbers keep their JSON text.
func decodeMessage(line []byte) (Message, error) {
	var msg Message
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return Message{}, errors.Wrap(err, ErrCodeIPCProtocol, "Invalid daemon message")
	}
	return msg, nil
}

// encodeLine marshals v followed by a newline.
func encodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIPCProtocol, "Failed to encode daemon message")
	}
	return append(data, '\n'), nil
}
