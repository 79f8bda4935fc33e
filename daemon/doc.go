// Package daemon runs a saukko App as a background process controlled over
// a unix socket.
//
// The control protocol is newline-delimited JSON. Each request is a Message
// and each answer a Response:
//
//	{"action":"command","args":["apply","greeter"]}
//	{"ok":true,"message":"Plugin greeter applied"}
//
// An optional gRPC health service on a second socket reports SERVING for
// every active plugin and NOT_SERVING otherwise. The empty service name
// reports the daemon itself.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package daemon
