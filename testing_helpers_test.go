// testing_helpers_test.go: shared test fixtures
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package saukko

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestTree creates a root context logging into a TestLogger.
func newTestTree(t *testing.T) (*Context, *TestLogger) {
	t.Helper()
	logger := NewTestLogger()
	return NewContext(logger), logger
}

// resourceCounter tracks paired acquire and release calls.
type resourceCounter struct {
	acquired int
	released int
}

// assurance acquires a resource and collects its release on ctx.
func (r *resourceCounter) assurance(ctx *Context) Assurance {
	return func() error {
		r.acquired++
		ctx.Collect(func() error {
			r.released++
			return nil
		})
		return nil
	}
}

func (r *resourceCounter) live() int { return r.acquired - r.released }

// writeTempFile writes content to name inside a fresh temp dir.
func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// transitions records the state changes of a lifecycle.
func transitions(l *Lifecycle) *[]string {
	var seen []string
	l.OnTransition(func(from, to LifecycleState) {
		seen = append(seen, from.String()+"->"+to.String())
	})
	return &seen
}
