// protocol_test.go: control message decoding
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package daemon

import (
	"testing"

	saukko "github.com/cocotais/go-saukko"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	t.Run("AnyArgumentValues", func(t *testing.T) {
		msg, err := decodeMessage([]byte(`{"action":"command","args":["say",1,2.5,true,12345678901]}`))
		require.NoError(t, err)
		assert.Equal(t, ActionCommand, msg.Action)
		assert.Equal(t, []string{"say", "1", "2.5", "true", "12345678901"}, msg.Words())
	})

	t.Run("NoArguments", func(t *testing.T) {
		msg, err := decodeMessage([]byte(`{"action":"stop"}`))
		require.NoError(t, err)
		assert.Empty(t, msg.Words())
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, line := range []string{"not json", `{"action":1}`, `{"args":"word"}`} {
			_, err := decodeMessage([]byte(line))
			assert.True(t, saukko.HasErrorCode(err, ErrCodeIPCProtocol), line)
		}
	})
}
