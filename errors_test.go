package gomax

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/gomax/protocol"
)

func TestNewServerError(t *testing.T) {
	t.Run("full body", func(t *testing.T) {
		err := newServerError(protocol.OpAuthToken, json.RawMessage(
			`{"error":"login.token","message":"FAIL_LOGIN_TOKEN","localizedMessage":"сессия истекла"}`))
		assert.Equal(t, "login.token", err.Code)
		assert.Equal(t, "FAIL_LOGIN_TOKEN", err.Message)
		assert.Equal(t, "сессия истекла", err.LocalizedMessage)
		assert.Equal(t, protocol.OpAuthToken, err.Opcode)
		assert.True(t, err.TokenRejected())
		assert.Contains(t, err.Error(), "login.token")
	})

	t.Run("token rejection by message alone", func(t *testing.T) {
		err := newServerError(protocol.OpSendMessage,
			json.RawMessage(`{"message":"FAIL_LOGIN_TOKEN"}`))
		assert.True(t, err.TokenRejected())
	})

	t.Run("rate limiting", func(t *testing.T) {
		err := newServerError(protocol.OpAuthCheckCode,
			json.RawMessage(`{"error":"error.limit.violate"}`))
		assert.True(t, err.RateLimited())
		assert.False(t, err.TokenRejected())
	})

	t.Run("unparseable body keeps raw payload", func(t *testing.T) {
		err := newServerError(protocol.OpChats, json.RawMessage(`not json`))
		assert.Equal(t, json.RawMessage(`not json`), err.Payload)
		assert.NotEmpty(t, err.Error())
	})
}

func TestAuthErrorUnwrap(t *testing.T) {
	se := newServerError(protocol.OpAuthCheckCode, json.RawMessage(`{"error":"verify.code"}`))
	ae := &AuthError{Code: se.Code, Err: se}

	var target *ServerError
	require.True(t, errors.As(ae, &target))
	assert.Equal(t, "verify.code", target.Code)
}

func TestRateLimitErrorMessage(t *testing.T) {
	until := time.Now().Add(time.Minute)
	err := &RateLimitError{Until: until, LocalizedMessage: "подождите"}
	assert.Contains(t, err.Error(), "подождите")
}
