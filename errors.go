package gomax

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/gomax/protocol"
)

var (
	// ErrCallTimeout is returned by Call when no response arrives
	// within the call timeout. Other pending calls are unaffected.
	ErrCallTimeout = errors.New("gomax: call timed out")

	// ErrConnectionClosed is returned by every call still pending when
	// the connection goes away.
	ErrConnectionClosed = errors.New("gomax: connection closed")

	// ErrNotConnected is returned when an operation requires an
	// established connection and there is none.
	ErrNotConnected = errors.New("gomax: not connected")
)

// Server error codes the auth flow has to recognize.
const (
	errCodeTokenRejected = "login.token"
	errMsgTokenRejected  = "FAIL_LOGIN_TOKEN"
	errCodeRateLimited   = "error.limit.violate"
)

// ServerError is an error response (cmd 3) to a correlated request.
type ServerError struct {
	Opcode           protocol.Opcode
	Code             string
	Message          string
	LocalizedMessage string
	Payload          json.RawMessage
}

func (e *ServerError) Error() string {
	msg := e.Message
	if e.LocalizedMessage != "" {
		msg = e.LocalizedMessage
	}
	return fmt.Sprintf("gomax: server rejected opcode %d: %s (%s)", e.Opcode, msg, e.Code)
}

// TokenRejected reports whether the server declared the stored login
// token expired or revoked.
func (e *ServerError) TokenRejected() bool {
	return e.Code == errCodeTokenRejected || e.Message == errMsgTokenRejected
}

// RateLimited reports whether the server is throttling authentication
// attempts.
func (e *ServerError) RateLimited() bool {
	return e.Code == errCodeRateLimited
}

// newServerError builds a ServerError from an error response payload.
func newServerError(opcode protocol.Opcode, payload json.RawMessage) *ServerError {
	se := &ServerError{Opcode: opcode, Payload: payload}
	var body struct {
		Error            string `json:"error"`
		Message          string `json:"message"`
		LocalizedMessage string `json:"localizedMessage"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		se.Code = body.Error
		se.Message = body.Message
		se.LocalizedMessage = body.LocalizedMessage
	}
	return se
}

// AuthError reports a rejected phone, code, or token during the
// authentication flow. It is surfaced to the caller; the connection
// stays up.
type AuthError struct {
	Code             string
	Message          string
	LocalizedMessage string
	Err              error
}

func (e *AuthError) Error() string {
	msg := e.Message
	if e.LocalizedMessage != "" {
		msg = e.LocalizedMessage
	}
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("gomax: auth failed: %s", msg)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// RateLimitError reports server-side throttling of code submissions.
// The caller must not retry before Until.
type RateLimitError struct {
	Until            time.Time
	LocalizedMessage string
}

func (e *RateLimitError) Error() string {
	if e.LocalizedMessage != "" {
		return fmt.Sprintf("gomax: rate limited until %s: %s",
			e.Until.Format(time.RFC3339), e.LocalizedMessage)
	}
	return fmt.Sprintf("gomax: rate limited until %s", e.Until.Format(time.RFC3339))
}
