package gomax

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/gomax/entity"
	"github.com/opd-ai/gomax/protocol"
	"github.com/opd-ai/gomax/session"
)

// AuthState is the client's position in the login handshake. Exactly one
// state is current per connection lifetime and transitions are
// serialized.
type AuthState uint8

const (
	// AuthStateUnauthenticated means no usable token exists.
	AuthStateUnauthenticated AuthState = iota
	// AuthStateCodeRequested means the server accepted the phone number
	// and is waiting for the verification code.
	AuthStateCodeRequested
	// AuthStateVerifying means a code has been submitted and is being
	// checked.
	AuthStateVerifying
	// AuthStateAuthenticated means the session token was accepted.
	AuthStateAuthenticated
	// AuthStateReauthRequired means the server rejected the stored
	// token; the application must run the phone flow again.
	AuthStateReauthRequired
	// AuthStateRateLimited means the server is throttling attempts;
	// submissions are refused until the cooldown passes.
	AuthStateRateLimited
)

func (s AuthState) String() string {
	switch s {
	case AuthStateUnauthenticated:
		return "unauthenticated"
	case AuthStateCodeRequested:
		return "code_requested"
	case AuthStateVerifying:
		return "verifying"
	case AuthStateAuthenticated:
		return "authenticated"
	case AuthStateReauthRequired:
		return "reauth_required"
	case AuthStateRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// CodeProvider supplies the SMS verification code during the interactive
// login flow, typically by prompting the user.
type CodeProvider func(ctx context.Context) (string, error)

// AuthState returns the current authentication state.
func (c *Client) AuthState() AuthState {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	return c.authState
}

// BeginAuth submits the phone number and moves the state machine to
// code-requested. On failure the state is unchanged and an *AuthError
// (or *RateLimitError during a cooldown) is returned.
func (c *Client) BeginAuth(ctx context.Context, phone string) error {
	if err := c.checkRateLimit(); err != nil {
		return err
	}

	payload, err := c.Call(ctx, protocol.OpAuthStart, map[string]any{
		"phone":    phone,
		"type":     "START_AUTH",
		"language": c.opts.Language,
	})
	if err != nil {
		return c.wrapAuthFailure(err)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Token == "" {
		return &AuthError{Message: "auth start response without request token", Err: err}
	}

	c.authMu.Lock()
	c.authState = AuthStateCodeRequested
	c.loginToken = body.Token
	c.authMu.Unlock()

	c.updateSession(func(s *session.Session) {
		s.Phone = phone
	})

	// The web client reports navigation right after requesting a code;
	// the server expects to see it.
	c.sendNavigationEvents()

	c.log.WithField("state", AuthStateCodeRequested.String()).Info("verification code requested")
	return nil
}

// SubmitCode verifies the SMS code, stores the issued login token in the
// session, and completes the token login. An invalid or expired code
// moves the state back to code-requested so the caller may resubmit.
func (c *Client) SubmitCode(ctx context.Context, code string) error {
	if err := c.checkRateLimit(); err != nil {
		return err
	}

	c.authMu.Lock()
	if c.authState != AuthStateCodeRequested {
		state := c.authState
		c.authMu.Unlock()
		return &AuthError{Message: fmt.Sprintf("no code pending in state %s", state)}
	}
	c.authState = AuthStateVerifying
	requestToken := c.loginToken
	c.authMu.Unlock()

	payload, err := c.Call(ctx, protocol.OpAuthCheckCode, map[string]any{
		"token":         requestToken,
		"verifyCode":    code,
		"authTokenType": "CHECK_CODE",
	})
	if err != nil {
		return c.codeRejected(err)
	}

	var body struct {
		TokenAttrs struct {
			Login struct {
				Token string `json:"token"`
			} `json:"LOGIN"`
		} `json:"tokenAttrs"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.TokenAttrs.Login.Token == "" {
		c.setAuthState(AuthStateCodeRequested)
		return &AuthError{Message: "code check response without login token", Err: err}
	}

	c.updateSession(func(s *session.Session) {
		s.Token = body.TokenAttrs.Login.Token
	})
	c.log.Info("verification code accepted, login token stored")

	if err := c.loginWithToken(ctx); err != nil {
		// The code was accepted and the token is persisted, so a
		// transient login failure must not strand the flow in verifying:
		// the next attempt resumes with the stored token. Token
		// rejection has already moved the state to reauth-required.
		c.authMu.Lock()
		if c.authState == AuthStateVerifying {
			c.authState = AuthStateUnauthenticated
		}
		c.authMu.Unlock()
		return err
	}
	return nil
}

// loginWithToken performs the token login (opcode 19), which doubles as
// the initial sync: the response carries the user profile and chat list.
func (c *Client) loginWithToken(ctx context.Context) error {
	token := c.CurrentSession().Token
	if token == "" {
		return &AuthError{Message: "no stored token"}
	}

	payload, err := c.Call(ctx, protocol.OpAuthToken, map[string]any{
		"interactive":  false,
		"token":        token,
		"chatsCount":   c.opts.ChatsCount,
		"chatsSync":    0,
		"contactsSync": 0,
		"presenceSync": 0,
		"draftsSync":   0,
	})
	if err != nil {
		// Token rejection is already turned into ReauthRequired by the
		// Call wrapper; everything else keeps the current state.
		return c.wrapAuthFailure(err)
	}

	c.setAuthState(AuthStateAuthenticated)
	c.applyLoginSync(payload)
	c.log.WithField("state", AuthStateAuthenticated.String()).Info("authenticated")
	return nil
}

// applyLoginSync populates the entity cache from the login response.
func (c *Client) applyLoginSync(payload json.RawMessage) {
	var body struct {
		Profile struct {
			Contact json.RawMessage `json:"contact"`
		} `json:"profile"`
		Chats []json.RawMessage `json:"chats"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		c.log.WithError(err).Warn("login response unparseable, skipping sync")
		return
	}

	if len(body.Profile.Contact) > 0 {
		if self, err := entity.UserFromPayload(body.Profile.Contact); err == nil {
			c.cache.SetSelf(self)
			c.cache.UpsertUser(self)
		}
	}

	synced := 0
	for _, raw := range body.Chats {
		chat, err := entity.ChatFromPayload(raw)
		if err != nil {
			c.log.WithError(err).Warn("skipping malformed chat in login sync")
			continue
		}
		c.cache.UpsertChat(chat)
		synced++
	}
	c.log.WithField("chats", synced).Info("initial sync applied")
}

// tokenRejected reacts to the server revoking the stored token on any
// request: the token is cleared from the session and the auth_required
// event is raised.
func (c *Client) tokenRejected(se *ServerError) {
	c.updateSession(func(s *session.Session) {
		s.Token = ""
	})
	c.setAuthState(AuthStateReauthRequired)

	logrus.WithFields(logrus.Fields{
		"package": "gomax",
		"opcode":  se.Opcode,
	}).Warn("login token rejected, re-authentication required")
	c.dispatcher.Emit(EventAuthRequired, se.Payload)
}

// codeRejected maps a failed code check onto the state machine: rate
// limiting freezes submissions, anything else returns the state to
// code-requested for a resubmit.
func (c *Client) codeRejected(err error) error {
	var se *ServerError
	if !errors.As(err, &se) {
		c.setAuthState(AuthStateCodeRequested)
		return &AuthError{Err: err}
	}

	if se.RateLimited() {
		until := time.Now().Add(c.opts.RateLimitCooldown)
		c.authMu.Lock()
		c.authState = AuthStateRateLimited
		c.limitedUntil = until
		c.authMu.Unlock()

		c.dispatcher.Emit(EventAuthLimitExceeded, se.Payload)
		return &RateLimitError{Until: until, LocalizedMessage: se.LocalizedMessage}
	}

	c.setAuthState(AuthStateCodeRequested)
	c.dispatcher.Emit(EventAuthCodeError, se.Payload)
	return &AuthError{
		Code:             se.Code,
		Message:          se.Message,
		LocalizedMessage: se.LocalizedMessage,
		Err:              se,
	}
}

// wrapAuthFailure converts call-level failures in the auth flow into the
// auth error taxonomy without touching the state machine.
func (c *Client) wrapAuthFailure(err error) error {
	var se *ServerError
	if errors.As(err, &se) {
		return &AuthError{
			Code:             se.Code,
			Message:          se.Message,
			LocalizedMessage: se.LocalizedMessage,
			Err:              se,
		}
	}
	return err
}

func (c *Client) checkRateLimit() error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	if c.authState != AuthStateRateLimited {
		return nil
	}
	if time.Now().Before(c.limitedUntil) {
		return &RateLimitError{Until: c.limitedUntil}
	}
	// Cooldown over; the caller may retry from scratch.
	c.authState = AuthStateUnauthenticated
	return nil
}

func (c *Client) setAuthState(state AuthState) {
	c.authMu.Lock()
	c.authState = state
	c.authMu.Unlock()
}

// sendNavigationEvents mirrors the web client's COLD_START/GO beacons.
// Best effort: failures are logged, never surfaced.
func (c *Client) sendNavigationEvents() {
	now := time.Now().UnixMilli()
	err := c.Notify(protocol.OpNavEvents, map[string]any{
		"events": []map[string]any{
			{"type": "COLD_START", "time": now},
			{"type": "GO", "page": 1, "time": now},
		},
	})
	if err != nil {
		c.log.WithError(err).Debug("navigation events not sent")
	}
}
