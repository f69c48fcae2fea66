package gomax

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/gomax/dispatch"
	"github.com/opd-ai/gomax/entity"
	"github.com/opd-ai/gomax/protocol"
	"github.com/opd-ai/gomax/session"
	"github.com/opd-ai/gomax/transport"
)

// DefaultServerURL is the MAX production WebSocket endpoint.
const DefaultServerURL = "wss://ws-api.oneme.ru/websocket"

// Events surfaced through On.
const (
	// EventReady fires after authentication and the initial sync, on
	// first connect and after every successful reconnect. Payload: nil.
	EventReady = "ready"
	// EventNewMessage fires for each incoming message push.
	// Payload: *entity.Message.
	EventNewMessage = "new_message"
	// EventMessageSent confirms a sent message. Payload: *entity.Message.
	EventMessageSent = "message_sent"
	// EventContactsUpdate delivers refreshed contacts.
	// Payload: []*entity.User.
	EventContactsUpdate = "contacts_update"
	// EventChatsUpdate delivers refreshed chats. Payload: []*entity.Chat.
	EventChatsUpdate = "chats_update"
	// EventAuthRequired fires when the stored token is rejected.
	// Payload: json.RawMessage (server error body).
	EventAuthRequired = "auth_required"
	// EventAuthLimitExceeded fires on server-side auth throttling.
	// Payload: json.RawMessage.
	EventAuthLimitExceeded = "auth_limit_exceeded"
	// EventAuthCodeError fires when a verification code is rejected.
	// Payload: json.RawMessage.
	EventAuthCodeError = "auth_code_error"
)

// Options configures a Client. The zero value is unusable; start from
// NewOptions. Timing and sizing values the MAX protocol leaves
// unspecified are configuration with the defaults below, not protocol
// constants.
type Options struct {
	// ServerURL is the WebSocket endpoint.
	ServerURL string
	// SessionPath is the session file location.
	SessionPath string
	// Language is sent with the auth start request.
	Language string
	// ChatsCount caps the chat list in the initial sync.
	ChatsCount int
	// ContactSyncLimit caps the post-auth contact request.
	ContactSyncLimit int

	// CallTimeout bounds every correlated request.
	CallTimeout time.Duration
	// ReconnectBaseWait is the first reconnect delay; it doubles per
	// failed attempt up to ReconnectMaxWait, with jitter.
	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration
	// ReconnectMaxAttempts limits consecutive failed reconnect
	// attempts; 0 means retry forever.
	ReconnectMaxAttempts int
	// RateLimitCooldown is how long code submissions are refused after
	// the server reports throttling.
	RateLimitCooldown time.Duration
	// EventQueueSize bounds the dispatch queue between the read loop
	// and event handlers.
	EventQueueSize int

	// CodeProvider supplies the SMS code during Start's interactive
	// flow. Required when Start is called with a phone number.
	CodeProvider CodeProvider

	// NewTransport builds the transport for each connection attempt.
	// Tests inject their own implementation here.
	NewTransport func() transport.Transport
}

// NewOptions returns the default configuration.
func NewOptions() *Options {
	return &Options{
		ServerURL:         DefaultServerURL,
		SessionPath:       "session.gomax",
		Language:          session.DefaultLocale,
		ChatsCount:        40,
		ContactSyncLimit:  50,
		CallTimeout:       30 * time.Second,
		ReconnectBaseWait: 2 * time.Second,
		ReconnectMaxWait:  60 * time.Second,
		RateLimitCooldown: 5 * time.Minute,
		EventQueueSize:    dispatch.DefaultQueueSize,
		NewTransport: func() transport.Transport {
			return transport.NewWebSocketTransport()
		},
	}
}

// Client is one MAX connection: it owns the transport lifetime, the
// request correlator, the auth state machine, the entity cache, and the
// event dispatcher. Nothing is shared between Client instances, so
// multiple accounts can run side by side in one process.
type Client struct {
	opts       *Options
	dispatcher *dispatch.Dispatcher
	cache      *entity.Cache
	log        *logrus.Entry

	sessionMu sync.RWMutex
	session   *session.Session

	connMu     sync.Mutex
	transport  transport.Transport
	correlator *Correlator

	authMu       sync.Mutex
	authState    AuthState
	loginToken   string
	limitedUntil time.Time

	lifeMu  sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// New creates a client. The session file is loaded (or created) on
// Start.
func New(opts *Options) *Client {
	if opts == nil {
		opts = NewOptions()
	}
	return &Client{
		opts:       opts,
		dispatcher: dispatch.New(opts.EventQueueSize),
		cache:      entity.NewCache(),
		log: logrus.WithFields(logrus.Fields{
			"package": "gomax",
		}),
	}
}

// On registers an event handler. Handlers run off the read loop, in
// registration order, in wire arrival order.
func (c *Client) On(event string, h dispatch.Handler) dispatch.Subscription {
	return c.dispatcher.On(event, h)
}

// Off removes a handler registered with On.
func (c *Client) Off(sub dispatch.Subscription) {
	c.dispatcher.Off(sub)
}

// Start loads the session, connects, authenticates, and performs the
// initial sync. With a stored token the phone flow is skipped; otherwise
// phone must be non-empty and Options.CodeProvider set. EventReady is
// emitted on success.
func (c *Client) Start(ctx context.Context, phone string) error {
	c.initLifecycle()

	if err := c.ensureSession(); err != nil {
		return err
	}
	if err := c.connect(ctx); err != nil {
		return err
	}
	if err := c.authenticate(ctx, phone); err != nil {
		return err
	}
	c.finishSync(ctx)
	c.dispatcher.Emit(EventReady, nil)
	return nil
}

// initLifecycle arms the internal context that scopes the read and
// reconnect loops.
func (c *Client) initLifecycle() {
	c.lifeMu.Lock()
	if c.ctx == nil {
		c.ctx, c.cancel = context.WithCancel(context.Background())
	}
	c.stopped = false
	c.lifeMu.Unlock()
}

// Stop closes the connection, rejects all pending calls, and stops
// handler dispatch. The client cannot be restarted afterwards.
func (c *Client) Stop() error {
	c.lifeMu.Lock()
	if c.stopped {
		c.lifeMu.Unlock()
		return nil
	}
	c.stopped = true
	cancel := c.cancel
	c.lifeMu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.connMu.Lock()
	tr := c.transport
	corr := c.correlator
	c.connMu.Unlock()

	if corr != nil {
		corr.Shutdown()
	}
	var err error
	if tr != nil {
		err = tr.Close()
	}

	c.wg.Wait()
	c.dispatcher.Close()
	c.log.Info("client stopped")
	return err
}

// RunUntilStopped blocks until the context is cancelled or Stop is
// called, then shuts the client down.
func (c *Client) RunUntilStopped(ctx context.Context) error {
	c.lifeMu.Lock()
	inner := c.ctx
	c.lifeMu.Unlock()
	if inner == nil {
		return ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return c.Stop()
	case <-inner.Done():
		return c.Stop()
	}
}

// Connected reports whether a transport is currently established.
func (c *Client) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.transport != nil
}

// CurrentSession returns a snapshot of the durable session state.
func (c *Client) CurrentSession() *session.Session {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	if c.session == nil {
		return nil
	}
	return c.session.Clone()
}

// Call sends a correlated request and waits for its response payload.
// This is the primitive every higher-level operation is built on; it is
// exported so façade layers can reach opcodes this package has no helper
// for.
func (c *Client) Call(ctx context.Context, opcode protocol.Opcode, payload any) (json.RawMessage, error) {
	corr := c.currentCorrelator()
	if corr == nil {
		return nil, ErrNotConnected
	}

	raw, err := corr.Call(ctx, opcode, payload)
	if err != nil {
		var se *ServerError
		if errors.As(err, &se) && se.TokenRejected() {
			c.tokenRejected(se)
		}
		return nil, err
	}
	return raw, nil
}

// Notify sends a fire-and-forget frame.
func (c *Client) Notify(opcode protocol.Opcode, payload any) error {
	corr := c.currentCorrelator()
	if corr == nil {
		return ErrNotConnected
	}
	return corr.Notify(opcode, payload)
}

// --- Connection lifecycle ---

func (c *Client) ensureSession() error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.session != nil {
		return nil
	}

	s, err := session.Load(c.opts.SessionPath)
	if err != nil {
		return err
	}
	if s == nil {
		s = session.New()
		// Persist immediately so the device identity survives a crash
		// before the first auth completes.
		if err := session.Save(c.opts.SessionPath, s); err != nil {
			return err
		}
		c.log.WithField("device_id", s.DeviceID).Info("created new session")
	} else {
		c.log.WithField("device_id", s.DeviceID).Info("loaded existing session")
	}
	c.session = s
	return nil
}

// connect dials a fresh transport, installs a correlator bound to it,
// starts the read loop, and announces the device.
func (c *Client) connect(ctx context.Context) error {
	s := c.CurrentSession()

	tr := c.opts.NewTransport()
	if err := tr.Connect(ctx, c.opts.ServerURL, c.dialHeader(s)); err != nil {
		return err
	}

	corr := newCorrelator(s.ProtocolVersion, c.opts.CallTimeout, tr.Send)

	c.connMu.Lock()
	prev := c.transport
	c.transport = tr
	c.correlator = corr
	c.connMu.Unlock()

	// A superseded connection is closed so exactly one read loop feeds
	// the dispatcher; its read loop sees a stale transport and exits.
	if prev != nil {
		prev.Close()
	}

	c.wg.Add(1)
	go c.readLoop(tr, corr)

	// Device hello announces identity before anything else happens on
	// this connection.
	if err := corr.Notify(protocol.OpHello, map[string]any{
		"userAgent": s.UserAgentPayload(),
		"deviceId":  s.DeviceID,
	}); err != nil {
		return err
	}

	c.log.Info("connected")
	return nil
}

func (c *Client) dialHeader(s *session.Session) http.Header {
	header := http.Header{}
	header.Set("Origin", "https://web.max.ru")
	header.Set("User-Agent", s.UserAgent)
	header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	header.Set("Cache-Control", "no-cache")
	header.Set("Pragma", "no-cache")
	return header
}

// authenticate drives the auth state machine to Authenticated. A stored
// token short-circuits the phone flow; a rejected token falls back to
// the interactive flow when a phone number is available.
func (c *Client) authenticate(ctx context.Context, phone string) error {
	if c.CurrentSession().Token != "" {
		err := c.loginWithToken(ctx)
		if err == nil {
			return nil
		}
		if c.AuthState() != AuthStateReauthRequired || phone == "" {
			return err
		}
		c.log.Warn("stored token rejected, falling back to phone flow")
	}

	if phone == "" {
		return &AuthError{Message: "no stored token and no phone number provided"}
	}
	if c.opts.CodeProvider == nil {
		return &AuthError{Message: "interactive auth requires Options.CodeProvider"}
	}

	if err := c.BeginAuth(ctx, phone); err != nil {
		return err
	}
	code, err := c.opts.CodeProvider(ctx)
	if err != nil {
		return &AuthError{Message: "code provider failed", Err: err}
	}
	return c.SubmitCode(ctx, code)
}

// finishSync requests the contacts behind the synced chats. Best effort:
// a failed contact sync does not fail Start.
func (c *Client) finishSync(ctx context.Context) {
	ids := c.cache.ParticipantIDs(c.opts.ContactSyncLimit)
	if self := c.cache.Self(); self != nil {
		if limit := c.opts.ContactSyncLimit; limit > 0 && len(ids) >= limit {
			ids = ids[:limit-1]
		}
		ids = append(ids, self.ID)
	}
	if len(ids) == 0 {
		return
	}
	if _, err := c.RequestContacts(ctx, ids); err != nil {
		c.log.WithError(err).Warn("post-auth contact sync failed")
	}
}

// readLoop is the single sequential consumer of inbound frames for one
// transport. Responses go to the correlator, pushes to the dispatcher.
// On unexpected closure it hands over to the reconnect loop.
func (c *Client) readLoop(tr transport.Transport, corr *Correlator) {
	defer c.wg.Done()

	c.lifeMu.Lock()
	ctx := c.ctx
	c.lifeMu.Unlock()

	for {
		data, err := tr.Receive(ctx)
		if err != nil {
			corr.Shutdown()
			if c.isStopping() || !c.isCurrentTransport(tr) {
				// Shutting down, or this connection was already replaced
				// by a newer one that owns reconnection now.
				return
			}
			c.log.WithError(err).Warn("connection lost")
			c.wg.Add(1)
			go c.reconnectLoop()
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			// Malformed frames are dropped, not fatal.
			c.log.WithError(err).Warn("dropping malformed frame")
			continue
		}

		switch f := frame.(type) {
		case *protocol.Response:
			corr.Resolve(f)
		case *protocol.Push:
			c.handlePush(f)
		case *protocol.Request:
			// The server never sends request frames; decode does not
			// produce them either. Guard against future codec changes.
			c.log.WithField("opcode", f.Opcode).Warn("ignoring inbound request frame")
		}
	}
}

// handlePush routes a server push into cache updates and events.
func (c *Client) handlePush(push *protocol.Push) {
	switch push.Opcode {
	case protocol.OpIncomingMessage:
		msg, ok := c.parseMessagePayload(push.Payload)
		if !ok {
			return
		}
		c.cache.SetLastMessage(msg.ChatID, msg)
		c.dispatcher.Emit(EventNewMessage, msg)

	case protocol.OpSendMessage:
		// A message sent from another device of the same account.
		msg, ok := c.parseMessagePayload(push.Payload)
		if !ok {
			return
		}
		c.cache.SetLastMessage(msg.ChatID, msg)
		c.dispatcher.Emit(EventMessageSent, msg)

	case protocol.OpContacts:
		users := c.applyContactsPayload(push.Payload, true)
		if len(users) > 0 {
			c.dispatcher.Emit(EventContactsUpdate, users)
		}

	case protocol.OpChats:
		chats := c.applyChatsPayload(push.Payload)
		if len(chats) > 0 {
			c.dispatcher.Emit(EventChatsUpdate, chats)
		}

	default:
		c.log.WithField("opcode", push.Opcode).Debug("unhandled push")
	}
}

func (c *Client) parseMessagePayload(payload json.RawMessage) (*entity.Message, bool) {
	var body struct {
		ChatID  int64           `json:"chatId"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || len(body.Message) == 0 {
		c.log.WithError(err).Warn("dropping unparseable message payload")
		return nil, false
	}
	msg, err := entity.MessageFromPayload(body.Message, body.ChatID)
	if err != nil {
		c.log.WithError(err).Warn("dropping unparseable message payload")
		return nil, false
	}
	return msg, true
}

// applyContactsPayload updates the cache from a contacts payload. For
// unsolicited pushes (partial=true) an already-cached contact is patched
// field by field, so a sparse update cannot wipe known data; contacts
// fetched explicitly replace the record wholesale.
func (c *Client) applyContactsPayload(payload json.RawMessage, partial bool) []*entity.User {
	var body struct {
		Contacts []json.RawMessage `json:"contacts"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		c.log.WithError(err).Warn("dropping unparseable contacts payload")
		return nil
	}

	var users []*entity.User
	for _, raw := range body.Contacts {
		if partial {
			if id, patch, err := entity.UserPatchFromPayload(raw); err == nil {
				if c.cache.PatchUser(id, patch) {
					if u, ok := c.cache.User(id); ok {
						users = append(users, u)
					}
					continue
				}
			}
		}
		u, err := entity.UserFromPayload(raw)
		if err != nil {
			c.log.WithError(err).Warn("skipping malformed contact")
			continue
		}
		c.cache.UpsertUser(u)
		users = append(users, u)
	}
	return users
}

func (c *Client) applyChatsPayload(payload json.RawMessage) []*entity.Chat {
	var body struct {
		Chats []json.RawMessage `json:"chats"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		c.log.WithError(err).Warn("dropping unparseable chats payload")
		return nil
	}

	var chats []*entity.Chat
	for _, raw := range body.Chats {
		chat, err := entity.ChatFromPayload(raw)
		if err != nil {
			c.log.WithError(err).Warn("skipping malformed chat")
			continue
		}
		c.cache.UpsertChat(chat)
		chats = append(chats, chat)
	}
	return chats
}

// reconnectLoop re-establishes the connection with capped exponential
// backoff and jitter, reusing the persisted token so reauthentication is
// skipped unless the server rejects it.
func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	c.lifeMu.Lock()
	ctx := c.ctx
	c.lifeMu.Unlock()

	wait := c.opts.ReconnectBaseWait
	attempt := 0

	for {
		attempt++
		if c.opts.ReconnectMaxAttempts > 0 && attempt > c.opts.ReconnectMaxAttempts {
			c.log.WithField("attempts", attempt-1).Error("giving up on reconnection")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(withJitter(wait)):
		}

		c.log.WithField("attempt", attempt).Info("reconnecting")
		if err := c.connect(ctx); err != nil {
			c.log.WithError(err).Warn("reconnect attempt failed")
			wait *= 2
			if wait > c.opts.ReconnectMaxWait {
				wait = c.opts.ReconnectMaxWait
			}
			continue
		}

		if c.CurrentSession().Token == "" {
			// Nothing to resume with; the connection is up and the
			// application has been told (auth_required) to log in.
			c.log.Info("reconnected without token, waiting for re-authentication")
			return
		}
		if err := c.loginWithToken(ctx); err != nil {
			if c.AuthState() == AuthStateReauthRequired {
				// Token revoked server-side; auth_required has fired.
				return
			}
			c.log.WithError(err).Warn("re-authentication failed")
			// The dial succeeded but the login did not; abandon this
			// connection before the next attempt so it cannot keep
			// feeding the dispatcher or leak its socket.
			c.dropConnection()
			wait *= 2
			if wait > c.opts.ReconnectMaxWait {
				wait = c.opts.ReconnectMaxWait
			}
			continue
		}

		c.finishSync(ctx)
		c.dispatcher.Emit(EventReady, nil)
		c.log.Info("reconnected")
		return
	}
}

func (c *Client) isStopping() bool {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.stopped || (c.ctx != nil && c.ctx.Err() != nil)
}

func (c *Client) currentCorrelator() *Correlator {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.correlator
}

// isCurrentTransport reports whether tr is still the active connection.
// A read loop whose transport has been superseded must not reconnect.
func (c *Client) isCurrentTransport(tr transport.Transport) bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.transport == tr
}

// dropConnection detaches and closes the active transport. Detaching
// first keeps the dying read loop from scheduling a competing reconnect.
func (c *Client) dropConnection() {
	c.connMu.Lock()
	tr := c.transport
	c.transport = nil
	c.connMu.Unlock()

	if tr != nil {
		tr.Close()
	}
}

// updateSession applies a mutation and persists the result. Session
// writes happen only here, keeping the single-writer rule.
func (c *Client) updateSession(mutate func(*session.Session)) {
	c.sessionMu.Lock()
	mutate(c.session)
	snapshot := c.session.Clone()
	c.sessionMu.Unlock()

	if err := session.Save(c.opts.SessionPath, snapshot); err != nil {
		c.log.WithError(err).Error("failed to persist session")
	}
}

// withJitter spreads reconnect attempts out by up to 50% of the base
// delay so restarting fleets do not stampede the server.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}
