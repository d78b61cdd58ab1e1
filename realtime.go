package hala

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Event kinds (server → client)
// ============================================================================

const (
	EventNotification = "notification"
	EventNewMessage   = "new_message"
	EventCallIncoming = "call_incoming"
	EventCallAccepted = "call_accepted"
	EventCallRejected = "call_rejected"
	EventCallEnded    = "call_ended"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the push-channel client.
type RealtimeConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// RealtimeEventHandler is the generic event callback type.
type RealtimeEventHandler func(eventType string, payload json.RawMessage)

type eventDispatcher struct {
	mu             sync.RWMutex
	generic        map[string][]RealtimeEventHandler
	onNotification []func(NotificationPayload)
	onNewMessage   []func(NewMessagePayload)
	onCallIncoming []func(IncomingCallPayload)
	onCallAccepted []func(CallAcceptedPayload)
	onCallRejected []func(CallRejectedPayload)
	onCallEnded    []func(CallEndedPayload)
	onConnected    []func()
	onDisconnected []func(reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{
		generic: make(map[string][]RealtimeEventHandler),
	}
}

// dispatch routes one validated envelope to its typed handlers. Handlers run
// synchronously on the read loop so events are applied strictly in arrival
// order; handler bodies must not block.
func (d *eventDispatcher) dispatch(env Envelope) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	known := true
	switch env.Type {
	case EventNotification:
		var p NotificationPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onNotification {
				h(p)
			}
		}
	case EventNewMessage:
		var p NewMessagePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onNewMessage {
				h(p)
			}
		}
	case EventCallIncoming:
		var p IncomingCallPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onCallIncoming {
				h(p)
			}
		}
	case EventCallAccepted:
		var p CallAcceptedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onCallAccepted {
				h(p)
			}
		}
	case EventCallRejected:
		var p CallRejectedPayload
		if len(env.Payload) == 0 || json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onCallRejected {
				h(p)
			}
		}
	case EventCallEnded:
		for _, h := range d.onCallEnded {
			h(CallEndedPayload{})
		}
	default:
		known = false
	}

	for _, h := range d.generic[env.Type] {
		h(env.Type, env.Payload)
	}
	return known
}

func (d *eventDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (d *eventDispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

// reconnector tracks backoff state. Guarded by its own lock: the dial path
// and the reconnect goroutine touch it concurrently.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int

	mu          sync.Mutex
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.mu.Lock()
	r.connectedAt = time.Now()
	r.mu.Unlock()
}

// nextDelay returns the backoff for the upcoming attempt and that attempt's
// number (1-based).
func (r *reconnector) nextDelay() (time.Duration, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay, r.attempt
}

func (r *reconnector) reset() {
	r.mu.Lock()
	r.attempt = 0
	r.connectedAt = time.Time{}
	r.mu.Unlock()
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient owns the one persistent duplex push channel of a session:
// connect, automatic reconnect with bounded backoff, token rotation and
// teardown. It interprets no business events itself — inbound envelopes are
// validated and handed to the registered handlers.
type RealtimeClient struct {
	baseURL string
	config  *RealtimeConfig
	logger  *slog.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	token            string
	gen              int
	intentionalClose bool
	cancelFn         context.CancelFunc

	dispatcher *eventDispatcher
	recon      *reconnector
}

// NewRealtime creates a push-channel client for the given API origin. Call
// Connect to establish the connection.
func NewRealtime(baseURL string, config *RealtimeConfig) *RealtimeClient {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &RealtimeClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		config:     &cfg,
		token:      cfg.Token,
		state:      StateDisconnected,
		dispatcher: newEventDispatcher(),
		recon:      newReconnector(&cfg),
		logger:     slog.New(discardHandler{}),
	}
}

// SetLogger directs the client's diagnostics to the given logger.
func (rt *RealtimeClient) SetLogger(logger *slog.Logger) {
	if logger != nil {
		rt.logger = logger
	}
}

// Handler registration. Registration is not safe to interleave with a live
// connection; register before Connect.

func (rt *RealtimeClient) OnNotification(h func(NotificationPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onNotification = append(rt.dispatcher.onNotification, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnNewMessage(h func(NewMessagePayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onNewMessage = append(rt.dispatcher.onNewMessage, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnCallIncoming(h func(IncomingCallPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onCallIncoming = append(rt.dispatcher.onCallIncoming, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnCallAccepted(h func(CallAcceptedPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onCallAccepted = append(rt.dispatcher.onCallAccepted, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnCallRejected(h func(CallRejectedPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onCallRejected = append(rt.dispatcher.onCallRejected, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnCallEnded(h func(CallEndedPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onCallEnded = append(rt.dispatcher.onCallEnded, h)
	rt.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (rt *RealtimeClient) OnConnected(h func()) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onConnected = append(rt.dispatcher.onConnected, h)
	rt.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event. An
// unexpected drop means active calls may be affected; deciding what that
// means is the call layer's business, not this client's.
func (rt *RealtimeClient) OnDisconnected(h func(reason string)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onDisconnected = append(rt.dispatcher.onDisconnected, h)
	rt.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (rt *RealtimeClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onReconnecting = append(rt.dispatcher.onReconnecting, h)
	rt.dispatcher.mu.Unlock()
}

// On registers a generic event handler.
func (rt *RealtimeClient) On(eventType string, h RealtimeEventHandler) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.generic[eventType] = append(rt.dispatcher.generic[eventType], h)
	rt.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (rt *RealtimeClient) State() RealtimeState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// Connect establishes the push channel. With no token set this is a silent
// no-op — the logged-out state, not an error.
func (rt *RealtimeClient) Connect(ctx context.Context) error {
	rt.mu.Lock()
	if rt.token == "" {
		rt.state = StateDisconnected
		rt.mu.Unlock()
		return nil
	}
	if rt.state == StateConnected || rt.state == StateConnecting {
		rt.mu.Unlock()
		return nil
	}
	rt.state = StateConnecting
	rt.intentionalClose = false
	token := rt.token
	rt.mu.Unlock()

	return rt.dial(ctx, token)
}

func (rt *RealtimeClient) dial(ctx context.Context, token string) error {
	wsURL := strings.Replace(rt.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())

	rt.mu.Lock()
	// A Reconnect or Disconnect may have raced the dial; the token check
	// keeps a stale-token connection from surviving rotation.
	if rt.intentionalClose || rt.token != token {
		rt.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return nil
	}
	rt.gen++
	gen := rt.gen
	rt.conn = conn
	rt.state = StateConnected
	rt.cancelFn = cancel
	rt.mu.Unlock()

	rt.recon.markConnected()
	rt.dispatcher.emitConnected()

	go rt.readLoop(connCtx, conn, gen)
	go rt.heartbeatLoop(connCtx, conn, gen)

	return nil
}

// Disconnect gracefully closes the connection (explicit teardown, no
// reconnect attempt follows).
func (rt *RealtimeClient) Disconnect() error {
	rt.mu.Lock()
	rt.intentionalClose = true
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.state = StateDisconnected
	rt.mu.Unlock()

	rt.dispatcher.emitDisconnected("client disconnect")
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// Reconnect tears down any live connection (best-effort close, no wait for a
// server ack) and establishes a new one authenticated with newToken. Must be
// invoked whenever the session's token rotates: afterwards exactly one
// channel is live and it carries the new token.
func (rt *RealtimeClient) Reconnect(ctx context.Context, newToken string) error {
	rt.mu.Lock()
	rt.token = newToken
	rt.intentionalClose = false
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.gen++ // orphan any read loop still draining the old connection
	rt.state = StateDisconnected
	rt.mu.Unlock()

	if conn != nil {
		go conn.Close(websocket.StatusNormalClosure, "token rotated")
	}
	rt.recon.reset()

	if newToken == "" {
		return nil
	}

	rt.mu.Lock()
	rt.state = StateConnecting
	rt.mu.Unlock()
	return rt.dial(ctx, newToken)
}

func (rt *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.mu.Lock()
			stale := rt.gen != gen
			intentional := rt.intentionalClose
			if !stale && !intentional {
				rt.state = StateDisconnected
				rt.conn = nil
			}
			rt.mu.Unlock()
			if stale || intentional {
				return
			}

			rt.dispatcher.emitDisconnected(err.Error())

			if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
				rt.scheduleReconnect(gen)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			rt.logger.Debug("dropping malformed push frame")
			continue
		}
		if !rt.dispatcher.dispatch(env) {
			rt.logger.Debug("dropping unknown push event", "type", env.Type)
		}
	}
}

func (rt *RealtimeClient) heartbeatLoop(ctx context.Context, conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(rt.config.HeartbeatInterval)
	defer ticker.Stop()

	pingTimeout := rt.config.HeartbeatInterval
	if pingTimeout > 10*time.Second {
		pingTimeout = 10 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.mu.Lock()
			live := rt.gen == gen && rt.state == StateConnected
			rt.mu.Unlock()
			if !live {
				return
			}

			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				// Dead transport; no close handshake will complete, so tear
				// it down immediately. That wakes the read loop, which owns
				// the reconnect decision.
				conn.CloseNow()
				return
			}
		}
	}
}

func (rt *RealtimeClient) scheduleReconnect(gen int) {
	delay, attempt := rt.recon.nextDelay()

	rt.mu.Lock()
	if rt.gen != gen || rt.intentionalClose {
		rt.mu.Unlock()
		return
	}
	rt.state = StateReconnecting
	rt.mu.Unlock()

	rt.dispatcher.emitReconnecting(attempt, delay)
	time.Sleep(delay)

	rt.mu.Lock()
	if rt.gen != gen || rt.intentionalClose || rt.token == "" {
		rt.mu.Unlock()
		return
	}
	rt.state = StateConnecting
	token := rt.token
	rt.mu.Unlock()

	if err := rt.dial(context.Background(), token); err != nil {
		if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
			rt.scheduleReconnect(gen)
		}
	}
}
