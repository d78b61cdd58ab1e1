package hala

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Call phases and roles
// ============================================================================

// CallPhase is the lifecycle position of a call attempt.
//
//	idle → ringing-caller → active → idle
//	idle → ringing-receiver → active → idle
//
// with escape edges back to idle from every non-idle phase.
type CallPhase string

const (
	PhaseIdle            CallPhase = "idle"
	PhaseRingingCaller   CallPhase = "ringing-caller"
	PhaseRingingReceiver CallPhase = "ringing-receiver"
	PhaseActive          CallPhase = "active"
)

type CallRole string

const (
	RoleCaller CallRole = "caller"
	RoleCallee CallRole = "callee"
)

// ErrCallInProgress is returned when a call is initiated while another call
// attempt already exists for the session.
var ErrCallInProgress = fmt.Errorf("hala: a call is already in progress")

// CallRejectReasonBusy is sent to a caller whose call arrives while the
// callee is already in a call.
const CallRejectReasonBusy = "busy"

// ============================================================================
// Call session
// ============================================================================

// callSession is the one in-flight call attempt. It is owned exclusively by
// the CallManager; observers only ever see CallInfo snapshots.
type callSession struct {
	id         string
	role       CallRole
	peerID     string
	peerName   string
	peerAvatar string
	phase      CallPhase
	callType   string

	channelName string
	token       string // media credential, empty in degraded mode
	appID       string

	// The peer accepted before the initiate response delivered the grant;
	// media starts as soon as the grant lands.
	mediaPending bool

	media     MediaSession
	mediaCtx  context.Context
	mediaStop context.CancelFunc
	startedAt time.Time
}

// CallInfo is the observable snapshot of the current call attempt.
type CallInfo struct {
	ID          string
	Role        CallRole
	PeerID      string
	PeerName    string
	PeerAvatar  string
	Phase       CallPhase
	CallType    string
	ChannelName string
}

func (s *callSession) info() CallInfo {
	return CallInfo{
		ID:          s.id,
		Role:        s.role,
		PeerID:      s.peerID,
		PeerName:    s.peerName,
		PeerAvatar:  s.peerAvatar,
		Phase:       s.phase,
		CallType:    s.callType,
		ChannelName: s.channelName,
	}
}

// PhaseChange is delivered to phase observers on every transition.
type PhaseChange struct {
	From   CallPhase
	To     CallPhase
	Call   CallInfo
	Reason string // set on remote rejection
}

// ============================================================================
// CallManager
// ============================================================================

// CallManager drives the two-party call-signaling protocol for one session.
// At most one call attempt exists at any instant. Transitions come from local
// actions (Initiate, Cancel, Accept, Reject, End) and the four remote call
// events forwarded by the push channel.
//
// The protocol runs over an unreliable asynchronous channel with no server
// authority over client state, so every remote trigger is applied
// idempotently: an idle-producing event on an already-idle machine is a
// no-op, and events for a stale or mismatched attempt are ignored.
type CallManager struct {
	calls  *CallsClient
	marker *MarkerStore
	media  MediaFactory
	logger *slog.Logger

	mu      sync.Mutex
	self    UserRef
	session *callSession

	obsMu   sync.RWMutex
	onPhase []func(PhaseChange)
}

// NewCallManager wires the state machine to its collaborators. media may be
// nil, in which case calls run against NopMediaSession (degraded mode).
func NewCallManager(calls *CallsClient, marker *MarkerStore, media MediaFactory, logger *slog.Logger) *CallManager {
	if logger == nil {
		logger = slog.New(discardHandler{})
	}
	return &CallManager{
		calls:  calls,
		marker: marker,
		media:  media,
		logger: logger,
	}
}

// SetSelf records the local user's identity, sent to the peer in initiate and
// accept payloads.
func (cm *CallManager) SetSelf(user UserRef) {
	cm.mu.Lock()
	cm.self = user
	cm.mu.Unlock()
}

// OnPhaseChange registers an observer for call phase transitions.
func (cm *CallManager) OnPhaseChange(h func(PhaseChange)) {
	cm.obsMu.Lock()
	cm.onPhase = append(cm.onPhase, h)
	cm.obsMu.Unlock()
}

// Phase returns the current phase (PhaseIdle when no call attempt exists).
func (cm *CallManager) Phase() CallPhase {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.session == nil {
		return PhaseIdle
	}
	return cm.session.phase
}

// Current returns a snapshot of the in-flight call attempt, or false when the
// machine is idle.
func (cm *CallManager) Current() (CallInfo, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.session == nil {
		return CallInfo{}, false
	}
	return cm.session.info(), true
}

func (cm *CallManager) emit(change PhaseChange) {
	cm.obsMu.RLock()
	handlers := append([]func(PhaseChange){}, cm.onPhase...)
	cm.obsMu.RUnlock()
	for _, h := range handlers {
		h(change)
	}
}

// ============================================================================
// Local actions
// ============================================================================

// Initiate starts a call to peerID. The machine enters ringing-caller
// optimistically before the signaling request resolves; if the server cannot
// grant a channel and credential the attempt reverts to idle and the error is
// returned. callType is "video" or "audio".
func (cm *CallManager) Initiate(ctx context.Context, peerID, callType string) error {
	if callType == "" {
		callType = "video"
	}

	cm.mu.Lock()
	if cm.session != nil {
		cm.mu.Unlock()
		return ErrCallInProgress
	}
	s := &callSession{
		id:        uuid.NewString(),
		role:      RoleCaller,
		peerID:    peerID,
		phase:     PhaseRingingCaller,
		callType:  callType,
		startedAt: time.Now(),
	}
	cm.session = s
	self := cm.self
	cm.mu.Unlock()

	cm.persistMarker(s)
	cm.emit(PhaseChange{From: PhaseIdle, To: PhaseRingingCaller, Call: s.info()})

	grant, err := cm.calls.Initiate(ctx, &InitiateCallOptions{
		ReceiverID:   peerID,
		CallerName:   self.Name,
		CallerAvatar: self.Avatar,
		CallType:     callType,
	})

	cm.mu.Lock()
	if cm.session == nil || cm.session.id != s.id {
		// A remote event already tore this attempt down while the request
		// was in flight; its outcome no longer matters.
		cm.mu.Unlock()
		return nil
	}
	if err != nil {
		// The attempt may have advanced to active while the request was in
		// flight; tear down from whatever phase it actually reached.
		from := s.phase
		cm.session = nil
		cm.mu.Unlock()
		cm.stopMedia(s)
		cm.clearMarker()
		cm.emit(PhaseChange{From: from, To: PhaseIdle, Call: s.info()})
		return fmt.Errorf("initiate call: %w", err)
	}
	s.channelName = grant.ChannelName
	s.token = grant.Token
	s.appID = grant.AppID
	// call_accepted can outrun the initiate response; if it did, the media
	// start waited here for the grant.
	startNow := s.mediaPending
	s.mediaPending = false
	cm.mu.Unlock()
	if startNow {
		cm.startMedia(s)
	}
	return nil
}

// Cancel withdraws an outgoing call that has not been answered. Safe to call
// when the machine already left ringing-caller (no-op).
func (cm *CallManager) Cancel(ctx context.Context) error {
	cm.mu.Lock()
	s := cm.session
	if s == nil || s.role != RoleCaller || s.phase != PhaseRingingCaller {
		cm.mu.Unlock()
		return nil
	}
	cm.session = nil
	cm.mu.Unlock()

	cm.clearMarker()
	cm.emit(PhaseChange{From: PhaseRingingCaller, To: PhaseIdle, Call: s.info()})
	// Best-effort: the peer also learns about it when the server relays the
	// end event; a failed request is not a failed cancel.
	if err := cm.calls.End(ctx, s.peerID); err != nil {
		cm.logger.Debug("cancel-call signaling failed", "peer", s.peerID, "error", err)
	}
	return nil
}

// Accept answers an incoming call. The local phase advances to active even if
// the signaling request fails — the peer's machine is the authority for the
// peer's state. The call-marker persists: the call is now live.
func (cm *CallManager) Accept(ctx context.Context) error {
	cm.mu.Lock()
	s := cm.session
	if s == nil || s.phase != PhaseRingingReceiver {
		cm.mu.Unlock()
		return nil
	}
	s.phase = PhaseActive
	self := cm.self
	cm.mu.Unlock()

	cm.emit(PhaseChange{From: PhaseRingingReceiver, To: PhaseActive, Call: s.info()})
	cm.startMedia(s)

	if err := cm.calls.Accept(ctx, &AcceptCallOptions{
		CallerID:    s.peerID,
		ChannelName: s.channelName,
		UserName:    self.Name,
		UserAvatar:  self.Avatar,
	}); err != nil {
		cm.logger.Debug("accept-call signaling failed", "peer", s.peerID, "error", err)
	}
	return nil
}

// Reject declines an incoming call. No-op unless ringing-receiver.
func (cm *CallManager) Reject(ctx context.Context) error {
	cm.mu.Lock()
	s := cm.session
	if s == nil || s.phase != PhaseRingingReceiver {
		cm.mu.Unlock()
		return nil
	}
	cm.session = nil
	cm.mu.Unlock()

	cm.clearMarker()
	cm.emit(PhaseChange{From: PhaseRingingReceiver, To: PhaseIdle, Call: s.info()})
	if err := cm.calls.Reject(ctx, s.peerID, ""); err != nil {
		cm.logger.Debug("reject-call signaling failed", "peer", s.peerID, "error", err)
	}
	return nil
}

// End hangs up an active call. No-op when the machine is already idle.
func (cm *CallManager) End(ctx context.Context) error {
	cm.mu.Lock()
	s := cm.session
	if s == nil || s.phase != PhaseActive {
		cm.mu.Unlock()
		return nil
	}
	cm.session = nil
	cm.mu.Unlock()

	cm.stopMedia(s)
	cm.clearMarker()
	cm.emit(PhaseChange{From: PhaseActive, To: PhaseIdle, Call: s.info()})
	if err := cm.calls.End(ctx, s.peerID); err != nil {
		cm.logger.Debug("end-call signaling failed", "peer", s.peerID, "error", err)
	}
	return nil
}

// ============================================================================
// Remote triggers (push-channel events)
// ============================================================================

// HandleIncoming applies a call_incoming event. While a call attempt exists
// the caller is answered with a busy rejection instead of a second ring —
// there is only one call surface per session.
func (cm *CallManager) HandleIncoming(p IncomingCallPayload) {
	cm.mu.Lock()
	if cm.session != nil {
		cm.mu.Unlock()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := cm.calls.Reject(ctx, p.CallerID, CallRejectReasonBusy); err != nil {
				cm.logger.Debug("busy-reject signaling failed", "caller", p.CallerID, "error", err)
			}
		}()
		return
	}
	s := &callSession{
		id:          uuid.NewString(),
		role:        RoleCallee,
		peerID:      p.CallerID,
		peerName:    p.CallerName,
		peerAvatar:  p.CallerAvatar,
		phase:       PhaseRingingReceiver,
		callType:    p.CallType,
		channelName: p.ChannelName,
		token:       p.Token,
		appID:       p.AppID,
		startedAt:   time.Now(),
	}
	cm.session = s
	cm.mu.Unlock()

	cm.persistMarker(s)
	cm.emit(PhaseChange{From: PhaseIdle, To: PhaseRingingReceiver, Call: s.info()})
}

// HandleAccepted applies a call_accepted event. Ignored unless this side is
// the caller still waiting, and (when the payload names a user) the acceptor
// is the peer that was actually called.
func (cm *CallManager) HandleAccepted(p CallAcceptedPayload) {
	cm.mu.Lock()
	s := cm.session
	if s == nil || s.role != RoleCaller || s.phase != PhaseRingingCaller {
		cm.mu.Unlock()
		return
	}
	if p.UserID != "" && p.UserID != s.peerID {
		cm.mu.Unlock()
		cm.logger.Debug("ignoring call_accepted from unexpected user", "userId", p.UserID)
		return
	}
	s.phase = PhaseActive
	if p.UserName != "" {
		s.peerName = p.UserName
	}
	if p.UserAvatar != "" {
		s.peerAvatar = p.UserAvatar
	}
	// No grant yet means the initiate response is still in flight; the media
	// start is deferred to its completion.
	deferred := s.channelName == "" && s.token == ""
	s.mediaPending = deferred
	cm.mu.Unlock()

	cm.emit(PhaseChange{From: PhaseRingingCaller, To: PhaseActive, Call: s.info()})
	if !deferred {
		cm.startMedia(s)
	}
}

// HandleRejected applies a call_rejected event. A no-op on an idle machine or
// on the callee side.
func (cm *CallManager) HandleRejected(p CallRejectedPayload) {
	cm.mu.Lock()
	s := cm.session
	if s == nil || s.role != RoleCaller || s.phase != PhaseRingingCaller {
		cm.mu.Unlock()
		return
	}
	cm.session = nil
	cm.mu.Unlock()

	cm.clearMarker()
	cm.emit(PhaseChange{From: PhaseRingingCaller, To: PhaseIdle, Call: s.info(), Reason: p.Reason})
}

// HandleEnded applies a call_ended event from any non-idle phase. A no-op on
// an idle machine.
func (cm *CallManager) HandleEnded(CallEndedPayload) {
	cm.mu.Lock()
	s := cm.session
	if s == nil {
		cm.mu.Unlock()
		return
	}
	from := s.phase
	cm.session = nil
	cm.mu.Unlock()

	cm.stopMedia(s)
	cm.clearMarker()
	cm.emit(PhaseChange{From: from, To: PhaseIdle, Call: s.info()})
}

// HandleTransportLost is invoked when the push channel drops unexpectedly.
// Channel loss is not call termination: the connection manager reconnects in
// the background and only an explicit end/reject event or local action tears
// the call down.
func (cm *CallManager) HandleTransportLost(reason string) {
	cm.mu.Lock()
	active := cm.session != nil && cm.session.phase == PhaseActive
	cm.mu.Unlock()
	if active {
		cm.logger.Warn("push channel lost during active call, keeping call up", "reason", reason)
	}
}

// ============================================================================
// Teardown and recovery
// ============================================================================

// Close is the process-shutdown path (the page-unload analog). Any in-flight
// call attempt is abandoned and the peer is notified twice — once through the
// normal signaling request and once through the beacon variant — because
// neither delivery can be guaranteed to flush during teardown.
func (cm *CallManager) Close(ctx context.Context) {
	cm.mu.Lock()
	s := cm.session
	cm.session = nil
	cm.mu.Unlock()
	if s == nil {
		return
	}

	cm.stopMedia(s)
	if err := cm.calls.End(ctx, s.peerID); err != nil {
		cm.logger.Debug("shutdown end-call signaling failed", "peer", s.peerID, "error", err)
	}
	cm.calls.EndBeacon(s.peerID)
	cm.clearMarker()
	cm.emit(PhaseChange{From: s.phase, To: PhaseIdle, Call: s.info()})
}

// Recover inspects the durable call-marker left by a previous process
// instance. A leftover marker means that instance died mid-call: the
// recorded peer gets exactly one best-effort end-call notification and the
// marker is discarded. The new instance never resumes the old call.
func (cm *CallManager) Recover(ctx context.Context) {
	if cm.marker == nil {
		return
	}
	m, err := cm.marker.Load()
	if err != nil {
		cm.logger.Warn("cannot read call marker", "error", err)
		return
	}
	if m == nil {
		return
	}
	cm.logger.Info("found stale call marker, notifying peer", "peer", m.PeerID, "startedAt", m.StartedAt)
	if err := cm.calls.End(ctx, m.PeerID); err != nil {
		cm.logger.Debug("stale-call end signaling failed", "peer", m.PeerID, "error", err)
	}
	if err := cm.marker.Clear(); err != nil {
		cm.logger.Warn("cannot clear call marker", "error", err)
	}
}

// ============================================================================
// Internals
// ============================================================================

func (cm *CallManager) persistMarker(s *callSession) {
	if cm.marker == nil {
		return
	}
	if err := cm.marker.Save(&CallMarker{
		CallID:    s.id,
		PeerID:    s.peerID,
		Role:      string(s.role),
		StartedAt: s.startedAt,
	}); err != nil {
		cm.logger.Warn("cannot persist call marker", "error", err)
	}
}

func (cm *CallManager) clearMarker() {
	if cm.marker == nil {
		return
	}
	if err := cm.marker.Clear(); err != nil {
		cm.logger.Warn("cannot clear call marker", "error", err)
	}
}

// startMedia hands the channel and credential to the media engine. Media
// failures degrade the call (audio-only, video-only, or signaling-only) and
// never abort it; the engine's own track fallback handles partial capture.
func (cm *CallManager) startMedia(s *callSession) {
	factory := cm.media
	if factory == nil {
		factory = func(MediaEvents) MediaSession { return &NopMediaSession{} }
	}
	events := MediaEvents{
		PeerJoined: func(uid int) { cm.logger.Debug("media peer joined", "uid", uid) },
		PeerLeft:   func(uid int) { cm.logger.Debug("media peer left", "uid", uid) },
	}

	ctx, cancel := context.WithCancel(context.Background())
	cm.mu.Lock()
	s.media = factory(events)
	s.mediaCtx = ctx
	s.mediaStop = cancel
	media := s.media
	channel, token := s.channelName, s.token
	cm.mu.Unlock()

	go func() {
		if err := media.Join(ctx, channel, token); err != nil {
			cm.logger.Warn("media join failed, call continues without media", "channel", channel, "error", err)
			return
		}
		if err := media.PublishLocalTracks(ctx); err != nil {
			cm.logger.Warn("publishing local tracks failed, call degraded", "error", err)
		}
	}()
}

func (cm *CallManager) stopMedia(s *callSession) {
	cm.mu.Lock()
	media := s.media
	stop := s.mediaStop
	s.media = nil
	s.mediaStop = nil
	cm.mu.Unlock()

	if stop != nil {
		stop()
	}
	if media != nil {
		if err := media.Leave(); err != nil {
			cm.logger.Debug("media leave failed", "error", err)
		}
	}
}
