package hala

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes. Several call
// transitions finish on background goroutines (media join, busy rejects), so
// assertions about their side effects need a grace window.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

type signalRecord struct {
	Path  string
	Query string
	Body  map[string]any
}

// signalServer is a canned signaling backend that records every request.
type signalServer struct {
	*httptest.Server
	mu       sync.Mutex
	records  []signalRecord
	failInit bool
	initGate chan struct{}
}

func newSignalServer(t *testing.T) *signalServer {
	t.Helper()
	s := &signalServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := signalRecord{Path: r.URL.Path, Query: r.URL.RawQuery}
		json.NewDecoder(r.Body).Decode(&rec.Body)
		s.mu.Lock()
		s.records = append(s.records, rec)
		failInit := s.failInit
		gate := s.initGate
		s.mu.Unlock()

		if r.URL.Path == "/api/calls/initiate" {
			if gate != nil {
				<-gate
			}
			if failInit {
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(map[string]string{"message": "receiver offline"})
				return
			}
			json.NewEncoder(w).Encode(CallGrant{Token: "media-tok", AppID: "app", ChannelName: "chan-1", UID: 3})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func (s *signalServer) setFailInit(v bool) {
	s.mu.Lock()
	s.failInit = v
	s.mu.Unlock()
}

// holdInitiate blocks initiate responses until the returned release func runs.
func (s *signalServer) holdInitiate() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.initGate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (s *signalServer) recorded() []signalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]signalRecord{}, s.records...)
}

func (s *signalServer) count(path string) int {
	n := 0
	for _, r := range s.recorded() {
		if r.Path == path {
			n++
		}
	}
	return n
}

// recordingMedia captures what the call machine hands to the media engine.
type recordingMedia struct {
	mu         sync.Mutex
	joined     bool
	channel    string
	credential string
	published  bool
	leaves     int
}

func (m *recordingMedia) Join(ctx context.Context, channelID, credential string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joined = true
	m.channel = channelID
	m.credential = credential
	return nil
}

func (m *recordingMedia) PublishLocalTracks(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = true
	return nil
}

func (m *recordingMedia) SetLocalVideoEnabled(bool) {}
func (m *recordingMedia) SetLocalAudioEnabled(bool) {}

func (m *recordingMedia) Leave() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaves++
	return nil
}

func (m *recordingMedia) snapshot() recordingMedia {
	m.mu.Lock()
	defer m.mu.Unlock()
	return recordingMedia{joined: m.joined, channel: m.channel, credential: m.credential, published: m.published, leaves: m.leaves}
}

func newTestCallManager(t *testing.T, server *signalServer) (*CallManager, *MarkerStore, *recordingMedia) {
	t.Helper()
	client := NewClient("tok", WithBaseURL(server.URL))
	marker := NewMarkerStore(filepath.Join(t.TempDir(), "active_call.toml"))
	media := &recordingMedia{}
	cm := NewCallManager(client.Calls, marker, func(MediaEvents) MediaSession { return media }, nil)
	cm.SetSelf(UserRef{ID: "me", Name: "Lan"})
	return cm, marker, media
}

func TestCallInitiate(t *testing.T) {
	t.Run("happy path rings and stores the grant", func(t *testing.T) {
		server := newSignalServer(t)
		cm, marker, media := newTestCallManager(t, server)
		ctx := context.Background()

		if err := cm.Initiate(ctx, "peer-1", "video"); err != nil {
			t.Fatalf("Initiate() error: %v", err)
		}
		if got := cm.Phase(); got != PhaseRingingCaller {
			t.Fatalf("phase = %q, want %q", got, PhaseRingingCaller)
		}
		if m, _ := marker.Load(); m == nil || m.PeerID != "peer-1" || m.Role != "caller" {
			t.Errorf("marker = %+v, want caller marker for peer-1", m)
		}

		// The peer accepts: the stored grant flows into the media engine.
		cm.HandleAccepted(CallAcceptedPayload{UserID: "peer-1", UserName: "Minh", ChannelName: "chan-1"})
		if got := cm.Phase(); got != PhaseActive {
			t.Fatalf("phase = %q, want %q", got, PhaseActive)
		}
		waitFor(t, func() bool { return media.snapshot().joined }, "media join")
		snap := media.snapshot()
		if snap.channel != "chan-1" || snap.credential != "media-tok" {
			t.Errorf("media joined %q/%q, want chan-1/media-tok", snap.channel, snap.credential)
		}
		waitFor(t, func() bool { return media.snapshot().published }, "local tracks")
	})

	t.Run("accepted before the grant arrives still joins with it", func(t *testing.T) {
		server := newSignalServer(t)
		release := server.holdInitiate()
		defer release()
		cm, _, media := newTestCallManager(t, server)

		initErr := make(chan error, 1)
		go func() { initErr <- cm.Initiate(context.Background(), "peer-1", "video") }()
		waitFor(t, func() bool { return cm.Phase() == PhaseRingingCaller }, "ringing caller")

		// The push event outruns the initiate response.
		cm.HandleAccepted(CallAcceptedPayload{UserID: "peer-1", UserName: "Minh"})
		if got := cm.Phase(); got != PhaseActive {
			t.Fatalf("phase = %q, want active", got)
		}
		if media.snapshot().joined {
			t.Fatal("media joined before the grant was available")
		}

		release()
		if err := <-initErr; err != nil {
			t.Fatalf("Initiate() error: %v", err)
		}
		waitFor(t, func() bool { return media.snapshot().joined }, "media join")
		snap := media.snapshot()
		if snap.channel != "chan-1" || snap.credential != "media-tok" {
			t.Errorf("media joined %q/%q, want chan-1/media-tok", snap.channel, snap.credential)
		}
	})

	t.Run("server failure reverts to idle", func(t *testing.T) {
		server := newSignalServer(t)
		server.setFailInit(true)
		cm, marker, _ := newTestCallManager(t, server)

		err := cm.Initiate(context.Background(), "peer-1", "video")
		if err == nil {
			t.Fatal("expected error")
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("err = %T, want *APIError", err)
		}
		if got := cm.Phase(); got != PhaseIdle {
			t.Errorf("phase = %q, want idle after failed initiate", got)
		}
		if m, _ := marker.Load(); m != nil {
			t.Errorf("marker survived failed initiate: %+v", m)
		}
	})

	t.Run("failure after an early accept tears down from active", func(t *testing.T) {
		server := newSignalServer(t)
		server.setFailInit(true)
		release := server.holdInitiate()
		defer release()
		cm, marker, _ := newTestCallManager(t, server)

		var changes []PhaseChange
		var mu sync.Mutex
		cm.OnPhaseChange(func(c PhaseChange) {
			mu.Lock()
			changes = append(changes, c)
			mu.Unlock()
		})

		initErr := make(chan error, 1)
		go func() { initErr <- cm.Initiate(context.Background(), "peer-1", "video") }()
		waitFor(t, func() bool { return cm.Phase() == PhaseRingingCaller }, "ringing caller")
		cm.HandleAccepted(CallAcceptedPayload{UserID: "peer-1"})

		release()
		if err := <-initErr; err == nil {
			t.Fatal("expected error")
		}
		if got := cm.Phase(); got != PhaseIdle {
			t.Errorf("phase = %q, want idle", got)
		}
		if m, _ := marker.Load(); m != nil {
			t.Errorf("marker survived failed initiate: %+v", m)
		}
		mu.Lock()
		last := changes[len(changes)-1]
		mu.Unlock()
		if last.From != PhaseActive || last.To != PhaseIdle {
			t.Errorf("last change = %+v, want active to idle", last)
		}
	})

	t.Run("second initiate while ringing is refused", func(t *testing.T) {
		server := newSignalServer(t)
		cm, _, _ := newTestCallManager(t, server)
		ctx := context.Background()

		if err := cm.Initiate(ctx, "peer-1", "video"); err != nil {
			t.Fatal(err)
		}
		if err := cm.Initiate(ctx, "peer-2", "video"); !errors.Is(err, ErrCallInProgress) {
			t.Fatalf("err = %v, want ErrCallInProgress", err)
		}
		if info, ok := cm.Current(); !ok || info.PeerID != "peer-1" {
			t.Errorf("current call = %+v, want the first attempt intact", info)
		}
	})
}

func TestCallCancel(t *testing.T) {
	server := newSignalServer(t)
	cm, marker, _ := newTestCallManager(t, server)
	ctx := context.Background()

	if err := cm.Initiate(ctx, "peer-1", "video"); err != nil {
		t.Fatal(err)
	}
	if err := cm.Cancel(ctx); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	if got := cm.Phase(); got != PhaseIdle {
		t.Errorf("phase = %q, want idle", got)
	}
	if m, _ := marker.Load(); m != nil {
		t.Errorf("marker survived cancel: %+v", m)
	}
	if n := server.count("/api/calls/end"); n != 1 {
		t.Errorf("end-call requests = %d, want 1", n)
	}

	// Cancelling again is a no-op.
	if err := cm.Cancel(ctx); err != nil {
		t.Fatalf("second Cancel() error: %v", err)
	}
	if n := server.count("/api/calls/end"); n != 1 {
		t.Errorf("end-call requests after no-op cancel = %d, want 1", n)
	}
}

func TestCalleeFlow(t *testing.T) {
	incoming := IncomingCallPayload{
		CallerID: "caller-1", CallerName: "Minh",
		ChannelName: "chan-9", Token: "media-tok-9", AppID: "app", CallType: "video",
	}

	t.Run("accept goes active and joins media", func(t *testing.T) {
		server := newSignalServer(t)
		cm, marker, media := newTestCallManager(t, server)

		cm.HandleIncoming(incoming)
		if got := cm.Phase(); got != PhaseRingingReceiver {
			t.Fatalf("phase = %q, want %q", got, PhaseRingingReceiver)
		}
		if m, _ := marker.Load(); m == nil || m.Role != "callee" || m.PeerID != "caller-1" {
			t.Errorf("marker = %+v, want callee marker", m)
		}

		if err := cm.Accept(context.Background()); err != nil {
			t.Fatalf("Accept() error: %v", err)
		}
		if got := cm.Phase(); got != PhaseActive {
			t.Fatalf("phase = %q, want active", got)
		}
		waitFor(t, func() bool { return media.snapshot().joined }, "media join")
		snap := media.snapshot()
		if snap.channel != "chan-9" || snap.credential != "media-tok-9" {
			t.Errorf("media joined %q/%q, want chan-9/media-tok-9", snap.channel, snap.credential)
		}
		if n := server.count("/api/calls/accept"); n != 1 {
			t.Errorf("accept requests = %d, want 1", n)
		}
		// The marker persists for the lifetime of the active call.
		if m, _ := marker.Load(); m == nil {
			t.Error("marker cleared while call active")
		}
	})

	t.Run("reject returns to idle", func(t *testing.T) {
		server := newSignalServer(t)
		cm, marker, _ := newTestCallManager(t, server)

		cm.HandleIncoming(incoming)
		if err := cm.Reject(context.Background()); err != nil {
			t.Fatalf("Reject() error: %v", err)
		}
		if got := cm.Phase(); got != PhaseIdle {
			t.Errorf("phase = %q, want idle", got)
		}
		if m, _ := marker.Load(); m != nil {
			t.Errorf("marker survived reject: %+v", m)
		}
		if n := server.count("/api/calls/reject"); n != 1 {
			t.Errorf("reject requests = %d, want 1", n)
		}
	})

	t.Run("incoming while busy draws an automatic busy reject", func(t *testing.T) {
		server := newSignalServer(t)
		cm, _, _ := newTestCallManager(t, server)
		ctx := context.Background()

		if err := cm.Initiate(ctx, "peer-1", "video"); err != nil {
			t.Fatal(err)
		}
		cm.HandleIncoming(IncomingCallPayload{CallerID: "intruder", ChannelName: "chan-x"})

		// The existing attempt is untouched.
		if info, ok := cm.Current(); !ok || info.PeerID != "peer-1" || info.Phase != PhaseRingingCaller {
			t.Errorf("current call = %+v, want original attempt", info)
		}
		waitFor(t, func() bool { return server.count("/api/calls/reject") == 1 }, "busy reject")
		for _, r := range server.recorded() {
			if r.Path != "/api/calls/reject" {
				continue
			}
			if r.Body["callerId"] != "intruder" || r.Body["reason"] != CallRejectReasonBusy {
				t.Errorf("busy reject body = %+v", r.Body)
			}
		}
	})
}

func TestCallRemoteTeardown(t *testing.T) {
	t.Run("remote reject while ringing", func(t *testing.T) {
		server := newSignalServer(t)
		cm, marker, _ := newTestCallManager(t, server)

		var changes []PhaseChange
		var mu sync.Mutex
		cm.OnPhaseChange(func(c PhaseChange) {
			mu.Lock()
			changes = append(changes, c)
			mu.Unlock()
		})

		if err := cm.Initiate(context.Background(), "peer-1", "video"); err != nil {
			t.Fatal(err)
		}
		cm.HandleRejected(CallRejectedPayload{Reason: "busy"})
		if got := cm.Phase(); got != PhaseIdle {
			t.Errorf("phase = %q, want idle", got)
		}
		if m, _ := marker.Load(); m != nil {
			t.Errorf("marker survived remote reject: %+v", m)
		}

		mu.Lock()
		last := changes[len(changes)-1]
		mu.Unlock()
		if last.To != PhaseIdle || last.Reason != "busy" {
			t.Errorf("last change = %+v, want idle with busy reason", last)
		}
	})

	t.Run("remote end is idempotent", func(t *testing.T) {
		server := newSignalServer(t)
		cm, marker, media := newTestCallManager(t, server)

		cm.HandleIncoming(IncomingCallPayload{CallerID: "caller-1", ChannelName: "chan-9", Token: "tk"})
		if err := cm.Accept(context.Background()); err != nil {
			t.Fatal(err)
		}
		waitFor(t, func() bool { return media.snapshot().joined }, "media join")

		cm.HandleEnded(CallEndedPayload{})
		if got := cm.Phase(); got != PhaseIdle {
			t.Errorf("phase = %q, want idle", got)
		}
		if got := media.snapshot().leaves; got != 1 {
			t.Errorf("media leaves = %d, want 1", got)
		}
		if m, _ := marker.Load(); m != nil {
			t.Errorf("marker survived remote end: %+v", m)
		}

		// A duplicate end event must change nothing.
		cm.HandleEnded(CallEndedPayload{})
		if got := media.snapshot().leaves; got != 1 {
			t.Errorf("media leaves after duplicate end = %d, want 1", got)
		}
	})

	t.Run("rejected event on idle machine is a no-op", func(t *testing.T) {
		server := newSignalServer(t)
		cm, _, _ := newTestCallManager(t, server)
		cm.HandleRejected(CallRejectedPayload{})
		cm.HandleEnded(CallEndedPayload{})
		if got := cm.Phase(); got != PhaseIdle {
			t.Errorf("phase = %q, want idle", got)
		}
	})

	t.Run("accepted from unexpected user is ignored", func(t *testing.T) {
		server := newSignalServer(t)
		cm, _, _ := newTestCallManager(t, server)
		if err := cm.Initiate(context.Background(), "peer-1", "video"); err != nil {
			t.Fatal(err)
		}
		cm.HandleAccepted(CallAcceptedPayload{UserID: "someone-else"})
		if got := cm.Phase(); got != PhaseRingingCaller {
			t.Errorf("phase = %q, want still ringing", got)
		}
	})
}

func TestCallTransportLossKeepsActiveCall(t *testing.T) {
	server := newSignalServer(t)
	cm, _, media := newTestCallManager(t, server)

	cm.HandleIncoming(IncomingCallPayload{CallerID: "caller-1", ChannelName: "chan-9", Token: "tk"})
	if err := cm.Accept(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return media.snapshot().joined }, "media join")

	cm.HandleTransportLost("read: connection reset")
	if got := cm.Phase(); got != PhaseActive {
		t.Errorf("phase = %q, want active after transport loss", got)
	}
	if got := media.snapshot().leaves; got != 0 {
		t.Errorf("media leaves = %d, want 0", got)
	}
}

func TestCallClose(t *testing.T) {
	server := newSignalServer(t)
	cm, marker, media := newTestCallManager(t, server)

	cm.HandleIncoming(IncomingCallPayload{CallerID: "caller-1", ChannelName: "chan-9", Token: "tk"})
	if err := cm.Accept(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return media.snapshot().joined }, "media join")

	cm.Close(context.Background())
	if got := cm.Phase(); got != PhaseIdle {
		t.Errorf("phase = %q, want idle", got)
	}
	if got := media.snapshot().leaves; got != 1 {
		t.Errorf("media leaves = %d, want 1", got)
	}
	if m, _ := marker.Load(); m != nil {
		t.Errorf("marker survived Close: %+v", m)
	}
	// Dual delivery on shutdown: the normal request plus the beacon.
	if n := server.count("/api/calls/end"); n != 2 {
		t.Errorf("end-call requests = %d, want 2", n)
	}
}

func TestCallRecover(t *testing.T) {
	t.Run("stale marker notifies peer once and is cleared", func(t *testing.T) {
		server := newSignalServer(t)
		cm, marker, _ := newTestCallManager(t, server)

		if err := marker.Save(&CallMarker{CallID: "dead", PeerID: "peer-9", Role: "caller", StartedAt: time.Now().Add(-time.Hour)}); err != nil {
			t.Fatal(err)
		}
		cm.Recover(context.Background())

		if n := server.count("/api/calls/end"); n != 1 {
			t.Fatalf("end-call requests = %d, want exactly 1", n)
		}
		for _, r := range server.recorded() {
			if r.Path == "/api/calls/end" && r.Body["otherId"] != "peer-9" {
				t.Errorf("end body = %+v, want otherId peer-9", r.Body)
			}
		}
		if m, _ := marker.Load(); m != nil {
			t.Errorf("marker survived recovery: %+v", m)
		}
		if got := cm.Phase(); got != PhaseIdle {
			t.Errorf("phase = %q, want idle", got)
		}
	})

	t.Run("no marker means no traffic", func(t *testing.T) {
		server := newSignalServer(t)
		cm, _, _ := newTestCallManager(t, server)
		cm.Recover(context.Background())
		if n := len(server.recorded()); n != 0 {
			t.Errorf("recorded %d requests, want 0", n)
		}
	})
}
