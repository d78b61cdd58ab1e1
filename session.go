package hala

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionOptions tunes session construction. The zero value is usable.
type SessionOptions struct {
	// Media builds the media engine for calls. Nil means calls run in
	// signaling-only mode against NopMediaSession.
	Media MediaFactory

	// MarkerPath overrides where the durable call marker lives. Empty means
	// DefaultMarkerPath().
	MarkerPath string

	// Realtime overrides the push-channel tuning. Token is filled in from
	// the client's access token.
	Realtime *RealtimeConfig

	Logger *slog.Logger
}

// Session binds the pieces of a logged-in client together: the REST gateway,
// the push channel, the inbox, and the call state machine. A Session is the
// process-level analog of one signed-in browser tab.
type Session struct {
	Client   *Client
	Realtime *RealtimeClient
	Inbox    *Inbox
	Calls    *CallManager

	logger *slog.Logger
	marker *MarkerStore
}

// NewSession builds a session around an authenticated client. The push
// channel is not opened until Start.
func NewSession(client *Client, opts *SessionOptions) (*Session, error) {
	if opts == nil {
		opts = &SessionOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(discardHandler{})
	}

	markerPath := opts.MarkerPath
	if markerPath == "" {
		var err error
		markerPath, err = DefaultMarkerPath()
		if err != nil {
			return nil, fmt.Errorf("resolve call marker path: %w", err)
		}
	}
	marker := NewMarkerStore(markerPath)

	rtConfig := opts.Realtime
	if rtConfig == nil {
		rtConfig = &RealtimeConfig{AutoReconnect: true}
	}
	rtConfig.Token = client.AccessToken()
	rt := NewRealtime(client.BaseURL(), rtConfig)
	rt.SetLogger(logger)

	s := &Session{
		Client:   client,
		Realtime: rt,
		Inbox:    NewInbox(client.Notifications, client.Messages, logger),
		Calls:    NewCallManager(client.Calls, marker, opts.Media, logger),
		logger:   logger,
		marker:   marker,
	}

	// Push events fan out to the derived-state owners. Handlers run on the
	// read loop in arrival order, so each owner sees a consistent sequence.
	rt.OnNotification(s.Inbox.HandleNotification)
	rt.OnNewMessage(s.Inbox.HandleNewMessage)
	rt.OnCallIncoming(s.Calls.HandleIncoming)
	rt.OnCallAccepted(s.Calls.HandleAccepted)
	rt.OnCallRejected(s.Calls.HandleRejected)
	rt.OnCallEnded(s.Calls.HandleEnded)
	rt.OnDisconnected(s.Calls.HandleTransportLost)

	// A rotated access token must reach the push channel too; the old
	// credential stops authenticating the socket on the next reconnect.
	client.OnTokenRotated(func(accessToken string) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := rt.Reconnect(ctx, accessToken); err != nil {
			logger.Warn("push channel reconnect after token rotation failed", "error", err)
		}
	})

	return s, nil
}

// Start brings the session up: settle any call left over from a previous
// process instance, load the inbox, identify the local user, and open the
// push channel. Inbox and profile failures are non-fatal; the push channel
// failing to dial is (unless auto-reconnect is on, in which case the
// reconnect loop takes over).
func (s *Session) Start(ctx context.Context) error {
	s.Calls.Recover(ctx)

	if profile, err := s.Client.Users.Profile(ctx); err != nil {
		s.logger.Warn("cannot load own profile", "error", err)
	} else {
		s.Calls.SetSelf(UserRef{ID: profile.ID, Name: profile.Name, Email: profile.Email, Avatar: profile.Avatar})
	}

	if err := s.Inbox.Refresh(ctx); err != nil {
		s.logger.Warn("initial inbox load failed", "error", err)
	}

	return s.Realtime.Connect(ctx)
}

// Close shuts the session down: abandon any in-flight call with dual
// delivery to the peer, close the push channel, and clear the call marker.
func (s *Session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Calls.Close(ctx)
	return s.Realtime.Disconnect()
}
