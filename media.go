package hala

import "context"

// ============================================================================
// Media Session Adapter
// ============================================================================

// MediaSession is the surface the call layer needs from a real-time media
// engine. The engine itself (capture, encode, transport) lives outside this
// module; the call state machine only starts and stops it.
//
// Implementations must degrade rather than fail: if a camera or microphone
// cannot be acquired, the call proceeds with whatever tracks are available.
type MediaSession interface {
	// Join connects to the media channel. credential may be empty in
	// degraded/test deployments.
	Join(ctx context.Context, channelID, credential string) error
	PublishLocalTracks(ctx context.Context) error
	SetLocalVideoEnabled(enabled bool)
	SetLocalAudioEnabled(enabled bool)
	Leave() error
}

// MediaEvents receives presence callbacks from the media engine. PeerJoined
// flips the call surface from "connecting" to "connected"; PeerLeft back.
type MediaEvents struct {
	PeerJoined func(uid int)
	PeerLeft   func(uid int)
}

// MediaFactory builds a MediaSession for one call attempt. The factory is
// invoked each time a call goes active, never reused across calls.
type MediaFactory func(events MediaEvents) MediaSession

// NopMediaSession is a MediaSession that does nothing. It backs the degraded
// mode (no media credential) and tests.
type NopMediaSession struct {
	Joined   bool
	LeftOnce bool
}

func (n *NopMediaSession) Join(ctx context.Context, channelID, credential string) error {
	n.Joined = true
	return nil
}

func (n *NopMediaSession) PublishLocalTracks(ctx context.Context) error { return nil }

func (n *NopMediaSession) SetLocalVideoEnabled(enabled bool) {}

func (n *NopMediaSession) SetLocalAudioEnabled(enabled bool) {}

func (n *NopMediaSession) Leave() error {
	n.LeftOnce = true
	return nil
}
