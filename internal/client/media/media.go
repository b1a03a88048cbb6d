// Package media owns the local camera/microphone stream: idempotent
// acquisition, mute toggles that never touch signaling, and a permission
// vs. hardware error taxonomy the UI can map to remediation text.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Capture failures, each recoverable by a distinct user action.
var (
	// ErrPermissionDenied: the user declined or policy blocked device
	// access. Retryable by calling Acquire again after remediation.
	ErrPermissionDenied = errors.New("media: permission denied")
	// ErrDeviceNotFound: no camera/microphone present.
	ErrDeviceNotFound = errors.New("media: device not found")
	// ErrDeviceBusy: device held by another process. Retryable.
	ErrDeviceBusy = errors.New("media: device busy")
)

type trackState int32

const (
	trackLive trackState = iota
	trackMuted
	trackStopped
)

// LocalTrack pairs an outgoing RTP track with its atomic enabled state.
// The pump checks the state per packet, so muting is cheap, reversible and
// has no signaling side effect.
type LocalTrack struct {
	Track *webrtc.TrackLocalStaticRTP
	state atomic.Int32
}

func NewLocalTrack(track *webrtc.TrackLocalStaticRTP) *LocalTrack {
	return &LocalTrack{Track: track}
}

func (t *LocalTrack) Enabled() bool { return trackState(t.state.Load()) == trackLive }

func (t *LocalTrack) SetEnabled(on bool) {
	if trackState(t.state.Load()) == trackStopped {
		return
	}
	if on {
		t.state.Store(int32(trackLive))
	} else {
		t.state.Store(int32(trackMuted))
	}
}

func (t *LocalTrack) stop() { t.state.Store(int32(trackStopped)) }

func (t *LocalTrack) stopped() bool { return trackState(t.state.Load()) == trackStopped }

// LocalStream is the single-owner handle to the captured devices. It is
// shared by reference with the peer link; only this package stops tracks.
type LocalStream struct {
	Audio *LocalTrack
	Video *LocalTrack

	cancel context.CancelFunc
}

// Tracks returns the attachable pion tracks, audio first.
func (s *LocalStream) Tracks() []*webrtc.TrackLocalStaticRTP {
	out := make([]*webrtc.TrackLocalStaticRTP, 0, 2)
	if s.Audio != nil {
		out = append(out, s.Audio.Track)
	}
	if s.Video != nil {
		out = append(out, s.Video.Track)
	}
	return out
}

func (s *LocalStream) SetAudioEnabled(on bool) {
	if s.Audio != nil {
		s.Audio.SetEnabled(on)
	}
}

func (s *LocalStream) SetVideoEnabled(on bool) {
	if s.Video != nil {
		s.Video.SetEnabled(on)
	}
}

func (s *LocalStream) AudioEnabled() bool { return s.Audio != nil && s.Audio.Enabled() }
func (s *LocalStream) VideoEnabled() bool { return s.Video != nil && s.Video.Enabled() }

// Live reports whether the stream is still usable for a fresh peer link.
func (s *LocalStream) Live() bool {
	if s.Audio != nil && !s.Audio.stopped() {
		return true
	}
	return s.Video != nil && !s.Video.stopped()
}

func (s *LocalStream) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.Audio != nil {
		s.Audio.stop()
	}
	if s.Video != nil {
		s.Video.stop()
	}
}

// DeviceProvider opens the underlying capture devices. The default is the
// synthetic provider; real hardware capture is a provider implementation.
type DeviceProvider interface {
	Open(ctx context.Context) (*LocalStream, error)
}

// Manager is the exclusive owner of the local stream for one screen
// lifetime. Acquire never re-opens devices it already holds, so retrying a
// peer link costs no extra permission prompt.
type Manager struct {
	provider DeviceProvider

	mu     sync.Mutex
	stream *LocalStream
}

func NewManager(provider DeviceProvider) *Manager {
	if provider == nil {
		provider = NewSyntheticProvider()
	}
	return &Manager{provider: provider}
}

// Acquire returns the held stream, opening devices only on first use.
func (m *Manager) Acquire(ctx context.Context) (*LocalStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil && m.stream.Live() {
		return m.stream, nil
	}

	stream, err := m.provider.Open(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "media").Msg("capture failed")
		return nil, fmt.Errorf("acquire local media: %w", err)
	}
	m.stream = stream
	log.Info().Str("module", "media").
		Bool("audio", stream.Audio != nil).
		Bool("video", stream.Video != nil).
		Msg("local media acquired")
	return stream, nil
}

// Held returns the current stream without acquiring, nil when none.
func (m *Manager) Held() *LocalStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// Release stops all tracks and forgets the stream. Called only on final
// teardown, never on a transient retry.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return
	}
	m.stream.stop()
	m.stream = nil
	log.Info().Str("module", "media").Msg("local media released")
}
