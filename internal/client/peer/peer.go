// Package peer owns one peer-to-peer media link per exam session: the
// offer/answer exchange, trickled ICE with a pending queue for candidates
// that beat the remote description, and connection-state tracking.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/odewan/examlink/internal/client/media"
)

// State is the link lifecycle. Closed is terminal; the only thing after
// Closed is a brand-new Link.
type State string

const (
	StateNew          State = "new"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// Retryable reports whether the state should surface a manual retry action.
func (s State) Retryable() bool {
	return s == StateDisconnected || s == StateFailed
}

var ErrClosed = errors.New("peer link closed")

// Sender transmits negotiation messages over the signaling transport. Local
// candidates go out immediately, one message each; latency beats batching
// here.
type Sender interface {
	SendOffer(sdp string) error
	SendAnswer(sdp string) error
	SendCandidate(candidateJSON string) error
}

type Config struct {
	STUNServers []string
}

// Link is one PeerLink. Exactly one offer leaves a Link in its lifetime;
// re-offering requires a fresh Link.
type Link struct {
	pc     *webrtc.PeerConnection
	sender Sender
	media  *media.Manager

	onState func(State)

	mu           sync.Mutex
	state        State
	offerSent    bool
	remoteSet    bool
	pending      []webrtc.ICECandidateInit
	tracksAdded  bool
	remoteTracks int
}

func New(cfg Config, mediaMgr *media.Manager, sender Sender, onState func(State)) (*Link, error) {
	servers := cfg.STUNServers
	if len(servers) == 0 {
		servers = []string{"stun:stun.l.google.com:19302"}
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: servers}},
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	l := &Link{
		pc:      pc,
		sender:  sender,
		media:   mediaMgr,
		onState: onState,
		state:   StateNew,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		if err := l.sender.SendCandidate(string(data)); err != nil {
			log.Warn().Err(err).Str("module", "peer").Msg("candidate send failed")
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "peer").Str("state", s.String()).Msg("peer state")
		l.applyPCState(s)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "peer").
			Str("kind", track.Kind().String()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		l.mu.Lock()
		l.remoteTracks++
		l.mu.Unlock()
	})

	return l, nil
}

func (l *Link) applyPCState(s webrtc.PeerConnectionState) {
	var next State
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		next = StateConnecting
	case webrtc.PeerConnectionStateConnected:
		next = StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		next = StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		next = StateFailed
	case webrtc.PeerConnectionStateClosed:
		next = StateClosed
	default:
		return
	}
	l.setState(next)
}

func (l *Link) setState(next State) {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return
	}
	l.state = next
	cb := l.onState
	l.mu.Unlock()
	if cb != nil {
		cb(next)
	}
}

// attachLocalTracks acquires the shared stream (no re-prompt when already
// held) and adds its tracks once per Link.
func (l *Link) attachLocalTracks(ctx context.Context) error {
	l.mu.Lock()
	if l.tracksAdded {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	stream, err := l.media.Acquire(ctx)
	if err != nil {
		return err
	}
	for _, track := range stream.Tracks() {
		if _, err := l.pc.AddTrack(track); err != nil {
			return fmt.Errorf("add local track: %w", err)
		}
	}
	l.mu.Lock()
	l.tracksAdded = true
	l.mu.Unlock()
	return nil
}

// CreateOffer runs the offering side once. Any further call on the same
// Link is a no-op: duplicate peer-joined events must never produce a
// second offer.
func (l *Link) CreateOffer(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.offerSent {
		l.mu.Unlock()
		log.Debug().Str("module", "peer").Msg("offer already sent, ignoring")
		return nil
	}
	l.mu.Unlock()

	if err := l.attachLocalTracks(ctx); err != nil {
		return err
	}

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if err := l.sender.SendOffer(offer.SDP); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	l.mu.Lock()
	l.offerSent = true
	l.mu.Unlock()
	l.setState(StateConnecting)
	return nil
}

// HandleOffer runs the answering side: apply the remote offer, drain any
// early candidates, answer.
func (l *Link) HandleOffer(ctx context.Context, sdp string) error {
	if err := l.attachLocalTracks(ctx); err != nil {
		return err
	}
	if err := l.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return err
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if err := l.sender.SendAnswer(answer.SDP); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	l.setState(StateConnecting)
	return nil
}

// HandleAnswer applies the remote answer and replays queued candidates in
// arrival order.
func (l *Link) HandleAnswer(sdp string) error {
	return l.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (l *Link) setRemote(desc webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	l.mu.Lock()
	l.remoteSet = true
	queued := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, ci := range queued {
		if err := l.pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "peer").Msg("queued candidate apply failed")
		}
	}
	if len(queued) > 0 {
		log.Info().Str("module", "peer").Int("count", len(queued)).Msg("drained pending candidates")
	}
	return nil
}

// AddRemoteCandidate applies a remote candidate, or queues it when it
// arrives before the remote description. That arrival order is a legal
// race, not an error.
func (l *Link) AddRemoteCandidate(candidateJSON string) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal([]byte(candidateJSON), &ci); err != nil {
		return fmt.Errorf("parse ice candidate: %w", err)
	}

	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return ErrClosed
	}
	if !l.remoteSet {
		l.pending = append(l.pending, ci)
		n := len(l.pending)
		l.mu.Unlock()
		log.Debug().Str("module", "peer").Int("queued", n).Msg("candidate before remote description, queued")
		return nil
	}
	l.mu.Unlock()

	return l.pc.AddICECandidate(ci)
}

// State returns the current link state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// OfferSent reports whether this Link has already transmitted its offer.
func (l *Link) OfferSent() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offerSent
}

// PendingCandidates returns how many remote candidates await the remote
// description.
func (l *Link) PendingCandidates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// RemoteTracks returns the number of remote tracks received so far.
func (l *Link) RemoteTracks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remoteTracks
}

// Close tears the link down and discards queued candidates. The local
// media stream is not touched; its owner releases it on full screen exit.
func (l *Link) Close() {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return
	}
	l.state = StateClosed
	l.pending = nil
	l.mu.Unlock()

	if err := l.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "peer").Msg("close error")
	} else {
		log.Info().Str("module", "peer").Msg("link closed")
	}
}
