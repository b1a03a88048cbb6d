// Package session ties one exam screen together: membership, the peer
// link, and the control channel, behind a single controller created at
// screen mount and torn down at unmount. Handlers are registered exactly
// once at Start and deregistered exactly once at Stop; re-renders only read
// Snapshot.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/odewan/examlink/internal/client/media"
	"github.com/odewan/examlink/internal/client/peer"
	"github.com/odewan/examlink/internal/client/transport"
	"github.com/odewan/examlink/internal/domain"
)

// ErrLinkLost is surfaced when the signaling transport drops mid-exam. The
// link is torn down and re-established only by an explicit Retry, never
// automatically, to avoid offer storms and repeated permission prompts.
var ErrLinkLost = errors.New("session: peer link lost, retry required")

type Config struct {
	Room        domain.RoomID
	Role        domain.Role
	STUNServers []string
}

// Controller is the long-lived per-screen session object.
type Controller struct {
	cfg   Config
	tr    *transport.Transport
	media *media.Manager

	ctx context.Context

	mu          sync.Mutex
	link        *peer.Link
	peerPresent bool
	control     domain.ControlState
	err         error
	started     bool
}

func New(cfg Config, tr *transport.Transport, mediaMgr *media.Manager) *Controller {
	return &Controller{cfg: cfg, tr: tr, media: mediaMgr}
}

// Start connects the transport, registers the role-appropriate handlers
// and joins the room. Agent pre-warms media so the camera is ready before
// the student appears.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.ctx = ctx
	c.mu.Unlock()

	c.registerHandlers()

	c.tr.OnUp(func() { c.join() })
	c.tr.OnDown(func(err error) { c.onTransportDown(err) })

	if err := c.tr.Connect(ctx); err != nil {
		return err
	}

	if c.cfg.Role.Offers() {
		if _, err := c.media.Acquire(ctx); err != nil {
			c.setErr(err)
		}
	}
	return nil
}

// registerHandlers wires the fixed protocol asymmetry: the agent listens
// for answers, the student for offers. Registering the opposite handler is
// how a role would accidentally end up on the wrong side of the offer, so
// it simply never happens here.
func (c *Controller) registerHandlers() {
	c.tr.On(domain.EventPeerJoined, c.handlePeerJoined)
	c.tr.On(domain.EventPeerLeft, c.handlePeerLeft)
	c.tr.On(domain.EventICE, c.handleICE)

	if c.cfg.Role.Offers() {
		c.tr.On(domain.EventAnswer, c.handleAnswer)
	} else {
		c.tr.On(domain.EventOffer, c.handleOffer)
		for _, ev := range domain.ControlEvents {
			c.tr.On(ev, c.handleControl)
		}
	}
}

func (c *Controller) deregisterHandlers() {
	for _, ev := range []string{
		domain.EventPeerJoined, domain.EventPeerLeft, domain.EventICE,
		domain.EventOffer, domain.EventAnswer,
	} {
		c.tr.Off(ev)
	}
	for _, ev := range domain.ControlEvents {
		c.tr.Off(ev)
	}
}

func (c *Controller) join() {
	err := c.tr.Emit(domain.EventJoin, domain.JoinPayload{
		Room: c.cfg.Room,
		Role: c.cfg.Role,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "session").Msg("join emit failed")
		return
	}
	log.Info().Str("module", "session").
		Str("room", string(c.cfg.Room)).
		Str("role", string(c.cfg.Role)).Msg("joined room")
}

// onTransportDown tears down the active link so nothing operates on a
// stale connection after the transport reconnects. Rejoin happens on OnUp;
// re-offering waits for an explicit Retry.
func (c *Controller) onTransportDown(cause error) {
	log.Warn().Err(cause).Str("module", "session").Msg("transport down, tearing down peer link")
	c.mu.Lock()
	link := c.link
	c.link = nil
	c.peerPresent = false
	c.err = ErrLinkLost
	c.mu.Unlock()
	if link != nil {
		link.Close()
	}
}

func (c *Controller) handlePeerJoined(data []byte) {
	var p domain.PeerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad peer-joined payload")
		return
	}
	if p.Role != c.cfg.Role.Complement() {
		return
	}

	c.mu.Lock()
	c.peerPresent = true
	liveLink := c.link != nil && c.link.State() != peer.StateClosed
	c.mu.Unlock()

	log.Info().Str("module", "session").Str("peer_role", string(p.Role)).Msg("peer joined")

	if !c.cfg.Role.Offers() {
		return
	}
	// Duplicate peer-joined (reconnects) must not re-offer: a live link
	// short-circuits here, and the Link's own latch guards the rest.
	if liveLink {
		log.Debug().Str("module", "session").Msg("peer-joined with live link, ignoring")
		return
	}
	link, err := c.ensureLink()
	if err != nil {
		c.setErr(err)
		return
	}
	if err := link.CreateOffer(c.ctx); err != nil {
		c.setErr(err)
	}
}

func (c *Controller) handlePeerLeft(data []byte) {
	var p domain.PeerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if p.Role != c.cfg.Role.Complement() {
		return
	}
	c.mu.Lock()
	c.peerPresent = false
	c.mu.Unlock()
	log.Info().Str("module", "session").Str("peer_role", string(p.Role)).Msg("peer left")
}

func (c *Controller) handleOffer(data []byte) {
	var p domain.SDPPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad offer payload")
		return
	}
	link, err := c.ensureLink()
	if err != nil {
		c.setErr(err)
		return
	}
	if err := link.HandleOffer(c.ctx, p.SDP); err != nil {
		c.setErr(err)
	}
}

func (c *Controller) handleAnswer(data []byte) {
	var p domain.SDPPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad answer payload")
		return
	}
	c.mu.Lock()
	link := c.link
	c.mu.Unlock()
	if link == nil {
		log.Warn().Str("module", "session").Msg("answer without a link, dropped")
		return
	}
	if err := link.HandleAnswer(p.SDP); err != nil {
		c.setErr(err)
	}
}

func (c *Controller) handleICE(data []byte) {
	var p domain.ICEPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad ice payload")
		return
	}
	link, err := c.ensureLink()
	if err != nil {
		c.setErr(err)
		return
	}
	if err := link.AddRemoteCandidate(p.Candidate); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("remote candidate rejected")
	}
}

// ensureLink returns the current link, creating one when none is live.
func (c *Controller) ensureLink() (*peer.Link, error) {
	c.mu.Lock()
	if c.link != nil && c.link.State() != peer.StateClosed {
		link := c.link
		c.mu.Unlock()
		return link, nil
	}
	c.mu.Unlock()

	link, err := peer.New(
		peer.Config{STUNServers: c.cfg.STUNServers},
		c.media,
		&signalSender{c: c},
		c.onLinkState,
	)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.link = link
	c.mu.Unlock()
	return link, nil
}

func (c *Controller) onLinkState(s peer.State) {
	c.mu.Lock()
	switch {
	case s == peer.StateConnected:
		c.err = nil
	case s.Retryable():
		c.err = ErrLinkLost
	}
	c.mu.Unlock()
}

// Retry discards the current link and negotiates a fresh one, reusing the
// held media stream so the user is not prompted again. The offer latch and
// candidate queue die with the old link.
func (c *Controller) Retry() error {
	c.mu.Lock()
	old := c.link
	c.link = nil
	c.err = nil
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	link, err := c.ensureLink()
	if err != nil {
		c.setErr(err)
		return err
	}
	if c.cfg.Role.Offers() {
		if err := link.CreateOffer(c.ctx); err != nil {
			c.setErr(err)
			return err
		}
	}
	log.Info().Str("module", "session").Msg("peer link retried")
	return nil
}

// Stop is the full screen-exit teardown: handlers off, link closed,
// transport closed, media released. Safe to call more than once.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	link := c.link
	c.link = nil
	c.mu.Unlock()

	c.deregisterHandlers()
	if link != nil {
		link.Close()
	}
	c.tr.Close()
	c.media.Release()
	log.Info().Str("module", "session").Msg("session stopped")
}

func (c *Controller) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	log.Warn().Err(err).Str("module", "session").Msg("session error")
}

// signalSender routes negotiation messages through the room-scoped
// transport.
type signalSender struct {
	c *Controller
}

func (s *signalSender) SendOffer(sdp string) error {
	return s.c.tr.Emit(domain.EventOffer, domain.SDPPayload{
		Room: s.c.cfg.Room, SDP: sdp, From: s.c.cfg.Role,
	})
}

func (s *signalSender) SendAnswer(sdp string) error {
	return s.c.tr.Emit(domain.EventAnswer, domain.SDPPayload{
		Room: s.c.cfg.Room, SDP: sdp, From: s.c.cfg.Role,
	})
}

func (s *signalSender) SendCandidate(candidateJSON string) error {
	return s.c.tr.Emit(domain.EventICE, domain.ICEPayload{
		Room: s.c.cfg.Room, Candidate: candidateJSON,
	})
}
