package session

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/odewan/examlink/internal/client/peer"
	"github.com/odewan/examlink/internal/domain"
)

// Control commands are fire-and-forget: the agent updates its own view on
// send and never waits for confirmation. A dropped frame leaves the
// student stale, not broken; in-order delivery per connection is the only
// guarantee relied on.

// ChangeSection moves the student to an absolute section index.
func (c *Controller) ChangeSection(index int) error {
	return c.sendControl(domain.EventChangeSection, domain.ControlPayload{
		Room: c.cfg.Room, Section: index,
	})
}

// ChangePassageBy moves the passage one step in the given direction.
func (c *Controller) ChangePassageBy(dir domain.PassageDirection) error {
	return c.sendControl(domain.EventChangePassage, domain.ControlPayload{
		Room: c.cfg.Room, Direction: dir,
	})
}

// ChangePassageTo jumps to an absolute passage index.
func (c *Controller) ChangePassageTo(index int) error {
	return c.sendControl(domain.EventChangePassage, domain.ControlPayload{
		Room: c.cfg.Room, Passage: &index,
	})
}

// GrantPermission unlocks the student's exam screen.
func (c *Controller) GrantPermission() error {
	return c.sendControl(domain.EventGrantPermission, domain.ControlPayload{Room: c.cfg.Room})
}

// EndExam announces the end of the exam and tears down this side's peer
// link. The student reacts to the same event on its side.
func (c *Controller) EndExam() error {
	err := c.sendControl(domain.EventEndExam, domain.ControlPayload{Room: c.cfg.Room})

	c.mu.Lock()
	link := c.link
	c.link = nil
	c.mu.Unlock()
	if link != nil {
		link.Close()
	}
	return err
}

func (c *Controller) sendControl(event string, p domain.ControlPayload) error {
	// Optimistic local update, independent of delivery.
	p.Type = event
	c.mu.Lock()
	c.control = c.control.Apply(p)
	c.mu.Unlock()

	if err := c.tr.Emit(event, p); err != nil {
		log.Warn().Err(err).Str("module", "session").Str("cmd", event).Msg("control emit failed")
		return err
	}
	log.Info().Str("module", "session").Str("cmd", event).Msg("control sent")
	return nil
}

// handleControl is the student-side receiver: last-write-wins state, no
// queue, no history. end-exam additionally closes the local link.
func (c *Controller) handleControl(data []byte) {
	var p domain.ControlPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("bad control payload")
		return
	}

	c.mu.Lock()
	c.control = c.control.Apply(p)
	var link *peer.Link
	if p.Type == domain.EventEndExam {
		link = c.link
		c.link = nil
	}
	c.mu.Unlock()

	log.Info().Str("module", "session").Str("cmd", p.Type).Msg("control applied")
	if link != nil {
		link.Close()
	}
}

// Snapshot is the read-only view the UI renders from.
type Snapshot struct {
	Room        domain.RoomID
	Role        domain.Role
	TransportUp bool
	PeerPresent bool
	PeerState   peer.State
	Control     domain.ControlState
	AudioOn     bool
	VideoOn     bool
	Err         error
}

// Snapshot returns the current session state. Cheap; safe from any
// goroutine; never blocks on network.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Room:        c.cfg.Room,
		Role:        c.cfg.Role,
		TransportUp: c.tr.Connected(),
		PeerPresent: c.peerPresent,
		PeerState:   peer.StateNew,
		Control:     c.control,
		Err:         c.err,
	}
	if c.link != nil {
		snap.PeerState = c.link.State()
	}
	if stream := c.media.Held(); stream != nil {
		snap.AudioOn = stream.AudioEnabled()
		snap.VideoOn = stream.VideoEnabled()
	}
	return snap
}

// SetAudioEnabled toggles the microphone without renegotiating.
func (c *Controller) SetAudioEnabled(on bool) {
	if stream := c.media.Held(); stream != nil {
		stream.SetAudioEnabled(on)
	}
}

// SetVideoEnabled toggles the camera without renegotiating.
func (c *Controller) SetVideoEnabled(on bool) {
	if stream := c.media.Held(); stream != nil {
		stream.SetVideoEnabled(on)
	}
}
