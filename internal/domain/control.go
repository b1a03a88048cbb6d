package domain

// PassageDirection is a relative passage move. An absolute index, when
// present, wins over the direction on the receiving side.
type PassageDirection string

const (
	PassagePrev PassageDirection = "prev"
	PassageNext PassageDirection = "next"
)

// ControlPayload is the wire shape of all four control commands. Commands
// are fire-and-forget: at-most-once, no ack, last-write-wins on the
// receiver.
type ControlPayload struct {
	Type      string           `json:"type"`
	Room      RoomID           `json:"room"`
	Section   int              `json:"section,omitempty"`
	Direction PassageDirection `json:"direction,omitempty"`
	// Passage is an absolute passage index; nil means "use Direction".
	Passage *int `json:"passage,omitempty"`
}

// ControlState is the receiver-side view the commands converge on. A
// dropped command leaves it stale, never inconsistent.
type ControlState struct {
	Section           int
	Passage           int
	PermissionGranted bool
	Ended             bool
}

// Apply folds one command into the state, last write wins.
func (s ControlState) Apply(p ControlPayload) ControlState {
	switch p.Type {
	case EventChangeSection:
		s.Section = p.Section
		s.Passage = 0
	case EventChangePassage:
		switch {
		case p.Passage != nil:
			s.Passage = *p.Passage
		case p.Direction == PassagePrev && s.Passage > 0:
			s.Passage--
		case p.Direction == PassageNext:
			s.Passage++
		}
	case EventGrantPermission:
		s.PermissionGranted = true
	case EventEndExam:
		s.Ended = true
	}
	return s
}
