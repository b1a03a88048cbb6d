package domain

// Event names carried in the "type" field of every signaling frame. The
// relay forwards offer/answer/ice and the control events verbatim to the
// complementary role in the same room.
const (
	EventJoin       = "join"
	EventJoined     = "joined"
	EventPeerJoined = "peer-joined"
	EventPeerLeft   = "peer-left"
	EventOffer      = "offer"
	EventAnswer     = "answer"
	EventICE        = "ice"
	EventError      = "error"

	EventChangeSection   = "change-section"
	EventChangePassage   = "change-passage"
	EventGrantPermission = "grant-permission"
	EventEndExam         = "end-exam"
)

// ControlEvents lists the agent→student navigation commands. They share the
// signaling room but never touch the peer negotiation state.
var ControlEvents = []string{
	EventChangeSection,
	EventChangePassage,
	EventGrantPermission,
	EventEndExam,
}

// IsControlEvent reports whether the event name is a control command.
func IsControlEvent(event string) bool {
	for _, e := range ControlEvents {
		if e == event {
			return true
		}
	}
	return false
}

// JoinPayload announces presence in a room with a role.
type JoinPayload struct {
	Type string `json:"type"`
	Room RoomID `json:"room"`
	Role Role   `json:"role"`
}

// PeerPayload is relayed to the complementary role on join and on leave.
type PeerPayload struct {
	Type string `json:"type"`
	Role Role   `json:"role"`
}

// SDPPayload carries an offer or answer verbatim.
type SDPPayload struct {
	Type string `json:"type"`
	Room RoomID `json:"room"`
	SDP  string `json:"sdp"`
	From Role   `json:"from,omitempty"`
}

// ICEPayload carries one trickled ICE candidate, JSON-encoded
// webrtc.ICECandidateInit. Candidates may arrive in any order relative to
// the answer; receivers must queue early ones, not drop them.
type ICEPayload struct {
	Type      string `json:"type"`
	Room      RoomID `json:"room"`
	Candidate string `json:"candidate"`
}

// ErrorPayload is sent by the relay on protocol violations.
type ErrorPayload struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
