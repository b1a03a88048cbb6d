// Package domain contains the wire and entity types shared by the relay
// server and the proctoring clients. No transport or lifecycle logic here.
package domain

import "errors"

type (
	// RoomID scopes all signaling and control events for one exam session.
	// It is equal to the exam-assignment identifier.
	RoomID string

	// Role identifies which side of the exam a client is on. The agent is
	// always the offering side of the peer link; the student only answers.
	Role string
)

const (
	RoleAgent   Role = "agent"
	RoleStudent Role = "student"
)

var ErrUnknownRole = errors.New("unknown role")

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleAgent || r == RoleStudent
}

// Complement returns the opposite role in a room.
func (r Role) Complement() Role {
	if r == RoleAgent {
		return RoleStudent
	}
	return RoleAgent
}

// Offers reports whether this role initiates the SDP offer. Fixed protocol
// asymmetry, not negotiated.
func (r Role) Offers() bool {
	return r == RoleAgent
}
