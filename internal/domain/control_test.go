package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestControlStateApply(t *testing.T) {
	intp := func(n int) *int { return &n }

	testCases := []struct {
		name     string
		commands []ControlPayload
		want     ControlState
	}{
		{
			name: "change section resets passage",
			commands: []ControlPayload{
				{Type: EventChangePassage, Direction: PassageNext},
				{Type: EventChangeSection, Section: 3},
			},
			want: ControlState{Section: 3, Passage: 0},
		},
		{
			name: "relative passage moves",
			commands: []ControlPayload{
				{Type: EventChangePassage, Direction: PassageNext},
				{Type: EventChangePassage, Direction: PassageNext},
				{Type: EventChangePassage, Direction: PassagePrev},
			},
			want: ControlState{Passage: 1},
		},
		{
			name: "passage never goes negative",
			commands: []ControlPayload{
				{Type: EventChangePassage, Direction: PassagePrev},
			},
			want: ControlState{Passage: 0},
		},
		{
			name: "absolute passage wins over direction",
			commands: []ControlPayload{
				{Type: EventChangePassage, Direction: PassageNext, Passage: intp(5)},
			},
			want: ControlState{Passage: 5},
		},
		{
			name: "last write wins",
			commands: []ControlPayload{
				{Type: EventChangeSection, Section: 1},
				{Type: EventChangeSection, Section: 4},
			},
			want: ControlState{Section: 4},
		},
		{
			name: "grant and end",
			commands: []ControlPayload{
				{Type: EventGrantPermission},
				{Type: EventEndExam},
			},
			want: ControlState{PermissionGranted: true, Ended: true},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var s ControlState
			for _, cmd := range tc.commands {
				s = s.Apply(cmd)
			}
			assert.Equal(t, tc.want, s)
		})
	}
}

// A command lost in transit leaves the receiver stale but consistent: the
// next command still lands on a sane state.
func TestControlStateDroppedCommand(t *testing.T) {
	var s ControlState
	s = s.Apply(ControlPayload{Type: EventChangeSection, Section: 1})
	// section 2 command dropped in transit
	s = s.Apply(ControlPayload{Type: EventChangeSection, Section: 3})

	assert.Equal(t, 3, s.Section)
	assert.False(t, s.Ended)
}

func TestRoleComplement(t *testing.T) {
	assert.Equal(t, RoleStudent, RoleAgent.Complement())
	assert.Equal(t, RoleAgent, RoleStudent.Complement())
	assert.True(t, RoleAgent.Offers())
	assert.False(t, RoleStudent.Offers())
	assert.False(t, Role("invigilator").Valid())
}
