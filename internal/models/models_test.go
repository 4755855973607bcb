package models

import "testing"

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to AssignmentStatus
		want     bool
	}{
		{AssignmentAccepted, AssignmentLoading, true},
		{AssignmentAccepted, AssignmentInTransit, true}, // skipping ahead is fine
		{AssignmentInTransit, AssignmentLoading, false},
		{AssignmentDelivered, AssignmentAccepted, false},
		{AssignmentDelivered, AssignmentCompleted, true},
		{AssignmentInTransit, AssignmentInTransit, false},
		{AssignmentInTransit, AssignmentCancelled, true},
		{AssignmentDelivered, AssignmentCancelled, false},
		{AssignmentCancelled, AssignmentAccepted, false},
		{AssignmentCompleted, AssignmentCancelled, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.want {
			t.Errorf("%s -> %s = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
