package models

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeClampsAndValidates(t *testing.T) {
	t.Parallel()

	d := OrchestratorDecision{
		TaskUpdates: []TaskUpdate{
			{TaskID: " t-1 ", NewStatus: "NEEDS_APPROVAL", PlanAction: "Approve", Feedback: strings.Repeat("x", MaxFeedbackLen+50)},
		},
		Messages: []DecisionMessage{
			{To: "alice", TextShort: strings.Repeat("m", MaxMessageTextLen+10)},
			{To: "", TextShort: "dropped"},
		},
		Stop: StopDirective{ShouldStop: true},
	}
	if err := d.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	u := d.TaskUpdates[0]
	if u.TaskID != "t-1" || u.NewStatus != StatusNeedsApproval || u.PlanAction != PlanActionApprove {
		t.Fatalf("unexpected normalized update: %+v", u)
	}
	if len(u.Feedback) != MaxFeedbackLen {
		t.Fatalf("feedback not clamped: %d", len(u.Feedback))
	}
	if len(d.Messages) != 1 || len(d.Messages[0].TextShort) != MaxMessageTextLen {
		t.Fatalf("messages not normalized: %+v", d.Messages)
	}
	if d.Stop.ReasonShort != "unspecified" {
		t.Fatalf("expected default stop reason, got %q", d.Stop.ReasonShort)
	}
}

func TestNormalizeFailsClosed(t *testing.T) {
	t.Parallel()

	cases := []OrchestratorDecision{
		{TaskUpdates: []TaskUpdate{{TaskID: ""}}},
		{TaskUpdates: []TaskUpdate{{TaskID: "t", NewStatus: "running"}}},
		{TaskUpdates: []TaskUpdate{{TaskID: "t", PlanAction: "merge"}}},
	}
	for i, d := range cases {
		if err := d.Normalize(); !errors.Is(err, ErrDecisionInvalid) {
			t.Fatalf("case %d: expected ErrDecisionInvalid, got %v", i, err)
		}
	}
}
