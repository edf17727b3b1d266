package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDecisionInvalid marks a provider payload that fails validation. Callers
// treat it as fail-closed: the whole decision is discarded.
var ErrDecisionInvalid = errors.New("invalid orchestrator decision")

// OrchestratorDecision is the wire contract returned by a decision provider.
// All fields are normalized and clamped on ingestion via Normalize.
type OrchestratorDecision struct {
	Decisions   []DecisionRecord  `json:"decisions,omitempty"`
	TaskUpdates []TaskUpdate      `json:"task_updates,omitempty"`
	Messages    []DecisionMessage `json:"messages,omitempty"`
	Stop        StopDirective     `json:"stop"`
	Meta        DecisionMeta      `json:"meta"`
}

// DecisionRecord is an advisory routing record; it carries no authority of its
// own and is kept for the snapshot history shown to the provider.
type DecisionRecord struct {
	TaskID string `json:"task_id,omitempty"`
	Action string `json:"action,omitempty"`
	Note   string `json:"note,omitempty"`
}

// TaskUpdate instructs a status change and/or plan action for one task.
type TaskUpdate struct {
	TaskID     string `json:"task_id"`
	NewStatus  string `json:"new_status,omitempty"`
	Owner      string `json:"owner,omitempty"`
	PlanAction string `json:"plan_action,omitempty"`
	Feedback   string `json:"feedback,omitempty"`
}

// DecisionMessage is appended to the run mailbox.
type DecisionMessage struct {
	To        string `json:"to"`
	TextShort string `json:"text_short"`
}

// StopDirective asks the orchestrator to end the run.
type StopDirective struct {
	ShouldStop  bool   `json:"should_stop"`
	ReasonShort string `json:"reason_short,omitempty"`
}

// DecisionMeta carries provider bookkeeping for the run result.
type DecisionMeta struct {
	Provider    string      `json:"provider,omitempty"`
	Model       string      `json:"model,omitempty"`
	TokenBudget TokenBudget `json:"token_budget"`
	ElapsedMs   int64       `json:"elapsed_ms,omitempty"`
}

// TokenBudget is the provider's reported token usage.
type TokenBudget struct {
	Input  int `json:"input,omitempty"`
	Output int `json:"output,omitempty"`
}

// Normalize clamps text fields and validates enums in place. It returns an
// error wrapping ErrDecisionInvalid when the payload is malformed; in that case
// the decision must not be applied.
func (d *OrchestratorDecision) Normalize() error {
	for i := range d.TaskUpdates {
		u := &d.TaskUpdates[i]
		u.TaskID = strings.TrimSpace(u.TaskID)
		if u.TaskID == "" {
			return fmt.Errorf("%w: task update %d missing task_id", ErrDecisionInvalid, i)
		}
		u.NewStatus = strings.TrimSpace(strings.ToLower(u.NewStatus))
		if u.NewStatus != "" && !ValidStatus(u.NewStatus) {
			return fmt.Errorf("%w: task update %d has unknown status %q", ErrDecisionInvalid, i, u.NewStatus)
		}
		u.PlanAction = strings.TrimSpace(strings.ToLower(u.PlanAction))
		switch u.PlanAction {
		case "", PlanActionApprove, PlanActionReject, PlanActionRevise:
		default:
			return fmt.Errorf("%w: task update %d has unknown plan_action %q", ErrDecisionInvalid, i, u.PlanAction)
		}
		u.Owner = strings.TrimSpace(u.Owner)
		u.Feedback = clampText(u.Feedback, MaxFeedbackLen)
	}
	kept := d.Messages[:0]
	for _, m := range d.Messages {
		m.To = strings.TrimSpace(m.To)
		m.TextShort = clampText(m.TextShort, MaxMessageTextLen)
		if m.To == "" || m.TextShort == "" {
			continue
		}
		kept = append(kept, m)
	}
	d.Messages = kept
	for i := range d.Decisions {
		d.Decisions[i].Note = clampText(d.Decisions[i].Note, MaxDecisionNoteLen)
	}
	d.Stop.ReasonShort = clampText(d.Stop.ReasonShort, MaxStopReasonLen)
	if d.Stop.ShouldStop && d.Stop.ReasonShort == "" {
		d.Stop.ReasonShort = "unspecified"
	}
	return nil
}

func clampText(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
