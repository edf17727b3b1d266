package store

import (
	"context"
	"fmt"

	"github.com/crewsched/crewsched/pkg/models"
)

// ClaimPlanTask atomically claims the first plan-ready task for subjectID,
// scanning in sorted-by-id order. A task is plan-ready when it is pending,
// requires a plan whose status is pending/rejected/revision_requested, has no
// planner, and all its dependencies are completed. Returns nil when nothing is
// claimable; that is not an error.
func (s *Store) ClaimPlanTask(ctx context.Context, subjectID string) (*models.Task, error) {
	var claimed *models.Task
	err := s.update(ctx, func(doc *document) (bool, error) {
		for _, id := range sortedTaskIDs(doc) {
			t := doc.Tasks[id]
			if t.Status != models.StatusPending || !t.RequiresPlan || t.Planner != nil {
				continue
			}
			switch t.PlanStatus {
			case models.PlanPending, models.PlanRejected, models.PlanRevisionRequested:
			default:
				continue
			}
			if !dependenciesCompleted(doc, t) {
				continue
			}
			planner := subjectID
			t.Planner = &planner
			t.PlanStatus = models.PlanDrafting
			t.UpdatedAt = s.now().UTC()
			doc.Tasks[id] = t
			c := t.Clone()
			claimed = &c
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// SubmitPlan records a drafted plan and moves the task to needs_approval.
func (s *Store) SubmitPlan(ctx context.Context, taskID, subjectID, text string) error {
	return s.update(ctx, func(doc *document) (bool, error) {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if t.Planner == nil || *t.Planner != subjectID {
			return false, fmt.Errorf("%w: task %s planner is not %s", ErrOwnerMismatch, taskID, subjectID)
		}
		if t.PlanStatus != models.PlanDrafting {
			return false, fmt.Errorf("%w: task %s plan status %s, want drafting", ErrInvalidTransition, taskID, t.PlanStatus)
		}
		t.PlanText = text
		t.Status = models.StatusNeedsApproval
		t.PlanStatus = models.PlanSubmitted
		t.UpdatedAt = s.now().UTC()
		doc.Tasks[taskID] = t
		return true, nil
	})
}

// ReviewPlan applies an approval decision to a submitted plan. Approve clears
// the owner and returns the task to pending with an approved plan; reject and
// revise clear the planner so the plan can be redrafted.
func (s *Store) ReviewPlan(ctx context.Context, taskID, reviewerID, action, feedback string) error {
	return s.update(ctx, func(doc *document) (bool, error) {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if t.Status != models.StatusNeedsApproval || t.PlanStatus != models.PlanSubmitted {
			return false, fmt.Errorf("%w: task %s is %s/%s, want needs_approval/submitted", ErrInvalidTransition, taskID, t.Status, t.PlanStatus)
		}
		switch action {
		case models.PlanActionApprove:
			t.PlanStatus = models.PlanApproved
			t.Status = models.StatusPending
			t.Owner = nil
		case models.PlanActionReject:
			t.PlanStatus = models.PlanRejected
			t.Planner = nil
			t.Status = models.StatusPending
		case models.PlanActionRevise:
			t.PlanStatus = models.PlanRevisionRequested
			t.Planner = nil
			t.Status = models.StatusPending
		default:
			return false, fmt.Errorf("%w: unknown plan action %q", ErrInvalidTransition, action)
		}
		if feedback != "" {
			t.PlanFeedback = feedback
		}
		appendProgress(&t, s.now().UTC(), reviewerID, "plan "+action, models.DefaultTaskProgressLogLimit)
		t.UpdatedAt = s.now().UTC()
		doc.Tasks[taskID] = t
		return true, nil
	})
}

// ClaimExecutionTask atomically claims the first execution-ready task for
// subjectID in sorted-by-id order. A task is execution-ready when it is
// pending, unowned, its dependencies are completed, its plan (if required) is
// approved, and no other in_progress task shares a target path. allowedIDs,
// when non-nil, restricts the scan to that id set. Returns nil when nothing is
// claimable.
func (s *Store) ClaimExecutionTask(ctx context.Context, subjectID string, allowedIDs []string) (*models.Task, error) {
	var allowed map[string]bool
	if allowedIDs != nil {
		allowed = make(map[string]bool, len(allowedIDs))
		for _, id := range allowedIDs {
			allowed[id] = true
		}
	}
	var claimed *models.Task
	err := s.update(ctx, func(doc *document) (bool, error) {
		for _, id := range sortedTaskIDs(doc) {
			if allowed != nil && !allowed[id] {
				continue
			}
			t := doc.Tasks[id]
			if !executionReady(doc, t) {
				continue
			}
			if collidesWithRunning(doc, t) {
				continue
			}
			owner := subjectID
			t.Owner = &owner
			t.Status = models.StatusInProgress
			t.BlockReason = ""
			t.UpdatedAt = s.now().UTC()
			doc.Tasks[id] = t
			c := t.Clone()
			claimed = &c
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// HandoffTaskPhase releases an in_progress task back to pending at the given
// phase index, so the next phase's executor can claim it.
func (s *Store) HandoffTaskPhase(ctx context.Context, taskID, subjectID string, nextPhaseIndex int) error {
	return s.sendToPhase(ctx, taskID, subjectID, nextPhaseIndex, false)
}

// SendBackTaskToPhase returns a task to an earlier phase, optionally counting
// it as a revision cycle. When max_revision_cycles is set (> 0) and exhausted,
// the send-back is refused with ErrInvalidTransition.
func (s *Store) SendBackTaskToPhase(ctx context.Context, taskID, subjectID string, phaseIndex int, incrementRevision bool) error {
	return s.sendToPhase(ctx, taskID, subjectID, phaseIndex, incrementRevision)
}

func (s *Store) sendToPhase(ctx context.Context, taskID, subjectID string, phaseIndex int, incrementRevision bool) error {
	return s.update(ctx, func(doc *document) (bool, error) {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if err := requireOwner(t, subjectID); err != nil {
			return false, err
		}
		if incrementRevision {
			if t.MaxRevisionCycles > 0 && t.RevisionCount >= t.MaxRevisionCycles {
				return false, fmt.Errorf("%w: task %s exhausted %d revision cycles", ErrInvalidTransition, taskID, t.MaxRevisionCycles)
			}
			t.RevisionCount++
		}
		idx := phaseIndex
		t.CurrentPhaseIndex = &idx
		t.Status = models.StatusPending
		t.Owner = nil
		t.UpdatedAt = s.now().UTC()
		doc.Tasks[taskID] = t
		return true, nil
	})
}

// EscalateTask moves a pending, in_progress, or blocked task to
// needs_approval, clearing any owner and block reason. Escalating a task
// already in needs_approval is a no-op.
func (s *Store) EscalateTask(ctx context.Context, taskID, source, reason string) error {
	return s.update(ctx, func(doc *document) (bool, error) {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		switch t.Status {
		case models.StatusNeedsApproval:
			return false, nil
		case models.StatusPending, models.StatusInProgress, models.StatusBlocked:
		default:
			return false, fmt.Errorf("%w: cannot escalate task %s from %s", ErrInvalidTransition, taskID, t.Status)
		}
		t.Status = models.StatusNeedsApproval
		t.Owner = nil
		t.BlockReason = ""
		appendProgress(&t, s.now().UTC(), source, "escalated: "+reason, models.DefaultTaskProgressLogLimit)
		t.UpdatedAt = s.now().UTC()
		doc.Tasks[taskID] = t
		return true, nil
	})
}

// ReleaseApproval returns a needs_approval task to pending. Refused while a
// submitted plan is awaiting review; that path goes through ReviewPlan.
func (s *Store) ReleaseApproval(ctx context.Context, taskID, source string) error {
	return s.update(ctx, func(doc *document) (bool, error) {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if t.Status != models.StatusNeedsApproval {
			return false, fmt.Errorf("%w: task %s is %s, want needs_approval", ErrInvalidTransition, taskID, t.Status)
		}
		if t.PlanStatus == models.PlanSubmitted {
			return false, fmt.Errorf("%w: task %s has a submitted plan awaiting review", ErrInvalidTransition, taskID)
		}
		t.Status = models.StatusPending
		appendProgress(&t, s.now().UTC(), source, "approval released", models.DefaultTaskProgressLogLimit)
		t.UpdatedAt = s.now().UTC()
		doc.Tasks[taskID] = t
		return true, nil
	})
}

// UnblockTask releases a blocked task back to pending, clearing the block
// reason.
func (s *Store) UnblockTask(ctx context.Context, taskID, source string) error {
	return s.update(ctx, func(doc *document) (bool, error) {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if t.Status != models.StatusBlocked {
			return false, fmt.Errorf("%w: task %s is %s, want blocked", ErrInvalidTransition, taskID, t.Status)
		}
		t.Status = models.StatusPending
		t.Owner = nil
		t.BlockReason = ""
		appendProgress(&t, s.now().UTC(), source, "unblocked", models.DefaultTaskProgressLogLimit)
		t.UpdatedAt = s.now().UTC()
		doc.Tasks[taskID] = t
		return true, nil
	})
}

// AbandonPlanClaim undoes a drafting claim after the subject failed to produce
// a plan, returning the task to the plan-ready pool.
func (s *Store) AbandonPlanClaim(ctx context.Context, taskID, subjectID string) error {
	return s.update(ctx, func(doc *document) (bool, error) {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if t.Planner == nil || *t.Planner != subjectID {
			return false, fmt.Errorf("%w: task %s planner is not %s", ErrOwnerMismatch, taskID, subjectID)
		}
		if t.PlanStatus != models.PlanDrafting {
			return false, fmt.Errorf("%w: task %s plan status %s, want drafting", ErrInvalidTransition, taskID, t.PlanStatus)
		}
		t.Planner = nil
		t.PlanStatus = models.PlanPending
		t.UpdatedAt = s.now().UTC()
		doc.Tasks[taskID] = t
		return true, nil
	})
}

// MarkTaskBlocked moves an owned in_progress task to blocked with a reason.
func (s *Store) MarkTaskBlocked(ctx context.Context, taskID, subjectID, reason string) error {
	return s.update(ctx, func(doc *document) (bool, error) {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if err := requireOwner(t, subjectID); err != nil {
			return false, err
		}
		t.Status = models.StatusBlocked
		t.BlockReason = reason
		t.UpdatedAt = s.now().UTC()
		doc.Tasks[taskID] = t
		return true, nil
	})
}

// CompleteTask moves an owned in_progress task to completed.
func (s *Store) CompleteTask(ctx context.Context, taskID, subjectID, summary string) error {
	return s.update(ctx, func(doc *document) (bool, error) {
		t, ok := doc.Tasks[taskID]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if err := requireOwner(t, subjectID); err != nil {
			return false, err
		}
		now := s.now().UTC()
		t.Status = models.StatusCompleted
		t.ResultSummary = summary
		t.CompletedAt = &now
		t.UpdatedAt = now
		doc.Tasks[taskID] = t
		return true, nil
	})
}

// Collision is a (waiting, running) task pair sharing a target path.
type Collision struct {
	WaitingID string `json:"waiting_id"`
	RunningID string `json:"running_id"`
	Path      string `json:"path"`
}

// DetectCollisions reports every claim-ready pending task that shares a target
// path with a currently running task. Purely observational; gating happens
// inside ClaimExecutionTask.
func (s *Store) DetectCollisions() ([]Collision, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []Collision
	for _, id := range sortedTaskIDs(doc) {
		t := doc.Tasks[id]
		if !executionReady(doc, t) {
			continue
		}
		for _, other := range sortedTaskIDs(doc) {
			o := doc.Tasks[other]
			if o.Status != models.StatusInProgress || other == id {
				continue
			}
			if p := sharedPath(t.TargetPaths, o.TargetPaths); p != "" {
				out = append(out, Collision{WaitingID: id, RunningID: other, Path: p})
			}
		}
	}
	return out, nil
}

func requireOwner(t models.Task, subjectID string) error {
	if t.Owner == nil || *t.Owner != subjectID {
		return fmt.Errorf("%w: task %s is not owned by %s", ErrOwnerMismatch, t.ID, subjectID)
	}
	if t.Status != models.StatusInProgress {
		return fmt.Errorf("%w: task %s is %s, want in_progress", ErrInvalidTransition, t.ID, t.Status)
	}
	return nil
}

func executionReady(doc *document, t models.Task) bool {
	if t.Status != models.StatusPending || t.Owner != nil {
		return false
	}
	if t.RequiresPlan && t.PlanStatus != models.PlanApproved {
		return false
	}
	return dependenciesCompleted(doc, t)
}

func collidesWithRunning(doc *document, t models.Task) bool {
	for id, other := range doc.Tasks {
		if id == t.ID || other.Status != models.StatusInProgress {
			continue
		}
		if sharedPath(t.TargetPaths, other.TargetPaths) != "" {
			return true
		}
	}
	return false
}

func sharedPath(a, b []string) string {
	if len(a) == 0 || len(b) == 0 {
		return ""
	}
	set := make(map[string]bool, len(a))
	for _, p := range a {
		set[p] = true
	}
	for _, p := range b {
		if set[p] {
			return p
		}
	}
	return ""
}
