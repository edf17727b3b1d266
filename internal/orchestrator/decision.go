package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/crewsched/crewsched/internal/otel"
	"github.com/crewsched/crewsched/pkg/models"
)

// consultProvider builds the snapshot, invokes the provider, and applies the
// validated decision. Returns a non-empty stop reason when the decision asks
// for a stop; a returned error ends the run with provider_error.
func (o *Orchestrator) consultProvider(ctx context.Context, round, idleRounds int, events []models.Event, comments []models.PersonaComment) (string, error) {
	snap, err := o.buildSnapshot(round, idleRounds, events, comments)
	if err != nil {
		return "", err
	}
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	o.providerCalls++
	otel.RecordProviderCall(ctx, o.opts.Provider.Name())
	decision, err := o.opts.Provider.Run(ctx, snapJSON)
	if err != nil {
		return "", fmt.Errorf("provider run: %w", err)
	}
	if err := decision.Normalize(); err != nil {
		return "", fmt.Errorf("provider payload: %w", err)
	}

	planActions := o.applyDecision(ctx, decision)
	o.recordDecisionSummary(round, decision, planActions)

	if o.opts.AutoApproveFallback && planActions == 0 {
		o.autoApproveFallback(ctx)
	}
	if decision.Stop.ShouldStop {
		return StopProviderStopPrefix + decision.Stop.ReasonShort, nil
	}
	return "", nil
}

// applyDecision applies task updates and messages from a validated decision.
// The provider can never force in_progress or completed (teammate-owned) and
// can only move a blocked task back to pending; plan actions are honored only on a
// submitted plan awaiting approval. Violations are logged and skipped, never
// fatal. Returns the number of plan actions applied.
func (o *Orchestrator) applyDecision(ctx context.Context, decision *models.OrchestratorDecision) int {
	planActions := 0
	for _, u := range decision.TaskUpdates {
		task, err := o.opts.Store.GetTask(u.TaskID)
		if err != nil {
			o.log.Warn("decision references unknown task", "task", u.TaskID)
			continue
		}
		if u.PlanAction != "" {
			if task.Status != models.StatusNeedsApproval || task.PlanStatus != models.PlanSubmitted {
				o.log.Warn("plan action on task without submitted plan", "task", u.TaskID, "action", u.PlanAction)
			} else if err := o.opts.Store.ReviewPlan(ctx, u.TaskID, o.opts.Lead, u.PlanAction, u.Feedback); err != nil {
				o.log.Warn("plan action failed", "task", u.TaskID, "action", u.PlanAction, "err", err)
			} else {
				planActions++
				otel.RecordTaskOp(ctx, "plan_"+u.PlanAction, o.opts.Lead, task.Status)
			}
			// Re-read so a status change in the same update sees the new state.
			if task, err = o.opts.Store.GetTask(u.TaskID); err != nil {
				continue
			}
		}
		if u.NewStatus == "" || u.NewStatus == task.Status {
			continue
		}
		switch {
		case u.NewStatus == models.StatusNeedsApproval && task.Status == models.StatusPending:
			if err := o.opts.Store.EscalateTask(ctx, u.TaskID, o.opts.Lead, u.Feedback); err != nil {
				o.log.Warn("decision escalation failed", "task", u.TaskID, "err", err)
			}
		case u.NewStatus == models.StatusPending && task.Status == models.StatusNeedsApproval:
			if err := o.opts.Store.ReleaseApproval(ctx, u.TaskID, o.opts.Lead); err != nil {
				o.log.Warn("decision release failed", "task", u.TaskID, "err", err)
			}
		case u.NewStatus == models.StatusPending && task.Status == models.StatusBlocked:
			if err := o.opts.Store.UnblockTask(ctx, u.TaskID, o.opts.Lead); err != nil {
				o.log.Warn("decision unblock failed", "task", u.TaskID, "err", err)
			}
		default:
			o.log.Warn("decision status change refused", "task", u.TaskID, "from", task.Status, "to", u.NewStatus)
		}
	}
	for _, m := range decision.Messages {
		if _, err := o.opts.Store.SendMessage(ctx, o.opts.Lead, m.To, m.TextShort, nil); err != nil {
			o.log.Warn("decision message failed", "to", m.To, "err", err)
		}
	}
	return planActions
}

// autoApproveFallback approves the oldest submitted plan when the provider
// applied no plan actions, and releases non-plan approvals left stuck.
func (o *Orchestrator) autoApproveFallback(ctx context.Context) {
	tasks, err := o.opts.Store.ListTasks()
	if err != nil {
		return
	}
	var submitted []models.Task
	for _, t := range tasks {
		if t.Status != models.StatusNeedsApproval {
			continue
		}
		if t.PlanStatus == models.PlanSubmitted {
			submitted = append(submitted, t)
			continue
		}
		if err := o.opts.Store.ReleaseApproval(ctx, t.ID, o.opts.Lead); err != nil {
			o.log.Warn("auto-release failed", "task", t.ID, "err", err)
		} else {
			o.log.Info("auto-released stuck approval", "task", t.ID)
		}
	}
	if len(submitted) == 0 {
		return
	}
	sort.Slice(submitted, func(i, j int) bool {
		if !submitted[i].UpdatedAt.Equal(submitted[j].UpdatedAt) {
			return submitted[i].UpdatedAt.Before(submitted[j].UpdatedAt)
		}
		return submitted[i].ID < submitted[j].ID
	})
	oldest := submitted[0]
	if err := o.opts.Store.ReviewPlan(ctx, oldest.ID, o.opts.Lead, models.PlanActionApprove, "auto-approved: provider applied no plan action"); err != nil {
		o.log.Warn("auto-approve failed", "task", oldest.ID, "err", err)
		return
	}
	otel.RecordTaskOp(ctx, "plan_approve", o.opts.Lead, models.StatusNeedsApproval)
	o.log.Info("auto-approved oldest submitted plan", "task", oldest.ID)
}

func (o *Orchestrator) recordDecisionSummary(round int, decision *models.OrchestratorDecision, planActions int) {
	summary := fmt.Sprintf("round %d: %d task updates, %d plan actions, %d messages",
		round, len(decision.TaskUpdates), planActions, len(decision.Messages))
	if decision.Stop.ShouldStop {
		summary += ", stop requested: " + decision.Stop.ReasonShort
	}
	o.recentDecisions = append(o.recentDecisions, summary)
	if over := len(o.recentDecisions) - o.opts.SnapshotDecisionLimit; over > 0 {
		o.recentDecisions = o.recentDecisions[over:]
	}
}
