package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/crewsched/crewsched/pkg/models"
)

// MockProvider is the deterministic offline provider: it approves every
// submitted plan in snapshot order and never stops the run on its own. Useful
// for tests and dry runs where the loop's own stop conditions should decide.
type MockProvider struct{}

func (MockProvider) Name() string { return "mock" }

func (MockProvider) Run(ctx context.Context, snapshotJSON []byte) (*models.OrchestratorDecision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var snap models.RunSnapshot
	if err := json.Unmarshal(snapshotJSON, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	decision := &models.OrchestratorDecision{Meta: models.DecisionMeta{Provider: "mock"}}
	tasks := append([]models.TaskView(nil), snap.Tasks...)
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	for _, t := range tasks {
		if t.Status == models.StatusNeedsApproval && t.PlanStatus == models.PlanSubmitted {
			decision.TaskUpdates = append(decision.TaskUpdates, models.TaskUpdate{
				TaskID:     t.ID,
				PlanAction: models.PlanActionApprove,
				Feedback:   "auto-approved by mock provider",
			})
			decision.Decisions = append(decision.Decisions, models.DecisionRecord{
				TaskID: t.ID,
				Action: "approve_plan",
				Note:   "plan submitted and no objections in snapshot",
			})
		}
	}
	return decision, nil
}
