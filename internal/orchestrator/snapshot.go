package orchestrator

import (
	"github.com/crewsched/crewsched/pkg/models"
)

// buildSnapshot assembles the state digest for the decision provider.
func (o *Orchestrator) buildSnapshot(round, idleRounds int, events []models.Event, comments []models.PersonaComment) (*models.RunSnapshot, error) {
	summary, err := o.opts.Store.StatusSummary()
	if err != nil {
		return nil, err
	}
	tasks, err := o.opts.Store.ListTasks()
	if err != nil {
		return nil, err
	}
	views := make([]models.TaskView, 0, len(tasks))
	for _, t := range tasks {
		v := models.TaskView{
			ID:            t.ID,
			Title:         t.Title,
			Status:        t.Status,
			PlanStatus:    t.PlanStatus,
			BlockReason:   t.BlockReason,
			RevisionCount: t.RevisionCount,
		}
		if t.Owner != nil {
			v.Owner = *t.Owner
		}
		if t.Planner != nil {
			v.Planner = *t.Planner
		}
		if phase, _, ok := o.router.CurrentPhase(t); ok {
			v.Phase = phase
		}
		views = append(views, v)
	}
	messages, err := o.opts.Store.RecentMessages(o.opts.SnapshotMessageLimit)
	if err != nil {
		return nil, err
	}
	recent := o.recentDecisions
	if len(recent) > o.opts.SnapshotDecisionLimit {
		recent = recent[len(recent)-o.opts.SnapshotDecisionLimit:]
	}
	return &models.RunSnapshot{
		Lead:            o.opts.Lead,
		Subjects:        o.subjects,
		Personas:        o.router.EnabledPersonas(),
		Round:           round,
		IdleRounds:      idleRounds,
		Summary:         summary,
		Events:          events,
		Comments:        comments,
		Tasks:           views,
		Messages:        messages,
		RecentDecisions: recent,
	}, nil
}
