// Package orchestrator drives the round loop: it claims plan and execution
// work for each subject, feeds the resulting events through the persona
// pipeline, applies persona actions, and consults the decision provider until
// a stop condition fires.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crewsched/crewsched/internal/agent/runtime"
	"github.com/crewsched/crewsched/internal/otel"
	"github.com/crewsched/crewsched/internal/persona"
	"github.com/crewsched/crewsched/internal/provider"
	"github.com/crewsched/crewsched/internal/store"
	"github.com/crewsched/crewsched/pkg/models"
)

// Options configures a run. Store, Adapter, and Provider are required; at
// least one execution subject (executable persona or teammate id) must
// resolve.
type Options struct {
	Store     *store.Store
	Lead      string
	Teammates []string

	Personas        []models.PersonaDefinition
	PersonaDefaults models.PersonaDefaults

	Adapter  runtime.Adapter
	Adapters map[string]runtime.Adapter // per-subject override
	Provider provider.Provider

	MaxRounds               int
	MaxIdleRounds           int
	MaxIdleSeconds          int
	NoProgressEventInterval int
	TaskProgressLogLimit    int
	MaxCommentsPerEvent     int
	SnapshotMessageLimit    int
	SnapshotDecisionLimit   int

	HumanApproval       bool
	AutoApproveFallback bool

	ReviewerStop *ReviewerStopClassifier
	Logger       *slog.Logger
}

// PersonaMetrics summarizes persona activity for the run result.
type PersonaMetrics struct {
	SeverityCounts            map[string]int `json:"severity_counts"`
	PersonaBlockerTriggered   bool           `json:"persona_blocker_triggered"`
	WarnRecheckQueueRemaining int            `json:"warn_recheck_queue_remaining"`
}

// RunResult is the structured outcome of a run. StopReason is always set.
type RunResult struct {
	RunID          string               `json:"run_id"`
	StopReason     string               `json:"stop_reason"`
	Rounds         int                  `json:"rounds"`
	ElapsedSeconds float64              `json:"elapsed_seconds"`
	Summary        models.StatusSummary `json:"summary"`
	TasksTotal     int                  `json:"tasks_total"`
	ProviderCalls  int                  `json:"provider_calls"`
	Provider       string               `json:"provider"`
	HumanApproval  bool                 `json:"human_approval"`
	PersonaMetrics PersonaMetrics       `json:"persona_metrics"`
}

// Orchestrator owns one run's loop state. Not safe for concurrent use; the
// loop is single-threaded and subjects are processed sequentially.
type Orchestrator struct {
	opts        Options
	router      *persona.Router
	subjects    []string
	personaMode bool
	runID       string
	log         *slog.Logger
	classifier  *ReviewerStopClassifier

	warnRecheck     []models.Event
	prevCollisions  map[string]bool
	recentDecisions []string
	severityCounts  map[string]int
	blockerFired    bool
	providerCalls   int
}

// New validates options and resolves execution subjects. Persona mode is
// chosen when any persona carries an enabled execution binding; otherwise the
// configured teammate ids are the subjects.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("orchestrator requires a store")
	}
	if opts.Adapter == nil && len(opts.Adapters) == 0 {
		return nil, errors.New("orchestrator requires an adapter")
	}
	if opts.Provider == nil {
		return nil, errors.New("orchestrator requires a decision provider")
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = models.DefaultMaxRounds
	}
	if opts.MaxIdleRounds <= 0 {
		opts.MaxIdleRounds = models.DefaultMaxIdleRounds
	}
	if opts.NoProgressEventInterval <= 0 {
		opts.NoProgressEventInterval = models.DefaultNoProgressEventInterval
	}
	if opts.TaskProgressLogLimit <= 0 {
		opts.TaskProgressLogLimit = models.DefaultTaskProgressLogLimit
	}
	if opts.SnapshotMessageLimit <= 0 {
		opts.SnapshotMessageLimit = models.DefaultSnapshotMessageLimit
	}
	if opts.SnapshotDecisionLimit <= 0 {
		opts.SnapshotDecisionLimit = models.DefaultSnapshotDecisionLimit
	}
	if opts.Lead == "" {
		opts.Lead = "lead"
	}
	router, err := persona.NewRouter(opts.Personas, opts.PersonaDefaults)
	if err != nil {
		return nil, err
	}

	var subjects []string
	personaMode := false
	for _, p := range opts.Personas {
		if p.Executable() {
			subjects = append(subjects, p.ID)
			personaMode = true
		}
	}
	if !personaMode {
		subjects = append(subjects, opts.Teammates...)
	}
	sort.Strings(subjects)
	if len(subjects) == 0 {
		return nil, errors.New("no execution subjects: need an executable persona or at least one teammate")
	}

	classifier := opts.ReviewerStop
	if classifier == nil {
		classifier = NewReviewerStopClassifier()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	runID := uuid.NewString()
	return &Orchestrator{
		opts:           opts,
		router:         router,
		subjects:       subjects,
		personaMode:    personaMode,
		runID:          runID,
		log:            log.With("run_id", runID),
		classifier:     classifier,
		prevCollisions: map[string]bool{},
		severityCounts: map[string]int{},
	}, nil
}

// Subjects returns the resolved execution subject ids.
func (o *Orchestrator) Subjects() []string { return append([]string(nil), o.subjects...) }

// PersonaMode reports whether execution subjects are personas.
func (o *Orchestrator) PersonaMode() bool { return o.personaMode }

// Run drives rounds until a stop condition fires and returns the result.
// Tasks abandoned in_progress by an interrupted run are requeued first.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	started := time.Now()
	if requeued, err := o.opts.Store.RequeueInProgressTasks(ctx); err != nil {
		return nil, fmt.Errorf("requeue interrupted tasks: %w", err)
	} else if len(requeued) > 0 {
		o.log.Info("requeued interrupted tasks", "tasks", requeued)
	}

	idleRounds := 0
	lastProgress := time.Now()
	round := 0
	stopReason := StopMaxRounds

loop:
	for round = 1; round <= o.opts.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		otel.RecordRound(ctx)
		events := o.drainWarnRecheck()
		if round == 1 {
			events = append(events, models.Event{Type: models.EventKickoff, Detail: "run started"})
		}
		prevMarker, _, err := o.opts.Store.ProgressMarker()
		if err != nil {
			return nil, err
		}

		roundChanged := false
		for _, subject := range o.subjects {
			changed, evs := o.subjectTurn(ctx, subject)
			roundChanged = roundChanged || changed
			events = append(events, evs...)
		}
		events = append(events, o.newCollisionEvents()...)

		if done, err := o.opts.Store.AllTasksCompleted(); err == nil && done {
			stopReason = StopAllTasksCompleted
			break loop
		}

		marker, _, err := o.opts.Store.ProgressMarker()
		if err != nil {
			return nil, err
		}
		if roundChanged || marker != prevMarker {
			idleRounds = 0
			lastProgress = time.Now()
		} else {
			idleRounds++
			if idleRounds%o.opts.NoProgressEventInterval == 0 {
				events = append(events, models.Event{Type: models.EventNoProgress, Detail: fmt.Sprintf("%d idle rounds", idleRounds)})
			}
		}

		if o.opts.HumanApproval {
			if waiting, err := o.plansAwaitingApproval(); err == nil && waiting {
				stopReason = StopHumanApprovalRequired
				break loop
			}
		}

		var comments []models.PersonaComment
		if len(events) > 0 {
			comments = o.evaluateEvents(events)
			if reason, halted := o.applyPersonaActions(ctx, round, comments); halted {
				stopReason = reason
				break loop
			}
		}

		decisionStop, err := o.consultProvider(ctx, round, idleRounds, events, comments)
		if err != nil {
			o.log.Error("provider invocation failed", "round", round, "err", err)
			stopReason = StopProviderError
			break loop
		}
		if decisionStop != "" {
			stopReason = decisionStop
			break loop
		}

		if done, err := o.opts.Store.AllTasksCompleted(); err == nil && done {
			stopReason = StopAllTasksCompleted
			break loop
		}
		if idleRounds >= o.opts.MaxIdleRounds {
			stopReason = StopIdleRoundsLimit
			break loop
		}
		if o.opts.MaxIdleSeconds > 0 && time.Since(lastProgress) >= time.Duration(o.opts.MaxIdleSeconds)*time.Second {
			stopReason = StopIdleSecondsLimit
			break loop
		}
	}
	if round > o.opts.MaxRounds {
		round = o.opts.MaxRounds
	}

	otel.RecordRunStop(ctx, stopReason)
	summary, err := o.opts.Store.StatusSummary()
	if err != nil {
		return nil, err
	}
	result := &RunResult{
		RunID:          o.runID,
		StopReason:     stopReason,
		Rounds:         round,
		ElapsedSeconds: time.Since(started).Seconds(),
		Summary:        summary,
		TasksTotal:     summary.Total(),
		ProviderCalls:  o.providerCalls,
		Provider:       o.opts.Provider.Name(),
		HumanApproval:  o.opts.HumanApproval,
		PersonaMetrics: PersonaMetrics{
			SeverityCounts:            o.severityCounts,
			PersonaBlockerTriggered:   o.blockerFired,
			WarnRecheckQueueRemaining: len(o.warnRecheck),
		},
	}
	o.log.Info("run finished",
		"stop_reason", result.StopReason,
		"rounds", result.Rounds,
		"completed", summary.Completed,
		"provider_calls", result.ProviderCalls)
	return result, nil
}

func (o *Orchestrator) drainWarnRecheck() []models.Event {
	events := o.warnRecheck
	o.warnRecheck = nil
	return events
}

// subjectTurn runs one subject's slice of the round: a plan turn, and if that
// produced no change, an execution turn. Store contract violations degrade to
// "no progress" for this subject rather than failing the round.
func (o *Orchestrator) subjectTurn(ctx context.Context, subject string) (bool, []models.Event) {
	changed, events := o.planTurn(ctx, subject)
	if changed {
		return true, events
	}
	return o.executionTurn(ctx, subject)
}

func (o *Orchestrator) planTurn(ctx context.Context, subject string) (bool, []models.Event) {
	task, err := o.opts.Store.ClaimPlanTask(ctx, subject)
	if err != nil {
		if errors.Is(err, store.ErrLockTimeout) {
			o.log.Error("lock timeout during plan claim", "subject", subject, "err", err)
		} else {
			o.log.Warn("plan claim failed", "subject", subject, "err", err)
		}
		return false, nil
	}
	if task == nil {
		return false, nil
	}
	started := time.Now()
	planText, err := o.adapterFor(subject).BuildPlan(ctx, subject, *task)
	otel.RecordSubjectTurn(ctx, subject, time.Since(started))
	if err != nil {
		o.log.Warn("plan drafting failed", "subject", subject, "task", task.ID, "err", err)
		if abErr := o.opts.Store.AbandonPlanClaim(ctx, task.ID, subject); abErr != nil {
			o.log.Warn("abandon plan claim failed", "task", task.ID, "err", abErr)
		}
		return false, nil
	}
	if err := o.opts.Store.SubmitPlan(ctx, task.ID, subject, planText); err != nil {
		o.log.Warn("plan submit failed", "subject", subject, "task", task.ID, "err", err)
		return false, nil
	}
	otel.RecordTaskOp(ctx, "submit_plan", subject, models.StatusNeedsApproval)
	o.log.Info("plan submitted", "subject", subject, "task", task.ID)
	return true, []models.Event{{Type: models.EventNeedsApproval, TaskID: task.ID, Teammate: subject, Detail: "plan submitted for approval"}}
}

func (o *Orchestrator) executionTurn(ctx context.Context, subject string) (bool, []models.Event) {
	allowed, err := o.executableTaskIDs(subject)
	if err != nil {
		o.log.Warn("list tasks failed", "subject", subject, "err", err)
		return false, nil
	}
	task, err := o.opts.Store.ClaimExecutionTask(ctx, subject, allowed)
	if err != nil {
		if errors.Is(err, store.ErrLockTimeout) {
			o.log.Error("lock timeout during execution claim", "subject", subject, "err", err)
		} else {
			o.log.Warn("execution claim failed", "subject", subject, "err", err)
		}
		return false, nil
	}
	if task == nil {
		return false, nil
	}
	otel.RecordTaskOp(ctx, "claim_execution", subject, models.StatusInProgress)

	started := time.Now()
	output, err := o.adapterFor(subject).ExecuteTask(ctx, subject, *task, func(line string) {
		o.log.Debug("subject progress", "subject", subject, "task", task.ID, "line", line)
	})
	otel.RecordSubjectTurn(ctx, subject, time.Since(started))
	if err != nil {
		reason := "execution failed: " + err.Error()
		if blockErr := o.opts.Store.MarkTaskBlocked(ctx, task.ID, subject, reason); blockErr != nil {
			o.log.Warn("mark blocked failed", "task", task.ID, "err", blockErr)
		}
		otel.RecordTaskOp(ctx, "block", subject, models.StatusBlocked)
		return true, []models.Event{{Type: models.EventBlocked, TaskID: task.ID, Teammate: subject, Detail: reason}}
	}

	if o.isReviewer(subject) {
		if rule := o.classifier.Classify(output); rule != RuleNone {
			if escErr := o.opts.Store.EscalateTask(ctx, task.ID, subject, "reviewer stop: "+string(rule)); escErr != nil {
				o.log.Warn("reviewer escalation failed", "task", task.ID, "err", escErr)
			}
			o.log.Warn("reviewer stop detected", "subject", subject, "task", task.ID, "rule", rule)
			return true, []models.Event{{Type: models.EventReviewerViolation, TaskID: task.ID, Teammate: subject, Detail: string(rule)}}
		}
	}

	res := runtime.ParseExecutionResult(output)
	if !res.Valid || res.Result == runtime.ResultBlocked {
		reason := res.Summary
		if reason == "" {
			if res.Valid {
				reason = "subject reported blocked"
			} else {
				reason = "output missing RESULT marker"
			}
		}
		if blockErr := o.opts.Store.MarkTaskBlocked(ctx, task.ID, subject, reason); blockErr != nil {
			o.log.Warn("mark blocked failed", "task", task.ID, "err", blockErr)
		}
		otel.RecordTaskOp(ctx, "block", subject, models.StatusBlocked)
		return true, []models.Event{{Type: models.EventBlocked, TaskID: task.ID, Teammate: subject, Detail: reason}}
	}

	if nextIdx, ok := o.router.NextPhaseIndex(*task); ok {
		if err := o.opts.Store.HandoffTaskPhase(ctx, task.ID, subject, nextIdx); err != nil {
			o.log.Warn("phase handoff failed", "task", task.ID, "err", err)
			return true, nil
		}
		otel.RecordTaskOp(ctx, "handoff", subject, models.StatusPending)
		o.log.Info("phase handoff", "subject", subject, "task", task.ID, "next_phase_index", nextIdx)
		return true, nil
	}
	if err := o.opts.Store.CompleteTask(ctx, task.ID, subject, res.Summary); err != nil {
		o.log.Warn("complete failed", "task", task.ID, "err", err)
		return true, nil
	}
	otel.RecordTaskOp(ctx, "complete", subject, models.StatusCompleted)
	o.log.Info("task completed", "subject", subject, "task", task.ID)
	return true, []models.Event{{Type: models.EventTaskCompleted, TaskID: task.ID, Teammate: subject, Detail: res.Summary}}
}

// executableTaskIDs filters the task set down to what phase routing allows
// this subject to execute.
func (o *Orchestrator) executableTaskIDs(subject string) ([]string, error) {
	tasks, err := o.opts.Store.ListTasks()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if o.router.CanExecute(subject, t) {
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

func (o *Orchestrator) adapterFor(subject string) runtime.Adapter {
	if a, ok := o.opts.Adapters[subject]; ok {
		return a
	}
	return o.opts.Adapter
}

func (o *Orchestrator) isReviewer(subject string) bool {
	if p, ok := o.router.Persona(subject); ok {
		return p.Role == models.RoleReviewer
	}
	return strings.Contains(strings.ToLower(subject), "review")
}

func (o *Orchestrator) plansAwaitingApproval() (bool, error) {
	tasks, err := o.opts.Store.ListTasks()
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if t.Status == models.StatusNeedsApproval && t.PlanStatus == models.PlanSubmitted {
			return true, nil
		}
	}
	return false, nil
}

// newCollisionEvents reports target-path collisions not already seen in the
// previous round.
func (o *Orchestrator) newCollisionEvents() []models.Event {
	cols, err := o.opts.Store.DetectCollisions()
	if err != nil {
		o.log.Warn("collision scan failed", "err", err)
		return nil
	}
	current := make(map[string]bool, len(cols))
	var events []models.Event
	for _, c := range cols {
		key := c.WaitingID + "|" + c.RunningID + "|" + c.Path
		current[key] = true
		if o.prevCollisions[key] {
			continue
		}
		events = append(events, models.Event{
			Type:   models.EventCollision,
			TaskID: c.WaitingID,
			Detail: fmt.Sprintf("waiting on %s (shared path %s)", c.RunningID, c.Path),
		})
	}
	o.prevCollisions = current
	return events
}

// evaluateEvents runs each event through the pipeline with the persona set
// active for that event's task (all enabled personas for run-level events).
func (o *Orchestrator) evaluateEvents(events []models.Event) []models.PersonaComment {
	var comments []models.PersonaComment
	for _, ev := range events {
		active := o.router.EnabledPersonas()
		if ev.TaskID != "" {
			if task, err := o.opts.Store.GetTask(ev.TaskID); err == nil {
				active = o.router.ActiveFor(*task)
			}
		}
		comments = append(comments, persona.Evaluate([]models.Event{ev}, active, o.opts.MaxCommentsPerEvent)...)
	}
	return comments
}

// applyPersonaActions walks comments in order: warns queue a recheck event for
// the next round, criticals escalate once per task per round, blockers halt
// the run when the persona can block and is transition-permitted (downgrading
// to escalation otherwise). A halt skips the provider entirely this round.
func (o *Orchestrator) applyPersonaActions(ctx context.Context, round int, comments []models.PersonaComment) (string, bool) {
	escalated := map[string]bool{}
	escalate := func(c models.PersonaComment) {
		if c.TaskID == "" || escalated[c.TaskID] {
			return
		}
		task, err := o.opts.Store.GetTask(c.TaskID)
		if err != nil || !o.router.CanTransition(c.PersonaID, *task) {
			return
		}
		if err := o.opts.Store.EscalateTask(ctx, c.TaskID, c.PersonaID, c.Text); err != nil {
			o.log.Warn("persona escalation failed", "task", c.TaskID, "persona", c.PersonaID, "err", err)
			return
		}
		escalated[c.TaskID] = true
		otel.RecordTaskOp(ctx, "escalate", c.PersonaID, models.StatusNeedsApproval)
	}
	for _, c := range comments {
		o.severityCounts[c.Severity]++
		otel.RecordPersonaComment(ctx, c.Severity)
		switch c.Severity {
		case models.SeverityWarn:
			o.warnRecheck = append(o.warnRecheck, models.Event{
				Type:   models.EventWarnRecheck,
				TaskID: c.TaskID,
				Detail: c.Text,
			})
		case models.SeverityCritical:
			escalate(c)
		case models.SeverityBlocker:
			def, ok := o.router.Persona(c.PersonaID)
			permitted := true
			if c.TaskID != "" {
				if task, err := o.opts.Store.GetTask(c.TaskID); err == nil {
					permitted = o.router.CanTransition(c.PersonaID, *task)
				}
			}
			if ok && def.CanBlock && permitted {
				o.blockerFired = true
				o.log.Warn("persona blocker halted run", "persona", c.PersonaID, "task", c.TaskID, "round", round)
				return StopPersonaBlockerPrefix + c.PersonaID, true
			}
			escalate(c)
		}
	}
	return "", false
}
