package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/crewsched/crewsched/internal/agent/runtime"
	"github.com/crewsched/crewsched/internal/provider"
	"github.com/crewsched/crewsched/internal/store"
	"github.com/crewsched/crewsched/pkg/models"
)

// fakeAdapter scripts per-subject outputs and records execution order.
type fakeAdapter struct {
	mu      sync.Mutex
	outputs map[string]string // subject -> execution output ("" = stub contract)
	execLog []string          // "subject:task" in call order
}

func (a *fakeAdapter) Name() string { return "fake" }

func (a *fakeAdapter) BuildPlan(ctx context.Context, subjectID string, task models.Task) (string, error) {
	return "plan for " + task.ID, nil
}

func (a *fakeAdapter) ExecuteTask(ctx context.Context, subjectID string, task models.Task, onProgress func(string)) (string, error) {
	a.mu.Lock()
	a.execLog = append(a.execLog, subjectID+":"+task.ID)
	out := a.outputs[subjectID]
	a.mu.Unlock()
	if out == "" {
		out = "RESULT: completed\nSUMMARY: done by " + subjectID
	}
	return out, nil
}

type fakeProvider struct {
	name string
	fn   func(snap models.RunSnapshot) (*models.OrchestratorDecision, error)
}

func (p fakeProvider) Name() string {
	if p.name == "" {
		return "fake"
	}
	return p.name
}

func (p fakeProvider) Run(ctx context.Context, snapshotJSON []byte) (*models.OrchestratorDecision, error) {
	var snap models.RunSnapshot
	if err := json.Unmarshal(snapshotJSON, &snap); err != nil {
		return nil, err
	}
	return p.fn(snap)
}

func newRunStore(t *testing.T, tasks ...models.Task) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.BootstrapTasks(context.Background(), tasks, false); err != nil {
		t.Fatalf("BootstrapTasks: %v", err)
	}
	return st
}

func TestRunCompletesDependentTasksWithPlan(t *testing.T) {
	t.Parallel()
	st := newRunStore(t,
		models.Task{ID: "t1", Title: "first", RequiresPlan: true},
		models.Task{ID: "t2", Title: "second", DependsOn: []string{"t1"}},
	)
	o, err := New(Options{
		Store:     st,
		Lead:      "lead",
		Teammates: []string{"alice"},
		Adapter:   runtime.StubAdapter{},
		Provider:  provider.MockProvider{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopAllTasksCompleted {
		t.Fatalf("stop reason: %s", res.StopReason)
	}
	if res.Summary.Completed != 2 {
		t.Fatalf("completed: %d", res.Summary.Completed)
	}
	if res.ProviderCalls == 0 {
		t.Fatal("expected at least one provider call")
	}
}

func TestRunHaltsForHumanApproval(t *testing.T) {
	t.Parallel()
	st := newRunStore(t, models.Task{ID: "t1", Title: "gated", RequiresPlan: true})
	o, err := New(Options{
		Store:         st,
		Teammates:     []string{"alice"},
		Adapter:       runtime.StubAdapter{},
		Provider:      provider.MockProvider{},
		HumanApproval: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopHumanApprovalRequired {
		t.Fatalf("stop reason: %s", res.StopReason)
	}
	if res.ProviderCalls != 0 {
		t.Fatalf("provider called %d times before human approval", res.ProviderCalls)
	}
	got, _ := st.GetTask("t1")
	if got.PlanStatus != models.PlanSubmitted {
		t.Fatalf("plan status: %s", got.PlanStatus)
	}
}

func TestRunStopsOnReviewerBlocker(t *testing.T) {
	t.Parallel()
	st := newRunStore(t, models.Task{ID: "t1", Title: "audit"})
	adapter := &fakeAdapter{outputs: map[string]string{
		"rev": "REVIEWER_STOP:requirement_drift detected major drift",
	}}
	o, err := New(Options{
		Store: st,
		Personas: []models.PersonaDefinition{{
			ID: "rev", Role: models.RoleReviewer, CanBlock: true, Enabled: true,
			Execution: &models.PersonaExecution{Enabled: true},
		}},
		Adapter:  adapter,
		Provider: provider.MockProvider{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !o.PersonaMode() {
		t.Fatal("expected persona mode")
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopPersonaBlockerPrefix+"rev" {
		t.Fatalf("stop reason: %s", res.StopReason)
	}
	if res.ProviderCalls != 0 {
		t.Fatalf("blocker stop must skip the provider, got %d calls", res.ProviderCalls)
	}
	if !res.PersonaMetrics.PersonaBlockerTriggered {
		t.Fatal("blocker metric not set")
	}
	got, _ := st.GetTask("t1")
	if got.Status != models.StatusNeedsApproval {
		t.Fatalf("task should be escalated, got %s", got.Status)
	}
}

func TestRunStopsOnIdleRoundsLimit(t *testing.T) {
	t.Parallel()
	st := newRunStore(t, models.Task{ID: "t1", Title: "stuck", DependsOn: []string{"ghost"}})
	o, err := New(Options{
		Store:         st,
		Teammates:     []string{"alice"},
		Adapter:       runtime.StubAdapter{},
		Provider:      provider.MockProvider{},
		MaxIdleRounds: 1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopIdleRoundsLimit {
		t.Fatalf("stop reason: %s", res.StopReason)
	}
	if res.Summary.Pending != 1 {
		t.Fatalf("pending: %d", res.Summary.Pending)
	}
}

func TestRunRoutesPhasesAcrossPersonas(t *testing.T) {
	t.Parallel()
	st := newRunStore(t, models.Task{ID: "t1", Title: "feature"})
	adapter := &fakeAdapter{outputs: map[string]string{}}
	o, err := New(Options{
		Store: st,
		Personas: []models.PersonaDefinition{
			{ID: "builder", Role: models.RoleImplementer, Enabled: true, Execution: &models.PersonaExecution{Enabled: true}},
			{ID: "checker", Role: models.RoleReviewer, Enabled: true, Execution: &models.PersonaExecution{Enabled: true}},
		},
		PersonaDefaults: models.PersonaDefaults{
			PhaseOrder: []string{"implement", "review"},
			PhasePolicies: map[string]models.PhasePolicy{
				"implement": {ExecutorPersonas: []string{"builder"}, StateTransitionPersonas: []string{"checker"}},
				"review":    {ExecutorPersonas: []string{"checker"}, StateTransitionPersonas: []string{"checker"}},
			},
		},
		Adapter:  adapter,
		Provider: provider.MockProvider{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopAllTasksCompleted {
		t.Fatalf("stop reason: %s", res.StopReason)
	}
	if len(adapter.execLog) != 2 || adapter.execLog[0] != "builder:t1" || adapter.execLog[1] != "checker:t1" {
		t.Fatalf("execution order: %v", adapter.execLog)
	}
	got, _ := st.GetTask("t1")
	if got.Status != models.StatusCompleted {
		t.Fatalf("status: %s", got.Status)
	}
	if got.CurrentPhaseIndex == nil || *got.CurrentPhaseIndex != 1 {
		t.Fatalf("phase index: %v", got.CurrentPhaseIndex)
	}
}

func TestRunHonorsProviderStop(t *testing.T) {
	t.Parallel()
	st := newRunStore(t, models.Task{ID: "t1", Title: "endless", DependsOn: []string{"ghost"}})
	o, err := New(Options{
		Store:     st,
		Teammates: []string{"alice"},
		Adapter:   runtime.StubAdapter{},
		Provider: fakeProvider{fn: func(snap models.RunSnapshot) (*models.OrchestratorDecision, error) {
			return &models.OrchestratorDecision{
				Stop: models.StopDirective{ShouldStop: true, ReasonShort: "nothing left to do"},
			}, nil
		}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopProviderStopPrefix+"nothing left to do" {
		t.Fatalf("stop reason: %s", res.StopReason)
	}
}

func TestRunStopsOnProviderError(t *testing.T) {
	t.Parallel()
	st := newRunStore(t, models.Task{ID: "t1", Title: "doomed", DependsOn: []string{"ghost"}})
	o, err := New(Options{
		Store:     st,
		Teammates: []string{"alice"},
		Adapter:   runtime.StubAdapter{},
		Provider: fakeProvider{fn: func(snap models.RunSnapshot) (*models.OrchestratorDecision, error) {
			return nil, context.DeadlineExceeded
		}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopProviderError {
		t.Fatalf("stop reason: %s", res.StopReason)
	}
}

func TestRunAutoApproveFallback(t *testing.T) {
	t.Parallel()
	st := newRunStore(t, models.Task{ID: "t1", Title: "gated", RequiresPlan: true})
	o, err := New(Options{
		Store:     st,
		Teammates: []string{"alice"},
		Adapter:   runtime.StubAdapter{},
		Provider: fakeProvider{fn: func(snap models.RunSnapshot) (*models.OrchestratorDecision, error) {
			return &models.OrchestratorDecision{}, nil // never approves anything
		}},
		AutoApproveFallback: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopAllTasksCompleted {
		t.Fatalf("stop reason: %s", res.StopReason)
	}
}

func TestRunRefusesProviderForcedStatus(t *testing.T) {
	t.Parallel()
	st := newRunStore(t,
		models.Task{ID: "t1", Title: "untouchable", DependsOn: []string{"ghost"}},
		models.Task{ID: "t2", Title: "stuck"},
	)
	// t2 enters the run already blocked.
	if _, err := st.ClaimExecutionTask(context.Background(), "ghost-runner", []string{"t2"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := st.MarkTaskBlocked(context.Background(), "t2", "ghost-runner", "missing credentials"); err != nil {
		t.Fatalf("block: %v", err)
	}
	o, err := New(Options{
		Store:     st,
		Teammates: []string{"alice"},
		Adapter:   runtime.StubAdapter{},
		Provider: fakeProvider{fn: func(snap models.RunSnapshot) (*models.OrchestratorDecision, error) {
			return &models.OrchestratorDecision{
				TaskUpdates: []models.TaskUpdate{
					{TaskID: "t1", NewStatus: models.StatusCompleted},
					{TaskID: "t1", NewStatus: models.StatusInProgress, Owner: "alice"},
					{TaskID: "t2", NewStatus: models.StatusCompleted},
					{TaskID: "t2", NewStatus: models.StatusPending}, // the one legal move
				},
				Stop: models.StopDirective{ShouldStop: true, ReasonShort: "halt"},
			}, nil
		}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopProviderStopPrefix+"halt" {
		t.Fatalf("stop reason: %s", res.StopReason)
	}
	got, _ := st.GetTask("t1")
	if got.Status != models.StatusPending || got.Owner != nil {
		t.Fatalf("forced status applied: %+v", got)
	}
	got, _ = st.GetTask("t2")
	if got.Status != models.StatusPending || got.BlockReason != "" {
		t.Fatalf("release path not honored: %+v", got)
	}
}

func TestRunEscalatesBlockedTaskOnCriticalComment(t *testing.T) {
	t.Parallel()
	st := newRunStore(t, models.Task{ID: "t1", Title: "fragile"})
	adapter := &fakeAdapter{outputs: map[string]string{
		"alice": "RESULT: blocked\nSUMMARY: missing credentials",
	}}
	o, err := New(Options{
		Store:     st,
		Teammates: []string{"alice"},
		Personas: []models.PersonaDefinition{{
			ID: "sentinel", Role: models.RoleImplementer, Enabled: true,
		}},
		Adapter:       adapter,
		Provider:      provider.MockProvider{},
		MaxIdleRounds: 1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopIdleRoundsLimit {
		t.Fatalf("stop reason: %s", res.StopReason)
	}
	if res.PersonaMetrics.SeverityCounts[models.SeverityCritical] != 1 {
		t.Fatalf("severity counts: %v", res.PersonaMetrics.SeverityCounts)
	}
	got, _ := st.GetTask("t1")
	if got.Status != models.StatusNeedsApproval {
		t.Fatalf("critical comment did not escalate, got %s", got.Status)
	}
	if got.Owner != nil || got.BlockReason != "" {
		t.Fatalf("escalation left stale block state: %+v", got)
	}
}

func TestRunQueuesWarnRecheckForNextRound(t *testing.T) {
	t.Parallel()
	st := newRunStore(t, models.Task{ID: "t1", Title: "stuck", DependsOn: []string{"ghost"}})
	var snaps []models.RunSnapshot
	o, err := New(Options{
		Store:     st,
		Teammates: []string{"alice"},
		Personas: []models.PersonaDefinition{{
			ID: "sentinel", Role: models.RoleImplementer, Enabled: true,
		}},
		Adapter: runtime.StubAdapter{},
		Provider: fakeProvider{fn: func(snap models.RunSnapshot) (*models.OrchestratorDecision, error) {
			snaps = append(snaps, snap)
			return &models.OrchestratorDecision{}, nil
		}},
		MaxIdleRounds:           2,
		NoProgressEventInterval: 1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopIdleRoundsLimit {
		t.Fatalf("stop reason: %s", res.StopReason)
	}
	// Round 1's no_progress warn queued a recheck; round 2 drained it into its
	// event batch and queued a fresh one that the stop left behind.
	if res.PersonaMetrics.WarnRecheckQueueRemaining != 1 {
		t.Fatalf("warn recheck remaining: %d", res.PersonaMetrics.WarnRecheckQueueRemaining)
	}
	if len(snaps) != 2 {
		t.Fatalf("provider calls: %d", len(snaps))
	}
	found := false
	for _, ev := range snaps[1].Events {
		if ev.Type == models.EventWarnRecheck {
			found = true
		}
	}
	if !found {
		t.Fatalf("round 2 events missing warn recheck: %+v", snaps[1].Events)
	}
}

func TestRunStopsOnMaxRounds(t *testing.T) {
	t.Parallel()
	st := newRunStore(t, models.Task{ID: "t1", Title: "stuck", DependsOn: []string{"ghost"}})
	o, err := New(Options{
		Store:         st,
		Teammates:     []string{"alice"},
		Adapter:       runtime.StubAdapter{},
		Provider:      provider.MockProvider{},
		MaxRounds:     2,
		MaxIdleRounds: 100,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopMaxRounds {
		t.Fatalf("stop reason: %s", res.StopReason)
	}
	if res.Rounds != 2 {
		t.Fatalf("rounds: %d", res.Rounds)
	}
}

func TestRunStopsOnIdleSecondsLimit(t *testing.T) {
	t.Parallel()
	st := newRunStore(t, models.Task{ID: "t1", Title: "stuck", DependsOn: []string{"ghost"}})
	o, err := New(Options{
		Store:          st,
		Teammates:      []string{"alice"},
		Adapter:        runtime.StubAdapter{},
		Provider:       provider.MockProvider{},
		MaxRounds:      1 << 20,
		MaxIdleRounds:  1 << 20,
		MaxIdleSeconds: 1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopIdleSecondsLimit {
		t.Fatalf("stop reason: %s", res.StopReason)
	}
}

func TestRunUsesPerSubjectAdapter(t *testing.T) {
	t.Parallel()
	st := newRunStore(t, models.Task{ID: "t1", Title: "solo work"})
	bound := &fakeAdapter{outputs: map[string]string{}}
	fallback := &fakeAdapter{outputs: map[string]string{}}
	o, err := New(Options{
		Store: st,
		Personas: []models.PersonaDefinition{{
			ID: "solo", Role: models.RoleImplementer, Enabled: true,
			Execution: &models.PersonaExecution{Enabled: true},
		}},
		Adapter:  fallback,
		Adapters: map[string]runtime.Adapter{"solo": bound},
		Provider: provider.MockProvider{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopAllTasksCompleted {
		t.Fatalf("stop reason: %s", res.StopReason)
	}
	if len(bound.execLog) != 1 || bound.execLog[0] != "solo:t1" {
		t.Fatalf("bound adapter log: %v", bound.execLog)
	}
	if len(fallback.execLog) != 0 {
		t.Fatalf("fallback adapter used: %v", fallback.execLog)
	}
}

func TestNewRequiresSubjects(t *testing.T) {
	t.Parallel()
	st := newRunStore(t)
	if _, err := New(Options{Store: st, Adapter: runtime.StubAdapter{}, Provider: provider.MockProvider{}}); err == nil {
		t.Fatal("expected error with no subjects")
	}
}

func TestRunRequeuesInterruptedTasks(t *testing.T) {
	t.Parallel()
	st := newRunStore(t, models.Task{ID: "t1", Title: "resumable"})
	// Simulate a crash mid-execution from a previous run.
	if _, err := st.ClaimExecutionTask(context.Background(), "ghost-runner", nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	o, err := New(Options{
		Store:     st,
		Teammates: []string{"alice"},
		Adapter:   runtime.StubAdapter{},
		Provider:  provider.MockProvider{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StopReason != StopAllTasksCompleted {
		t.Fatalf("stop reason: %s", res.StopReason)
	}
	got, _ := st.GetTask("t1")
	if got.Status != models.StatusCompleted {
		t.Fatalf("status: %s", got.Status)
	}
}
