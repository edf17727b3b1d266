// Package models provides the shared entities for the crewsched scheduler:
// tasks, personas, phase policies, mailbox messages, and the decision-provider
// wire contract. These types mirror the persisted JSON and are stable for use
// by external tools reading a run directory.
package models

import "time"

// Task is the unit of work the scheduler coordinates. Owner and Planner are
// claiming-subject ids; nil means unclaimed. TargetPaths is the set of resource
// paths the task writes and drives collision avoidance.
type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	TargetPaths []string `json:"target_paths,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`

	Owner   *string `json:"owner,omitempty"`
	Planner *string `json:"planner,omitempty"`
	Status  string  `json:"status"`

	RequiresPlan bool   `json:"requires_plan"`
	PlanStatus   string `json:"plan_status"`
	PlanText     string `json:"plan_text,omitempty"`
	PlanFeedback string `json:"plan_feedback,omitempty"`

	ResultSummary string `json:"result_summary,omitempty"`
	BlockReason   string `json:"block_reason,omitempty"`

	ProgressLog []ProgressEntry `json:"progress_log,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	PersonaPolicy     *TaskPersonaPolicy `json:"persona_policy,omitempty"`
	CurrentPhaseIndex *int               `json:"current_phase_index,omitempty"`
	RevisionCount     int                `json:"revision_count,omitempty"`
	MaxRevisionCycles int                `json:"max_revision_cycles,omitempty"`
}

// ProgressEntry is one line of a task's bounded, FIFO-rotated audit trail.
type ProgressEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (t Task) Clone() Task {
	out := t
	out.TargetPaths = append([]string(nil), t.TargetPaths...)
	out.DependsOn = append([]string(nil), t.DependsOn...)
	out.ProgressLog = append([]ProgressEntry(nil), t.ProgressLog...)
	if t.Owner != nil {
		v := *t.Owner
		out.Owner = &v
	}
	if t.Planner != nil {
		v := *t.Planner
		out.Planner = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		out.CompletedAt = &v
	}
	if t.CurrentPhaseIndex != nil {
		v := *t.CurrentPhaseIndex
		out.CurrentPhaseIndex = &v
	}
	if t.PersonaPolicy != nil {
		p := t.PersonaPolicy.Clone()
		out.PersonaPolicy = &p
	}
	return out
}

// PersonaExecution describes how a persona is realized as a runnable subject.
type PersonaExecution struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	CommandRef string `json:"command_ref,omitempty" yaml:"command_ref,omitempty"`
	Sandbox    bool   `json:"sandbox,omitempty" yaml:"sandbox,omitempty"`
	TimeoutSec int    `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`
}

// PersonaDefinition is a named role with focus, blocking authority, and an
// optional execution binding. Only blocker-severity comments from personas with
// CanBlock may halt a run.
type PersonaDefinition struct {
	ID        string            `json:"id" yaml:"id"`
	Role      string            `json:"role" yaml:"role"`
	Focus     string            `json:"focus,omitempty" yaml:"focus,omitempty"`
	CanBlock  bool              `json:"can_block" yaml:"can_block"`
	Enabled   bool              `json:"enabled" yaml:"enabled"`
	Execution *PersonaExecution `json:"execution,omitempty" yaml:"execution,omitempty"`
}

// Executable reports whether the persona is bound to a runnable subject.
func (p PersonaDefinition) Executable() bool {
	return p.Enabled && p.Execution != nil && p.Execution.Enabled
}

// PhasePolicy lists which personas participate in a phase, which may execute
// tasks in it, and which may perform state transitions (escalate/block-stop).
type PhasePolicy struct {
	ActivePersonas          []string `json:"active_personas,omitempty" yaml:"active_personas,omitempty"`
	ExecutorPersonas        []string `json:"executor_personas,omitempty" yaml:"executor_personas,omitempty"`
	StateTransitionPersonas []string `json:"state_transition_personas,omitempty" yaml:"state_transition_personas,omitempty"`
}

// PersonaDefaults is the run-wide phase order and per-phase policy map.
type PersonaDefaults struct {
	PhaseOrder    []string               `json:"phase_order,omitempty" yaml:"phase_order,omitempty"`
	PhasePolicies map[string]PhasePolicy `json:"phase_policies,omitempty" yaml:"phase_policies,omitempty"`
}

// TaskPersonaPolicy is a per-task override of the defaults. DisablePersonas
// removes personas from consideration for that task only.
type TaskPersonaPolicy struct {
	PhaseOrder      []string               `json:"phase_order,omitempty" yaml:"phase_order,omitempty"`
	PhaseOverrides  map[string]PhasePolicy `json:"phase_overrides,omitempty" yaml:"phase_overrides,omitempty"`
	DisablePersonas []string               `json:"disable_personas,omitempty" yaml:"disable_personas,omitempty"`
}

// Clone returns a deep copy of the policy.
func (p TaskPersonaPolicy) Clone() TaskPersonaPolicy {
	out := TaskPersonaPolicy{
		PhaseOrder:      append([]string(nil), p.PhaseOrder...),
		DisablePersonas: append([]string(nil), p.DisablePersonas...),
	}
	if p.PhaseOverrides != nil {
		out.PhaseOverrides = make(map[string]PhasePolicy, len(p.PhaseOverrides))
		for k, v := range p.PhaseOverrides {
			out.PhaseOverrides[k] = PhasePolicy{
				ActivePersonas:          append([]string(nil), v.ActivePersonas...),
				ExecutorPersonas:        append([]string(nil), v.ExecutorPersonas...),
				StateTransitionPersonas: append([]string(nil), v.StateTransitionPersonas...),
			}
		}
	}
	return out
}

// MailMessage is one append-only mailbox entry. Seq is strictly increasing
// across the whole run.
type MailMessage struct {
	Seq       int64     `json:"seq"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Content   string    `json:"content"`
	TaskID    *string   `json:"task_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StatusSummary counts tasks by status.
type StatusSummary struct {
	Pending       int `json:"pending"`
	InProgress    int `json:"in_progress"`
	Blocked       int `json:"blocked"`
	NeedsApproval int `json:"needs_approval"`
	Completed     int `json:"completed"`
}

// Total returns the number of tasks covered by the summary.
func (s StatusSummary) Total() int {
	return s.Pending + s.InProgress + s.Blocked + s.NeedsApproval + s.Completed
}
