package models

// Event types emitted by the orchestrator round loop.
const (
	EventKickoff           = "kickoff"
	EventTaskCompleted     = "task_completed"
	EventNeedsApproval     = "needs_approval"
	EventNoProgress        = "no_progress"
	EventCollision         = "collision"
	EventBlocked           = "blocked"
	EventReviewerViolation = "reviewer_violation"
	EventWarnRecheck       = "warn_recheck"
)

// Comment severities, strongest first.
const (
	SeverityBlocker  = "blocker"
	SeverityCritical = "critical"
	SeverityWarn     = "warn"
	SeverityInfo     = "info"
)

// Event is one observation from a round: something a subject did, or a
// condition the loop noticed.
type Event struct {
	Type     string `json:"type"`
	TaskID   string `json:"task_id,omitempty"`
	Teammate string `json:"teammate,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// PersonaComment is one persona's reaction to an event, tagged with the
// severity derived from the event type.
type PersonaComment struct {
	PersonaID string `json:"persona_id"`
	Role      string `json:"role"`
	Severity  string `json:"severity"`
	TaskID    string `json:"task_id,omitempty"`
	EventType string `json:"event_type"`
	Text      string `json:"text"`
}

// SeverityRank orders severities for sorting: blocker < critical < warn <
// info. Unknown severities sort last.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityBlocker:
		return 0
	case SeverityCritical:
		return 1
	case SeverityWarn:
		return 2
	case SeverityInfo:
		return 3
	default:
		return 4
	}
}
