package models

// Task statuses used throughout the codebase.
const (
	StatusPending       = "pending"
	StatusInProgress    = "in_progress"
	StatusBlocked       = "blocked"
	StatusNeedsApproval = "needs_approval"
	StatusCompleted     = "completed"
)

// Plan statuses. A task has PlanNotRequired iff RequiresPlan is false at creation.
const (
	PlanNotRequired       = "not_required"
	PlanPending           = "pending"
	PlanDrafting          = "drafting"
	PlanSubmitted         = "submitted"
	PlanApproved          = "approved"
	PlanRejected          = "rejected"
	PlanRevisionRequested = "revision_requested"
)

// Persona roles.
const (
	RoleImplementer = "implementer"
	RoleReviewer    = "reviewer"
	RoleSpecGuard   = "spec_guard"
	RoleTestGuard   = "test_guard"
	RoleCustom      = "custom"
)

// Plan actions a decision provider may request.
const (
	PlanActionApprove = "approve"
	PlanActionReject  = "reject"
	PlanActionRevise  = "revise"
)

// Default limits.
const (
	DefaultTaskProgressLogLimit    = 20
	DefaultMaxCommentsPerEvent     = 2
	DefaultNoProgressEventInterval = 3
	DefaultMaxRounds               = 50
	DefaultMaxIdleRounds           = 8
	DefaultSnapshotMessageLimit    = 10
	DefaultSnapshotDecisionLimit   = 5
)

// Text caps applied when ingesting provider decisions.
const (
	MaxFeedbackLen     = 2000
	MaxMessageTextLen  = 500
	MaxStopReasonLen   = 200
	MaxDecisionNoteLen = 500
)

// ValidStatus reports whether s is a known task status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusBlocked, StatusNeedsApproval, StatusCompleted:
		return true
	}
	return false
}

// ValidPlanStatus reports whether s is a known plan status.
func ValidPlanStatus(s string) bool {
	switch s {
	case PlanNotRequired, PlanPending, PlanDrafting, PlanSubmitted, PlanApproved, PlanRejected, PlanRevisionRequested:
		return true
	}
	return false
}
