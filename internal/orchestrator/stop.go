package orchestrator

// Stop reasons a run can end with. Persona-blocker and provider-stop reasons
// carry a suffix after the prefix.
const (
	StopAllTasksCompleted     = "all_tasks_completed"
	StopHumanApprovalRequired = "human_approval_required"
	StopPersonaBlockerPrefix  = "persona_blocker:"
	StopProviderStopPrefix    = "provider_stop:"
	StopProviderError         = "provider_error"
	StopIdleRoundsLimit       = "idle_rounds_limit"
	StopIdleSecondsLimit      = "idle_seconds_limit"
	StopMaxRounds             = "max_rounds"
)
