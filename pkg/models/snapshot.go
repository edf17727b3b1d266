package models

// TaskView is the compact task projection included in provider snapshots.
type TaskView struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Status        string `json:"status"`
	PlanStatus    string `json:"plan_status"`
	Owner         string `json:"owner,omitempty"`
	Planner       string `json:"planner,omitempty"`
	Phase         string `json:"phase,omitempty"`
	BlockReason   string `json:"block_reason,omitempty"`
	RevisionCount int    `json:"revision_count,omitempty"`
}

// RunSnapshot is the state digest sent to the decision provider each round.
type RunSnapshot struct {
	Lead            string              `json:"lead"`
	Subjects        []string            `json:"subjects"`
	Personas        []PersonaDefinition `json:"personas,omitempty"`
	Round           int                 `json:"round"`
	IdleRounds      int                 `json:"idle_rounds"`
	Summary         StatusSummary       `json:"summary"`
	Events          []Event             `json:"events,omitempty"`
	Comments        []PersonaComment    `json:"comments,omitempty"`
	Tasks           []TaskView          `json:"tasks"`
	Messages        []MailMessage       `json:"messages,omitempty"`
	RecentDecisions []string            `json:"recent_decisions,omitempty"`
}
