// Package runtime defines how execution subjects (teammates or executable
// personas) are invoked: plan drafting and task execution as synchronous,
// timeout-bound calls to out-of-process work.
package runtime

import (
	"context"

	"github.com/crewsched/crewsched/pkg/models"
)

// Request actions on the adapter wire.
const (
	ActionBuildPlan   = "build_plan"
	ActionExecuteTask = "execute_task"
)

// TurnRequest is the JSON payload handed to an adapter implementation.
type TurnRequest struct {
	Action    string      `json:"action"`
	SubjectID string      `json:"subject_id"`
	Task      models.Task `json:"task"`
	Phase     string      `json:"phase,omitempty"`
}

// Adapter runs one subject turn. BuildPlan returns a drafted plan text.
// ExecuteTask returns the subject's free-text output, which is expected to end
// with a RESULT block; onProgress (optional) receives intermediate lines.
type Adapter interface {
	Name() string
	BuildPlan(ctx context.Context, subjectID string, task models.Task) (string, error)
	ExecuteTask(ctx context.Context, subjectID string, task models.Task, onProgress func(string)) (string, error)
}
