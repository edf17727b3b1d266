package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/crewsched/crewsched/pkg/models"
)

// StubAdapter is a deterministic adapter that drafts templated plans and
// reports every execution as completed, without spawning subprocesses.
type StubAdapter struct{}

func (StubAdapter) Name() string { return "stub" }

func (StubAdapter) BuildPlan(ctx context.Context, subjectID string, task models.Task) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Plan for %s by %s\n", task.ID, subjectID)
	fmt.Fprintf(&b, "1. Review %q\n", task.Title)
	for _, p := range task.TargetPaths {
		fmt.Fprintf(&b, "2. Edit %s\n", p)
	}
	b.WriteString("3. Verify and hand off\n")
	return b.String(), nil
}

func (StubAdapter) ExecuteTask(ctx context.Context, subjectID string, task models.Task, onProgress func(string)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if onProgress != nil {
		onProgress(fmt.Sprintf("%s working on %s", subjectID, task.ID))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Finished %q.\n", task.Title)
	b.WriteString("RESULT: completed\n")
	fmt.Fprintf(&b, "SUMMARY: %s done by %s\n", task.ID, subjectID)
	if len(task.TargetPaths) > 0 {
		fmt.Fprintf(&b, "CHANGED_FILES: %s\n", strings.Join(task.TargetPaths, ","))
	}
	return b.String(), nil
}
