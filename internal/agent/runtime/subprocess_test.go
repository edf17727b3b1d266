package runtime

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crewsched/crewsched/pkg/models"
)

func TestSubprocessAdapter_emptyCommand(t *testing.T) {
	t.Parallel()
	var a SubprocessAdapter
	if _, err := a.ExecuteTask(context.Background(), "alice", models.Task{ID: "t1"}, nil); err == nil {
		t.Fatal("expected error when command empty")
	}
}

func TestSubprocessAdapter_executeScript(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	script := filepath.Join(dir, "worker.sh")
	// Script: consume the JSON request, report progress, then the result block.
	content := `#!/bin/sh
read req
echo "working on it"
echo "RESULT: completed"
echo "SUMMARY: done by $CREWSCHED_SUBJECT"
`
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	a := SubprocessAdapter{Command: script, Timeout: 5 * time.Second}
	var progress []string
	out, err := a.ExecuteTask(context.Background(), "alice", models.Task{ID: "t1"}, func(line string) {
		progress = append(progress, line)
	})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	res := ParseExecutionResult(out)
	if !res.Valid || res.Result != ResultCompleted || res.Summary != "done by alice" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(progress) == 0 || progress[0] != "working on it" {
		t.Fatalf("progress lines: %v", progress)
	}
}

func TestSubprocessAdapter_timeout(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	script := filepath.Join(dir, "hang.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 10\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	a := SubprocessAdapter{Command: script, Timeout: 200 * time.Millisecond}
	_, err := a.ExecuteTask(context.Background(), "alice", models.Task{ID: "t1"}, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("error: %v", err)
	}
}
