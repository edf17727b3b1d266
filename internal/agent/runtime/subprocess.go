package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/crewsched/crewsched/pkg/models"
)

// SubprocessAdapter runs a local worker binary per turn: stdin carries one
// JSON TurnRequest, stdout is free text streamed line by line. The process is
// killed when the per-turn timeout or the caller's context expires.
type SubprocessAdapter struct {
	Command string
	Args    []string
	Timeout time.Duration // 0 = context only
	Env     []string      // extra KEY=VALUE pairs appended to the environment
}

func (a SubprocessAdapter) Name() string { return "subprocess" }

func (a SubprocessAdapter) BuildPlan(ctx context.Context, subjectID string, task models.Task) (string, error) {
	return a.runTurn(ctx, TurnRequest{Action: ActionBuildPlan, SubjectID: subjectID, Task: task}, nil)
}

func (a SubprocessAdapter) ExecuteTask(ctx context.Context, subjectID string, task models.Task, onProgress func(string)) (string, error) {
	return a.runTurn(ctx, TurnRequest{Action: ActionExecuteTask, SubjectID: subjectID, Task: task}, onProgress)
}

func (a SubprocessAdapter) runTurn(ctx context.Context, req TurnRequest, onProgress func(string)) (string, error) {
	if a.Command == "" {
		return "", errors.New("subprocess command is required")
	}
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, a.Command, a.Args...)
	cmd.Env = append(os.Environ(),
		"CREWSCHED_SUBJECT="+req.SubjectID,
		"CREWSCHED_ACTION="+req.Action,
	)
	cmd.Env = append(cmd.Env, a.Env...)

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode turn request: %w", err)
	}
	cmd.Stdin = strings.NewReader(string(reqJSON) + "\n")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", a.Command, err)
	}

	var output strings.Builder
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		output.WriteString(line)
		output.WriteString("\n")
		if onProgress != nil && strings.TrimSpace(line) != "" {
			onProgress(line)
		}
	}
	scanErr := sc.Err()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("subject %s turn timed out: %w", req.SubjectID, ctx.Err())
		}
		slog.Warn("subprocess turn exited with error", "command", a.Command, "subject", req.SubjectID, "err", err)
		return "", fmt.Errorf("subject %s turn failed: %w", req.SubjectID, err)
	}
	if scanErr != nil {
		return "", fmt.Errorf("read subprocess output: %w", scanErr)
	}
	return strings.TrimSpace(output.String()), nil
}
