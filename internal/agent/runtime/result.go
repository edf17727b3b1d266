package runtime

import "strings"

// Execution-result states on the adapter output contract.
const (
	ResultCompleted = "completed"
	ResultBlocked   = "blocked"
)

// ExecutionResult is the parsed trailing block of a subject's execution
// output.
type ExecutionResult struct {
	Result       string
	Summary      string
	ChangedFiles []string
	Checks       string
	Valid        bool // false when no RESULT: marker was found
}

// ParseExecutionResult scans a subject's free-text output for the result
// contract lines: RESULT, SUMMARY, CHANGED_FILES, CHECKS. Lines may appear in
// any order; the last occurrence of each wins. Valid=false means the output
// never declared a result at all (a protocol violation the caller turns into
// a blocked task).
func ParseExecutionResult(output string) ExecutionResult {
	var res ExecutionResult
	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "RESULT:"):
			v := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "RESULT:")))
			if v == ResultCompleted || v == ResultBlocked {
				res.Result = v
				res.Valid = true
			}
		case strings.HasPrefix(line, "SUMMARY:"):
			res.Summary = strings.TrimSpace(strings.TrimPrefix(line, "SUMMARY:"))
		case strings.HasPrefix(line, "CHANGED_FILES:"):
			res.ChangedFiles = nil
			for _, f := range strings.Split(strings.TrimPrefix(line, "CHANGED_FILES:"), ",") {
				if f = strings.TrimSpace(f); f != "" {
					res.ChangedFiles = append(res.ChangedFiles, f)
				}
			}
		case strings.HasPrefix(line, "CHECKS:"):
			res.Checks = strings.TrimSpace(strings.TrimPrefix(line, "CHECKS:"))
		}
	}
	return res
}
