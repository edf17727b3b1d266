package orchestrator

import (
	"regexp"
	"strings"
)

// StopRule is the closed set of reviewer-stop rules.
type StopRule string

const (
	RuleNone             StopRule = ""
	RuleRequirementDrift StopRule = "requirement_drift"
	RuleOverEditing      StopRule = "over_editing"
	RuleVerbosity        StopRule = "verbosity"
)

// ReviewerStopClassifier scans reviewer output for stop signals. The token and
// alias tables are plain data so locales and aliases can be extended without
// touching the matching logic.
type ReviewerStopClassifier struct {
	// Aliases maps the token after a canonical marker to a rule.
	Aliases map[string]StopRule
	// Hints are generic stop phrases; a hint plus a rule pattern together
	// classify output that lacks an explicit token.
	Hints []string
	// RulePatterns maps each rule to phrases indicating that rule.
	RulePatterns map[StopRule][]string
}

var stopTokenRe = regexp.MustCompile(`(?i)\b(?:REVIEWER_STOP|REVIEW_STOP|STOP_REVIEW)\s*:\s*([a-z_\-]+)`)

// NewReviewerStopClassifier returns the classifier with the default alias and
// hint tables.
func NewReviewerStopClassifier() *ReviewerStopClassifier {
	return &ReviewerStopClassifier{
		Aliases: map[string]StopRule{
			"requirement_drift": RuleRequirementDrift,
			"requirement-drift": RuleRequirementDrift,
			"drift":             RuleRequirementDrift,
			"scope_creep":       RuleRequirementDrift,
			"over_editing":      RuleOverEditing,
			"over-editing":      RuleOverEditing,
			"overediting":       RuleOverEditing,
			"over_edit":         RuleOverEditing,
			"verbosity":         RuleVerbosity,
			"verbose":           RuleVerbosity,
		},
		Hints: []string{"stop", "blocker", "violation", "halt", "must not continue"},
		RulePatterns: map[StopRule][]string{
			RuleRequirementDrift: {"requirement drift", "scope creep", "off-spec", "deviates from the requirements", "not what was asked"},
			RuleOverEditing:      {"over-editing", "over editing", "unnecessary changes", "unrelated edits", "rewrote too much", "touched files outside"},
			RuleVerbosity:        {"too verbose", "overly verbose", "verbosity", "excessive output", "walls of text"},
		},
	}
}

// Classify returns the matched rule, or RuleNone. An explicit token wins; a
// generic hint combined with a rule-specific pattern is the fallback.
func (c *ReviewerStopClassifier) Classify(output string) StopRule {
	if m := stopTokenRe.FindStringSubmatch(output); m != nil {
		if rule, ok := c.Aliases[strings.ToLower(m[1])]; ok {
			return rule
		}
	}
	lower := strings.ToLower(output)
	hinted := false
	for _, h := range c.Hints {
		if strings.Contains(lower, h) {
			hinted = true
			break
		}
	}
	if !hinted {
		return RuleNone
	}
	for _, rule := range []StopRule{RuleRequirementDrift, RuleOverEditing, RuleVerbosity} {
		for _, p := range c.RulePatterns[rule] {
			if strings.Contains(lower, p) {
				return rule
			}
		}
	}
	return RuleNone
}
