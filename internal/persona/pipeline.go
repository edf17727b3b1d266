package persona

import (
	"fmt"
	"sort"

	"github.com/crewsched/crewsched/pkg/models"
)

// severityFor maps event types to comment severities. Event types outside the
// table produce no comments.
var severityFor = map[string]string{
	models.EventKickoff:           models.SeverityInfo,
	models.EventTaskCompleted:     models.SeverityInfo,
	models.EventNeedsApproval:     models.SeverityWarn,
	models.EventNoProgress:        models.SeverityWarn,
	models.EventCollision:         models.SeverityWarn,
	models.EventBlocked:           models.SeverityCritical,
	models.EventReviewerViolation: models.SeverityBlocker,
}

// Evaluate runs a batch of events through the persona set and returns the
// selected comments. For each mapped event, every persona in active (all
// enabled personas when active is nil) contributes one comment; the per-event
// set is sorted by severity rank, then persona id, then task id, and trimmed
// to maxCommentsPerEvent (default 2). Deterministic for identical inputs.
func Evaluate(events []models.Event, active []models.PersonaDefinition, maxCommentsPerEvent int) []models.PersonaComment {
	if maxCommentsPerEvent <= 0 {
		maxCommentsPerEvent = models.DefaultMaxCommentsPerEvent
	}
	var out []models.PersonaComment
	for _, ev := range events {
		severity, mapped := severityFor[ev.Type]
		if !mapped {
			continue
		}
		var batch []models.PersonaComment
		for _, p := range active {
			if !p.Enabled {
				continue
			}
			batch = append(batch, models.PersonaComment{
				PersonaID: p.ID,
				Role:      p.Role,
				Severity:  severity,
				TaskID:    ev.TaskID,
				EventType: ev.Type,
				Text:      commentText(p, ev),
			})
		}
		sort.SliceStable(batch, func(i, j int) bool {
			a, b := batch[i], batch[j]
			if ra, rb := models.SeverityRank(a.Severity), models.SeverityRank(b.Severity); ra != rb {
				return ra < rb
			}
			if a.PersonaID != b.PersonaID {
				return a.PersonaID < b.PersonaID
			}
			return a.TaskID < b.TaskID
		})
		if len(batch) > maxCommentsPerEvent {
			batch = batch[:maxCommentsPerEvent]
		}
		out = append(out, batch...)
	}
	return out
}

func commentText(p models.PersonaDefinition, ev models.Event) string {
	subject := ev.TaskID
	if subject == "" {
		subject = "run"
	}
	detail := ev.Detail
	if detail == "" {
		detail = ev.Type
	}
	return fmt.Sprintf("[%s] %s on %s: %s", p.Role, ev.Type, subject, detail)
}
