package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce     sync.Once
	roundsCounter       metric.Int64Counter
	taskOpsCounter      metric.Int64Counter
	subjectTurnDuration metric.Float64Histogram
	personaComments     metric.Int64Counter
	providerCalls       metric.Int64Counter
	runStops            metric.Int64Counter
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only
// runs once. Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		roundsCounter, err = m.Int64Counter("crewsched_rounds_total", metric.WithDescription("Orchestrator rounds executed"))
		if err != nil {
			return
		}
		taskOpsCounter, err = m.Int64Counter("crewsched_task_operations_total", metric.WithDescription("Task operations (claim, submit, approve, complete, block)"))
		if err != nil {
			return
		}
		subjectTurnDuration, err = m.Float64Histogram("crewsched_subject_turn_duration_seconds", metric.WithDescription("Subject plan/execution turn duration in seconds"))
		if err != nil {
			return
		}
		personaComments, err = m.Int64Counter("crewsched_persona_comments_total", metric.WithDescription("Persona comments emitted, by severity"))
		if err != nil {
			return
		}
		providerCalls, err = m.Int64Counter("crewsched_provider_calls_total", metric.WithDescription("Decision provider invocations"))
		if err != nil {
			return
		}
		runStops, err = m.Int64Counter("crewsched_run_stops_total", metric.WithDescription("Run terminations, by stop reason"))
	})
	return err
}

// RecordRound counts one orchestrator round.
func RecordRound(ctx context.Context) {
	if roundsCounter != nil {
		roundsCounter.Add(ctx, 1)
	}
}

// RecordTaskOp records one store-level task operation.
func RecordTaskOp(ctx context.Context, op, subject, status string) {
	if taskOpsCounter != nil {
		taskOpsCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			AttrSubject.String(subject),
			AttrStatus.String(status),
		))
	}
}

// RecordSubjectTurn records one subject turn and its duration.
func RecordSubjectTurn(ctx context.Context, subject string, duration time.Duration) {
	if subjectTurnDuration != nil {
		subjectTurnDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrSubject.String(subject)))
	}
}

// RecordPersonaComment counts one persona comment by severity.
func RecordPersonaComment(ctx context.Context, severity string) {
	if personaComments != nil {
		personaComments.Add(ctx, 1, metric.WithAttributes(AttrSeverity.String(severity)))
	}
}

// RecordProviderCall counts one decision provider invocation.
func RecordProviderCall(ctx context.Context, provider string) {
	if providerCalls != nil {
		providerCalls.Add(ctx, 1, metric.WithAttributes(AttrProvider.String(provider)))
	}
}

// RecordRunStop counts one run termination by stop reason.
func RecordRunStop(ctx context.Context, reason string) {
	if runStops != nil {
		runStops.Add(ctx, 1, metric.WithAttributes(AttrReason.String(reason)))
	}
}
