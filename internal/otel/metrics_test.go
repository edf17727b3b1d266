package otel

import (
	"context"
	"testing"
	"time"
)

func TestRecordersAreNilSafeBeforeInit(t *testing.T) {
	ctx := context.Background()
	// None of these may panic even if InitMetrics never ran in this process.
	RecordRound(ctx)
	RecordTaskOp(ctx, "claim", "alice", "in_progress")
	RecordSubjectTurn(ctx, "alice", 100*time.Millisecond)
	RecordPersonaComment(ctx, "warn")
	RecordProviderCall(ctx, "mock")
	RecordRunStop(ctx, "all_tasks_completed")
}

func TestInitMetricsAndRecord(t *testing.T) {
	ctx := context.Background()
	if _, err := InitMeterProvider(ctx, "metrics-test"); err != nil {
		t.Fatalf("InitMeterProvider: %v", err)
	}
	if err := InitMetrics(ctx); err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	RecordRound(ctx)
	RecordTaskOp(ctx, "complete", "alice", "completed")
	RecordSubjectTurn(ctx, "alice", 50*time.Millisecond)
	RecordPersonaComment(ctx, "blocker")
	RecordProviderCall(ctx, "llm")
	RecordRunStop(ctx, "max_rounds")
}
