// Package provider holds the decision-provider implementations the
// orchestrator consults between rounds: a deterministic mock for tests and
// offline runs, and an LLM-backed client speaking the OpenAI-compatible chat
// API.
package provider

import (
	"context"

	"github.com/crewsched/crewsched/pkg/models"
)

// Provider turns a run snapshot into an orchestrator decision. The returned
// decision is raw; the orchestrator validates it with Normalize before
// applying anything.
type Provider interface {
	Name() string
	Run(ctx context.Context, snapshotJSON []byte) (*models.OrchestratorDecision, error)
}
