package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/crewsched/crewsched/pkg/models"
)

const defaultLLMModel = "gpt-4o-mini"

const llmSystemPrompt = `You are the lead of a software crew. You receive a JSON snapshot of the ` +
	`run: tasks, events, persona comments, and mailbox. Respond with a single JSON object ` +
	`matching this shape and nothing else: {"task_updates":[{"task_id":"","new_status":"",` +
	`"plan_action":"approve|reject|revise","feedback":""}],"messages":[{"to":"","text_short":""}],` +
	`"stop":{"should_stop":false,"reason_short":""}}. Approve or revise submitted plans, escalate ` +
	`stuck work, and stop the run only when continuing is pointless.`

// LLMOpts configures the LLM-backed provider (OpenAI-compatible API).
type LLMOpts struct {
	BaseURL string // e.g. https://api.openai.com
	APIKey  string
	Model   string
	Client  *http.Client // nil = http.DefaultClient
}

// LLMProvider calls an OpenAI-compatible chat completions endpoint and parses
// the reply content as an OrchestratorDecision. A transport or decode failure
// is retried once before being surfaced.
type LLMProvider struct {
	opts LLMOpts
}

// NewLLMProvider validates the options and returns a provider.
func NewLLMProvider(opts LLMOpts) (*LLMProvider, error) {
	if opts.BaseURL == "" || opts.APIKey == "" {
		return nil, fmt.Errorf("llm provider requires base url and api key")
	}
	if opts.Model == "" {
		opts.Model = defaultLLMModel
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	return &LLMProvider{opts: opts}, nil
}

func (p *LLMProvider) Name() string { return "llm" }

func (p *LLMProvider) Run(ctx context.Context, snapshotJSON []byte) (*models.OrchestratorDecision, error) {
	started := time.Now()
	decision, usage, err := p.call(ctx, snapshotJSON)
	if err != nil {
		slog.Warn("llm provider call failed, retrying once", "err", err)
		decision, usage, err = p.call(ctx, snapshotJSON)
	}
	if err != nil {
		return nil, err
	}
	decision.Meta.Provider = p.Name()
	decision.Meta.Model = p.opts.Model
	decision.Meta.TokenBudget = usage
	decision.Meta.ElapsedMs = time.Since(started).Milliseconds()
	return decision, nil
}

func (p *LLMProvider) call(ctx context.Context, snapshotJSON []byte) (*models.OrchestratorDecision, models.TokenBudget, error) {
	reqBody, err := json.Marshal(map[string]any{
		"model": p.opts.Model,
		"messages": []map[string]string{
			{"role": "system", "content": llmSystemPrompt},
			{"role": "user", "content": string(snapshotJSON)},
		},
		"response_format": map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, models.TokenBudget{}, fmt.Errorf("encode request: %w", err)
	}
	url := strings.TrimSuffix(p.opts.BaseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, models.TokenBudget{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.opts.APIKey)

	resp, err := p.opts.Client.Do(req)
	if err != nil {
		return nil, models.TokenBudget{}, fmt.Errorf("llm request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, models.TokenBudget{}, fmt.Errorf("llm api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, models.TokenBudget{}, fmt.Errorf("decode llm response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, models.TokenBudget{}, fmt.Errorf("llm response has no choices")
	}
	content := strings.TrimSpace(apiResp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var decision models.OrchestratorDecision
	if err := json.Unmarshal([]byte(content), &decision); err != nil {
		return nil, models.TokenBudget{}, fmt.Errorf("decode decision content: %w", err)
	}
	usage := models.TokenBudget{Input: apiResp.Usage.PromptTokens, Output: apiResp.Usage.CompletionTokens}
	return &decision, usage, nil
}
