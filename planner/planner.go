// Package planner abstracts the plan builder: given a question it returns
// an answer plus an optional proposed tool call. Any internal fallback
// between strategies is an adapter's private concern.
package planner

import (
	"context"
	"encoding/json"

	"github.com/querylab/orchestrator/domain"
)

// Plan is the single-shot output of a plan builder.
type Plan struct {
	Answer    string          `json:"answer"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	Usage     *domain.Usage   `json:"usage,omitempty"`
}

// Builder builds a plan for a question. Implementations may block; they
// must honor ctx cancellation.
type Builder interface {
	BuildPlan(ctx context.Context, question, model string, approvalRequired bool) (*Plan, error)
}

// Engine names understood by the registry's engine selection.
const (
	EngineStatic = "static"
	EngineLLM    = "llm"
)
