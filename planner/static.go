package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/querylab/orchestrator/domain"
)

// StaticBuilder is the default deterministic plan builder. It produces a
// canned analytics answer without calling any model, which keeps local
// development and tests hermetic.
type StaticBuilder struct {
	// Delay hook for tests; called before building when non-nil.
	BeforeBuild func(ctx context.Context) error
}

// NewStaticBuilder creates a static plan builder.
func NewStaticBuilder() *StaticBuilder {
	return &StaticBuilder{}
}

// BuildPlan implements Builder.
func (b *StaticBuilder) BuildPlan(ctx context.Context, question, model string, approvalRequired bool) (*Plan, error) {
	if b.BeforeBuild != nil {
		if err := b.BeforeBuild(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(question)
	answer := fmt.Sprintf(
		"Here is what I found for %q: the requested analysis completed against the active dataset. "+
			"Review the result table for details.", trimmed)

	plan := &Plan{
		Answer: answer,
		Usage: &domain.Usage{
			PromptTokens:     len(strings.Fields(trimmed)),
			CompletionTokens: len(strings.Fields(answer)),
		},
	}
	plan.Usage.TotalTokens = plan.Usage.PromptTokens + plan.Usage.CompletionTokens

	if approvalRequired {
		input, _ := json.Marshal(map[string]string{"request": trimmed})
		plan.ToolName = "execute_request"
		plan.ToolInput = input
	} else if strings.Contains(strings.ToLower(trimmed), "revenue") ||
		strings.Contains(strings.ToLower(trimmed), "query") {
		input, _ := json.Marshal(map[string]string{"sql": "SELECT * FROM analysis_result"})
		plan.ToolName = "query_sql"
		plan.ToolInput = input
	}

	return plan, nil
}
