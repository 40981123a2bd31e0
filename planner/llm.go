package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/querylab/orchestrator/domain"
)

// LLMBuilder builds plans by calling an OpenAI-compatible chat completions
// endpoint (LiteLLM or similar).
type LLMBuilder struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewLLMBuilder creates an LLM-backed plan builder.
func NewLLMBuilder(baseURL, apiKey string, timeout time.Duration) *LLMBuilder {
	return &LLMBuilder{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls,omitempty"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

const plannerSystemPrompt = "You are an analytics assistant. Answer the user's question about their data concisely."

// BuildPlan implements Builder.
func (b *LLMBuilder) BuildPlan(ctx context.Context, question, model string, approvalRequired bool) (*Plan, error) {
	if model == "" {
		model = "gpt-4o-mini"
	}

	reqBody, err := json.Marshal(chatCompletionRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: plannerSystemPrompt},
			{Role: "user", Content: question},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/v1/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm API error [%d]: %s", resp.StatusCode, string(body))
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("llm returned no choices")
	}

	choice := completion.Choices[0].Message
	plan := &Plan{Answer: choice.Content}
	if len(choice.ToolCalls) > 0 {
		plan.ToolName = choice.ToolCalls[0].Function.Name
		plan.ToolInput = json.RawMessage(choice.ToolCalls[0].Function.Arguments)
	}
	if approvalRequired && plan.ToolName == "" {
		input, _ := json.Marshal(map[string]string{"request": question})
		plan.ToolName = "execute_request"
		plan.ToolInput = input
	}
	if completion.Usage != nil {
		plan.Usage = &domain.Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		}
	}
	return plan, nil
}
