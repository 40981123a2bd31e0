package planner_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylab/orchestrator/planner"
)

func TestStaticBuilderAnswer(t *testing.T) {
	b := planner.NewStaticBuilder()
	ctx := context.Background()

	plan, err := b.BuildPlan(ctx, "how are signups trending", "", false)
	require.NoError(t, err)
	assert.NotEmpty(t, plan.Answer)
	assert.Empty(t, plan.ToolName)
	require.NotNil(t, plan.Usage)
	assert.Equal(t, plan.Usage.PromptTokens+plan.Usage.CompletionTokens, plan.Usage.TotalTokens)
}

func TestStaticBuilderToolSelection(t *testing.T) {
	b := planner.NewStaticBuilder()
	ctx := context.Background()

	plan, err := b.BuildPlan(ctx, "what is the total revenue", "", false)
	require.NoError(t, err)
	assert.Equal(t, "query_sql", plan.ToolName)

	// Approval takes precedence over the keyword heuristic.
	plan, err = b.BuildPlan(ctx, "[approval] query everything", "", true)
	require.NoError(t, err)
	assert.Equal(t, "execute_request", plan.ToolName)

	var input map[string]string
	require.NoError(t, json.Unmarshal(plan.ToolInput, &input))
	assert.Contains(t, input["request"], "query everything")
}

func TestStaticBuilderHonorsContext(t *testing.T) {
	b := planner.NewStaticBuilder()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.BuildPlan(ctx, "q", "", false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLLMBuilder(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel, _ = req["model"].(string)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": "the answer"}},
			},
			"usage": map[string]int{
				"prompt_tokens":     10,
				"completion_tokens": 5,
				"total_tokens":      15,
			},
		})
	}))
	defer srv.Close()

	b := planner.NewLLMBuilder(srv.URL, "test-key", 5*time.Second)
	plan, err := b.BuildPlan(context.Background(), "question", "", false)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", gotModel)
	assert.Equal(t, "the answer", plan.Answer)
	require.NotNil(t, plan.Usage)
	assert.Equal(t, 15, plan.Usage.TotalTokens)
}

func TestLLMBuilderSynthesizesApprovalTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	b := planner.NewLLMBuilder(srv.URL, "", 5*time.Second)
	plan, err := b.BuildPlan(context.Background(), "[approval] do it", "m", true)
	require.NoError(t, err)
	assert.Equal(t, "execute_request", plan.ToolName)
}

func TestLLMBuilderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	b := planner.NewLLMBuilder(srv.URL, "", 5*time.Second)
	_, err := b.BuildPlan(context.Background(), "q", "", false)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
