package policy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylab/orchestrator/policy"
)

func TestMarkerPolicy(t *testing.T) {
	ctx := context.Background()
	p := policy.MarkerPolicy{}

	required, err := p.RequiresApproval(ctx, "what is the total revenue")
	require.NoError(t, err)
	assert.False(t, required)

	required, err = p.RequiresApproval(ctx, "[approval] delete old partitions")
	require.NoError(t, err)
	assert.True(t, required)

	// Marker position does not matter.
	required, err = p.RequiresApproval(ctx, "please run this [approval] now")
	require.NoError(t, err)
	assert.True(t, required)
}

func TestEngineMatchesMarkerPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	require.NoError(t, err)

	marker := policy.MarkerPolicy{}
	questions := []string{
		"plain question",
		"[approval] dangerous action",
		"mixed [approval] marker",
		"",
	}
	for _, q := range questions {
		want, err := marker.RequiresApproval(ctx, q)
		require.NoError(t, err)
		got, err := engine.RequiresApproval(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, want, got, "policies disagree on %q", q)
	}
}

func TestEngineEvaluate(t *testing.T) {
	ctx := context.Background()
	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	require.NoError(t, err)

	decision, err := engine.Evaluate(ctx, map[string]interface{}{"question": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "allow", decision)

	decision, err = engine.Evaluate(ctx, map[string]interface{}{"question": "[approval] x"})
	require.NoError(t, err)
	assert.Equal(t, "require_approval", decision)
}

func TestEngineRejectsBadPolicy(t *testing.T) {
	_, err := policy.NewEngine(context.Background(), "not rego at all {{{")
	assert.Error(t, err)
}
