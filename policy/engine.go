package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine. It implements ApprovalPolicy for
// deployments where the approval rules live in a Rego module instead of
// the built-in marker check.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.approval_policy.decision"),
		rego.Module("approval_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate runs the policy against the input and returns the decision
// string (allow or require_approval).
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy is expected to define a default.
		return "allow", nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return "allow", nil
}

// RequiresApproval implements ApprovalPolicy.
func (e *Engine) RequiresApproval(ctx context.Context, question string) (bool, error) {
	decision, err := e.Evaluate(ctx, map[string]interface{}{"question": question})
	if err != nil {
		return false, err
	}
	return decision == "require_approval", nil
}

// DefaultPolicy is the default Rego policy content. It encodes the same
// marker rule as MarkerPolicy so the two implementations agree.
const DefaultPolicy = `
package approval_policy

default decision = "allow"

decision = "require_approval" {
	contains(input.question, "[approval]")
}
`
