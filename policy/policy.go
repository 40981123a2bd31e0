// Package policy decides whether a run's tool call requires human approval.
package policy

import (
	"context"
	"strings"
)

// ApprovalMarker is the question marker that triggers the approval gate
// under the default policy.
const ApprovalMarker = "[approval]"

// ApprovalPolicy decides whether answering a question requires a human
// approval before any tool executes.
type ApprovalPolicy interface {
	RequiresApproval(ctx context.Context, question string) (bool, error)
}

// MarkerPolicy is the default deterministic policy: approval is required
// iff the question contains ApprovalMarker.
type MarkerPolicy struct{}

// RequiresApproval implements ApprovalPolicy.
func (MarkerPolicy) RequiresApproval(_ context.Context, question string) (bool, error) {
	return strings.Contains(question, ApprovalMarker), nil
}
