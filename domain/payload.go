package domain

// Result codes recorded in a run's terminal Result.
const (
	ResultCodeApprovalRejected = "approval_rejected"
	ResultCodeExecutionFailure = "execution_failure"
	ResultCodeCancelled        = "cancelled"
	ResultCodeTimedOut         = "timed_out"
)

// InterruptReason pairs an interruption kind with a caller-supplied reason.
type InterruptReason struct {
	Kind   InterruptKind `json:"kind"`
	Reason string        `json:"reason,omitempty"`
}

// Code returns the result code for the interruption kind.
func (r InterruptReason) Code() string {
	if r.Kind == InterruptTimedOut {
		return ResultCodeTimedOut
	}
	return ResultCodeCancelled
}
