package domain

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusTimedOut  RunStatus = "timed_out"
)

// IsTerminal reports whether the status is one of the four terminal states.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusTimedOut:
		return true
	}
	return false
}

// EventType is the coarse category of an event.
type EventType string

const (
	EventTypeReasoning EventType = "reasoning"
	EventTypeTool      EventType = "tool"
	EventTypeMessage   EventType = "message"
	EventTypeRun       EventType = "run"
)

// EventSubType refines an EventType.
type EventSubType string

const (
	EventSubTypeStart EventSubType = "start"
	EventSubTypeChunk EventSubType = "chunk"
	EventSubTypeEnd   EventSubType = "end"
	EventSubTypeError EventSubType = "error"
	EventSubTypeFinal EventSubType = "final"
)

// Decision is a human approval decision.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionEdit    Decision = "edit"
)

// Valid reports whether the decision is one of the three accepted values.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject || d == DecisionEdit
}

// ApprovalStatus represents the status of an approval record.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusEdited   ApprovalStatus = "edited"
)

// InterruptKind distinguishes the two non-error terminal causes.
type InterruptKind string

const (
	InterruptCancelled InterruptKind = "cancelled"
	InterruptTimedOut  InterruptKind = "timed_out"
)

// Status maps an interruption kind to its terminal run status.
func (k InterruptKind) Status() RunStatus {
	if k == InterruptTimedOut {
		return RunStatusTimedOut
	}
	return RunStatusCancelled
}

// Reasoning phases carried in event metadata.
const (
	PhaseLLMStart = "llm_start"
	PhaseLLMEnd   = "llm_end"
	PhaseLLMUsage = "llm_usage"
)

// CancelOutcome is the result of a cancellation request.
type CancelOutcome string

const (
	CancelAlreadyFinished       CancelOutcome = "already_finished"
	CancelCancellationRequested CancelOutcome = "cancellation_requested"
)
