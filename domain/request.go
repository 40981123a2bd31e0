package domain

// StartRunRequest is the request to start an agent run.
type StartRunRequest struct {
	Question       string            `json:"question"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Model          string            `json:"model,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ScopeKey       string            `json:"scope_key,omitempty"`
	TimeoutMs      int64             `json:"timeout_ms,omitempty"`
	Engine         string            `json:"engine,omitempty"`
}

// StartRunResponse is returned when a run has been created.
type StartRunResponse struct {
	ConversationID string `json:"conversation_id"`
	RunID          string `json:"run_id"`
	EventsURL      string `json:"events_url"`
}

// RunSnapshot is the caller-visible status/result snapshot of a run.
type RunSnapshot struct {
	RunID          string    `json:"run_id"`
	ConversationID string    `json:"conversation_id"`
	Status         RunStatus `json:"status"`
	Engine         string    `json:"engine"`
	Result         *Result   `json:"result,omitempty"`
}

// DecideApprovalRequest is the request to decide a pending approval.
type DecideApprovalRequest struct {
	Decision   Decision               `json:"decision"`
	EditedArgs map[string]interface{} `json:"edited_args,omitempty"`
	DecidedBy  string                 `json:"decided_by,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	ScopeKey   string                 `json:"scope_key,omitempty"`
}

// CancelRunRequest is the request to cancel a run.
type CancelRunRequest struct {
	Reason   string `json:"reason,omitempty"`
	ScopeKey string `json:"scope_key,omitempty"`
}

// CancelRunResponse reports the outcome of a cancellation request.
type CancelRunResponse struct {
	RunID   string        `json:"run_id"`
	Outcome CancelOutcome `json:"outcome"`
}
