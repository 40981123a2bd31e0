// Package domain defines the core domain models for the orchestrator.
package domain

import (
	"encoding/json"
	"time"
)

// Conversation represents a chat conversation owning messages and runs.
type Conversation struct {
	ConversationID string          `json:"conversation_id"`
	ScopeKey       string          `json:"scope_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// Message represents a single message in a conversation.
type Message struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	RunID          string    `json:"run_id,omitempty"`
	Role           string    `json:"role"` // user, assistant, system
	Content        string    `json:"content"`
	DisplayOrder   int64     `json:"display_order"`
	CreatedAt      time.Time `json:"created_at"`
}

// RunRecord is the durable record of a run in the conversation store.
type RunRecord struct {
	RunID          string          `json:"run_id"`
	ConversationID string          `json:"conversation_id"`
	ScopeKey       string          `json:"scope_key,omitempty"`
	Question       string          `json:"question"`
	Model          string          `json:"model,omitempty"`
	Engine         string          `json:"engine"`
	Status         RunStatus       `json:"status"`
	Result         json.RawMessage `json:"result,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        *time.Time      `json:"ended_at,omitempty"`
}

// Event is one immutable, ordered fact appended to a run's event log.
//
// Metadata always carries event_id, sequence, display_order and run_id;
// tool_call_id, parent_event_id and phase appear when the emitting step
// sets them.
type Event struct {
	EventID      string                 `json:"event_id"`
	RunID        string                 `json:"run_id"`
	Sequence     int64                  `json:"sequence"`
	DisplayOrder int64                  `json:"display_order"`
	Type         EventType              `json:"type"`
	Subtype      EventSubType           `json:"subtype"`
	Content      map[string]interface{} `json:"content,omitempty"`
	Metadata     map[string]interface{} `json:"metadata"`
	Ts           time.Time              `json:"ts"`
	Transient    bool                   `json:"-"`
}

// Approval is a pending or resolved human-in-the-loop decision.
type Approval struct {
	ApprovalID     string          `json:"approval_id"`
	RunID          string          `json:"run_id"`
	ToolName       string          `json:"tool_name"`
	ToolCallID     string          `json:"tool_call_id"`
	RequestPreview json.RawMessage `json:"request_preview,omitempty"`
	Status         ApprovalStatus  `json:"status"`
	Decision       Decision        `json:"decision,omitempty"`
	EditedArgs     json.RawMessage `json:"edited_args,omitempty"`
	DecidedBy      string          `json:"decided_by,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	DecidedAt      *time.Time      `json:"decided_at,omitempty"`
}

// Usage represents token usage reported by the plan builder.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Result is the structured terminal outcome of a run, set exactly once.
type Result struct {
	Status   RunStatus `json:"status"`
	Answer   string    `json:"answer,omitempty"`
	Code     string    `json:"code,omitempty"`
	Message  string    `json:"message,omitempty"`
	ToolName string    `json:"tool_name,omitempty"`
	Usage    *Usage    `json:"usage,omitempty"`
}
