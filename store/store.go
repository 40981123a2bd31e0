// Package store defines the conversation store interface and implementations.
package store

import (
	"context"

	"github.com/querylab/orchestrator/domain"
)

// Store is the durable record of conversations, messages, events, approvals
// and run outcomes. Write failures are hard errors for the calling run.
type Store interface {
	// Conversation operations
	CreateConversation(ctx context.Context, conv *domain.Conversation) error
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)

	// Message operations
	AppendMessage(ctx context.Context, message *domain.Message) error
	GetMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)

	// Run operations
	MarkRunStarted(ctx context.Context, run *domain.RunRecord) error
	MarkRunCompleted(ctx context.Context, runID string, status domain.RunStatus, result []byte) error
	GetRun(ctx context.Context, runID string) (*domain.RunRecord, error)

	// Event operations
	InsertEvent(ctx context.Context, event *domain.Event) error
	GetEvents(ctx context.Context, runID string, afterSequence int64, limit int) ([]domain.Event, error)

	// Approval operations
	CreateApproval(ctx context.Context, approval *domain.Approval) error
	GetApproval(ctx context.Context, approvalID string) (*domain.Approval, error)
	ListApprovals(ctx context.Context, runID string) ([]domain.Approval, error)
	DecideApproval(ctx context.Context, approvalID string, status domain.ApprovalStatus, decision domain.Decision, editedArgs []byte, decidedBy, reason string) error

	// Lifecycle
	Close() error
}
