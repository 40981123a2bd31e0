package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylab/orchestrator/domain"
	"github.com/querylab/orchestrator/store"
	"github.com/querylab/orchestrator/tests/helpers"
)

func seedRun(t *testing.T, s *store.SQLiteStore, runID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, &domain.Conversation{
		ConversationID: "conv_" + runID,
		CreatedAt:      time.Now(),
	}))
	require.NoError(t, s.MarkRunStarted(ctx, &domain.RunRecord{
		RunID:          runID,
		ConversationID: "conv_" + runID,
		Question:       "q",
		Engine:         "static",
		Status:         domain.RunStatusRunning,
		StartedAt:      time.Now(),
	}))
}

func TestRunLifecycle(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	ctx := context.Background()
	seedRun(t, s, "run_aaa")

	run, err := s.GetRun(ctx, "run_aaa")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, domain.RunStatusRunning, run.Status)
	assert.Nil(t, run.EndedAt)

	result, _ := json.Marshal(domain.Result{Status: domain.RunStatusCompleted, Answer: "done"})
	require.NoError(t, s.MarkRunCompleted(ctx, "run_aaa", domain.RunStatusCompleted, result))

	run, err = s.GetRun(ctx, "run_aaa")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.NotNil(t, run.EndedAt)
	assert.JSONEq(t, string(result), string(run.Result))

	err = s.MarkRunCompleted(ctx, "run_missing", domain.RunStatusFailed, nil)
	assert.Error(t, err)

	missing, err := s.GetRun(ctx, "run_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEventRoundTrip(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	ctx := context.Background()
	seedRun(t, s, "run_evt")

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, s.InsertEvent(ctx, &domain.Event{
			EventID:      "evt_" + string(rune('a'+i)),
			RunID:        "run_evt",
			Sequence:     i,
			DisplayOrder: i + 1,
			Type:         domain.EventTypeReasoning,
			Subtype:      domain.EventSubTypeChunk,
			Content:      map[string]interface{}{"text": "step"},
			Metadata:     map[string]interface{}{"run_id": "run_evt"},
			Ts:           time.Now(),
		}))
	}

	// Duplicate (run_id, sequence) pairs are rejected.
	err := s.InsertEvent(ctx, &domain.Event{
		EventID:  "evt_dup",
		RunID:    "run_evt",
		Sequence: 2,
		Type:     domain.EventTypeReasoning,
		Subtype:  domain.EventSubTypeChunk,
		Ts:       time.Now(),
	})
	assert.Error(t, err)

	events, err := s.GetEvents(ctx, "run_evt", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Sequence)
		assert.Equal(t, "step", ev.Content["text"])
		assert.Equal(t, "run_evt", ev.Metadata["run_id"])
	}

	events, err = s.GetEvents(ctx, "run_evt", 1, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Sequence)
}

func TestMessagesOrderedByDisplayOrder(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateConversation(ctx, &domain.Conversation{
		ConversationID: "conv_m",
		CreatedAt:      time.Now(),
	}))

	for i, order := range []int64{3, 1, 2} {
		require.NoError(t, s.AppendMessage(ctx, &domain.Message{
			MessageID:      "msg_" + string(rune('a'+i)),
			ConversationID: "conv_m",
			Role:           "user",
			Content:        "m",
			DisplayOrder:   order,
			CreatedAt:      time.Now(),
		}))
	}

	messages, err := s.GetMessages(ctx, "conv_m", 0)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i, m := range messages {
		assert.Equal(t, int64(i+1), m.DisplayOrder)
	}
}

func TestDecideApprovalOnlyOncePending(t *testing.T) {
	s := helpers.NewTestSQLiteStore(t)
	ctx := context.Background()
	seedRun(t, s, "run_ap")

	require.NoError(t, s.CreateApproval(ctx, &domain.Approval{
		ApprovalID:     "ap_1",
		RunID:          "run_ap",
		ToolName:       "execute_request",
		ToolCallID:     "tc_1",
		RequestPreview: json.RawMessage(`{"tool_name":"execute_request"}`),
		Status:         domain.ApprovalStatusPending,
		CreatedAt:      time.Now(),
	}))

	require.NoError(t, s.DecideApproval(ctx, "ap_1", domain.ApprovalStatusApproved,
		domain.DecisionApprove, nil, "alice", ""))

	// The conditional update only matches pending rows, so the second
	// decision loses.
	err := s.DecideApproval(ctx, "ap_1", domain.ApprovalStatusRejected,
		domain.DecisionReject, nil, "bob", "changed")
	assert.Error(t, err)

	approval, err := s.GetApproval(ctx, "ap_1")
	require.NoError(t, err)
	require.NotNil(t, approval)
	assert.Equal(t, domain.ApprovalStatusApproved, approval.Status)
	assert.Equal(t, domain.DecisionApprove, approval.Decision)
	assert.Equal(t, "alice", approval.DecidedBy)
	assert.NotNil(t, approval.DecidedAt)

	missing, err := s.GetApproval(ctx, "ap_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
