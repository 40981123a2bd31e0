package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/querylab/orchestrator/domain"
)

// EventDraft is the driver-side input to emit: everything except the
// ordering fields, which emit allocates.
type EventDraft struct {
	Type          domain.EventType
	Subtype       domain.EventSubType
	Content       map[string]interface{}
	ToolCallID    string
	ParentEventID string
	Phase         string

	// Transient events are delivered to subscribers and kept in the
	// in-memory log for replay, but never written to the store.
	Transient bool
}

// emit allocates sequence and display_order for the draft, appends the
// resulting immutable event to the run's log, writes it through to the
// store unless transient, and hands it to the fanout. A store write failure
// is a hard error for the run.
func (g *Registry) emit(ctx context.Context, run *Run, draft EventDraft) (*domain.Event, error) {
	run.mu.Lock()
	run.sequence++
	run.displayOrder++
	event := &domain.Event{
		EventID:      "evt_" + uuid.New().String()[:8],
		RunID:        run.ID,
		Sequence:     run.sequence,
		DisplayOrder: run.displayOrder,
		Type:         draft.Type,
		Subtype:      draft.Subtype,
		Content:      draft.Content,
		Ts:           time.Now(),
		Transient:    draft.Transient,
	}
	metadata := map[string]interface{}{
		"event_id":        event.EventID,
		"sequence":        event.Sequence,
		"display_order":   event.DisplayOrder,
		"run_id":          run.ID,
		"conversation_id": run.ConversationID,
	}
	if draft.ToolCallID != "" {
		metadata["tool_call_id"] = draft.ToolCallID
	}
	if draft.ParentEventID != "" {
		metadata["parent_event_id"] = draft.ParentEventID
	}
	if draft.Phase != "" {
		metadata["phase"] = draft.Phase
	}
	event.Metadata = metadata

	run.log = append(run.log, event)
	run.publish(event)
	run.mu.Unlock()

	if !draft.Transient {
		if err := g.store.InsertEvent(ctx, event); err != nil {
			return nil, fmt.Errorf("failed to persist event %s: %w", event.EventID, err)
		}
	}

	g.metrics.EventEmitted(string(draft.Type))
	return event, nil
}
