package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/querylab/orchestrator/domain"
	"github.com/querylab/orchestrator/planner"
)

// answerChunkSize is the fixed chunk length, in runes, for streamed answer
// text deltas.
const answerChunkSize = 48

// executeRun drives one run from creation to a terminal status. It is the
// only goroutine that mutates the run's fields.
func (g *Registry) executeRun(run *Run, builder planner.Builder) {
	ctx := context.Background()

	err := g.runSteps(ctx, run, builder)
	if err == nil {
		return
	}

	if reason, ok := run.interrupted(); ok {
		result := &domain.Result{
			Status:  reason.Kind.Status(),
			Code:    reason.Code(),
			Message: reason.Reason,
		}
		g.emitTerminal(ctx, run, result)
		g.finish(run, result.Status, result)
		return
	}

	log.Printf("ERROR: run %s failed: %v", run.ID, err)
	result := &domain.Result{
		Status:  domain.RunStatusFailed,
		Code:    domain.ResultCodeExecutionFailure,
		Message: err.Error(),
	}
	g.emitTerminal(ctx, run, result)
	g.finish(run, domain.RunStatusFailed, result)
}

// runSteps executes the driver's step sequence. Terminal handling for the
// happy path and for approval rejection happens inline; interruption and
// unexpected failures are returned to executeRun.
func (g *Registry) runSteps(ctx context.Context, run *Run, builder planner.Builder) error {
	if _, ok := run.interrupted(); ok {
		return domain.ErrInterrupted
	}

	// Step 1: engine was selected at creation; announce planning.
	if _, err := g.emit(ctx, run, EventDraft{
		Type:    domain.EventTypeReasoning,
		Subtype: domain.EventSubTypeStart,
		Phase:   domain.PhaseLLMStart,
		Content: map[string]interface{}{"engine": run.Engine},
	}); err != nil {
		return err
	}

	// Step 2: plan, with the approval predicate applied to the question.
	approvalRequired, err := g.policy.RequiresApproval(ctx, run.Question)
	if err != nil {
		return fmt.Errorf("approval policy failed: %w", err)
	}

	plan, err := g.buildPlan(ctx, run, builder, approvalRequired)
	if err != nil {
		return err
	}
	if _, ok := run.interrupted(); ok {
		return domain.ErrInterrupted
	}

	// Step 3: describe the planning decision.
	decision := map[string]interface{}{
		"text":              "plan ready",
		"approval_required": approvalRequired,
	}
	if plan.ToolName != "" {
		decision["tool_name"] = plan.ToolName
	}
	if _, err := g.emit(ctx, run, EventDraft{
		Type:    domain.EventTypeReasoning,
		Subtype: domain.EventSubTypeChunk,
		Content: decision,
	}); err != nil {
		return err
	}

	// Steps 4-5: tool phase, gated behind approval when required.
	if plan.ToolName != "" {
		if approvalRequired {
			rejected, err := g.runApprovalGate(ctx, run, plan)
			if err != nil {
				return err
			}
			if rejected {
				return nil // Run already transitioned to cancelled.
			}
		} else {
			if err := g.runTool(ctx, run, plan.ToolName, plan.ToolInput, ""); err != nil {
				return err
			}
		}
	}
	if _, ok := run.interrupted(); ok {
		return domain.ErrInterrupted
	}

	// Step 6: stream the answer as fixed-size transient chunks.
	for _, chunk := range chunkText(plan.Answer, answerChunkSize) {
		if err := run.sleep(g.cfg.ChunkDelay); err != nil {
			return err
		}
		if _, err := g.emit(ctx, run, EventDraft{
			Type:      domain.EventTypeMessage,
			Subtype:   domain.EventSubTypeChunk,
			Transient: true,
			Content: map[string]interface{}{
				"text_delta": chunk,
				"is_final":   false,
			},
		}); err != nil {
			return err
		}
	}

	// Step 7: planning wrap-up and usage accounting.
	if _, err := g.emit(ctx, run, EventDraft{
		Type:    domain.EventTypeReasoning,
		Subtype: domain.EventSubTypeChunk,
		Phase:   domain.PhaseLLMEnd,
		Content: map[string]interface{}{"finished": true},
	}); err != nil {
		return err
	}
	if _, err := g.emit(ctx, run, EventDraft{
		Type:    domain.EventTypeReasoning,
		Subtype: domain.EventSubTypeChunk,
		Phase:   domain.PhaseLLMUsage,
		Content: map[string]interface{}{"usage": plan.Usage},
	}); err != nil {
		return err
	}
	if _, ok := run.interrupted(); ok {
		return domain.ErrInterrupted
	}

	// Step 8: persist the answer, then close out the run.
	assistantMsg := &domain.Message{
		MessageID:      "msg_" + uuid.New().String()[:8],
		ConversationID: run.ConversationID,
		RunID:          run.ID,
		Role:           "assistant",
		Content:        plan.Answer,
		DisplayOrder:   run.nextDisplayOrder(),
		CreatedAt:      time.Now(),
	}
	if err := g.store.AppendMessage(ctx, assistantMsg); err != nil {
		return fmt.Errorf("failed to persist assistant message: %w", err)
	}
	if _, err := g.emit(ctx, run, EventDraft{
		Type:    domain.EventTypeMessage,
		Subtype: domain.EventSubTypeFinal,
		Content: map[string]interface{}{
			"text":       plan.Answer,
			"message_id": assistantMsg.MessageID,
		},
	}); err != nil {
		return err
	}

	result := &domain.Result{
		Status:   domain.RunStatusCompleted,
		Answer:   plan.Answer,
		ToolName: plan.ToolName,
		Usage:    plan.Usage,
	}
	if _, err := g.emit(ctx, run, EventDraft{
		Type:    domain.EventTypeRun,
		Subtype: domain.EventSubTypeEnd,
		Content: map[string]interface{}{
			"status": string(result.Status),
			"result": result,
		},
	}); err != nil {
		return err
	}
	g.finish(run, domain.RunStatusCompleted, result)
	return nil
}

// buildPlan invokes the plan builder with a context that is cancelled the
// moment the run is interrupted.
func (g *Registry) buildPlan(ctx context.Context, run *Run, builder planner.Builder, approvalRequired bool) (*planner.Plan, error) {
	planCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-run.interrupt:
			cancel()
		case <-planCtx.Done():
		}
	}()

	plan, err := builder.BuildPlan(planCtx, run.Question, run.Model, approvalRequired)
	if err != nil {
		if _, ok := run.interrupted(); ok {
			return nil, domain.ErrInterrupted
		}
		return nil, fmt.Errorf("plan builder failed: %w", err)
	}
	return plan, nil
}

// runApprovalGate creates the approval record, announces the pending tool
// call and suspends until a decision arrives or the run is interrupted.
// rejected reports that the run was cancelled with an approval_rejected
// result.
func (g *Registry) runApprovalGate(ctx context.Context, run *Run, plan *planner.Plan) (rejected bool, err error) {
	toolCallID := "tc_" + uuid.New().String()[:8]
	approvalID := "ap_" + uuid.New().String()[:8]

	// The resolver must exist before the approval is durably visible; a
	// decision landing between the insert and the wait would otherwise be
	// persisted with nobody listening.
	ch := run.registerApproval(approvalID)

	preview, _ := json.Marshal(map[string]interface{}{
		"tool_name":  plan.ToolName,
		"tool_input": json.RawMessage(orNull(plan.ToolInput)),
	})
	if err := g.store.CreateApproval(ctx, &domain.Approval{
		ApprovalID:     approvalID,
		RunID:          run.ID,
		ToolName:       plan.ToolName,
		ToolCallID:     toolCallID,
		RequestPreview: preview,
		Status:         domain.ApprovalStatusPending,
		CreatedAt:      time.Now(),
	}); err != nil {
		run.dropApproval(approvalID)
		return false, fmt.Errorf("failed to create approval: %w", err)
	}

	if _, err := g.emit(ctx, run, EventDraft{
		Type:       domain.EventTypeTool,
		Subtype:    domain.EventSubTypeStart,
		ToolCallID: toolCallID,
		Content: map[string]interface{}{
			"tool_name":         plan.ToolName,
			"tool_input":        json.RawMessage(orNull(plan.ToolInput)),
			"approval_required": true,
			"approval_id":       approvalID,
		},
	}); err != nil {
		run.dropApproval(approvalID)
		return false, err
	}

	out, err := run.awaitApproval(approvalID, ch)
	if err != nil {
		return false, err
	}

	if out.Decision == domain.DecisionReject {
		if _, err := g.emit(ctx, run, EventDraft{
			Type:       domain.EventTypeTool,
			Subtype:    domain.EventSubTypeEnd,
			ToolCallID: toolCallID,
			Content: map[string]interface{}{
				"tool_name": plan.ToolName,
				"status":    "rejected",
			},
		}); err != nil {
			return false, err
		}
		result := &domain.Result{
			Status:   domain.RunStatusCancelled,
			Code:     domain.ResultCodeApprovalRejected,
			Message:  "tool call rejected by approver",
			ToolName: plan.ToolName,
		}
		if _, err := g.emit(ctx, run, EventDraft{
			Type:    domain.EventTypeRun,
			Subtype: domain.EventSubTypeEnd,
			Content: map[string]interface{}{
				"status": string(result.Status),
				"result": result,
			},
		}); err != nil {
			return false, err
		}
		g.finish(run, domain.RunStatusCancelled, result)
		return true, nil
	}

	toolInput := []byte(plan.ToolInput)
	if out.Decision == domain.DecisionEdit && len(out.EditedArgs) > 0 {
		toolInput = out.EditedArgs
	}
	return false, g.runToolEffect(ctx, run, plan.ToolName, toolInput, toolCallID)
}

// runTool announces and performs a tool call that needed no approval.
func (g *Registry) runTool(ctx context.Context, run *Run, toolName string, toolInput []byte, parentEventID string) error {
	toolCallID := "tc_" + uuid.New().String()[:8]
	if _, err := g.emit(ctx, run, EventDraft{
		Type:          domain.EventTypeTool,
		Subtype:       domain.EventSubTypeStart,
		ToolCallID:    toolCallID,
		ParentEventID: parentEventID,
		Content: map[string]interface{}{
			"tool_name":         toolName,
			"tool_input":        json.RawMessage(orNull(toolInput)),
			"approval_required": false,
		},
	}); err != nil {
		return err
	}
	return g.runToolEffect(ctx, run, toolName, toolInput, toolCallID)
}

// runToolEffect simulates the tool execution and emits tool/end.
func (g *Registry) runToolEffect(ctx context.Context, run *Run, toolName string, toolInput []byte, toolCallID string) error {
	if _, ok := run.interrupted(); ok {
		return domain.ErrInterrupted
	}
	// Synchronous mock execution; a real deployment dispatches here.
	result := map[string]interface{}{"status": "executed"}
	if len(toolInput) > 0 {
		result["input"] = json.RawMessage(toolInput)
	}
	_, err := g.emit(ctx, run, EventDraft{
		Type:       domain.EventTypeTool,
		Subtype:    domain.EventSubTypeEnd,
		ToolCallID: toolCallID,
		Content: map[string]interface{}{
			"tool_name": toolName,
			"result":    result,
		},
	})
	return err
}

// emitTerminal emits the run/error + run/end pair for a failed or
// interrupted run. Emission failures are logged, not propagated; the
// terminal transition must still happen.
func (g *Registry) emitTerminal(ctx context.Context, run *Run, result *domain.Result) {
	if _, err := g.emit(ctx, run, EventDraft{
		Type:    domain.EventTypeRun,
		Subtype: domain.EventSubTypeError,
		Content: map[string]interface{}{
			"code":    result.Code,
			"message": result.Message,
		},
	}); err != nil {
		log.Printf("ERROR: failed to emit run/error for run %s: %v", run.ID, err)
	}
	if _, err := g.emit(ctx, run, EventDraft{
		Type:    domain.EventTypeRun,
		Subtype: domain.EventSubTypeEnd,
		Content: map[string]interface{}{
			"status": string(result.Status),
			"result": result,
		},
	}); err != nil {
		log.Printf("ERROR: failed to emit run/end for run %s: %v", run.ID, err)
	}
}

// chunkText splits s into fixed-size rune chunks, preserving order.
func chunkText(s string, size int) []string {
	if s == "" || size <= 0 {
		return nil
	}
	runes := []rune(s)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func orNull(b []byte) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}
