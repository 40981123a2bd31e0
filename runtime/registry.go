package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/querylab/orchestrator/config"
	"github.com/querylab/orchestrator/domain"
	"github.com/querylab/orchestrator/metrics"
	"github.com/querylab/orchestrator/planner"
	"github.com/querylab/orchestrator/policy"
	"github.com/querylab/orchestrator/store"
)

// Registry is the process-wide table of in-flight and recently finished
// runs. It owns run creation, lookup, cancellation, approval decisions and
// time-based eviction.
type Registry struct {
	cfg      *config.Config
	store    store.Store
	policy   policy.ApprovalPolicy
	builders map[string]planner.Builder
	metrics  *metrics.Metrics

	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRegistry creates a run registry. builders maps engine names to plan
// builders; m may be nil.
func NewRegistry(cfg *config.Config, st store.Store, pol policy.ApprovalPolicy, builders map[string]planner.Builder, m *metrics.Metrics) *Registry {
	return &Registry{
		cfg:      cfg,
		store:    st,
		policy:   pol,
		builders: builders,
		metrics:  m,
		runs:     make(map[string]*Run),
	}
}

// StartRun validates the request, creates the run and launches its driver.
func (g *Registry) StartRun(ctx context.Context, req domain.StartRunRequest) (*domain.StartRunResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", domain.ErrInvalidArgument)
	}

	timeout := g.cfg.DefaultRunTimeout
	if req.TimeoutMs != 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
		if timeout < g.cfg.MinRunTimeout || timeout > g.cfg.MaxRunTimeout {
			return nil, fmt.Errorf("%w: timeout_ms must be between %d and %d",
				domain.ErrInvalidArgument,
				g.cfg.MinRunTimeout.Milliseconds(), g.cfg.MaxRunTimeout.Milliseconds())
		}
	}

	engine := req.Engine
	if engine == "" {
		engine = req.Metadata["engine"]
	}
	if engine == "" {
		engine = g.cfg.DefaultEngine
	}
	builder, ok := g.builders[engine]
	if !ok {
		return nil, fmt.Errorf("%w: unknown engine %q", domain.ErrInvalidArgument, engine)
	}

	conversationID, err := g.ensureConversation(ctx, req.ConversationID, req.ScopeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure conversation: %w", err)
	}

	runID := "run_" + uuid.New().String()[:8]
	run := newRun(runID, conversationID, req.ScopeKey, question, req.Model, engine, timeout)

	if err := g.store.MarkRunStarted(ctx, &domain.RunRecord{
		RunID:          runID,
		ConversationID: conversationID,
		ScopeKey:       req.ScopeKey,
		Question:       question,
		Model:          req.Model,
		Engine:         engine,
		Status:         domain.RunStatusRunning,
		StartedAt:      run.StartedAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	// The user question takes the first display_order slot; events follow
	// in the same counter space.
	userMsg := &domain.Message{
		MessageID:      "msg_" + uuid.New().String()[:8],
		ConversationID: conversationID,
		RunID:          runID,
		Role:           "user",
		Content:        question,
		DisplayOrder:   run.nextDisplayOrder(),
		CreatedAt:      time.Now(),
	}
	if err := g.store.AppendMessage(ctx, userMsg); err != nil {
		// The durable record must not diverge from the run; mark the run
		// failed and surface the write failure to the caller.
		result, _ := json.Marshal(&domain.Result{
			Status:  domain.RunStatusFailed,
			Code:    domain.ResultCodeExecutionFailure,
			Message: err.Error(),
		})
		if merr := g.store.MarkRunCompleted(ctx, runID, domain.RunStatusFailed, result); merr != nil {
			log.Printf("ERROR: failed to mark run %s failed: %v", runID, merr)
		}
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	g.mu.Lock()
	g.runs[runID] = run
	g.mu.Unlock()

	run.mu.Lock()
	run.timer = time.AfterFunc(timeout, func() {
		run.Interrupt(domain.InterruptTimedOut,
			fmt.Sprintf("run exceeded timeout of %s", timeout))
	})
	run.mu.Unlock()

	g.metrics.RunStarted()
	go g.executeRun(run, builder)

	return &domain.StartRunResponse{
		ConversationID: conversationID,
		RunID:          runID,
		EventsURL:      fmt.Sprintf("/v1/runs/%s/events/stream", runID),
	}, nil
}

func (g *Registry) ensureConversation(ctx context.Context, conversationID, scopeKey string) (string, error) {
	if conversationID != "" {
		conv, err := g.store.GetConversation(ctx, conversationID)
		if err != nil {
			return "", err
		}
		if conv != nil {
			return conversationID, nil
		}
	} else {
		conversationID = "conv_" + uuid.New().String()[:8]
	}
	err := g.store.CreateConversation(ctx, &domain.Conversation{
		ConversationID: conversationID,
		ScopeKey:       scopeKey,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		return "", err
	}
	return conversationID, nil
}

// GetRun looks up a run. A scope mismatch is indistinguishable from true
// absence.
func (g *Registry) GetRun(runID, scopeKey string) (*Run, error) {
	g.mu.RLock()
	run, ok := g.runs[runID]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}
	if scopeKey != "" && run.ScopeKey != scopeKey {
		return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}
	return run, nil
}

// Snapshot returns the caller-visible status/result snapshot of a run.
func (g *Registry) Snapshot(runID, scopeKey string) (*domain.RunSnapshot, error) {
	run, err := g.GetRun(runID, scopeKey)
	if err != nil {
		return nil, err
	}
	snap := run.Snapshot()
	return &snap, nil
}

// CancelRun requests interruption of a run. Cancelling an already terminal
// run returns already_finished and does not alter its result.
func (g *Registry) CancelRun(runID, reason, scopeKey string) (domain.CancelOutcome, error) {
	run, err := g.GetRun(runID, scopeKey)
	if err != nil {
		return "", err
	}
	if run.Status().IsTerminal() {
		return domain.CancelAlreadyFinished, nil
	}
	if reason == "" {
		reason = "cancelled by user"
	}
	run.Interrupt(domain.InterruptCancelled, reason)
	return domain.CancelCancellationRequested, nil
}

// ListApprovals returns a run's approval records in creation order.
func (g *Registry) ListApprovals(ctx context.Context, runID, scopeKey string) ([]domain.Approval, error) {
	if err := g.checkRunScope(ctx, runID, scopeKey); err != nil {
		return nil, err
	}
	approvals, err := g.store.ListApprovals(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	return approvals, nil
}

// DecideApproval applies a human decision to a pending approval. Deciding
// an unknown or already-resolved approval a second time is a no-op.
func (g *Registry) DecideApproval(ctx context.Context, runID, approvalID string, req domain.DecideApprovalRequest) error {
	if !req.Decision.Valid() {
		return fmt.Errorf("%w: decision must be approve, reject or edit", domain.ErrInvalidArgument)
	}
	if err := g.checkRunScope(ctx, runID, req.ScopeKey); err != nil {
		return err
	}

	approval, err := g.store.GetApproval(ctx, approvalID)
	if err != nil {
		return fmt.Errorf("failed to get approval: %w", err)
	}
	if approval == nil || approval.RunID != runID {
		return fmt.Errorf("%w: approval %s", domain.ErrNotFound, approvalID)
	}
	if approval.Status != domain.ApprovalStatusPending {
		return nil // Already decided, idempotent.
	}

	var editedArgs []byte
	if req.Decision == domain.DecisionEdit && req.EditedArgs != nil {
		editedArgs, err = json.Marshal(req.EditedArgs)
		if err != nil {
			return fmt.Errorf("%w: edited_args not serializable", domain.ErrInvalidArgument)
		}
	}

	status := map[domain.Decision]domain.ApprovalStatus{
		domain.DecisionApprove: domain.ApprovalStatusApproved,
		domain.DecisionReject:  domain.ApprovalStatusRejected,
		domain.DecisionEdit:    domain.ApprovalStatusEdited,
	}[req.Decision]

	if err := g.store.DecideApproval(ctx, approvalID, status, req.Decision, editedArgs, req.DecidedBy, req.Reason); err != nil {
		// Lost the race with another decision; the first one won.
		log.Printf("INFO: approval %s already decided: %v", approvalID, err)
		return nil
	}

	g.metrics.ApprovalDecided(string(req.Decision))

	if run, err := g.GetRun(runID, req.ScopeKey); err == nil {
		run.resolveApproval(approvalID, approvalOutcome{
			Decision:   req.Decision,
			EditedArgs: editedArgs,
		})
	}
	return nil
}

// checkRunScope verifies the run exists and is visible under scopeKey,
// consulting the store for runs already evicted from the registry.
func (g *Registry) checkRunScope(ctx context.Context, runID, scopeKey string) error {
	if _, err := g.GetRun(runID, scopeKey); err == nil {
		return nil
	}
	record, err := g.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	if record == nil || (scopeKey != "" && record.ScopeKey != scopeKey) {
		return fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}
	return nil
}

// finish records the terminal transition exactly once: persists the
// outcome, closes live subscriptions and schedules eviction.
func (g *Registry) finish(run *Run, status domain.RunStatus, result *domain.Result) bool {
	if !run.setTerminal(status, result) {
		return false
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		log.Printf("ERROR: failed to marshal result for run %s: %v", run.ID, err)
	}
	if err := g.store.MarkRunCompleted(context.Background(), run.ID, status, resultJSON); err != nil {
		log.Printf("ERROR: failed to persist terminal status for run %s: %v", run.ID, err)
	}

	run.closeSubscribers()
	g.metrics.RunFinished(string(status))

	time.AfterFunc(g.cfg.RetentionWindow, func() {
		g.mu.Lock()
		delete(g.runs, run.ID)
		g.mu.Unlock()
	})
	return true
}

// Events returns a run's persisted events after the given sequence.
func (g *Registry) Events(ctx context.Context, runID, scopeKey string, afterSequence int64, limit int) ([]domain.Event, error) {
	if err := g.checkRunScope(ctx, runID, scopeKey); err != nil {
		return nil, err
	}
	events, err := g.store.GetEvents(ctx, runID, afterSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return events, nil
}

// Store exposes the conversation store to the transport layer.
func (g *Registry) Store() store.Store {
	return g.store
}

// Metrics exposes the metrics instance, possibly nil.
func (g *Registry) Metrics() *metrics.Metrics {
	return g.metrics
}
