// Package runtime contains the agent run orchestrator core: the run state
// machine and driver, the per-run event log and subscriber fanout, the
// approval gate, and the process-wide run registry.
package runtime

import (
	"sync"
	"time"

	"github.com/querylab/orchestrator/domain"
)

// approvalOutcome is what an approval wait resolves to.
type approvalOutcome struct {
	Decision   domain.Decision
	EditedArgs []byte
}

// Run is one in-flight or recently finished execution of a user question.
// All mutable fields are guarded by mu; only the driver goroutine that owns
// the run mutates status, result and the counters.
type Run struct {
	ID             string
	ConversationID string
	ScopeKey       string
	Question       string
	Model          string
	Engine         string
	Timeout        time.Duration
	StartedAt      time.Time

	mu           sync.Mutex
	status       domain.RunStatus
	result       *domain.Result
	sequence     int64
	displayOrder int64
	log          []*domain.Event
	subscribers  map[int64]*subscriber
	nextSubID    int64
	resolvers    map[string]chan approvalOutcome

	interruptOnce   sync.Once
	interrupt       chan struct{}
	interruptReason domain.InterruptReason

	timer *time.Timer
}

func newRun(id, conversationID, scopeKey, question, model, engine string, timeout time.Duration) *Run {
	return &Run{
		ID:             id,
		ConversationID: conversationID,
		ScopeKey:       scopeKey,
		Question:       question,
		Model:          model,
		Engine:         engine,
		Timeout:        timeout,
		StartedAt:      time.Now(),
		status:         domain.RunStatusRunning,
		subscribers:    make(map[int64]*subscriber),
		resolvers:      make(map[string]chan approvalOutcome),
		interrupt:      make(chan struct{}),
	}
}

// Status returns the run's current status.
func (r *Run) Status() domain.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Result returns the terminal result, nil while the run is still running.
func (r *Run) Result() *domain.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Snapshot returns the caller-visible view of the run.
func (r *Run) Snapshot() domain.RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.RunSnapshot{
		RunID:          r.ID,
		ConversationID: r.ConversationID,
		Status:         r.status,
		Engine:         r.Engine,
		Result:         r.result,
	}
}

// Interrupt marks the run interrupted. The first call wins; later calls and
// calls after a terminal transition are no-ops.
func (r *Run) Interrupt(kind domain.InterruptKind, reason string) {
	r.mu.Lock()
	if r.status.IsTerminal() {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.interruptOnce.Do(func() {
		r.interruptReason = domain.InterruptReason{Kind: kind, Reason: reason}
		close(r.interrupt)
	})
}

// interrupted reports the pending interruption, if any. Checked by the
// driver at the start of every step.
func (r *Run) interrupted() (domain.InterruptReason, bool) {
	select {
	case <-r.interrupt:
		return r.interruptReason, true
	default:
		return domain.InterruptReason{}, false
	}
}

// sleep pauses for d or until the run is interrupted.
func (r *Run) sleep(d time.Duration) error {
	if d <= 0 {
		if _, ok := r.interrupted(); ok {
			return domain.ErrInterrupted
		}
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-r.interrupt:
		return domain.ErrInterrupted
	}
}

// setTerminal records the terminal status and result. Returns false if the
// run already reached a terminal state.
func (r *Run) setTerminal(status domain.RunStatus, result *domain.Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.IsTerminal() {
		return false
	}
	r.status = status
	r.result = result
	if r.timer != nil {
		r.timer.Stop()
	}
	return true
}

// nextDisplayOrder hands out the next slot in the run's display-order
// counter space, shared between events and persisted chat messages.
func (r *Run) nextDisplayOrder() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.displayOrder++
	return r.displayOrder
}
