package runtime

import "github.com/querylab/orchestrator/domain"

// registerApproval installs the resolver for approvalID. It must run before
// the approval record becomes externally visible, so a decision can never
// arrive while no resolver is listening. At most one resolver exists per
// approval id.
func (r *Run) registerApproval(approvalID string) chan approvalOutcome {
	ch := make(chan approvalOutcome, 1)
	r.mu.Lock()
	r.resolvers[approvalID] = ch
	r.mu.Unlock()
	return ch
}

// dropApproval removes a resolver that will never be awaited.
func (r *Run) dropApproval(approvalID string) {
	r.mu.Lock()
	delete(r.resolvers, approvalID)
	r.mu.Unlock()
}

// awaitApproval suspends the driver until a decision arrives on the
// resolver channel or the run is interrupted.
func (r *Run) awaitApproval(approvalID string, ch chan approvalOutcome) (approvalOutcome, error) {
	select {
	case out := <-ch:
		return out, nil
	case <-r.interrupt:
		r.dropApproval(approvalID)
		return approvalOutcome{}, domain.ErrInterrupted
	}
}

// resolveApproval fires the resolver registered for approvalID, if any.
// A decision for an unknown or already-resolved approval is a no-op; the
// bool reports whether a waiting driver was resumed.
func (r *Run) resolveApproval(approvalID string, out approvalOutcome) bool {
	r.mu.Lock()
	ch, ok := r.resolvers[approvalID]
	if ok {
		delete(r.resolvers, approvalID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- out
	return true
}
