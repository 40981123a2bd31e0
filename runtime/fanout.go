package runtime

import (
	"log"

	"github.com/querylab/orchestrator/domain"
)

// subscriberBuffer is the per-subscriber outbound channel capacity. A
// subscriber that falls this far behind is dropped rather than allowed to
// block the driver or its peers.
const subscriberBuffer = 256

type subscriber struct {
	id int64
	ch chan *domain.Event
}

// Subscription is one live view of a run's event stream.
type Subscription struct {
	// Replay holds every event already in the run's log, in sequence
	// order, delivered before any live event.
	Replay []*domain.Event

	// Live receives subsequent events in emission order. It is closed when
	// the run reaches a terminal state, when Unsubscribe is called, or
	// when the subscriber falls too far behind.
	Live <-chan *domain.Event

	run *Run
	id  int64
}

// Subscribe attaches a listener to the run's event stream. If the run is
// already terminal the subscription is closed immediately after replay.
func (r *Run) Subscribe() *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	replay := make([]*domain.Event, len(r.log))
	copy(replay, r.log)

	ch := make(chan *domain.Event, subscriberBuffer)
	sub := &Subscription{Replay: replay, Live: ch, run: r}

	if r.status.IsTerminal() {
		close(ch)
		sub.id = -1
		return sub
	}

	r.nextSubID++
	sub.id = r.nextSubID
	r.subscribers[sub.id] = &subscriber{id: sub.id, ch: ch}
	return sub
}

// Unsubscribe removes the listener. Safe to call multiple times and safe to
// race against the run's own termination-driven close.
func (s *Subscription) Unsubscribe() {
	if s.id < 0 {
		return
	}
	s.run.mu.Lock()
	defer s.run.mu.Unlock()
	if sub, ok := s.run.subscribers[s.id]; ok {
		delete(s.run.subscribers, s.id)
		close(sub.ch)
	}
}

// publish delivers an event to every live subscriber. Fire-and-forget: a
// subscriber whose buffer is full is dropped, never waited on. Callers must
// hold r.mu.
func (r *Run) publish(event *domain.Event) {
	for id, sub := range r.subscribers {
		select {
		case sub.ch <- event:
		default:
			log.Printf("WARN: subscriber %d on run %s fell behind, dropping", id, r.ID)
			delete(r.subscribers, id)
			close(sub.ch)
		}
	}
}

// closeSubscribers force-closes every live subscription. Called exactly once
// at the run's terminal transition.
func (r *Run) closeSubscribers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, sub := range r.subscribers {
		delete(r.subscribers, id)
		close(sub.ch)
	}
}

// SubscriberCount returns the number of live subscribers.
func (r *Run) SubscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}
