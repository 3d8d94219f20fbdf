// Package notify fans job record mutations out to subscribers. The broker is
// the push channel behind the SSE change feed: the store publishes every
// mutation, subscribers filter by owner.
package notify

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/jespere06/documette/internal/db"
)

// subscriberBuffer is the per-subscriber event queue depth. A subscriber that
// falls this far behind starts losing events and must re-fetch current state.
const subscriberBuffer = 16

// Broker is an in-process fan-out of job events keyed by owning user.
type Broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[uuid.UUID]map[int]chan db.JobEvent
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[uuid.UUID]map[int]chan db.JobEvent)}
}

// Subscribe registers a listener for mutations of jobs owned by ownerID.
// The returned cancel function must be called to release the subscription.
func (b *Broker) Subscribe(ownerID uuid.UUID) (<-chan db.JobEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan db.JobEvent, subscriberBuffer)

	if b.subs[ownerID] == nil {
		b.subs[ownerID] = make(map[int]chan db.JobEvent)
	}
	b.subs[ownerID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if owner, ok := b.subs[ownerID]; ok {
			if sub, ok := owner[id]; ok {
				delete(owner, id)
				close(sub)
			}
			if len(owner) == 0 {
				delete(b.subs, ownerID)
			}
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of the job's owner. Delivery
// is non-blocking: a full subscriber queue drops the event, which the
// subscriber recovers from by re-fetching the job on its next reconnect.
func (b *Broker) Publish(event db.JobEvent) {
	// Deletes carry only the previous record.
	job := event.Current
	if job == nil {
		job = event.Previous
	}
	if job == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs[job.OwnerID] {
		select {
		case ch <- event:
		default:
			log.Printf("[notify] subscriber %d lagging, dropping %s event for job %s",
				id, event.Type, job.ID)
		}
	}
}

// SubscriberCount reports the number of active subscriptions for an owner.
func (b *Broker) SubscriberCount(ownerID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[ownerID])
}
