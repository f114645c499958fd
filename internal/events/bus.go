// Package events carries match triggers between ride creation and the
// dispatch coordinator. Delivery is at-least-once; ordering is guaranteed
// per ride id only, which is what the attempt fence needs.
package events

import (
	"context"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// Bus publishes match triggers.
type Bus interface {
	PublishMatchTrigger(ctx context.Context, t models.MatchTrigger) error
}

// Handler consumes one trigger. Errors are the handler's problem; the bus
// only promises ordered delivery.
type Handler func(ctx context.Context, t models.MatchTrigger)

// MemoryBus delivers triggers in process with the same per-ride ordering a
// keyed Kafka topic provides. Used in local mode and tests.
type MemoryBus struct {
	handler Handler

	mu     sync.Mutex
	queues map[string][]models.MatchTrigger
	active map[string]bool
	wg     sync.WaitGroup
	closed bool
}

func NewMemoryBus(handler Handler) *MemoryBus {
	return &MemoryBus{
		handler: handler,
		queues:  make(map[string][]models.MatchTrigger),
		active:  make(map[string]bool),
	}
}

func (b *MemoryBus) PublishMatchTrigger(_ context.Context, t models.MatchTrigger) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.queues[t.RideID] = append(b.queues[t.RideID], t)
	// one drainer per ride keeps that ride's triggers serialized
	if !b.active[t.RideID] {
		b.active[t.RideID] = true
		b.wg.Add(1)
		go b.drain(t.RideID)
	}
	b.mu.Unlock()
	return nil
}

func (b *MemoryBus) drain(rideID string) {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		q := b.queues[rideID]
		if len(q) == 0 {
			b.active[rideID] = false
			b.mu.Unlock()
			return
		}
		t := q[0]
		b.queues[rideID] = q[1:]
		b.mu.Unlock()

		b.handler(context.Background(), t)
	}
}

// Close stops accepting triggers and waits for in-flight ones to finish.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}
