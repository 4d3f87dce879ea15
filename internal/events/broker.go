// Package events fans progress events out to in-process subscribers and
// Redis pub/sub.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/spherical/module-creator/internal/domain"
	"github.com/spherical/module-creator/internal/observability"
)

// DefaultBuffer is the per-subscriber channel size.
const DefaultBuffer = 32

// Broker delivers events to in-process subscribers such as SSE streams.
// Publishing never blocks: a subscriber whose buffer is full misses the
// event.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]chan domain.ProgressEvent
	nextID int
	closed bool
	log    *observability.Logger
}

// NewBroker creates an empty broker.
func NewBroker(log *observability.Logger) *Broker {
	if log == nil {
		log = observability.Nop()
	}
	return &Broker{
		subs: make(map[int]chan domain.ProgressEvent),
		log:  log.WithComponent("broker"),
	}
}

// Subscribe registers a new subscriber. The returned function removes it
// and closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe(buffer int) (<-chan domain.ProgressEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan domain.ProgressEvent, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish implements domain.Publisher.
func (b *Broker) Publish(_ context.Context, event domain.ProgressEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.New("broker is closed")
	}
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.log.Warn().Int("subscriber", id).Str("event", string(event.Type)).Msg("subscriber full, dropping event")
		}
	}
	return nil
}

// Subscribers returns the number of active subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}

// Multi publishes every event to each publisher in turn and joins the
// errors.
type Multi []domain.Publisher

// Publish implements domain.Publisher.
func (m Multi) Publish(ctx context.Context, event domain.ProgressEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
