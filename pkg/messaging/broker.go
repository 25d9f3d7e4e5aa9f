package messaging

import (
	"fmt"
	"sync"
)

type subscription struct {
	sessionID string
	ch        chan<- StepEvent
}

// SimpleBroker implements the Broker interface.
// watchers is a map where keys are watcher IDs and values carry the watched
// session id plus the channel for receiving events.
type SimpleBroker struct {
	watchers map[string]subscription
	mu       sync.RWMutex
}

// NewBroker creates a new step event broker
func NewBroker() *SimpleBroker {
	return &SimpleBroker{
		watchers: make(map[string]subscription),
	}
}

// Publish sends an event to every watcher of its session. Sends are
// non-blocking: a watcher whose channel is full misses the event. Stepping
// must never stall on a slow observer.
func (b *SimpleBroker) Publish(ev StepEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.watchers {
		if sub.sessionID != ev.SessionID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Channel is full, drop this event
		}
	}
}

// Subscribe registers a watcher to receive one session's events
func (b *SimpleBroker) Subscribe(watcherID, sessionID string, ch chan<- StepEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.watchers[watcherID]; exists {
		return fmt.Errorf("watcher %s is already subscribed", watcherID)
	}

	b.watchers[watcherID] = subscription{sessionID: sessionID, ch: ch}
	return nil
}

// Unsubscribe removes a watcher's subscription
func (b *SimpleBroker) Unsubscribe(watcherID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.watchers[watcherID]; !exists {
		return fmt.Errorf("watcher %s is not subscribed", watcherID)
	}

	delete(b.watchers, watcherID)
	return nil
}

func (b *SimpleBroker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchers = make(map[string]subscription)
}
