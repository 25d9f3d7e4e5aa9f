package messaging

import (
	"time"
)

// StepEvent is published for every accepted play step so that observers
// (e.g. the websocket watch endpoint) can follow a session live.
type StepEvent struct {
	SessionID string    `json:"session_id"`
	T         int       `json:"t"`
	Action    int       `json:"action"`
	Reward    float64   `json:"reward"`
	Accepted  *bool     `json:"accepted,omitempty"`
	Done      bool      `json:"done"`
	Timestamp time.Time `json:"timestamp"`
}

// Broker routes step events from the session store to watchers.
type Broker interface {
	// Publish fans an event out to all watchers of its session
	Publish(ev StepEvent)
	// Subscribe registers a watcher for one session's events
	Subscribe(watcherID, sessionID string, ch chan<- StepEvent) error
	// Unsubscribe removes a watcher's subscription
	Unsubscribe(watcherID string) error
}
