package session

import (
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boristopalov/slicewise/pkg/core"
	"github.com/boristopalov/slicewise/pkg/environment"
	"github.com/boristopalov/slicewise/pkg/messaging"
)

// DefaultTTL is how long an untouched session survives before a sweep
// reclaims it.
const DefaultTTL = 30 * time.Minute

// Event is one step of a play session's history. Accepted is present only
// for Bernoulli environments, true iff the reward was >= 1.
type Event struct {
	T        int     `json:"t"`
	Action   int     `json:"action"`
	Reward   float64 `json:"reward"`
	Accepted *bool   `json:"accepted,omitempty"`
}

// StepResult is the outcome of advancing a session by one tick. Event is nil
// when the session had already reached its horizon (terminal no-op).
type StepResult struct {
	Event *Event
	T     int
	Done  bool
}

// Snapshot is a copy of a session's externally visible state.
type Snapshot struct {
	ID         string
	T          int
	Iterations int
	History    []Event
	Env        environment.Info
	Seed       *int64
}

// session is a live environment bound to a client-visible id, advanced one
// tick per request. Its own mutex serializes step/reset/log so the store
// lock is held only for map access.
type session struct {
	mu         sync.Mutex
	id         string
	env        environment.Environment
	iterations int
	t          int
	history    []Event
	lastAccess time.Time
	seed       *int64
}

// Store is a keyed collection of live play sessions with TTL-based lazy
// reclamation. Eviction happens on Start and End, plus explicit Sweep calls;
// there is no background timer of its own.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration
	now      func() time.Time
	broker   messaging.Broker
	logger   *slog.Logger
}

type StoreOption func(*Store)

// WithTTL overrides the 30 minute default expiry.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) { s.ttl = ttl }
}

// WithBroker publishes every accepted step to the given broker.
func WithBroker(b messaging.Broker) StoreOption {
	return func(s *Store) { s.broker = b }
}

// WithClock injects a time source, used by expiry tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions: make(map[string]*session),
		ttl:      DefaultTTL,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newSessionID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Start constructs an environment, inserts a fresh session and returns its
// snapshot. Expired sessions are swept as a side effect.
func (s *Store) Start(envType string, nActions, iterations int, seed *int64) (Snapshot, error) {
	env, err := environment.New(envType, nActions, seed)
	if err != nil {
		return Snapshot{}, err
	}

	now := s.now()
	sess := &session{
		id:         newSessionID(),
		env:        env,
		iterations: iterations,
		history:    make([]Event, 0),
		lastAccess: now,
		seed:       seed,
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	evicted := s.sweepLocked(now)
	s.mu.Unlock()

	if evicted > 0 {
		s.logger.Info("swept expired sessions", "count", evicted)
	}
	s.logger.Info("session started", "session_id", sess.id, "env", envType,
		"n_actions", nActions, "iterations", iterations)
	return sess.snapshot(), nil
}

// Step advances a session by one tick. It fails with core.ErrNotFound for an
// unknown id and core.ErrOutOfRange for an invalid action. A session at its
// horizon yields a terminal no-op (Done=true, nil Event) without mutating
// history.
func (s *Store) Step(id string, action int) (StepResult, error) {
	sess, ok := s.get(id)
	if !ok {
		return StepResult{}, core.ErrNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if action < 0 || action >= sess.env.NActions() {
		return StepResult{}, core.ErrOutOfRange
	}
	if sess.t >= sess.iterations {
		return StepResult{T: sess.t, Done: true}, nil
	}

	reward := sess.env.Step(action)
	sess.t++
	sess.lastAccess = s.now()

	ev := Event{T: sess.t, Action: action, Reward: reward}
	if _, bernoulli := sess.env.(*environment.Bernoulli); bernoulli {
		accepted := reward >= 1.0
		ev.Accepted = &accepted
	}
	sess.history = append(sess.history, ev)

	done := sess.t >= sess.iterations
	if s.broker != nil {
		s.broker.Publish(messaging.StepEvent{
			SessionID: sess.id,
			T:         ev.T,
			Action:    ev.Action,
			Reward:    ev.Reward,
			Accepted:  ev.Accepted,
			Done:      done,
			Timestamp: sess.lastAccess,
		})
	}
	return StepResult{Event: &ev, T: sess.t, Done: done}, nil
}

// Get returns a snapshot without refreshing the session's expiry. The plot
// path uses it so that batch replays do not keep a session alive.
func (s *Store) Get(id string) (Snapshot, error) {
	sess, ok := s.get(id)
	if !ok {
		return Snapshot{}, core.ErrNotFound
	}
	return sess.snapshot(), nil
}

// Log returns a snapshot of the session, refreshing its expiry.
func (s *Store) Log(id string) (Snapshot, error) {
	sess, ok := s.get(id)
	if !ok {
		return Snapshot{}, core.ErrNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lastAccess = s.now()
	return sess.snapshotLocked(), nil
}

// End removes a session. Removing an absent id is not an error; the return
// value reports whether anything was removed.
func (s *Store) End(id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.sweepLocked(s.now())
	s.mu.Unlock()
	if ok {
		s.logger.Info("session ended", "session_id", id)
	}
	return ok
}

// Reset zeroes a session's progress but keeps the same environment instance,
// so its fixed arm parameters persist across the reset.
func (s *Store) Reset(id string) error {
	sess, ok := s.get(id)
	if !ok {
		return core.ErrNotFound
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.t = 0
	sess.history = sess.history[:0]
	sess.lastAccess = s.now()
	return nil
}

// Sweep evicts every session whose last access is older than the TTL and
// returns how many were removed. Suitable for a periodic tick in addition to
// the lazy sweeps on Start/End.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) get(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// sweepLocked requires s.mu. lastAccess is written under the per-session
// mutex, so each read here takes it too; a sweep must not race with a
// concurrent Step on another session.
func (s *Store) sweepLocked(now time.Time) int {
	evicted := 0
	for id, sess := range s.sessions {
		sess.mu.Lock()
		expired := now.Sub(sess.lastAccess) > s.ttl
		sess.mu.Unlock()
		if expired {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

func (sess *session) snapshot() Snapshot {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshotLocked()
}

func (sess *session) snapshotLocked() Snapshot {
	history := make([]Event, len(sess.history))
	copy(history, sess.history)
	return Snapshot{
		ID:         sess.id,
		T:          sess.t,
		Iterations: sess.iterations,
		History:    history,
		Env:        sess.env.Info(),
		Seed:       sess.seed,
	}
}
