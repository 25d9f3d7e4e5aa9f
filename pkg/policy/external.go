package policy

// State is the snapshot handed to an external decision function on every
// tick. LastAction and LastReward are nil before the first update.
type State struct {
	NActions   int
	T          int
	LastAction *int
	LastReward *float64
	Seed       *int64
}

// DecisionFunc is the calling convention for externally supplied policies:
// given a state snapshot, return the next arm index. The function is
// stateless from the adapter's perspective; persistent state, if any, lives
// inside the callable itself.
type DecisionFunc func(State) (int, error)

// External adapts a DecisionFunc to the Policy interface. It tracks t,
// last_action and last_reward itself and clamps any returned index into
// [0, n_actions-1] rather than rejecting out-of-range values. Errors from
// the wrapped function surface from SelectAction; the batch runner converts
// them into a warning plus a fallback tick.
type External struct {
	nActions   int
	seed       *int64
	fn         DecisionFunc
	t          int
	lastAction *int
	lastReward *float64
}

func NewExternal(nActions int, seed *int64, fn DecisionFunc) *External {
	return &External{
		nActions: nActions,
		seed:     seed,
		fn:       fn,
	}
}

func (e *External) SelectAction() (int, error) {
	a, err := e.fn(State{
		NActions:   e.nActions,
		T:          e.t,
		LastAction: e.lastAction,
		LastReward: e.lastReward,
		Seed:       e.seed,
	})
	if err != nil {
		return 0, err
	}
	if a < 0 {
		a = 0
	}
	if a > e.nActions-1 {
		a = e.nActions - 1
	}
	return a, nil
}

func (e *External) Update(action int, reward float64) {
	a, r := action, reward
	e.lastAction = &a
	e.lastReward = &r
	e.t++
}
