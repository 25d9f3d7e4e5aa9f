package experiment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boristopalov/slicewise/pkg/core"
	"github.com/boristopalov/slicewise/pkg/environment"
	"github.com/boristopalov/slicewise/pkg/policy"
)

func seedPtr(v int64) *int64 { return &v }

// fixedEnv pays a constant reward, handy for summary assertions.
type fixedEnv struct {
	nActions int
	reward   float64
}

func (e *fixedEnv) Reset()                  {}
func (e *fixedEnv) Step(action int) float64 { return e.reward }
func (e *fixedEnv) NActions() int           { return e.nActions }
func (e *fixedEnv) Info() environment.Info {
	return environment.Info{Type: "fixed", NActions: e.nActions}
}

type stubResolver struct {
	name string
	fn   policy.DecisionFunc
	err  error
}

func (s *stubResolver) Resolve(id string) (string, policy.DecisionFunc, error) {
	if s.err != nil {
		return "", nil, s.err
	}
	return s.name, s.fn, nil
}

func TestBuildPolicies(t *testing.T) {
	t.Run("known keys in request order", func(t *testing.T) {
		r := NewRunner()
		policies, warnings := r.BuildPolicies([]string{"ucb1", "greedy"}, nil, 3, seedPtr(1))
		require.Empty(t, warnings)
		require.Len(t, policies, 2)
		require.Equal(t, "ucb1", policies[0].Name)
		require.Equal(t, "greedy", policies[1].Name)
	})

	t.Run("unknown key becomes a warning", func(t *testing.T) {
		r := NewRunner()
		policies, warnings := r.BuildPolicies([]string{"greedy", "exp3"}, nil, 3, seedPtr(1))
		require.Len(t, policies, 1)
		require.Len(t, warnings, 1)
		require.Contains(t, warnings[0], "exp3")
	})

	t.Run("missing custom id becomes a warning", func(t *testing.T) {
		r := NewRunner(WithResolver(&stubResolver{err: core.ErrNotFound}))
		policies, warnings := r.BuildPolicies(nil, []string{"abc123"}, 3, seedPtr(1))
		require.Empty(t, policies)
		require.Len(t, warnings, 1)
		require.Contains(t, warnings[0], "abc123")
		require.Contains(t, warnings[0], "not found")
	})

	t.Run("custom load failure becomes a warning", func(t *testing.T) {
		r := NewRunner(WithResolver(&stubResolver{err: errors.New("syntax error")}))
		policies, warnings := r.BuildPolicies(nil, []string{"abc123"}, 3, seedPtr(1))
		require.Empty(t, policies)
		require.Len(t, warnings, 1)
		require.Contains(t, warnings[0], "load failed")
	})

	t.Run("resolved custom policy is labeled", func(t *testing.T) {
		r := NewRunner(WithResolver(&stubResolver{
			name: "decay_eps",
			fn:   func(policy.State) (int, error) { return 0, nil },
		}))
		policies, warnings := r.BuildPolicies(nil, []string{"abc123"}, 3, seedPtr(1))
		require.Empty(t, warnings)
		require.Len(t, policies, 1)
		require.Equal(t, "custom:decay_eps", policies[0].Name)
	})
}

func TestRunEmptyPolicySet(t *testing.T) {
	r := NewRunner()
	result := r.Run(&fixedEnv{nActions: 3}, nil, 4, []string{"unknown algorithm \"x\" skipped"})

	require.Len(t, result.Traces, 1)
	trace, ok := result.Traces[EmptyTraceName]
	require.True(t, ok)
	require.Equal(t, []int{0, 1, 2, 3}, trace.Actions)
	require.Equal(t, []float64{0, 0, 0, 0}, trace.Rewards)
	require.Equal(t, Stats{}, result.Summary[EmptyTraceName])
	require.Len(t, result.Warnings, 1)
}

func TestRunSummary(t *testing.T) {
	r := NewRunner()
	policies, _ := r.BuildPolicies([]string{"greedy"}, nil, 2, seedPtr(0))
	result := r.Run(&fixedEnv{nActions: 2, reward: 2.0}, policies, 10, nil)

	stats := result.Summary["greedy"]
	require.InDelta(t, 2.0, stats.MeanReward, 1e-12)
	require.InDelta(t, 2.0, stats.FinalAvgReward, 1e-12)
	require.Len(t, result.Traces["greedy"].Rewards, 10)
}

func TestRunDeterministicUnderSharedSeed(t *testing.T) {
	info := environment.NewBernoulli(4, seedPtr(123)).Info()

	run := func() Result {
		env, err := environment.Replicate(info, seedPtr(123))
		require.NoError(t, err)
		r := NewRunner()
		policies, warnings := r.BuildPolicies([]string{"ucb1"}, nil, 4, seedPtr(123))
		return r.Run(env, policies, 100, warnings)
	}

	first, second := run(), run()
	require.Equal(t, first.Traces, second.Traces)
	require.Equal(t, first.Summary, second.Summary)
}

func TestRunFailingPolicyDoesNotAbortOthers(t *testing.T) {
	r := NewRunner()

	failing := policy.NewExternal(2, nil, func(policy.State) (int, error) {
		return 0, errors.New("boom")
	})
	greedy, err := policy.New("greedy", 2, seedPtr(0))
	require.NoError(t, err)

	policies := []NamedPolicy{
		{Name: "custom:broken", Policy: failing},
		{Name: "greedy", Policy: greedy},
	}
	result := r.Run(&fixedEnv{nActions: 2, reward: 1.0}, policies, 5, nil)

	// the failing policy gets fallback ticks
	require.Equal(t, []int{0, 0, 0, 0, 0}, result.Traces["custom:broken"].Actions)
	require.Equal(t, []float64{0, 0, 0, 0, 0}, result.Traces["custom:broken"].Rewards)
	require.Len(t, result.Warnings, 5)

	// the healthy policy ran every tick
	require.Len(t, result.Traces["greedy"].Rewards, 5)
	require.InDelta(t, 1.0, result.Summary["greedy"].MeanReward, 1e-12)
}
